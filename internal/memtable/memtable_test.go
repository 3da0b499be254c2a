package memtable

import (
	"testing"

	"github.com/return2faye/fluxkv/internal/types"
)

func seriesFor(name string) types.SeriesKey {
	return types.NewSeriesKey(name).WithTag("sensor", "s1")
}

func TestInsertQueryRange(t *testing.T) {
	mt := New(1)
	series := seriesFor("temperature")

	for i := int64(0); i < 100; i++ {
		p := types.NewPoint(series, types.DataPoint{
			Timestamp: i * 1000,
			Fields:    types.Fields{"value": types.FloatValue(float64(i))},
		})
		if err := mt.Insert(p); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	points := mt.Query(series, types.NewTimeRange(50_000, 60_000))
	if len(points) != 11 {
		t.Fatalf("Query returned %d points, want 11", len(points))
	}
	for i := 1; i < len(points); i++ {
		if points[i].Data.Timestamp <= points[i-1].Data.Timestamp {
			t.Fatal("points not in ascending timestamp order")
		}
	}
}

func TestGetLatest(t *testing.T) {
	mt := New(1)
	series := seriesFor("temperature")

	for i := int64(0); i < 100; i++ {
		p := types.NewPoint(series, types.DataPoint{
			Timestamp: i * 1000,
			Fields:    types.Fields{"value": types.FloatValue(float64(i))},
		})
		if err := mt.Insert(p); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	latest, ok := mt.GetLatest(series)
	if !ok {
		t.Fatal("expected a latest point")
	}
	if latest.Data.Timestamp != 99*1000 {
		t.Fatalf("latest timestamp = %d, want %d", latest.Data.Timestamp, 99*1000)
	}
}

func TestInsertOverwritesSameTimestamp(t *testing.T) {
	mt := New(1)
	series := seriesFor("temperature")

	p1 := types.NewPoint(series, types.DataPoint{Timestamp: 10, Fields: types.Fields{"value": types.FloatValue(1)}})
	p2 := types.NewPoint(series, types.DataPoint{Timestamp: 10, Fields: types.Fields{"value": types.FloatValue(2)}})

	if err := mt.Insert(p1); err != nil {
		t.Fatalf("Insert p1: %v", err)
	}
	if err := mt.Insert(p2); err != nil {
		t.Fatalf("Insert p2: %v", err)
	}

	if mt.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", mt.Len())
	}
	latest, ok := mt.GetLatest(series)
	if !ok {
		t.Fatal("expected a point")
	}
	if v, _ := latest.Data.Fields["value"].AsFloat64(); v != 2 {
		t.Fatalf("value = %v, want 2", v)
	}
}

func TestFreezeRejectsInserts(t *testing.T) {
	mt := New(1)
	mt.Freeze()

	series := seriesFor("temperature")
	p := types.NewPoint(series, types.DataPoint{Timestamp: 1, Fields: types.Fields{"value": types.FloatValue(1)}})

	if err := mt.Insert(p); err != ErrFrozen {
		t.Fatalf("expected ErrFrozen, got %v", err)
	}
}

func TestShouldFlush(t *testing.T) {
	mt := New(1)
	series := seriesFor("temperature")

	if mt.ShouldFlush(1) {
		t.Fatal("empty memtable should not need flush")
	}

	p := types.NewPoint(series, types.DataPoint{Timestamp: 1, Fields: types.Fields{"value": types.FloatValue(1)}})
	if err := mt.Insert(p); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !mt.ShouldFlush(1) {
		t.Fatal("expected ShouldFlush to be true once size exceeds threshold")
	}
}

func TestIterOrdering(t *testing.T) {
	mt := New(1)
	a := seriesFor("a-measurement")
	b := seriesFor("b-measurement")

	for i := int64(0); i < 5; i++ {
		_ = mt.Insert(types.NewPoint(b, types.DataPoint{Timestamp: i, Fields: types.Fields{"value": types.IntValue(i)}}))
		_ = mt.Insert(types.NewPoint(a, types.DataPoint{Timestamp: i, Fields: types.Fields{"value": types.IntValue(i)}}))
	}

	points := mt.Iter()
	if len(points) != 10 {
		t.Fatalf("Iter returned %d points, want 10", len(points))
	}
	for i := 1; i < len(points); i++ {
		prevKey := points[i-1].Key.Canonical()
		curKey := points[i].Key.Canonical()
		if curKey < prevKey {
			t.Fatal("iter not ordered by series")
		}
		if curKey == prevKey && points[i].Data.Timestamp < points[i-1].Data.Timestamp {
			t.Fatal("iter not ordered by timestamp within series")
		}
	}
}
