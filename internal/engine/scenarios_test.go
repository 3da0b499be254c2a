package engine

import (
	"testing"

	"github.com/return2faye/fluxkv/internal/types"
	"github.com/return2faye/fluxkv/internal/wal"
)

// Scenario 1: a single point is visible over a range that contains it.
func TestScenarioSingleWriteThenQuery(t *testing.T) {
	e, err := Open(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	series := types.NewSeriesKey("temperature").WithTag("sensor", "s1")
	point := types.Point{
		Key:  series,
		Data: types.DataPoint{Timestamp: 1000, Fields: types.Fields{"value": types.FloatValue(23.5)}},
	}
	if err := e.Write("weather", []types.Point{point}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := e.QuerySeries("weather", series, types.NewTimeRange(0, 2000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 1 || got[0].Data.Timestamp != 1000 {
		t.Fatalf("got %v, want exactly the point at ts=1000", got)
	}
}

// Scenario 2: a forced flush moves data into one SSTable, and it survives
// a reopen of the engine.
func TestScenarioFlushThenReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	series := types.NewSeriesKey("cpu")
	points := make([]types.Point, 100)
	for i := range points {
		points[i] = types.Point{
			Key:  series,
			Data: types.DataPoint{Timestamp: int64(i) * 1000, Fields: types.Fields{"value": types.FloatValue(20.0 + float64(i))}},
		}
	}
	if err := e.Write("metrics", points); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := e.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.QuerySeries("metrics", series, types.NewTimeRange(50000, 60000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 11 {
		t.Fatalf("got %d points, want 11", len(got))
	}

	db, ok := reopened.GetDatabase("metrics")
	if !ok {
		t.Fatal("expected metrics database to be loaded")
	}
	if db.Stats().SSTableCount != 1 {
		t.Fatalf("SSTableCount = %d, want 1", db.Stats().SSTableCount)
	}
}

// Scenario 3: enough writes to produce at least two L0 files; compacting
// with a low L0 trigger collapses them into one L1 file with no data loss.
func TestScenarioCompactionCollapsesL0(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.DatabaseConfig.MemTableSizeLimit = 2048
	cfg.DatabaseConfig.Compaction.L0FileTrigger = 2

	e, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	series := types.NewSeriesKey("cpu")
	var all []types.Point
	for i := 0; i < 400; i++ {
		p := types.Point{
			Key:  series,
			Data: types.DataPoint{Timestamp: int64(i) * 1000, Fields: types.Fields{"value": types.FloatValue(float64(i))}},
		}
		all = append(all, p)
		if err := e.Write("metrics", []types.Point{p}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := e.FlushAll(); err != nil {
		t.Fatalf("FlushAll: %v", err)
	}

	db, ok := e.GetDatabase("metrics")
	if !ok {
		t.Fatal("expected metrics database")
	}
	if db.Stats().SSTableCount < 2 {
		t.Fatalf("SSTableCount = %d, want at least 2 before compaction", db.Stats().SSTableCount)
	}

	ran, err := db.RunCompaction()
	if err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}
	if !ran {
		t.Fatal("expected a compaction task to run")
	}

	got, err := db.QuerySeries(series, types.NewTimeRange(0, int64(len(all))*1000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != len(all) {
		t.Fatalf("got %d points after compaction, want %d (union of original inputs)", len(got), len(all))
	}
}

// Scenario 4: Immediate must not lose a record across a simulated crash
// (engine reopened without Close). Only the Immediate half is asserted:
// NoSync may lose such a record but is not required to.
func TestScenarioSyncPolicyAffectsCrashDurability(t *testing.T) {
	series := types.NewSeriesKey("cpu")
	point := types.Point{
		Key:  series,
		Data: types.DataPoint{Timestamp: 1000, Fields: types.Fields{"value": types.FloatValue(1.0)}},
	}

	dirImmediate := t.TempDir()
	cfgImmediate := testConfig(dirImmediate)
	cfgImmediate.DatabaseConfig.WALSyncPolicy = wal.Immediate()
	eImmediate, err := Open(cfgImmediate)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := eImmediate.Write("metrics", []types.Point{point}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Simulate a crash: skip Close/flush, go straight to reopening the
	// directory with a fresh engine.
	reopenedImmediate, err := Open(cfgImmediate)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopenedImmediate.Close()

	got, err := reopenedImmediate.QuerySeries("metrics", series, types.NewTimeRange(0, 2000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Immediate policy lost a record across a simulated crash: got %d points, want 1", len(got))
	}
}

// Scenario 5: a later write for the same (series, timestamp) replaces the
// field map observed by a subsequent read.
func TestScenarioDuplicateTimestampKeepsLastWrite(t *testing.T) {
	e, err := Open(testConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	series := types.NewSeriesKey("cpu")
	first := types.Point{
		Key:  series,
		Data: types.DataPoint{Timestamp: 1000, Fields: types.Fields{"value": types.FloatValue(1.0)}},
	}
	second := types.Point{
		Key:  series,
		Data: types.DataPoint{Timestamp: 1000, Fields: types.Fields{"value": types.FloatValue(2.0)}},
	}
	if err := e.Write("metrics", []types.Point{first}); err != nil {
		t.Fatalf("Write first: %v", err)
	}
	if err := e.Write("metrics", []types.Point{second}); err != nil {
		t.Fatalf("Write second: %v", err)
	}

	got, err := e.QuerySeries("metrics", series, types.NewTimeRange(0, 2000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d points, want 1 (duplicate timestamp collapsed)", len(got))
	}
	v, _ := got[0].Data.Fields["value"].AsFloat64()
	if v != 2.0 {
		t.Fatalf("value = %v, want 2.0 (the last write)", v)
	}
}
