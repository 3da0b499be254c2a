package fluxkv

import "testing"

func TestOpenWriteQueryRoundTrip(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	series := NewSeriesKey("cpu").WithTag("host", "a")
	points := []Point{{
		Key:  series,
		Data: DataPoint{Timestamp: 1000, Fields: Fields{"value": FloatValue(42)}},
	}}

	if err := db.Write("metrics", points); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := db.QuerySeries("metrics", series, NewTimeRange(0, 2000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d points, want 1", len(got))
	}

	p, ok, err := db.GetLatest("metrics", series)
	if err != nil {
		t.Fatalf("GetLatest: %v", err)
	}
	if !ok || p.Data.Timestamp != 1000 {
		t.Fatalf("GetLatest = %v, %v, want ts=1000", p, ok)
	}
}

func TestGetLatestUnknownDatabase(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	_, _, err = db.GetLatest("ghost", NewSeriesKey("cpu"))
	if err == nil {
		t.Fatal("expected an error for an unknown database")
	}
}
