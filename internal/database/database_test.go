package database

import (
	"testing"

	"github.com/return2faye/fluxkv/internal/sstable"
	"github.com/return2faye/fluxkv/internal/types"
	"github.com/return2faye/fluxkv/internal/wal"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemTableSizeLimit = 1 << 20
	cfg.WALSyncPolicy = wal.Immediate()
	cfg.SSTableOptions = sstable.BuildOptions{}
	return cfg
}

func points(series string, n int, startTS int64) []types.Point {
	key := types.NewSeriesKey(series)
	out := make([]types.Point, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, types.Point{
			Key: key,
			Data: types.DataPoint{
				Timestamp: startTS + int64(i)*1000,
				Fields:    types.Fields{"value": types.FloatValue(float64(i))},
			},
		})
	}
	return out
}

func TestWriteAndQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	pts := points("cpu", 10, 0)
	if err := db.Write(pts); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := db.QuerySeries(types.NewSeriesKey("cpu"), types.NewTimeRange(0, 100000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d points, want 10", len(got))
	}
}

func TestFlushMovesDataToSSTable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Write(points("cpu", 50, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	stats := db.Stats()
	if stats.SSTableCount != 1 {
		t.Fatalf("expected 1 sstable after flush, got %d", stats.SSTableCount)
	}
	if stats.ImmutableCount != 0 {
		t.Fatalf("expected no pending immutable memtables, got %d", stats.ImmutableCount)
	}

	got, err := db.QuerySeries(types.NewSeriesKey("cpu"), types.NewTimeRange(0, 100000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("got %d points after flush, want 50", len(got))
	}
}

func TestRecoveryReplaysUnflushedWrites(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Write(points("cpu", 20, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Close without flushing; the data lives only in the wal.
	if err := db.wal.Close(); err != nil {
		t.Fatalf("wal Close: %v", err)
	}

	reopened, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.QuerySeries(types.NewSeriesKey("cpu"), types.NewTimeRange(0, 100000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("got %d points after recovery, want 20", len(got))
	}
}

func TestGetLatestPrefersMemTableOverSSTable(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Write(points("cpu", 5, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Write(points("cpu", 1, 100000)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	p, ok := db.GetLatest(types.NewSeriesKey("cpu"))
	if !ok {
		t.Fatal("expected a latest point")
	}
	if p.Data.Timestamp != 100000 {
		t.Fatalf("got timestamp %d, want 100000 (the live memtable write)", p.Data.Timestamp)
	}
}

func TestDeleteFiltersRangeFromQuery(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "metrics", testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Write(points("cpu", 10, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Delete(types.NewSeriesKey("cpu"), types.NewTimeRange(2000, 5000)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := db.QuerySeries(types.NewSeriesKey("cpu"), types.NewTimeRange(0, 100000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	for _, p := range got {
		if p.Data.Timestamp >= 2000 && p.Data.Timestamp <= 5000 {
			t.Fatalf("point at %d should have been tombstoned", p.Data.Timestamp)
		}
	}
	if len(got) != 6 {
		t.Fatalf("got %d points, want 6 (10 minus the 4 tombstoned timestamps)", len(got))
	}
}

func TestRunCompactionMergesL0IntoL1(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.Compaction.L0FileTrigger = 2
	db, err := Open(dir, "metrics", cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Write(points("cpu", 5, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Write(points("cpu", 5, 10000)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ran, err := db.RunCompaction()
	if err != nil {
		t.Fatalf("RunCompaction: %v", err)
	}
	if !ran {
		t.Fatal("expected a compaction task to run once two L0 files exist")
	}

	got, err := db.QuerySeries(types.NewSeriesKey("cpu"), types.NewTimeRange(0, 100000))
	if err != nil {
		t.Fatalf("QuerySeries: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d points after compaction, want 10", len(got))
	}
}
