package sstable

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/types"
)

func buildPoints(n int, series []types.SeriesKey) []types.Point {
	var out []types.Point
	for _, s := range series {
		for i := 0; i < n; i++ {
			out = append(out, types.Point{
				Key: s,
				Data: types.DataPoint{
					Timestamp: int64(i) * 1000,
					Fields:    types.Fields{"value": types.FloatValue(float64(i))},
				},
			})
		}
	}
	return out
}

func TestBuildAndQueryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.flux")

	temp := types.NewSeriesKey("temperature").WithTag("room", "a")
	humidity := types.NewSeriesKey("humidity").WithTag("room", "a")

	points := buildPoints(50, []types.SeriesKey{temp, humidity})

	meta, err := Build(path, points, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if meta.EntryCount != 100 {
		t.Fatalf("EntryCount = %d, want 100", meta.EntryCount)
	}
	if meta.MinTimestamp != 0 || meta.MaxTimestamp != 49000 {
		t.Fatalf("range = [%d,%d], want [0,49000]", meta.MinTimestamp, meta.MaxTimestamp)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	got, err := reader.Query(temp, types.NewTimeRange(-1<<62, 1<<62-1))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 50 {
		t.Fatalf("Query returned %d points, want 50", len(got))
	}
	for i, p := range got {
		if p.Data.Timestamp != int64(i)*1000 {
			t.Fatalf("point %d timestamp = %d, want %d", i, p.Data.Timestamp, int64(i)*1000)
		}
		v, ok := p.Data.Fields["value"].AsFloat64()
		if !ok || v != float64(i) {
			t.Fatalf("point %d value = %v, want %d", i, v, i)
		}
	}
}

func TestBuildAndQueryWithLZ4(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.flux")

	series := types.NewSeriesKey("cpu").WithTag("host", "a")
	points := buildPoints(500, []types.SeriesKey{series})

	if _, err := Build(path, points, BuildOptions{UseLZ4: true}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	got, err := reader.Query(series, types.NewTimeRange(0, 499000))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 500 {
		t.Fatalf("Query returned %d points, want 500", len(got))
	}
}

func TestBloomRejectsUnknownSeries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.flux")

	known := types.NewSeriesKey("temperature")
	points := buildPoints(10, []types.SeriesKey{known})

	if _, err := Build(path, points, BuildOptions{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	unknown := types.NewSeriesKey("never-inserted")
	if reader.MayContainSeries(unknown) {
		t.Fatal("bloom filter should reject a never-inserted series")
	}

	got, err := reader.Query(unknown, types.NewTimeRange(0, 9000))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("query for unknown series should return no points")
	}
}

func TestMetaTimeRangeEnclosesQuery(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.flux")

	series := types.NewSeriesKey("temperature")
	points := buildPoints(20, []types.SeriesKey{series})

	meta, err := Build(path, points, BuildOptions{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	if reader.Meta().MinTimestamp != meta.MinTimestamp || reader.Meta().MaxTimestamp != meta.MaxTimestamp {
		t.Fatal("reopened meta does not match build meta")
	}

	// A range entirely outside the table's bounds should short-circuit to
	// an empty result without touching any block.
	got, err := reader.Query(series, types.NewTimeRange(1_000_000, 2_000_000))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 0 {
		t.Fatal("out-of-range query should return no points")
	}
}

func TestCorruptDataBlockSurfacesChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.flux")

	series := types.NewSeriesKey("temperature")
	points := buildPoints(10, []types.SeriesKey{series})

	if _, err := Build(path, points, BuildOptions{}); err != nil {
		t.Fatalf("Build: %v", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	// Flip a byte inside the first data block (it lands in the block's
	// first_ts field), just past the fixed file header, without touching
	// the footer or index.
	if _, err := f.WriteAt([]byte{0xFF}, headerSize+16); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	f.Close()

	reader, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reader.Close()

	_, err = reader.Query(series, types.NewTimeRange(0, 9000))
	if err == nil {
		t.Fatal("expected a checksum mismatch error")
	}
	if !fluxerr.IsCorruption(err) {
		t.Fatalf("expected a corruption error, got %v", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.flux")

	if err := os.WriteFile(path, make([]byte, headerSize+footerSize+8), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path)
	if err == nil {
		t.Fatal("expected Open to reject a file with invalid magic")
	}
}

func TestOpenRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "short.flux")

	if err := os.WriteFile(path, []byte{0x01, 0x02}, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Open(path)
	if err == nil {
		t.Fatal("expected Open to reject a truncated file")
	}
}
