// Package sstable implements the immutable, block-oriented on-disk table
// format: a fixed header, a run of per-(series,field) Gorilla-compressed
// data blocks, a sparse index, a bloom filter over series keys, and a
// trailing footer. Files are built once by a flush or compaction and never
// mutated afterward.
package sstable

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/return2faye/fluxkv/internal/bloom"
	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/gorilla"
	"github.com/return2faye/fluxkv/internal/types"
)

const (
	// Magic identifies a valid file, written at both the header and footer.
	Magic = "FLUX"
	// FormatVersion is the on-disk format version this package reads/writes.
	FormatVersion uint32 = 1

	headerSize = 4 + 4 + 8 + 8 + 8 // magic + version + entry_count + min_ts + max_ts
	footerSize = 8 + 8 + 8 + 8 + 4 // index_offset + index_size + bloom_offset + bloom_size + magic

	// DefaultBlockSize is the target uncompressed size for a single data
	// block before the builder starts a new one for the same column.
	DefaultBlockSize = 4 * 1024
	// DefaultBloomBitsPerKey sizes the bloom filter built over series keys.
	DefaultBloomBitsPerKey = 10
)

// Meta describes a built SSTable, the tuple the flush path and the
// compaction scheduler use to decide overlap and ordering without
// reopening the file.
type Meta struct {
	// ID is assigned by the caller (flush or compaction), not by Build; it
	// orders files within a level for tie-breaking and recency.
	ID           uint64
	Path         string
	FileSize     int64
	EntryCount   uint64
	MinTimestamp int64
	MaxTimestamp int64
	MinSeriesKey string
	MaxSeriesKey string
}

// Overlaps reports whether this table's timestamp range intersects r.
func (m Meta) Overlaps(r types.TimeRange) bool {
	return m.MinTimestamp <= r.End && m.MaxTimestamp >= r.Start
}

// KeyRangeOverlaps reports whether this table's series-key range
// intersects other's, using canonical string ordering.
func (m Meta) KeyRangeOverlaps(other Meta) bool {
	return m.MinSeriesKey <= other.MaxSeriesKey && m.MaxSeriesKey >= other.MinSeriesKey
}

// BuildOptions configures a single Build call.
type BuildOptions struct {
	BlockSize       int
	BloomBitsPerKey int
	UseLZ4          bool
	Logger          *slog.Logger
}

func (o BuildOptions) withDefaults() BuildOptions {
	if o.BlockSize <= 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.BloomBitsPerKey <= 0 {
		o.BloomBitsPerKey = DefaultBloomBitsPerKey
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Build writes points, already sorted ascending by (series, timestamp), as
// a new SSTable at path. Only numeric fields are stored; the first time a
// non-numeric field is dropped for a flush it is logged at debug level.
func Build(path string, points []types.Point, opts BuildOptions) (*Meta, error) {
	opts = opts.withDefaults()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: create %s", path)
	}
	defer f.Close()

	series, byField := groupBySeriesAndField(points, opts.Logger)

	var offset int64 = headerSize
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: seek past header")
	}

	var entries []indexEntry
	bitsPerKey := opts.BloomBitsPerKey
	numKeys := len(series)
	if numKeys == 0 {
		numKeys = 1
	}
	filter := bloom.New(numKeys, bitsPerKey)

	var minTS, maxTS int64
	first := true

	for _, s := range series {
		canonical := s.Canonical()
		filter.Add(canonical)

		fields := byField[canonical]
		fieldNames := make([]string, 0, len(fields))
		for name := range fields {
			fieldNames = append(fieldNames, name)
		}
		sort.Strings(fieldNames)

		for _, name := range fieldNames {
			colPoints := fields[name]
			for start := 0; start < len(colPoints); {
				end := chunkEnd(colPoints, start, opts.BlockSize)
				chunk := colPoints[start:end]

				raw := encodeDataBlock(name, chunk, opts.UseLZ4)
				if _, err := f.Write(raw); err != nil {
					return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: writing data block")
				}

				entries = append(entries, indexEntry{
					SeriesKey: canonical,
					Field:     name,
					Offset:    uint64(offset),
					Size:      uint32(len(raw)),
					MinTS:     chunk[0].Timestamp,
					MaxTS:     chunk[len(chunk)-1].Timestamp,
				})
				offset += int64(len(raw))

				if first {
					minTS, maxTS = chunk[0].Timestamp, chunk[len(chunk)-1].Timestamp
					first = false
				} else {
					if chunk[0].Timestamp < minTS {
						minTS = chunk[0].Timestamp
					}
					if chunk[len(chunk)-1].Timestamp > maxTS {
						maxTS = chunk[len(chunk)-1].Timestamp
					}
				}

				start = end
			}
		}
	}

	indexOffset := offset
	indexBytes := encodeIndex(entries)
	if _, err := f.Write(indexBytes); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: writing index")
	}

	bloomOffset := indexOffset + int64(len(indexBytes))
	bloomBytes := filter.Bytes()
	bloomSection := encodeBloomSection(filter.NumHashes(), bloomBytes)
	if _, err := f.Write(bloomSection); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: writing bloom filter")
	}
	fileSize := bloomOffset + int64(len(bloomSection)) + footerSize

	footer := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.LittleEndian.PutUint64(footer[8:16], uint64(len(indexBytes)))
	binary.LittleEndian.PutUint64(footer[16:24], uint64(bloomOffset))
	binary.LittleEndian.PutUint64(footer[24:32], uint64(len(bloomSection)))
	copy(footer[32:36], Magic)
	if _, err := f.Write(footer); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: writing footer")
	}

	header := make([]byte, headerSize)
	copy(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], FormatVersion)
	binary.LittleEndian.PutUint64(header[8:16], uint64(len(points)))
	binary.LittleEndian.PutUint64(header[16:24], uint64(minTS))
	binary.LittleEndian.PutUint64(header[24:32], uint64(maxTS))
	if _, err := f.WriteAt(header, 0); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: writing header")
	}

	if err := f.Sync(); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: fsync")
	}

	meta := &Meta{
		Path:         path,
		FileSize:     fileSize,
		EntryCount:   uint64(len(points)),
		MinTimestamp: minTS,
		MaxTimestamp: maxTS,
	}
	if len(series) > 0 {
		meta.MinSeriesKey = series[0].Canonical()
		meta.MaxSeriesKey = series[len(series)-1].Canonical()
	}
	return meta, nil
}

// groupBySeriesAndField buckets points into per-series, per-field
// ascending (timestamp, value) runs. Non-numeric fields are dropped, with
// one debug log line the first time a given field name is dropped.
func groupBySeriesAndField(points []types.Point, logger *slog.Logger) ([]types.SeriesKey, map[string]map[string][]gorilla.Point) {
	order := make([]types.SeriesKey, 0)
	seen := make(map[string]bool)
	byField := make(map[string]map[string][]gorilla.Point)
	droppedLogged := make(map[string]bool)

	for _, p := range points {
		canonical := p.Key.Canonical()
		if !seen[canonical] {
			seen[canonical] = true
			order = append(order, p.Key)
			byField[canonical] = make(map[string][]gorilla.Point)
		}

		for _, name := range p.Data.Fields.Keys() {
			val := p.Data.Fields[name]
			if !val.IsNumeric() {
				if !droppedLogged[name] {
					logger.Debug("sstable: dropping non-numeric field at flush", "field", name, "kind", val.Kind)
					droppedLogged[name] = true
				}
				continue
			}
			f64, _ := val.AsFloat64()
			byField[canonical][name] = append(byField[canonical][name], gorilla.Point{
				Timestamp: p.Data.Timestamp,
				Value:     f64,
			})
		}
	}

	return order, byField
}

func chunkEnd(points []gorilla.Point, start, blockSize int) int {
	// Gorilla compression ratio is data-dependent; approximate block
	// boundaries by point count using a conservative worst case of 16
	// bytes/point so a block never wildly exceeds blockSize.
	maxPoints := blockSize / 16
	if maxPoints < 1 {
		maxPoints = 1
	}
	end := start + maxPoints
	if end > len(points) {
		end = len(points)
	}
	return end
}

// idFromPath extracts the numeric id from a sst_<id>.flux file name. Files
// that don't follow the convention (e.g. ad-hoc test tables) get id 0.
func idFromPath(path string) uint64 {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	digits := strings.TrimPrefix(base, "sst_")
	id, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func encodeBloomSection(numHashes int, bits []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 4+1+len(bits)))
	writeUint32(buf, uint32(len(bits)))
	buf.WriteByte(byte(numHashes))
	buf.Write(bits)
	return buf.Bytes()
}

// Reader opens a built SSTable for querying. It is safe for concurrent use.
type Reader struct {
	path string
	f    *os.File

	meta   Meta
	index  []indexEntry
	filter *bloom.Filter

	cacheMu  sync.Mutex
	cache    map[uint64]*dataBlock
	cacheCap int
}

// Open parses the header, footer, index, and bloom sections of the file at
// path. Any magic mismatch or short read rejects the whole file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: open %s", path)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: stat %s", path)
	}
	if stat.Size() < headerSize+footerSize {
		f.Close()
		return nil, fluxerr.New(fluxerr.KindInvalidFormat, "sstable: %s too short to be a valid table", path)
	}

	header := make([]byte, headerSize)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: reading header")
	}
	if string(header[0:4]) != Magic {
		f.Close()
		return nil, fluxerr.New(fluxerr.KindCorruption, "sstable: %s has invalid header magic", path)
	}

	footer := make([]byte, footerSize)
	if _, err := f.ReadAt(footer, stat.Size()-footerSize); err != nil {
		f.Close()
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: reading footer")
	}
	if string(footer[32:36]) != Magic {
		f.Close()
		return nil, fluxerr.New(fluxerr.KindCorruption, "sstable: %s has invalid footer magic", path)
	}

	indexOffset := binary.LittleEndian.Uint64(footer[0:8])
	indexSize := binary.LittleEndian.Uint64(footer[8:16])
	bloomOffset := binary.LittleEndian.Uint64(footer[16:24])
	bloomSize := binary.LittleEndian.Uint64(footer[24:32])

	indexBytes := make([]byte, indexSize)
	if _, err := f.ReadAt(indexBytes, int64(indexOffset)); err != nil {
		f.Close()
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: reading index section")
	}
	entries, err := decodeIndex(indexBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	bloomBytes := make([]byte, bloomSize)
	if _, err := f.ReadAt(bloomBytes, int64(bloomOffset)); err != nil {
		f.Close()
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: reading bloom section")
	}
	filter, err := decodeBloomSection(bloomBytes)
	if err != nil {
		f.Close()
		return nil, err
	}

	meta := Meta{
		ID:           idFromPath(path),
		Path:         path,
		FileSize:     stat.Size(),
		EntryCount:   binary.LittleEndian.Uint64(header[8:16]),
		MinTimestamp: int64(binary.LittleEndian.Uint64(header[16:24])),
		MaxTimestamp: int64(binary.LittleEndian.Uint64(header[24:32])),
	}
	for _, e := range entries {
		if meta.MinSeriesKey == "" || e.SeriesKey < meta.MinSeriesKey {
			meta.MinSeriesKey = e.SeriesKey
		}
		if e.SeriesKey > meta.MaxSeriesKey {
			meta.MaxSeriesKey = e.SeriesKey
		}
	}

	return &Reader{
		path:     path,
		f:        f,
		meta:     meta,
		index:    entries,
		filter:   filter,
		cache:    make(map[uint64]*dataBlock),
		cacheCap: 64,
	}, nil
}

func decodeBloomSection(data []byte) (*bloom.Filter, error) {
	if len(data) < 5 {
		return nil, fluxerr.New(fluxerr.KindCorruption, "sstable: bloom section too short")
	}
	r := bytes.NewReader(data)
	bitBytes, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading bloom bit count")
	}
	numHashes, err := r.ReadByte()
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading bloom hash count")
	}
	bits := make([]byte, bitBytes)
	if _, err := io.ReadFull(r, bits); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading bloom bits")
	}
	return bloom.FromBytes(bits, int(numHashes)), nil
}

// Meta returns the table's summary metadata.
func (r *Reader) Meta() Meta { return r.meta }

// Path returns the file path the reader was opened from.
func (r *Reader) Path() string { return r.path }

// MayContainSeries reports whether series might be present, per the bloom
// filter. A false result is a guarantee of absence.
func (r *Reader) MayContainSeries(series types.SeriesKey) bool {
	return r.filter.MayContain(series.Canonical())
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// Query returns every point for series within the inclusive range,
// ascending by timestamp, with multiple fields at the same timestamp
// merged into one point. Short-circuits on a table-wide range miss or a
// bloom-filter rejection.
func (r *Reader) Query(series types.SeriesKey, rng types.TimeRange) ([]types.Point, error) {
	if r.meta.MaxTimestamp < rng.Start || r.meta.MinTimestamp > rng.End {
		return nil, nil
	}
	if !r.MayContainSeries(series) {
		return nil, nil
	}

	canonical := series.Canonical()
	perField := make(map[string][]gorilla.Point)

	for _, e := range r.index {
		if e.SeriesKey != canonical {
			continue
		}
		if e.MaxTS < rng.Start || e.MinTS > rng.End {
			continue
		}
		block, err := r.loadBlock(e)
		if err != nil {
			return nil, err
		}
		pts, err := block.points()
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCompression, err, "sstable: decoding block for field %q", e.Field)
		}
		for _, p := range pts {
			if rng.Contains(p.Timestamp) {
				perField[e.Field] = append(perField[e.Field], p)
			}
		}
	}

	if len(perField) == 0 {
		return nil, nil
	}
	return mergeFields(series, perField), nil
}

// QueryField returns the single named field's (timestamp, value) pairs for
// series within range, without merging across fields.
func (r *Reader) QueryField(series types.SeriesKey, field string, rng types.TimeRange) ([]gorilla.Point, error) {
	if r.meta.MaxTimestamp < rng.Start || r.meta.MinTimestamp > rng.End {
		return nil, nil
	}
	if !r.MayContainSeries(series) {
		return nil, nil
	}

	canonical := series.Canonical()
	var out []gorilla.Point
	for _, e := range r.index {
		if e.SeriesKey != canonical || e.Field != field {
			continue
		}
		if e.MaxTS < rng.Start || e.MinTS > rng.End {
			continue
		}
		block, err := r.loadBlock(e)
		if err != nil {
			return nil, err
		}
		pts, err := block.points()
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCompression, err, "sstable: decoding block for field %q", field)
		}
		for _, p := range pts {
			if rng.Contains(p.Timestamp) {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// AllPoints decodes every stored point in the table, in (series, timestamp)
// ascending order. Used by compaction to build a merge input stream.
func (r *Reader) AllPoints() ([]types.Point, error) {
	bySeries := make(map[string]map[string][]gorilla.Point)
	order := make([]string, 0)

	for _, e := range r.index {
		block, err := r.loadBlock(e)
		if err != nil {
			return nil, err
		}
		pts, err := block.points()
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCompression, err, "sstable: decoding block for field %q", e.Field)
		}
		if _, ok := bySeries[e.SeriesKey]; !ok {
			bySeries[e.SeriesKey] = make(map[string][]gorilla.Point)
			order = append(order, e.SeriesKey)
		}
		bySeries[e.SeriesKey][e.Field] = append(bySeries[e.SeriesKey][e.Field], pts...)
	}
	sort.Strings(order)

	var out []types.Point
	for _, canonical := range order {
		out = append(out, mergeFields(types.ParseSeriesKey(canonical), bySeries[canonical])...)
	}
	return out, nil
}

func (r *Reader) loadBlock(e indexEntry) (*dataBlock, error) {
	r.cacheMu.Lock()
	if b, ok := r.cache[e.Offset]; ok {
		r.cacheMu.Unlock()
		return b, nil
	}
	r.cacheMu.Unlock()

	raw := make([]byte, e.Size)
	if _, err := r.f.ReadAt(raw, int64(e.Offset)); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "sstable: reading data block at offset %d", e.Offset)
	}
	block, err := decodeDataBlock(raw)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.insertCacheLocked(e.Offset, block)
	r.cacheMu.Unlock()

	return block, nil
}

// insertCacheLocked adds a decoded block to the bounded cache, evicting the
// lowest-offset entry when over capacity. Must be called with cacheMu held.
func (r *Reader) insertCacheLocked(offset uint64, block *dataBlock) {
	if _, ok := r.cache[offset]; ok {
		return
	}
	if len(r.cache) >= r.cacheCap {
		first := true
		var lowest uint64
		for existing := range r.cache {
			if first || existing < lowest {
				lowest = existing
				first = false
			}
		}
		delete(r.cache, lowest)
	}
	r.cache[offset] = block
}
