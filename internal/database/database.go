// Package database implements one open time-series database: the live
// MemTable, its frozen-but-unflushed predecessors, the set of opened
// SSTable readers, the write-ahead log guarding all of it, and the
// compaction scheduler that keeps the SSTable set from growing without
// bound.
package database

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/return2faye/fluxkv/internal/compaction"
	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/memtable"
	"github.com/return2faye/fluxkv/internal/sstable"
	"github.com/return2faye/fluxkv/internal/types"
	"github.com/return2faye/fluxkv/internal/wal"
)

// Config tunes one database's storage behavior. Zero values are replaced
// by defaults in Open.
type Config struct {
	MemTableSizeLimit int64
	WALSegmentSize    int64
	WALSyncPolicy     wal.SyncPolicy
	SSTableOptions    sstable.BuildOptions
	Compaction        compaction.Config
	Logger            *slog.Logger
}

// DefaultConfig returns a Config sized for everyday workloads.
func DefaultConfig() Config {
	return Config{
		MemTableSizeLimit: 4 * 1024 * 1024,
		WALSegmentSize:    wal.DefaultSegmentSize,
		WALSyncPolicy:     wal.EveryN(100),
		SSTableOptions:    sstable.BuildOptions{},
		Compaction:        compaction.DefaultConfig(),
		Logger:            slog.Default(),
	}
}

func (c Config) withDefaults() Config {
	if c.MemTableSizeLimit <= 0 {
		c.MemTableSizeLimit = 4 * 1024 * 1024
	}
	if c.WALSegmentSize <= 0 {
		c.WALSegmentSize = wal.DefaultSegmentSize
	}
	// A zero-value SyncPolicy behaves as Immediate, which is a safe
	// (if conservative) default, so it's left as-is rather than special-cased.
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Stats is a point-in-time snapshot of a database's storage footprint.
type Stats struct {
	Name              string
	MemTableSize      int64
	ImmutableCount    int
	SSTableCount      int
	TotalEntries      uint64
	TotalSizeBytes    int64
	PendingCompaction bool
	CompactionJobsRun uint64
	WALSyncCount      uint64
}

type tombstone struct {
	series types.SeriesKey
	rng    types.TimeRange
}

// Database coordinates the write path (WAL then MemTable), the flush path
// (freeze, build an L0 SSTable, register it, truncate the WAL), and the
// read path (MemTable, frozen queue, overlapping SSTables) for one named
// database directory.
type Database struct {
	name    string
	dataDir string
	config  Config
	logger  *slog.Logger

	wal *wal.Writer

	memMu  sync.RWMutex
	active *memtable.MemTable

	immMu     sync.Mutex
	immutable []*memtable.MemTable

	sstMu    sync.RWMutex
	sstables []*sstable.Reader

	scheduler *compaction.Scheduler

	tombMu     sync.RWMutex
	tombstones []tombstone

	nextMemTableID uint64
	nextSSTableID  uint64

	flushMu sync.Mutex

	closed atomic.Bool
}

// Open creates dataDir/name if needed, replays its write-ahead log into a
// fresh MemTable, and opens every existing SSTable found there.
func Open(dataDir, name string, config Config) (*Database, error) {
	config = config.withDefaults()
	dbDir := filepath.Join(dataDir, name)
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "database %s: creating data directory", name)
	}

	walDir := filepath.Join(dbDir, "wal")
	writer, err := wal.Open(walDir, config.WALSegmentSize, config.WALSyncPolicy)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindIO, err, "database %s: opening wal", name)
	}

	sstables, maxID, err := loadSSTables(dbDir)
	if err != nil {
		writer.Close()
		return nil, err
	}

	d := &Database{
		name:          name,
		dataDir:       dbDir,
		config:        config,
		logger:        config.Logger,
		wal:           writer,
		active:        memtable.New(0),
		sstables:      sstables,
		scheduler:     compaction.NewScheduler(dbDir, config.Compaction),
		nextSSTableID: maxID + 1,
	}
	for _, r := range sstables {
		d.scheduler.AddFile(0, r.Meta())
	}

	if err := d.recover(walDir); err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func loadSSTables(dbDir string) ([]*sstable.Reader, uint64, error) {
	entries, err := filepath.Glob(filepath.Join(dbDir, "sst_*.flux"))
	if err != nil {
		return nil, 0, fluxerr.Wrap(fluxerr.KindIO, err, "globbing sstable files")
	}
	sort.Strings(entries)

	var readers []*sstable.Reader
	var maxID uint64
	for _, path := range entries {
		r, err := sstable.Open(path)
		if err != nil {
			return nil, 0, fluxerr.Wrap(fluxerr.KindCorruption, err, "opening sstable %s", path)
		}
		readers = append(readers, r)
		if id := r.Meta().ID; id > maxID {
			maxID = id
		}
	}
	sort.Slice(readers, func(i, j int) bool { return readers[i].Meta().ID < readers[j].Meta().ID })
	return readers, maxID, nil
}

// recover replays this database's write-ahead log into the live MemTable.
// Record types other than Write and Delete are informational only (the
// log format allows lifecycle markers that don't mutate in-memory state)
// and are skipped.
func (d *Database) recover(walDir string) error {
	records, err := wal.Recover(walDir)
	if err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: recovering wal", d.name)
	}
	for _, rec := range records {
		if rec.Database != d.name {
			continue
		}
		switch rec.Type {
		case wal.RecordWrite:
			points, err := wal.DecodePoints(rec.Payload)
			if err != nil {
				return fluxerr.Wrap(fluxerr.KindCorruption, err, "database %s: decoding recovered write", d.name)
			}
			if err := d.active.InsertBatch(points); err != nil {
				return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: replaying write", d.name)
			}
		case wal.RecordDelete:
			series, rng, err := wal.DecodeDelete(rec.Payload)
			if err != nil {
				return fluxerr.Wrap(fluxerr.KindCorruption, err, "database %s: decoding recovered delete", d.name)
			}
			d.tombMu.Lock()
			d.tombstones = append(d.tombstones, tombstone{series: series, rng: rng})
			d.tombMu.Unlock()
		default:
			d.logger.Debug("database: skipping non-mutating wal record on recovery", "database", d.name, "type", rec.Type)
		}
	}
	return nil
}

// Write durably appends points to the write-ahead log, applies them to
// the live MemTable, and triggers a flush if the MemTable has grown past
// its size limit.
func (d *Database) Write(points []types.Point) error {
	if d.closed.Load() {
		return fluxerr.New(fluxerr.KindIO, "database %s: write after close", d.name)
	}
	if len(points) == 0 {
		return nil
	}

	payload := wal.EncodePoints(points)
	if err := d.wal.Append(wal.RecordWrite, d.name, payload); err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: appending to wal", d.name)
	}

	d.memMu.RLock()
	err := d.active.InsertBatch(points)
	shouldFlush := err == nil && d.active.ShouldFlush(d.config.MemTableSizeLimit)
	d.memMu.RUnlock()
	if err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: inserting into memtable", d.name)
	}

	if shouldFlush {
		if err := d.maybeFlush(); err != nil {
			d.logger.Warn("database: flush after write failed, memtable stays queued for retry", "database", d.name, "error", err)
		}
	}
	return nil
}

// Delete records a tombstone covering series over rng. The write path
// keeps honoring writes to series outside rng; reads filter points that
// fall inside any recorded tombstone for their series.
func (d *Database) Delete(series types.SeriesKey, rng types.TimeRange) error {
	payload := wal.EncodeDelete(series, rng)
	if err := d.wal.Append(wal.RecordDelete, d.name, payload); err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: appending delete to wal", d.name)
	}
	d.tombMu.Lock()
	d.tombstones = append(d.tombstones, tombstone{series: series, rng: rng})
	d.tombMu.Unlock()
	return nil
}

// Flush forces the live MemTable to rotate and the immutable queue to
// drain, regardless of its current size.
func (d *Database) Flush() error {
	d.memMu.Lock()
	if d.active.Len() == 0 {
		d.memMu.Unlock()
		return d.drainImmutable()
	}
	d.rotateActiveLocked()
	d.memMu.Unlock()
	return d.drainImmutable()
}

func (d *Database) maybeFlush() error {
	d.memMu.Lock()
	if !d.active.ShouldFlush(d.config.MemTableSizeLimit) {
		d.memMu.Unlock()
		return nil
	}
	d.rotateActiveLocked()
	d.memMu.Unlock()
	return d.drainImmutable()
}

// rotateActiveLocked freezes the current MemTable and pushes it onto the
// immutable queue. Callers must hold memMu for writing.
func (d *Database) rotateActiveLocked() {
	id := atomic.AddUint64(&d.nextMemTableID, 1)
	old := d.active
	d.active = memtable.New(id)
	old.Freeze()

	d.immMu.Lock()
	d.immutable = append(d.immutable, old)
	d.immMu.Unlock()
}

// drainImmutable flushes the head of the immutable queue, repeating until
// the queue is empty or a flush fails. A failed flush leaves its
// MemTable on the queue so a later call can retry it; the method returns
// that failure to the caller rather than skipping ahead.
func (d *Database) drainImmutable() error {
	d.flushMu.Lock()
	defer d.flushMu.Unlock()

	for {
		d.immMu.Lock()
		if len(d.immutable) == 0 {
			d.immMu.Unlock()
			return nil
		}
		head := d.immutable[0]
		d.immMu.Unlock()

		if err := d.flushOne(head); err != nil {
			return err
		}

		d.immMu.Lock()
		d.immutable = d.immutable[1:]
		d.immMu.Unlock()
	}
}

func (d *Database) flushOne(imm *memtable.MemTable) error {
	points := imm.Iter()
	if len(points) == 0 {
		return nil
	}

	id := atomic.AddUint64(&d.nextSSTableID, 1)
	path := filepath.Join(d.dataDir, fmt.Sprintf("sst_%020d.flux", id))

	meta, err := sstable.Build(path, points, d.config.SSTableOptions)
	if err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: building sstable %d", d.name, id)
	}
	meta.ID = id

	reader, err := sstable.Open(path)
	if err != nil {
		return fluxerr.Wrap(fluxerr.KindIO, err, "database %s: opening flushed sstable %d", d.name, id)
	}

	d.sstMu.Lock()
	d.sstables = append(d.sstables, reader)
	d.sstMu.Unlock()

	d.scheduler.AddFile(0, *meta)

	if err := d.wal.TruncateBefore(id); err != nil {
		d.logger.Warn("database: wal truncation after flush failed", "database", d.name, "error", err)
	}
	return nil
}

// QuerySeries gathers points for series over rng from the live MemTable,
// then each immutable MemTable in reverse age order, then every SSTable
// whose metadata overlaps rng. The combined result is sorted by
// timestamp; where two sources share a timestamp, the one encountered
// later in that gather order wins. Tombstoned ranges are removed last.
func (d *Database) QuerySeries(series types.SeriesKey, rng types.TimeRange) ([]types.Point, error) {
	var gathered []types.Point

	d.memMu.RLock()
	gathered = append(gathered, d.active.Query(series, rng)...)
	d.memMu.RUnlock()

	d.immMu.Lock()
	immSnapshot := append([]*memtable.MemTable(nil), d.immutable...)
	d.immMu.Unlock()
	for i := len(immSnapshot) - 1; i >= 0; i-- {
		gathered = append(gathered, immSnapshot[i].Query(series, rng)...)
	}

	d.sstMu.RLock()
	sstSnapshot := append([]*sstable.Reader(nil), d.sstables...)
	d.sstMu.RUnlock()
	for _, r := range sstSnapshot {
		if !r.Meta().Overlaps(rng) {
			continue
		}
		if !r.MayContainSeries(series) {
			continue
		}
		pts, err := r.Query(series, rng)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "database %s: querying sstable %s", d.name, r.Path())
		}
		gathered = append(gathered, pts...)
	}

	merged := mergeByTimestampLastWins(gathered)
	return d.filterTombstones(series, merged), nil
}

// GetLatest returns the most recent point for series, checking the live
// MemTable first, then the immutable queue in reverse age order, then the
// opened SSTables newest-file-first. The first source with any point for
// series wins, so a GetLatest result can lag a concurrent compaction that
// hasn't completed yet.
func (d *Database) GetLatest(series types.SeriesKey) (types.Point, bool) {
	d.memMu.RLock()
	if p, ok := d.active.GetLatest(series); ok {
		d.memMu.RUnlock()
		return p, true
	}
	d.memMu.RUnlock()

	d.immMu.Lock()
	immSnapshot := append([]*memtable.MemTable(nil), d.immutable...)
	d.immMu.Unlock()
	for i := len(immSnapshot) - 1; i >= 0; i-- {
		if p, ok := immSnapshot[i].GetLatest(series); ok {
			return p, true
		}
	}

	d.sstMu.RLock()
	sstSnapshot := append([]*sstable.Reader(nil), d.sstables...)
	d.sstMu.RUnlock()
	for i := len(sstSnapshot) - 1; i >= 0; i-- {
		r := sstSnapshot[i]
		if !r.MayContainSeries(series) {
			continue
		}
		pts, err := r.Query(series, types.NewTimeRange(0, math.MaxInt64))
		if err != nil || len(pts) == 0 {
			continue
		}
		return pts[len(pts)-1], true
	}
	return types.Point{}, false
}

func (d *Database) filterTombstones(series types.SeriesKey, points []types.Point) []types.Point {
	d.tombMu.RLock()
	tombs := d.tombstones
	d.tombMu.RUnlock()
	if len(tombs) == 0 {
		return points
	}

	out := points[:0:0]
	for _, p := range points {
		deleted := false
		for _, t := range tombs {
			if t.series.Equal(series) && t.rng.Contains(p.Data.Timestamp) {
				deleted = true
				break
			}
		}
		if !deleted {
			out = append(out, p)
		}
	}
	return out
}

// mergeByTimestampLastWins stable-sorts points by timestamp and collapses
// runs of equal timestamps, keeping the element that appears latest in
// the pre-sort order.
func mergeByTimestampLastWins(points []types.Point) []types.Point {
	if len(points) == 0 {
		return points
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Data.Timestamp < points[j].Data.Timestamp
	})

	out := make([]types.Point, 0, len(points))
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Data.Timestamp == p.Data.Timestamp {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// RunCompaction asks the scheduler for one eligible task and executes it
// if one is found. Returns false when nothing qualified.
func (d *Database) RunCompaction() (bool, error) {
	task := d.scheduler.SelectTask()
	if task == nil {
		return false, nil
	}
	if !d.scheduler.TryBeginLevel(task) {
		return false, nil
	}
	defer d.scheduler.EndLevel(task)

	newFiles, err := d.scheduler.Compact(task, func() uint64 {
		return atomic.AddUint64(&d.nextSSTableID, 1)
	}, d.config.SSTableOptions)
	if err != nil {
		return false, fluxerr.Wrap(fluxerr.KindIO, err, "database %s: compacting", d.name)
	}

	consumed := make(map[uint64]bool, len(task.SourceFiles)+len(task.TargetFiles))
	for _, f := range task.SourceFiles {
		consumed[f.ID] = true
	}
	for _, f := range task.TargetFiles {
		consumed[f.ID] = true
	}

	d.sstMu.Lock()
	kept := d.sstables[:0:0]
	for _, r := range d.sstables {
		if consumed[r.Meta().ID] {
			r.Close()
			continue
		}
		kept = append(kept, r)
	}
	for _, meta := range newFiles {
		reader, err := sstable.Open(meta.Path)
		if err != nil {
			d.sstMu.Unlock()
			return false, fluxerr.Wrap(fluxerr.KindIO, err, "database %s: opening compacted sstable", d.name)
		}
		kept = append(kept, reader)
	}
	d.sstables = kept
	d.sstMu.Unlock()

	return true, nil
}

// Stats reports a snapshot of this database's storage footprint.
func (d *Database) Stats() Stats {
	d.memMu.RLock()
	memSize := d.active.Size()
	d.memMu.RUnlock()

	d.immMu.Lock()
	immCount := len(d.immutable)
	d.immMu.Unlock()

	d.sstMu.RLock()
	sstCount := len(d.sstables)
	var entries uint64
	var size int64
	for _, r := range d.sstables {
		entries += r.Meta().EntryCount
		size += r.Meta().FileSize
	}
	d.sstMu.RUnlock()

	pending := d.scheduler.SelectTask() != nil

	return Stats{
		Name:              d.name,
		MemTableSize:      memSize,
		ImmutableCount:    immCount,
		SSTableCount:      sstCount,
		TotalEntries:      entries,
		TotalSizeBytes:    size + memSize,
		PendingCompaction: pending,
		CompactionJobsRun: d.scheduler.JobsRun(),
		WALSyncCount:      d.wal.SyncCount(),
	}
}

// Close flushes any outstanding immutable memtables, closes every opened
// SSTable reader, and closes the write-ahead log.
func (d *Database) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := d.drainImmutable(); err != nil {
		d.logger.Warn("database: flush on close failed", "database", d.name, "error", err)
	}

	d.sstMu.Lock()
	for _, r := range d.sstables {
		if err := r.Close(); err != nil {
			d.logger.Warn("database: closing sstable reader failed", "database", d.name, "error", err)
		}
	}
	d.sstMu.Unlock()

	return d.wal.Close()
}

// Name returns the database's name.
func (d *Database) Name() string { return d.name }
