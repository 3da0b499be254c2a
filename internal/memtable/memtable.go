// Package memtable implements the in-memory, series-keyed ordered store
// that buffers recent writes ahead of an SSTable flush.
package memtable

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/skiplist"
	"github.com/return2faye/fluxkv/internal/types"
)

// Key orders entries by (series canonical form, timestamp) ascending,
// matching the data model's MemTable entry ordering.
type Key struct {
	Series    string
	Timestamp int64
}

func lessKey(a, b Key) bool {
	if a.Series != b.Series {
		return a.Series < b.Series
	}
	return a.Timestamp < b.Timestamp
}

// ErrFrozen is returned by mutating operations on a frozen MemTable.
var ErrFrozen = fluxerr.New(fluxerr.KindConfig, "memtable: frozen")

// MemTable wraps a skip-list keyed by (series, timestamp) with size and
// freeze tracking. It is safe for concurrent use.
type MemTable struct {
	id        uint64
	createdAt time.Time

	mu sync.Mutex // guards sl; skip-list access is single-writer, per the concurrency model
	sl *skiplist.List[Key, types.Fields]

	// keys retains the SeriesKey for each canonical string seen, so
	// SeriesKeys() can hand back structured keys rather than raw strings.
	keys map[string]types.SeriesKey

	size   int64 // atomic, approximate byte accounting
	frozen int32 // atomic: 0 = mutable, 1 = frozen
}

// New creates an empty MemTable with the given id.
func New(id uint64) *MemTable {
	return &MemTable{
		id:        id,
		createdAt: time.Now(),
		sl:        skiplist.New[Key, types.Fields](lessKey),
		keys:      make(map[string]types.SeriesKey),
	}
}

// ID returns the MemTable's monotonic id.
func (m *MemTable) ID() uint64 { return m.id }

// CreatedAt returns the MemTable's creation time.
func (m *MemTable) CreatedAt() time.Time { return m.createdAt }

// Size returns the approximate current byte size.
func (m *MemTable) Size() int64 { return atomic.LoadInt64(&m.size) }

// ShouldFlush reports whether the MemTable has reached the given byte
// threshold.
func (m *MemTable) ShouldFlush(threshold int64) bool {
	return m.Size() >= threshold
}

// IsFrozen reports whether Freeze has been called.
func (m *MemTable) IsFrozen() bool {
	return atomic.LoadInt32(&m.frozen) == 1
}

// Freeze marks the MemTable immutable. Idempotent.
func (m *MemTable) Freeze() {
	atomic.StoreInt32(&m.frozen, 1)
}

// Insert inserts or overwrites the data point for a series. Last write
// wins on a duplicate (series, timestamp).
func (m *MemTable) Insert(p types.Point) error {
	if m.IsFrozen() {
		return ErrFrozen
	}

	canonical := p.Key.Canonical()
	key := Key{Series: canonical, Timestamp: p.Data.Timestamp}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsFrozen() {
		return ErrFrozen
	}

	old, existed := m.sl.Get(key)
	m.sl.Insert(key, p.Data.Fields)
	if _, ok := m.keys[canonical]; !ok {
		m.keys[canonical] = p.Key
	}

	delta := int64(len(canonical)) + int64(p.Data.Fields.Size())
	if existed {
		delta -= int64(len(canonical)) + int64(old.Size())
	}
	atomic.AddInt64(&m.size, delta)

	return nil
}

// InsertBatch inserts every point in points.
func (m *MemTable) InsertBatch(points []types.Point) error {
	for _, p := range points {
		if err := m.Insert(p); err != nil {
			return err
		}
	}
	return nil
}

// Query returns every point for series within the inclusive range,
// ordered by ascending timestamp.
func (m *MemTable) Query(series types.SeriesKey, r types.TimeRange) []types.Point {
	canonical := series.Canonical()

	m.mu.Lock()
	entries := m.sl.Range(Key{Series: canonical, Timestamp: r.Start}, Key{Series: canonical, Timestamp: r.End})
	m.mu.Unlock()

	points := make([]types.Point, 0, len(entries))
	for _, e := range entries {
		if e.Key.Series != canonical {
			continue
		}
		points = append(points, types.Point{
			Key:  series,
			Data: types.DataPoint{Timestamp: e.Key.Timestamp, Fields: e.Value},
		})
	}
	return points
}

// GetLatest returns the highest-timestamp point for series, if any.
func (m *MemTable) GetLatest(series types.SeriesKey) (types.Point, bool) {
	canonical := series.Canonical()

	m.mu.Lock()
	entries := m.sl.Range(Key{Series: canonical, Timestamp: minTimestamp}, Key{Series: canonical, Timestamp: maxTimestamp})
	m.mu.Unlock()

	if len(entries) == 0 {
		return types.Point{}, false
	}
	last := entries[len(entries)-1]
	return types.Point{
		Key:  series,
		Data: types.DataPoint{Timestamp: last.Key.Timestamp, Fields: last.Value},
	}, true
}

const (
	minTimestamp = int64(-1) << 63
	maxTimestamp = int64(1)<<63 - 1
)

// ContainsSeries reports whether any point for series has been inserted.
func (m *MemTable) ContainsSeries(series types.SeriesKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[series.Canonical()]
	return ok
}

// SeriesKeys returns every distinct series key present, in canonical
// sorted order.
func (m *MemTable) SeriesKeys() []types.SeriesKey {
	m.mu.Lock()
	defer m.mu.Unlock()

	canon := make([]string, 0, len(m.keys))
	for c := range m.keys {
		canon = append(canon, c)
	}
	sort.Strings(canon)

	out := make([]types.SeriesKey, len(canon))
	for i, c := range canon {
		out[i] = m.keys[c]
	}
	return out
}

// TimeRange returns the [min,max] timestamp observed across all entries.
// The second return value is false for an empty MemTable.
func (m *MemTable) TimeRange() (types.TimeRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.sl.NewIterator()
	if !it.Valid() {
		return types.TimeRange{}, false
	}

	minTS := it.Key().Timestamp
	maxTS := minTS
	for it.Valid() {
		ts := it.Key().Timestamp
		if ts < minTS {
			minTS = ts
		}
		if ts > maxTS {
			maxTS = ts
		}
		it.Next()
	}
	return types.NewTimeRange(minTS, maxTS), true
}

// Iter returns every entry in ascending (series, timestamp) order, used
// by the flush path to build an SSTable.
func (m *MemTable) Iter() []types.Point {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.sl.NewIterator()
	var out []types.Point
	for it.Valid() {
		series := m.keys[it.Key().Series]
		out = append(out, types.Point{
			Key:  series,
			Data: types.DataPoint{Timestamp: it.Key().Timestamp, Fields: it.Value()},
		})
		it.Next()
	}
	return out
}

// Len returns the number of distinct (series, timestamp) entries.
func (m *MemTable) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sl.Len()
}
