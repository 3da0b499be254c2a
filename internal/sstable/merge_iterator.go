package sstable

import (
	"sort"

	"github.com/return2faye/fluxkv/internal/gorilla"
	"github.com/return2faye/fluxkv/internal/types"
)

// fieldStream is one decoded field column, walked in ascending timestamp
// order during the merge.
type fieldStream struct {
	field  string
	points []gorilla.Point
	idx    int
}

// fieldMerger merges several per-field (timestamp, value) streams from the
// same series into a single stream of multi-field points, combining values
// that share a timestamp. Same advance-one-minimum-key-at-a-time shape as
// a classic multi-iterator merge, adapted to merge columns instead of
// whole records.
type fieldMerger struct {
	streams []*fieldStream
	ts      int64
	fields  types.Fields
}

func newFieldMerger(perField map[string][]gorilla.Point) *fieldMerger {
	streams := make([]*fieldStream, 0, len(perField))
	for name, pts := range perField {
		if len(pts) == 0 {
			continue
		}
		streams = append(streams, &fieldStream{field: name, points: pts})
	}
	sort.Slice(streams, func(i, j int) bool { return streams[i].field < streams[j].field })

	m := &fieldMerger{streams: streams}
	m.advance()
	return m
}

// Valid reports whether the merger is positioned on a point.
func (m *fieldMerger) Valid() bool { return m.fields != nil }

// Timestamp returns the current merged point's timestamp. Valid must be true.
func (m *fieldMerger) Timestamp() int64 { return m.ts }

// Fields returns the current merged point's fields. Valid must be true.
func (m *fieldMerger) Fields() types.Fields { return m.fields }

// Next advances to the next distinct timestamp across all streams.
func (m *fieldMerger) Next() { m.advance() }

func (m *fieldMerger) advance() {
	var minTS int64
	found := false
	for _, s := range m.streams {
		if s.idx >= len(s.points) {
			continue
		}
		ts := s.points[s.idx].Timestamp
		if !found || ts < minTS {
			minTS = ts
			found = true
		}
	}
	if !found {
		m.fields = nil
		return
	}

	fields := make(types.Fields, len(m.streams))
	for _, s := range m.streams {
		if s.idx < len(s.points) && s.points[s.idx].Timestamp == minTS {
			fields[s.field] = types.FloatValue(s.points[s.idx].Value)
			s.idx++
		}
	}
	m.ts = minTS
	m.fields = fields
}

// mergeFields walks every value in perField and returns the combined,
// timestamp-ordered point stream for one series.
func mergeFields(series types.SeriesKey, perField map[string][]gorilla.Point) []types.Point {
	m := newFieldMerger(perField)
	var out []types.Point
	for m.Valid() {
		out = append(out, types.Point{
			Key:  series,
			Data: types.DataPoint{Timestamp: m.Timestamp(), Fields: m.Fields()},
		})
		m.Next()
	}
	return out
}
