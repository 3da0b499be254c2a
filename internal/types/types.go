// Package types holds the core value types shared across the storage
// engine: series keys, data points, and field values.
package types

import (
	"sort"
	"strings"
)

// Timestamp is nanoseconds since an epoch interpreted opaquely by callers.
type Timestamp = int64

// SeriesKey identifies a series: a measurement name plus a set of tags.
// Tags are compared and serialized in sorted key order so that two
// SeriesKey values built with tags in different insertion order are equal
// and hash the same.
type SeriesKey struct {
	Measurement string
	Tags        map[string]string
}

// NewSeriesKey creates a series key with no tags.
func NewSeriesKey(measurement string) SeriesKey {
	return SeriesKey{Measurement: measurement, Tags: map[string]string{}}
}

// WithTag returns a copy of the key with the given tag set.
func (k SeriesKey) WithTag(key, value string) SeriesKey {
	tags := make(map[string]string, len(k.Tags)+1)
	for tk, tv := range k.Tags {
		tags[tk] = tv
	}
	tags[key] = value
	return SeriesKey{Measurement: k.Measurement, Tags: tags}
}

// sortedTagKeys returns the tag keys in lexicographic order.
func (k SeriesKey) sortedTagKeys() []string {
	keys := make([]string, 0, len(k.Tags))
	for tk := range k.Tags {
		keys = append(keys, tk)
	}
	sort.Strings(keys)
	return keys
}

// Canonical returns the canonical string form: measurement[,k=v[,k=v...]]
// with tag keys sorted lexicographically. This is the form used for
// ordering, hashing, and bloom-filter membership.
func (k SeriesKey) Canonical() string {
	var b strings.Builder
	b.WriteString(k.Measurement)
	for _, tk := range k.sortedTagKeys() {
		b.WriteByte(',')
		b.WriteString(tk)
		b.WriteByte('=')
		b.WriteString(k.Tags[tk])
	}
	return b.String()
}

func (k SeriesKey) String() string { return k.Canonical() }

// Less reports whether k sorts before other in canonical order.
func (k SeriesKey) Less(other SeriesKey) bool {
	return k.Canonical() < other.Canonical()
}

// Equal reports whether two series keys have the same canonical form.
func (k SeriesKey) Equal(other SeriesKey) bool {
	return k.Canonical() == other.Canonical()
}

// ParseSeriesKey parses a canonical series key string (as produced by
// Canonical) back into structured form. Used wherever only the canonical
// string survived a round trip through an index or a wire payload.
func ParseSeriesKey(canonical string) SeriesKey {
	parts := strings.Split(canonical, ",")
	key := NewSeriesKey(parts[0])
	for _, part := range parts[1:] {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			key = key.WithTag(kv[0], kv[1])
		}
	}
	return key
}

// FieldKind discriminates the dynamic type carried by a FieldValue.
type FieldKind uint8

const (
	FieldFloat FieldKind = iota
	FieldInt
	FieldBool
	FieldString
)

// FieldValue is a dynamically-typed field value: one of float64, int64,
// bool, or string.
type FieldValue struct {
	Kind   FieldKind
	Float  float64
	Int    int64
	Bool   bool
	String string
}

func FloatValue(v float64) FieldValue  { return FieldValue{Kind: FieldFloat, Float: v} }
func IntValue(v int64) FieldValue      { return FieldValue{Kind: FieldInt, Int: v} }
func BoolValue(v bool) FieldValue      { return FieldValue{Kind: FieldBool, Bool: v} }
func StringValue(v string) FieldValue  { return FieldValue{Kind: FieldString, String: v} }

// AsFloat64 returns the value as a float64 if it is numeric.
func (v FieldValue) AsFloat64() (float64, bool) {
	switch v.Kind {
	case FieldFloat:
		return v.Float, true
	case FieldInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

// AsInt64 returns the value as an int64 if it is numeric.
func (v FieldValue) AsInt64() (int64, bool) {
	switch v.Kind {
	case FieldInt:
		return v.Int, true
	case FieldFloat:
		return int64(v.Float), true
	default:
		return 0, false
	}
}

// IsNumeric reports whether the value participates in columnar storage.
func (v FieldValue) IsNumeric() bool {
	return v.Kind == FieldFloat || v.Kind == FieldInt
}

// Size estimates the in-memory byte cost of the value, used for MemTable
// accounting.
func (v FieldValue) Size() int {
	switch v.Kind {
	case FieldFloat, FieldInt:
		return 8
	case FieldBool:
		return 1
	case FieldString:
		return len(v.String)
	default:
		return 0
	}
}

// Equal reports value equality. Float comparison is bit-exact, matching
// the engine's stance of not supporting approximate float equality.
func (v FieldValue) Equal(other FieldValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case FieldFloat:
		return v.Float == other.Float
	case FieldInt:
		return v.Int == other.Int
	case FieldBool:
		return v.Bool == other.Bool
	case FieldString:
		return v.String == other.String
	}
	return false
}

// Fields is an ordered map of field name to value. Iteration via Keys()
// is always in sorted order so that on-disk and in-memory representations
// are deterministic.
type Fields map[string]FieldValue

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size estimates the in-memory byte cost of the field map.
func (f Fields) Size() int {
	total := 0
	for k, v := range f {
		total += len(k) + v.Size()
	}
	return total
}

// Clone returns a shallow copy (field values are themselves value types).
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// DataPoint is a single timestamp with one or more field values.
type DataPoint struct {
	Timestamp Timestamp
	Fields    Fields
}

// NewDataPoint builds a data point with a single field.
func NewDataPoint(ts Timestamp, field string, value FieldValue) DataPoint {
	return DataPoint{Timestamp: ts, Fields: Fields{field: value}}
}

// Size estimates the in-memory byte cost of the data point.
func (d DataPoint) Size() int {
	return 8 + d.Fields.Size()
}

// Point bundles a series key with one data point.
type Point struct {
	Key  SeriesKey
	Data DataPoint
}

// NewPoint constructs a point.
func NewPoint(key SeriesKey, data DataPoint) Point {
	return Point{Key: key, Data: data}
}

// Size estimates the in-memory byte cost of the point.
func (p Point) Size() int {
	return len(p.Key.Canonical()) + p.Data.Size()
}

// WriteRequest bundles a target database name with a batch of points.
type WriteRequest struct {
	Database string
	Points   []Point
}

// TimeRange is an inclusive [Start, End] timestamp range.
type TimeRange struct {
	Start Timestamp
	End   Timestamp
}

// NewTimeRange constructs a time range.
func NewTimeRange(start, end Timestamp) TimeRange {
	return TimeRange{Start: start, End: end}
}

// Contains reports whether ts falls within the range, inclusive.
func (r TimeRange) Contains(ts Timestamp) bool {
	return ts >= r.Start && ts <= r.End
}

// Overlaps reports whether two ranges share any timestamp.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start <= other.End && r.End >= other.Start
}

// Duration returns End - Start.
func (r TimeRange) Duration() Timestamp {
	return r.End - r.Start
}

// AggregateFunction names an aggregation the query layer may request over
// QuerySeries results. The engine itself does not compute aggregates; this
// enum exists so the engine surface can be referenced by that layer
// without inventing its own vocabulary.
type AggregateFunction int

const (
	AggCount AggregateFunction = iota
	AggSum
	AggMean
	AggMin
	AggMax
	AggFirst
	AggLast
	AggStddev
)

// ParseAggregateFunction parses a case-insensitive aggregate function name.
func ParseAggregateFunction(s string) (AggregateFunction, bool) {
	switch strings.ToLower(s) {
	case "count":
		return AggCount, true
	case "sum":
		return AggSum, true
	case "mean", "avg", "average":
		return AggMean, true
	case "min":
		return AggMin, true
	case "max":
		return AggMax, true
	case "first":
		return AggFirst, true
	case "last":
		return AggLast, true
	case "stddev":
		return AggStddev, true
	default:
		return 0, false
	}
}
