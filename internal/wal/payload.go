package wal

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/types"
)

// fieldKindWire mirrors types.FieldKind on the wire; kept separate so the
// in-memory enum can evolve without breaking already-written segments.
const (
	wireFloat  = 0
	wireInt    = 1
	wireBool   = 2
	wireString = 3
)

// EncodePoints serializes a batch of points for a RecordWrite payload:
//
//	point_count:u32 |
//	  { series_key_len:u16 | series_key:utf8 | timestamp:i64 | field_count:u16 |
//	    { name_len:u16 | name:utf8 | kind:u8 | value } × field_count
//	  } × point_count
func EncodePoints(points []types.Point) []byte {
	buf := bytes.NewBuffer(nil)
	writeUint32(buf, uint32(len(points)))

	for _, p := range points {
		keyBytes := []byte(p.Key.Canonical())
		writeUint16(buf, uint16(len(keyBytes)))
		buf.Write(keyBytes)
		writeInt64(buf, p.Data.Timestamp)

		names := p.Data.Fields.Keys()
		writeUint16(buf, uint16(len(names)))
		for _, name := range names {
			encodeField(buf, name, p.Data.Fields[name])
		}
	}

	return buf.Bytes()
}

func encodeField(buf *bytes.Buffer, name string, v types.FieldValue) {
	nameBytes := []byte(name)
	writeUint16(buf, uint16(len(nameBytes)))
	buf.Write(nameBytes)

	switch v.Kind {
	case types.FieldFloat:
		buf.WriteByte(wireFloat)
		var bits [8]byte
		binary.LittleEndian.PutUint64(bits[:], math.Float64bits(v.Float))
		buf.Write(bits[:])
	case types.FieldInt:
		buf.WriteByte(wireInt)
		writeInt64(buf, v.Int)
	case types.FieldBool:
		buf.WriteByte(wireBool)
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case types.FieldString:
		buf.WriteByte(wireString)
		strBytes := []byte(v.String)
		writeUint32(buf, uint32(len(strBytes)))
		buf.Write(strBytes)
	}
}

// DecodePoints parses a RecordWrite payload produced by EncodePoints.
func DecodePoints(data []byte) ([]types.Point, error) {
	r := bytes.NewReader(data)

	count, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading point count")
	}

	points := make([]types.Point, 0, count)
	for i := uint32(0); i < count; i++ {
		keyLen, err := readUint16(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading series key length")
		}
		keyBuf := make([]byte, keyLen)
		if _, err := io.ReadFull(r, keyBuf); err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading series key")
		}

		ts, err := readInt64(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading timestamp")
		}

		fieldCount, err := readUint16(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading field count")
		}

		fields := make(types.Fields, fieldCount)
		for f := uint16(0); f < fieldCount; f++ {
			name, value, err := decodeField(r)
			if err != nil {
				return nil, err
			}
			fields[name] = value
		}

		points = append(points, types.Point{
			Key:  types.ParseSeriesKey(string(keyBuf)),
			Data: types.DataPoint{Timestamp: ts, Fields: fields},
		})
	}

	return points, nil
}

func decodeField(r *bytes.Reader) (string, types.FieldValue, error) {
	nameLen, err := readUint16(r)
	if err != nil {
		return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading field name length")
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading field name")
	}
	name := string(nameBuf)

	kind, err := r.ReadByte()
	if err != nil {
		return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading field kind for %q", name)
	}

	switch kind {
	case wireFloat:
		var bits [8]byte
		if _, err := io.ReadFull(r, bits[:]); err != nil {
			return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading float value for %q", name)
		}
		return name, types.FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(bits[:]))), nil
	case wireInt:
		v, err := readInt64(r)
		if err != nil {
			return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading int value for %q", name)
		}
		return name, types.IntValue(v), nil
	case wireBool:
		b, err := r.ReadByte()
		if err != nil {
			return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading bool value for %q", name)
		}
		return name, types.BoolValue(b != 0), nil
	case wireString:
		strLen, err := readUint32(r)
		if err != nil {
			return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading string length for %q", name)
		}
		strBuf := make([]byte, strLen)
		if _, err := io.ReadFull(r, strBuf); err != nil {
			return "", types.FieldValue{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading string value for %q", name)
		}
		return name, types.StringValue(string(strBuf)), nil
	default:
		return "", types.FieldValue{}, fluxerr.New(fluxerr.KindInvalidFormat, "wal: unknown field kind %d for %q", kind, name)
	}
}

// EncodeDelete serializes a RecordDelete payload: the series to drop and the
// inclusive timestamp range to remove from it.
//
//	series_key_len:u16 | series_key:utf8 | start:i64 | end:i64
func EncodeDelete(series types.SeriesKey, rng types.TimeRange) []byte {
	buf := bytes.NewBuffer(nil)
	keyBytes := []byte(series.Canonical())
	writeUint16(buf, uint16(len(keyBytes)))
	buf.Write(keyBytes)
	writeInt64(buf, rng.Start)
	writeInt64(buf, rng.End)
	return buf.Bytes()
}

// DecodeDelete parses a RecordDelete payload produced by EncodeDelete.
func DecodeDelete(data []byte) (types.SeriesKey, types.TimeRange, error) {
	r := bytes.NewReader(data)

	keyLen, err := readUint16(r)
	if err != nil {
		return types.SeriesKey{}, types.TimeRange{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading delete series key length")
	}
	keyBuf := make([]byte, keyLen)
	if _, err := io.ReadFull(r, keyBuf); err != nil {
		return types.SeriesKey{}, types.TimeRange{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading delete series key")
	}

	start, err := readInt64(r)
	if err != nil {
		return types.SeriesKey{}, types.TimeRange{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading delete range start")
	}
	end, err := readInt64(r)
	if err != nil {
		return types.SeriesKey{}, types.TimeRange{}, fluxerr.Wrap(fluxerr.KindCorruption, err, "wal: reading delete range end")
	}

	return types.ParseSeriesKey(string(keyBuf)), types.NewTimeRange(start, end), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	buf.Write(b[:])
}

func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
