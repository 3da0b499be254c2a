package sstable

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/return2faye/fluxkv/internal/fluxerr"
)

// indexEntry locates one (series, field) column's data block within the
// file, plus the timestamp range it covers.
//
//	series_key_len:u16 | series_key:utf8 |
//	field_name_len:u16 | field_name:utf8 |
//	offset:u64 | size:u32 | min_ts:i64 | max_ts:i64
type indexEntry struct {
	SeriesKey string
	Field     string
	Offset    uint64
	Size      uint32
	MinTS     int64
	MaxTS     int64
}

func encodeIndex(entries []indexEntry) []byte {
	buf := bytes.NewBuffer(nil)
	writeUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		seriesBytes := []byte(e.SeriesKey)
		fieldBytes := []byte(e.Field)

		writeUint16(buf, uint16(len(seriesBytes)))
		buf.Write(seriesBytes)
		writeUint16(buf, uint16(len(fieldBytes)))
		buf.Write(fieldBytes)

		var u64 [8]byte
		binary.LittleEndian.PutUint64(u64[:], e.Offset)
		buf.Write(u64[:])

		writeUint32(buf, e.Size)
		writeInt64(buf, e.MinTS)
		writeInt64(buf, e.MaxTS)
	}
	return buf.Bytes()
}

func decodeIndex(data []byte) ([]indexEntry, error) {
	r := bytes.NewReader(data)
	count, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index entry count")
	}

	entries := make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		seriesLen, err := readUint16(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index series key length")
		}
		seriesBuf := make([]byte, seriesLen)
		if _, err := io.ReadFull(r, seriesBuf); err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index series key")
		}

		fieldLen, err := readUint16(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index field name length")
		}
		fieldBuf := make([]byte, fieldLen)
		if _, err := io.ReadFull(r, fieldBuf); err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index field name")
		}

		var u64 [8]byte
		if _, err := io.ReadFull(r, u64[:]); err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index offset")
		}
		offset := binary.LittleEndian.Uint64(u64[:])

		size, err := readUint32(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index entry size")
		}
		minTS, err := readInt64(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index min timestamp")
		}
		maxTS, err := readInt64(r)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading index max timestamp")
		}

		entries = append(entries, indexEntry{
			SeriesKey: string(seriesBuf),
			Field:     string(fieldBuf),
			Offset:    offset,
			Size:      size,
			MinTS:     minTS,
			MaxTS:     maxTS,
		})
	}
	return entries, nil
}
