package sstable

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/return2faye/fluxkv/internal/fluxerr"
	"github.com/return2faye/fluxkv/internal/gorilla"
)

// dataBlock is one encoded (series, field) column run: a Gorilla-compressed
// payload, optionally LZ4 wrapped, framed with a header and trailing CRC32.
//
//	field_name_len:u16 | field_name:utf8 |
//	count:u32 | first_ts:i64 | last_ts:i64 |
//	lz4_flag:u8 | payload_len:u32 | payload:bytes |
//	crc32:u32 over all preceding bytes of this block
type dataBlock struct {
	FieldName      string
	Count          uint32
	FirstTimestamp int64
	LastTimestamp  int64
	LZ4            bool
	Payload        []byte
}

// encodeDataBlock compresses points with the Gorilla codec, optionally
// wraps the result in LZ4 when that shrinks it, and returns the framed
// block bytes ready to append to an SSTable file.
func encodeDataBlock(fieldName string, points []gorilla.Point, useLZ4 bool) []byte {
	enc := gorilla.NewEncoder()
	for _, p := range points {
		enc.Encode(p.Timestamp, p.Value)
	}
	block := enc.Finish()

	payload := block.Data
	lz4Flag := byte(0)
	if useLZ4 {
		compressed := compressLZ4(block.Data)
		if len(compressed) < len(payload) {
			payload = compressed
			lz4Flag = 1
		}
	}

	nameBytes := []byte(fieldName)
	buf := bytes.NewBuffer(make([]byte, 0, 2+len(nameBytes)+4+8+8+1+4+len(payload)+4))

	writeUint16(buf, uint16(len(nameBytes)))
	buf.Write(nameBytes)
	writeUint32(buf, uint32(block.Count))
	writeInt64(buf, block.FirstTimestamp)
	writeInt64(buf, block.LastTimestamp)
	buf.WriteByte(lz4Flag)
	writeUint32(buf, uint32(len(payload)))
	buf.Write(payload)

	sum := crc32.ChecksumIEEE(buf.Bytes())
	writeUint32(buf, sum)

	return buf.Bytes()
}

// decodeDataBlock parses a framed block read from disk (raw must be exactly
// the bytes recorded for the block in the index) and verifies its CRC32.
func decodeDataBlock(raw []byte) (*dataBlock, error) {
	if len(raw) < 2 {
		return nil, fluxerr.New(fluxerr.KindCorruption, "sstable: data block too short")
	}
	r := bytes.NewReader(raw)

	nameLen, err := readUint16(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading field name length")
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading field name")
	}

	count, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading block count")
	}
	firstTS, err := readInt64(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading first timestamp")
	}
	lastTS, err := readInt64(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading last timestamp")
	}
	lz4Flag, err := r.ReadByte()
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading lz4 flag")
	}
	payloadLen, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading payload length")
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading block payload")
	}

	wantSum, err := readUint32(r)
	if err != nil {
		return nil, fluxerr.Wrap(fluxerr.KindCorruption, err, "sstable: reading block crc32")
	}
	gotSum := crc32.ChecksumIEEE(raw[:len(raw)-4])
	if gotSum != wantSum {
		return nil, fluxerr.New(fluxerr.KindCorruption, "sstable: data block checksum mismatch for field %q", string(nameBuf))
	}

	return &dataBlock{
		FieldName:      string(nameBuf),
		Count:          count,
		FirstTimestamp: firstTS,
		LastTimestamp:  lastTS,
		LZ4:            lz4Flag != 0,
		Payload:        payload,
	}, nil
}

// points decompresses the block's payload back into the original
// (timestamp, value) pairs.
func (b *dataBlock) points() ([]gorilla.Point, error) {
	payload := b.Payload
	if b.LZ4 {
		decompressed, err := decompressLZ4(payload)
		if err != nil {
			return nil, fluxerr.Wrap(fluxerr.KindCompression, err, "sstable: lz4 decompress")
		}
		payload = decompressed
	}
	dec := gorilla.NewDecoder(payload, int(b.Count))
	return dec.DecodeAll()
}

func compressLZ4(data []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	_, _ = w.Write(data)
	_ = w.Close()
	return buf.Bytes()
}

func decompressLZ4(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func readUint16(r io.Reader) (uint16, error) {
	var tmp [2]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(tmp[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readInt64(r io.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(tmp[:])), nil
}
