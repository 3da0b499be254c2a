// Package gorilla implements the delta-of-delta timestamp codec and the
// XOR-window float codec used to compress columnar (timestamp, value)
// runs inside an SSTable data block.
package gorilla

import (
	"math"
	"math/bits"

	"github.com/return2faye/fluxkv/internal/bitstream"
	"github.com/return2faye/fluxkv/internal/fluxerr"
)

// Block is a finished compressed run plus the metadata needed to decode
// and index it; the point count cannot be recovered from the bit stream
// alone, so it travels alongside the payload.
type Block struct {
	Data           []byte
	Count          int
	FirstTimestamp int64
	LastTimestamp  int64
}

// BytesPerPoint returns the average compressed size per point, used only
// for diagnostics and tests.
func (b Block) BytesPerPoint() float64 {
	if b.Count == 0 {
		return 0
	}
	return float64(len(b.Data)) / float64(b.Count)
}

// Encoder compresses a sequence of (timestamp, value) pairs fed in
// ascending-timestamp order.
type Encoder struct {
	w     *bitstream.Writer
	count int

	firstTimestamp int64
	prevTimestamp  int64
	prevDelta      int64

	prevValueBits uint64
	prevLeading   uint32
	prevTrailing  uint32
}

// NewEncoder returns an empty encoder.
func NewEncoder() *Encoder {
	return &Encoder{w: bitstream.NewWriterSize(4096)}
}

// Encode appends one (timestamp, value) pair.
func (e *Encoder) Encode(timestamp int64, value float64) {
	if e.count == 0 {
		e.encodeFirst(timestamp, value)
	} else {
		e.encodeTimestamp(timestamp)
		e.encodeValue(value)
	}
	e.count++
}

// Finish closes the encoder and returns the compressed block. The
// encoder must not be reused afterward.
func (e *Encoder) Finish() Block {
	return Block{
		Data:           e.w.Finish(),
		Count:          e.count,
		FirstTimestamp: e.firstTimestamp,
		LastTimestamp:  e.prevTimestamp,
	}
}

func (e *Encoder) encodeFirst(timestamp int64, value float64) {
	e.firstTimestamp = timestamp
	e.prevTimestamp = timestamp

	e.w.WriteBits(uint64(timestamp), 64)

	valueBits := math.Float64bits(value)
	e.w.WriteBits(valueBits, 64)
	e.prevValueBits = valueBits
}

func (e *Encoder) encodeTimestamp(timestamp int64) {
	delta := timestamp - e.prevTimestamp
	dod := delta - e.prevDelta

	switch {
	case dod == 0:
		e.w.WriteBit(false)
	case dod >= -63 && dod <= 64:
		e.w.WriteBits(0b10, 2)
		e.w.WriteBits(uint64(dod+63), 7)
	case dod >= -255 && dod <= 256:
		e.w.WriteBits(0b110, 3)
		e.w.WriteBits(uint64(dod+255), 9)
	case dod >= -2047 && dod <= 2048:
		e.w.WriteBits(0b1110, 4)
		e.w.WriteBits(uint64(dod+2047), 12)
	default:
		e.w.WriteBits(0b1111, 4)
		e.w.WriteBits(uint64(dod), 64)
	}

	e.prevDelta = delta
	e.prevTimestamp = timestamp
}

func (e *Encoder) encodeValue(value float64) {
	valueBits := math.Float64bits(value)
	xor := valueBits ^ e.prevValueBits

	if xor == 0 {
		e.w.WriteBit(false)
		e.prevValueBits = valueBits
		return
	}

	e.w.WriteBit(true)

	leading := uint32(bits.LeadingZeros64(xor))
	trailing := uint32(bits.TrailingZeros64(xor))

	if leading >= e.prevLeading && trailing >= e.prevTrailing {
		e.w.WriteBit(false)
		meaningful := 64 - e.prevLeading - e.prevTrailing
		shifted := xor >> e.prevTrailing
		e.w.WriteBits(shifted, int(meaningful))
	} else {
		e.w.WriteBit(true)

		if leading > 31 {
			leading = 31
		}
		e.w.WriteBits(uint64(leading), 5)

		// A 64-bit window does not fit in six bits; it is written as 0,
		// which the decoder reads back as 64.
		meaningful := 64 - leading - trailing
		e.w.WriteBits(uint64(meaningful), 6)

		shifted := xor >> trailing
		e.w.WriteBits(shifted, int(meaningful))

		e.prevLeading = leading
		e.prevTrailing = trailing
	}

	e.prevValueBits = valueBits
}

// Decoder decompresses a Block back into (timestamp, value) pairs, in the
// same order they were encoded.
type Decoder struct {
	r       *bitstream.Reader
	count   int
	decoded int

	prevTimestamp int64
	prevDelta     int64

	prevValueBits uint64
	prevLeading   uint32
	prevTrailing  uint32
}

// NewDecoder returns a decoder over data expected to hold count points.
func NewDecoder(data []byte, count int) *Decoder {
	return &Decoder{r: bitstream.NewReader(data), count: count}
}

// DecodeAll decodes every remaining point.
func (d *Decoder) DecodeAll() ([]Point, error) {
	points := make([]Point, 0, d.count)
	for {
		p, ok, err := d.DecodeNext()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		points = append(points, p)
	}
	return points, nil
}

// Point is a decoded (timestamp, value) pair.
type Point struct {
	Timestamp int64
	Value     float64
}

// DecodeNext decodes the next point, reporting ok=false once every point
// has been consumed.
func (d *Decoder) DecodeNext() (Point, bool, error) {
	if d.decoded >= d.count {
		return Point{}, false, nil
	}
	if d.decoded == 0 {
		return d.decodeFirst()
	}

	ts, err := d.decodeTimestamp()
	if err != nil {
		return Point{}, false, err
	}
	val, err := d.decodeValue()
	if err != nil {
		return Point{}, false, err
	}
	d.decoded++
	return Point{Timestamp: ts, Value: val}, true, nil
}

func shortErr() error {
	return fluxerr.New(fluxerr.KindCompression, "gorilla: unexpected end of block")
}

func (d *Decoder) decodeFirst() (Point, bool, error) {
	ts, err := d.r.ReadBits(64)
	if err != nil {
		return Point{}, false, shortErr()
	}
	valueBits, err := d.r.ReadBits(64)
	if err != nil {
		return Point{}, false, shortErr()
	}

	d.prevTimestamp = int64(ts)
	d.prevValueBits = valueBits
	d.decoded = 1

	return Point{Timestamp: int64(ts), Value: math.Float64frombits(valueBits)}, true, nil
}

func (d *Decoder) decodeTimestamp() (int64, error) {
	firstBit, err := d.r.ReadBit()
	if err != nil {
		return 0, shortErr()
	}

	var dod int64
	if !firstBit {
		dod = 0
	} else {
		secondBit, err := d.r.ReadBit()
		if err != nil {
			return 0, shortErr()
		}
		if !secondBit {
			v, err := d.r.ReadBits(7)
			if err != nil {
				return 0, shortErr()
			}
			dod = int64(v) - 63
		} else {
			thirdBit, err := d.r.ReadBit()
			if err != nil {
				return 0, shortErr()
			}
			if !thirdBit {
				v, err := d.r.ReadBits(9)
				if err != nil {
					return 0, shortErr()
				}
				dod = int64(v) - 255
			} else {
				fourthBit, err := d.r.ReadBit()
				if err != nil {
					return 0, shortErr()
				}
				if !fourthBit {
					v, err := d.r.ReadBits(12)
					if err != nil {
						return 0, shortErr()
					}
					dod = int64(v) - 2047
				} else {
					v, err := d.r.ReadBits(64)
					if err != nil {
						return 0, shortErr()
					}
					dod = int64(v)
				}
			}
		}
	}

	delta := d.prevDelta + dod
	timestamp := d.prevTimestamp + delta

	d.prevDelta = delta
	d.prevTimestamp = timestamp

	return timestamp, nil
}

func (d *Decoder) decodeValue() (float64, error) {
	firstBit, err := d.r.ReadBit()
	if err != nil {
		return 0, shortErr()
	}
	if !firstBit {
		return math.Float64frombits(d.prevValueBits), nil
	}

	secondBit, err := d.r.ReadBit()
	if err != nil {
		return 0, shortErr()
	}

	var leading, meaningful uint32
	if !secondBit {
		leading = d.prevLeading
		meaningful = 64 - d.prevLeading - d.prevTrailing
	} else {
		l, err := d.r.ReadBits(5)
		if err != nil {
			return 0, shortErr()
		}
		m, err := d.r.ReadBits(6)
		if err != nil {
			return 0, shortErr()
		}
		leading = uint32(l)
		meaningful = uint32(m)
		if meaningful == 0 {
			meaningful = 64
		}

		d.prevLeading = leading
		d.prevTrailing = 64 - leading - meaningful
	}

	meaningfulValue, err := d.r.ReadBits(int(meaningful))
	if err != nil {
		return 0, shortErr()
	}

	trailing := 64 - leading - meaningful
	xor := meaningfulValue << trailing
	valueBits := d.prevValueBits ^ xor

	d.prevValueBits = valueBits

	return math.Float64frombits(valueBits), nil
}
