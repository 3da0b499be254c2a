package gorilla

import (
	"math"
	"testing"
)

func TestEncoderSinglePoint(t *testing.T) {
	enc := NewEncoder()
	enc.Encode(1000000000, 23.5)
	block := enc.Finish()

	if block.Count != 1 {
		t.Fatalf("count = %d, want 1", block.Count)
	}
	if block.FirstTimestamp != 1000000000 || block.LastTimestamp != 1000000000 {
		t.Fatalf("timestamps = %d/%d, want 1000000000/1000000000", block.FirstTimestamp, block.LastTimestamp)
	}
}

func TestEncoderConstantDelta(t *testing.T) {
	enc := NewEncoder()
	for i := int64(0); i < 100; i++ {
		enc.Encode(1000000000+i*10_000_000_000, 23.5)
	}
	block := enc.Finish()

	if block.Count != 100 {
		t.Fatalf("count = %d, want 100", block.Count)
	}
	if bpp := block.BytesPerPoint(); bpp >= 2.0 {
		t.Fatalf("expected < 2 bytes/point for constant data, got %f", bpp)
	}
}

func TestEncoderVaryingValues(t *testing.T) {
	enc := NewEncoder()
	for i := int64(0); i < 1000; i++ {
		ts := 1000000000 + i*10_000_000_000
		val := 20.0 + math.Sin(float64(i)*0.1)*5.0
		enc.Encode(ts, val)
	}
	block := enc.Finish()

	if block.Count != 1000 {
		t.Fatalf("count = %d, want 1000", block.Count)
	}
	if bpp := block.BytesPerPoint(); bpp >= 5.0 {
		t.Fatalf("expected < 5 bytes/point, got %f", bpp)
	}
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	enc := NewEncoder()

	type pair struct {
		ts  int64
		val float64
	}
	points := make([]pair, 100)
	for i := range points {
		points[i] = pair{
			ts:  1000000000 + int64(i)*10_000_000_000,
			val: 20.0 + float64(i)*0.5,
		}
	}
	for _, p := range points {
		enc.Encode(p.ts, p.val)
	}

	block := enc.Finish()
	dec := NewDecoder(block.Data, block.Count)
	decoded, err := dec.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}

	if len(decoded) != len(points) {
		t.Fatalf("decoded %d points, want %d", len(decoded), len(points))
	}
	for i, p := range points {
		if decoded[i].Timestamp != p.ts {
			t.Fatalf("timestamp mismatch at %d: got %d want %d", i, decoded[i].Timestamp, p.ts)
		}
		if math.Abs(decoded[i].Value-p.val) > 1e-10 {
			t.Fatalf("value mismatch at %d: got %v want %v", i, decoded[i].Value, p.val)
		}
	}
}

func TestDecodeConstantValues(t *testing.T) {
	enc := NewEncoder()
	for i := int64(0); i < 50; i++ {
		enc.Encode(1000000000+i*10_000_000_000, 42.0)
	}
	block := enc.Finish()

	dec := NewDecoder(block.Data, block.Count)
	decoded, err := dec.DecodeAll()
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}

	if len(decoded) != 50 {
		t.Fatalf("decoded %d points, want 50", len(decoded))
	}
	for _, p := range decoded {
		if math.Abs(p.Value-42.0) > 1e-10 {
			t.Fatalf("value = %v, want 42.0", p.Value)
		}
		if p.Timestamp < 1000000000 {
			t.Fatalf("timestamp = %d, want >= 1000000000", p.Timestamp)
		}
	}
}

func TestDecoderShortBlockIsCompressionError(t *testing.T) {
	dec := NewDecoder([]byte{0x01, 0x02}, 5)
	if _, err := dec.DecodeAll(); err == nil {
		t.Fatal("expected error decoding truncated block")
	}
}
