// Package bloom implements a double-hashed bloom filter over a series
// key's canonical string form: the i-th probed bit is (h1 + i*h2) mod
// num_bits, with h1 the 64-bit xxhash of the key and h2 the xxhash of
// h1's eight little-endian bytes.
package bloom

import (
	"encoding/binary"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"
)

// Filter is a bloom filter sized for a target key count and bits-per-key
// budget.
type Filter struct {
	bits      *bitset.BitSet
	numBits   uint64
	numHashes int
}

// New creates an empty filter sized for numKeys entries at bitsPerKey
// bits each, rounded up to a whole number of bytes so that FromBytes
// restores the same bit count. The hash count is round(0.69*bitsPerKey)
// clamped to [1,30].
func New(numKeys, bitsPerKey int) *Filter {
	numBits := uint64(numKeys) * uint64(bitsPerKey)
	if numBits == 0 {
		numBits = uint64(bitsPerKey)
	}
	numBits = (numBits + 7) / 8 * 8
	return &Filter{
		bits:      bitset.New(uint(numBits)),
		numBits:   numBits,
		numHashes: numHashesFor(bitsPerKey),
	}
}

func numHashesFor(bitsPerKey int) int {
	n := int(roundHalfAwayFromZero(0.69 * float64(bitsPerKey)))
	if n < 1 {
		n = 1
	}
	if n > 30 {
		n = 30
	}
	return n
}

func roundHalfAwayFromZero(v float64) float64 {
	if v >= 0 {
		return float64(int64(v + 0.5))
	}
	return float64(int64(v - 0.5))
}

// FromBytes reconstructs a filter from its serialized bit bytes and hash
// count, as read from an SSTable's bloom section.
func FromBytes(data []byte, numHashes int) *Filter {
	bs := bitset.From(bytesToWords(data))
	return &Filter{
		bits:      bs,
		numBits:   uint64(len(data)) * 8,
		numHashes: numHashes,
	}
}

// Add inserts a key (a series key's canonical string) into the filter.
func (f *Filter) Add(key string) {
	h1, h2 := hashKey(key)
	for i := 0; i < f.numHashes; i++ {
		f.bits.Set(uint(f.bitPosition(h1, h2, i)))
	}
}

// MayContain reports whether key may have been added. False negatives are
// impossible; false positives occur at roughly the design rate.
func (f *Filter) MayContain(key string) bool {
	h1, h2 := hashKey(key)
	for i := 0; i < f.numHashes; i++ {
		if !f.bits.Test(uint(f.bitPosition(h1, h2, i))) {
			return false
		}
	}
	return true
}

func (f *Filter) bitPosition(h1, h2 uint64, i int) uint64 {
	if f.numBits == 0 {
		return 0
	}
	hash := h1 + uint64(i)*h2
	return hash % f.numBits
}

// NumHashes returns the number of probe hashes the filter uses.
func (f *Filter) NumHashes() int { return f.numHashes }

// Bytes returns the filter's bit storage as a byte slice, suitable for
// the SSTable bloom section (bit_bytes, num_hashes, bits).
func (f *Filter) Bytes() []byte {
	return wordsToBytes(f.bits.Bytes(), f.byteLen())
}

func (f *Filter) byteLen() int {
	return int((f.numBits + 7) / 8)
}

// FalsePositiveRate estimates the false-positive rate for numKeys
// inserted entries, per the standard bloom filter formula.
func (f *Filter) FalsePositiveRate(numKeys int) float64 {
	k := float64(f.numHashes)
	m := float64(f.numBits)
	n := float64(numKeys)
	if m == 0 {
		return 1
	}
	return math.Pow(1-math.Exp(-k*n/m), k)
}

func hashKey(key string) (uint64, uint64) {
	h1 := xxhash.Sum64String(key)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], h1)
	h2 := xxhash.Sum64(buf[:])
	return h1, h2
}

// bytesToWords/wordsToBytes adapt between the bitset package's native
// []uint64 word representation and the flat byte layout the SSTable
// format stores on disk.

func bytesToWords(data []byte) []uint64 {
	words := make([]uint64, (len(data)+7)/8)
	for i, b := range data {
		words[i/8] |= uint64(b) << uint((i%8)*8)
	}
	return words
}

func wordsToBytes(words []uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(words[i/8] >> uint((i%8)*8))
	}
	return out
}
