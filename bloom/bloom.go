// Package bloom implements the probabilistic membership filter that gates
// idempotent user actions.
//
// A filter answers "has this actor already acted on this target" in compact
// per-actor state. It can definitively say "no", but may say "yes" for a
// target that was never added (a false positive). For idempotent actions
// that trade-off is acceptable: a false positive silently drops a repeat of
// an action that is a no-op by nature, while a false negative — which the
// filter never produces — would double-count.
package bloom

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/klauspost/compress/s2"
)

// ErrCorruptFilter indicates serialized filter bytes that cannot be decoded.
var ErrCorruptFilter = errors.New("bloom: corrupt filter data")

const (
	maxHashFuncs = 16
	headerSize   = 16
)

// Filter is a Bloom filter over string keys. It is not safe for concurrent
// use; callers own one filter per actor and action class and serialize
// access through the actor's own write path.
type Filter struct {
	bits    []uint64
	numBits uint64
	k       uint32
	count   uint32
}

// New creates a filter sized for the expected number of insertions at the
// given false-positive rate. Parameters must be chosen so collisions are
// negligible for realistic target cardinality per actor; the filter degrades
// gracefully (more false positives) past capacity rather than failing.
func New(expectedInsertions int, falsePositiveRate float64) *Filter {
	numBits, k := size(expectedInsertions, falsePositiveRate)
	return &Filter{
		bits:    make([]uint64, numBits/64),
		numBits: numBits,
		k:       k,
	}
}

// size computes the optimal bit count and hash count.
// m = -n*ln(p) / ln(2)^2, k = (m/n) * ln(2).
func size(expectedInsertions int, falsePositiveRate float64) (numBits uint64, k uint32) {
	if expectedInsertions <= 0 {
		expectedInsertions = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	ln2Sq := math.Ln2 * math.Ln2
	m := float64(-expectedInsertions) * math.Log(falsePositiveRate) / ln2Sq

	kFloat := (m / float64(expectedInsertions)) * math.Ln2

	numBits = ((uint64(m) + 63) / 64) * 64
	if numBits < 64 {
		numBits = 64
	}

	k = uint32(math.Ceil(kFloat))
	if k < 1 {
		k = 1
	}
	if k > maxHashFuncs {
		k = maxHashFuncs
	}
	return numBits, k
}

// Contains reports whether key may have been added. false is definitive;
// true may be a false positive.
func (f *Filter) Contains(key string) bool {
	h1, h2 := hash(key)
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		if f.bits[bit/64]&(1<<(bit%64)) == 0 {
			return false
		}
	}
	return true
}

// Add inserts key and reports whether it was newly added. Add is the single
// idempotency gate: when it returns false the caller must skip every
// mutation side effect of the action.
func (f *Filter) Add(key string) bool {
	h1, h2 := hash(key)
	newly := false
	for i := uint32(0); i < f.k; i++ {
		bit := (h1 + uint64(i)*h2) % f.numBits
		wordIdx, mask := bit/64, uint64(1)<<(bit%64)
		if f.bits[wordIdx]&mask == 0 {
			f.bits[wordIdx] |= mask
			newly = true
		}
	}
	if newly {
		f.count++
	}
	return newly
}

// Count returns the number of keys added.
func (f *Filter) Count() uint32 {
	return f.count
}

// EstimatedFalsePositiveRate estimates the current false-positive rate from
// the fill ratio: (1 - e^(-k*n/m))^k. Callers log when this drifts past the
// configured rate; the filter itself never fails.
func (f *Filter) EstimatedFalsePositiveRate() float64 {
	if f.count == 0 {
		return 0
	}
	kn := float64(f.k) * float64(f.count)
	m := float64(f.numBits)
	return math.Pow(1-math.Exp(-kn/m), float64(f.k))
}

// Marshal serializes the filter. The bit array is s2-compressed; filters
// are persisted on actor records and mostly-empty arrays compress well.
func (f *Filter) Marshal() []byte {
	raw := make([]byte, headerSize+len(f.bits)*8)
	binary.LittleEndian.PutUint64(raw[0:8], f.numBits)
	binary.LittleEndian.PutUint32(raw[8:12], f.k)
	binary.LittleEndian.PutUint32(raw[12:16], f.count)
	for i, word := range f.bits {
		binary.LittleEndian.PutUint64(raw[headerSize+i*8:], word)
	}
	return s2.Encode(nil, raw)
}

// Unmarshal deserializes filter bytes produced by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	raw, err := s2.Decode(nil, data)
	if err != nil {
		return nil, ErrCorruptFilter
	}
	if len(raw) < headerSize {
		return nil, ErrCorruptFilter
	}

	numBits := binary.LittleEndian.Uint64(raw[0:8])
	k := binary.LittleEndian.Uint32(raw[8:12])
	count := binary.LittleEndian.Uint32(raw[12:16])

	if numBits < 64 || numBits%64 != 0 {
		return nil, ErrCorruptFilter
	}
	if k < 1 || k > maxHashFuncs {
		return nil, ErrCorruptFilter
	}
	numWords := int(numBits / 64)
	if len(raw) != headerSize+numWords*8 {
		return nil, ErrCorruptFilter
	}

	bits := make([]uint64, numWords)
	for i := range bits {
		bits[i] = binary.LittleEndian.Uint64(raw[headerSize+i*8:])
	}
	return &Filter{bits: bits, numBits: numBits, k: k, count: count}, nil
}

// hash computes two independent FNV-1a variants for double hashing:
// h(i) = h1 + i*h2.
func hash(s string) (h1, h2 uint64) {
	const (
		fnvOffset = 14695981039346656037
		fnvPrime  = 1099511628211
	)

	h1 = fnvOffset
	for i := 0; i < len(s); i++ {
		h1 ^= uint64(s[i])
		h1 *= fnvPrime
	}

	h2 = fnvOffset ^ 0x5555555555555555
	for i := len(s) - 1; i >= 0; i-- {
		h2 ^= uint64(s[i])
		h2 *= fnvPrime
	}

	// Odd h2 keeps the probe sequence from collapsing.
	h2 |= 1

	return h1, h2
}
