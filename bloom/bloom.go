// Package bloom implements a Murmur3-based bloom filter with
// double-hashing, backed by bits-and-blooms/bitset for storage.
package bloom

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/bits-and-blooms/bitset"

	"github.com/Priyanshu23/FlashLogGo/hashutil"
)

// Filter is sized for an expected insertion count n and a target
// false-positive probability p. It has zero false negatives: MightContain
// always returns true for a key that was Put, and may return true for a
// key that never was (a false positive, at roughly rate p).
type Filter struct {
	bits *bitset.BitSet
	m    uint
	k    uint
}

// NewWithEstimates sizes a filter for n expected insertions at false
// positive probability p.
func NewWithEstimates(n uint, p float64) *Filter {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := optimalM(n, p)
	k := optimalK(m, n)
	return &Filter{bits: bitset.New(m), m: m, k: k}
}

func optimalM(n uint, p float64) uint {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 1 {
		m = 1
	}
	return uint(m)
}

func optimalK(m, n uint) uint {
	if n == 0 {
		return 1
	}
	k := math.Round((float64(m) / float64(n)) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint(k)
}

// indices derives the k bit positions for key via double hashing:
// h1 + i*h2 mod m, per Kirsch-Mitzenmacher.
func (f *Filter) indices(key []byte) []uint {
	h1 := hashutil.Murmur3(key, 0)
	h2 := hashutil.Murmur3(key, h1)

	idx := make([]uint, f.k)
	for i := uint(0); i < f.k; i++ {
		combined := uint64(h1) + uint64(i)*uint64(h2)
		idx[i] = uint(combined % uint64(f.m))
	}
	return idx
}

// Put sets the k bits for key.
func (f *Filter) Put(key []byte) {
	for _, i := range f.indices(key) {
		f.bits.Set(i)
	}
}

// MightContain reports whether key may have been inserted.
func (f *Filter) MightContain(key []byte) bool {
	for _, i := range f.indices(key) {
		if !f.bits.Test(i) {
			return false
		}
	}
	return true
}

// K returns the number of hash functions used.
func (f *Filter) K() uint { return f.k }

// M returns the bit array size.
func (f *Filter) M() uint { return f.m }

// SerializedSize returns the byte length WriteTo will produce.
func (f *Filter) SerializedSize() int {
	raw, _ := f.bits.MarshalBinary()
	return 4 + 4 + 4 + len(raw)
}

// WriteTo serializes k, m, the marshaled bit set's byte length, then the
// bit set itself, matching the SST footer's bloom filter block layout.
func (f *Filter) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var buf [4]byte

	binary.BigEndian.PutUint32(buf[:], uint32(f.k))
	n, err := w.Write(buf[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write bloom hash count: %w", err)
	}

	binary.BigEndian.PutUint32(buf[:], uint32(f.m))
	n, err = w.Write(buf[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write bloom bit count: %w", err)
	}

	raw, err := f.bits.MarshalBinary()
	if err != nil {
		return written, fmt.Errorf("marshal bloom bits: %w", err)
	}

	binary.BigEndian.PutUint32(buf[:], uint32(len(raw)))
	n, err = w.Write(buf[:])
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write bloom byte length: %w", err)
	}

	n, err = w.Write(raw)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write bloom bits: %w", err)
	}

	return written, nil
}

// ReadFrom deserializes a filter previously written by WriteTo.
func ReadFrom(r io.Reader) (*Filter, int64, error) {
	var read int64
	var buf [4]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, read, fmt.Errorf("read bloom hash count: %w", err)
	}
	k := binary.BigEndian.Uint32(buf[:])
	read += 4

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, read, fmt.Errorf("read bloom bit count: %w", err)
	}
	m := binary.BigEndian.Uint32(buf[:])
	read += 4

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, read, fmt.Errorf("read bloom byte length: %w", err)
	}
	byteLen := binary.BigEndian.Uint32(buf[:])
	read += 4

	raw := make([]byte, byteLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, read, fmt.Errorf("read bloom bits: %w", err)
	}
	read += int64(byteLen)

	bits := &bitset.BitSet{}
	if err := bits.UnmarshalBinary(raw); err != nil {
		return nil, read, fmt.Errorf("unmarshal bloom bits: %w", err)
	}

	return &Filter{bits: bits, m: uint(m), k: uint(k)}, read, nil
}
