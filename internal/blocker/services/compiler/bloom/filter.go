// Package bloom wraps bits-and-blooms filters in a documented serializable form, used
// by compiled filter lists and their cached JSON.
package bloom

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"
)

// ErrMalformed reports a serialized filter that cannot be restored.
var ErrMalformed = errors.New("malformed bloom filter")

// Filter is a probabilistic membership set: MightContain never returns false for an
// added key, and returns true for an absent key with probability close to FPRate.
// Filters are built once and then only read; Add is not safe alongside readers.
type Filter struct {
	fpRate float64
	bf     *bitsbloom.BloomFilter
}

// New returns a filter sized for capacity keys at the target false-positive rate.
func New(capacity uint64, fpRate float64) *Filter {
	m, k := Size(capacity, fpRate)
	return &Filter{fpRate: normalizeFPRate(fpRate), bf: bitsbloom.New(uint(m), uint(k))}
}

func (f *Filter) Add(key []byte) {
	f.bf.Add(key)
}

func (f *Filter) AddString(key string) {
	f.bf.AddString(key)
}

func (f *Filter) MightContain(key []byte) bool {
	return f.bf.Test(key)
}

func (f *Filter) MightContainString(key string) bool {
	return f.bf.TestString(key)
}

// Bits returns the bit-array length m.
func (f *Filter) Bits() uint { return f.bf.Cap() }

// Hashes returns the number of hash functions k.
func (f *Filter) Hashes() uint { return f.bf.K() }

// FPRate returns the target false-positive rate the filter was sized for.
func (f *Filter) FPRate() float64 { return f.fpRate }

// Equal reports whether both filters have identical parameters and bits.
func (f *Filter) Equal(o *Filter) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.fpRate == o.fpRate && f.bf.Equal(o.bf)
}

// wireFilter is the serialized layout:
//
//	m       bit-array length
//	k       number of hash functions
//	fp_rate target false-positive rate
//	bits    bits-and-blooms binary encoding (m, k, bitset), base64 in JSON
type wireFilter struct {
	M      uint    `json:"m"`
	K      uint    `json:"k"`
	FPRate float64 `json:"fp_rate"`
	Bits   []byte  `json:"bits"`
}

func (f *Filter) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.bf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode bloom filter: %w", err)
	}
	return json.Marshal(wireFilter{M: f.bf.Cap(), K: f.bf.K(), FPRate: f.fpRate, Bits: buf.Bytes()})
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var w wireFilter
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.M == 0 || w.K == 0 || len(w.Bits) == 0 {
		return fmt.Errorf("%w: missing parameters", ErrMalformed)
	}
	bf := &bitsbloom.BloomFilter{}
	if _, err := bf.ReadFrom(bytes.NewReader(w.Bits)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if bf.Cap() != w.M || bf.K() != w.K {
		return fmt.Errorf("%w: header m=%d k=%d does not match bits m=%d k=%d", ErrMalformed, w.M, w.K, bf.Cap(), bf.K())
	}
	f.fpRate = normalizeFPRate(w.FPRate)
	f.bf = bf
	return nil
}
