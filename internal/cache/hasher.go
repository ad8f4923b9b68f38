// Copyright 2025 The hbcache Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Hasher is the pluggable key capability every Cache is parameterized
// over: it produces a 32-bit bucket-selection hash and compares two
// keys for equality. Avoid dynamic dispatch in the hot path by keeping
// implementations allocation-free.
type Hasher interface {
	// Hash returns a 32-bit hash of key, used to select a bucket.
	Hash(key []byte) uint32
	// SameKey reports whether a and b denote the same logical key.
	SameKey(a, b []byte) bool
}

// BinaryHasher is the default Hasher: plain byte-for-byte equality and
// a truncated xxhash of the raw key bytes.
type BinaryHasher struct{}

// Hash implements Hasher.
func (BinaryHasher) Hash(key []byte) uint32 {
	return uint32(xxhash.Sum64(key))
}

// SameKey implements Hasher.
func (BinaryHasher) SameKey(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// NumericHasher normalizes numeric keys: a key that decodes as an 8-byte
// little-endian int64 or an 8-byte little-endian float64 representable
// exactly as that integer is normalized to the same canonical 8-byte
// form before hashing or comparing, so insert(int64(i)) and
// find(float64(i)) collide for any i exactly representable in a
// float64 mantissa (|i| < 2^53). Keys of any other length, or numeric
// keys outside that exact range, fall back to binary comparison.
type NumericHasher struct{}

// Hash implements Hasher.
func (NumericHasher) Hash(key []byte) uint32 {
	return uint32(xxhash.Sum64(canonicalNumericForm(key)))
}

// SameKey implements Hasher.
func (NumericHasher) SameKey(a, b []byte) bool {
	return BinaryHasher{}.SameKey(canonicalNumericForm(a), canonicalNumericForm(b))
}

// canonicalNumericForm normalizes an 8-byte key to the big-endian bit
// pattern of its float64 value when it decodes as either a little-
// endian int64 or a little-endian float64 exactly representable as
// that integer. Any other key is returned unchanged.
func canonicalNumericForm(key []byte) []byte {
	if len(key) != 8 {
		return key
	}
	raw := binary.LittleEndian.Uint64(key)

	asFloat := math.Float64frombits(raw)
	if isExactInteger(asFloat) {
		return canonicalFloatBytes(asFloat)
	}

	asInt := int64(raw)
	if f := float64(asInt); isExactInteger(f) && int64(f) == asInt {
		return canonicalFloatBytes(f)
	}

	return key
}

func isExactInteger(f float64) bool {
	const maxExactMantissa = 1 << 53
	return !math.IsNaN(f) && !math.IsInf(f, 0) &&
		f == math.Trunc(f) && math.Abs(f) < maxExactMantissa
}

func canonicalFloatBytes(f float64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], math.Float64bits(f))
	return out[:]
}
