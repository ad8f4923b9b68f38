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
	"testing"
)

// TestBinaryHasherSameKey checks byte-for-byte equality semantics.
func TestBinaryHasherSameKey(t *testing.T) {
	h := BinaryHasher{}
	if !h.SameKey([]byte("abc"), []byte("abc")) {
		t.Error("identical keys should compare equal")
	}
	if h.SameKey([]byte("abc"), []byte("abd")) {
		t.Error("differing bytes should not compare equal")
	}
	if h.SameKey([]byte("abc"), []byte("ab")) {
		t.Error("differing lengths should not compare equal")
	}
}

// TestBinaryHasherHashDeterministic checks Hash is a pure function of
// its input.
func TestBinaryHasherHashDeterministic(t *testing.T) {
	h := BinaryHasher{}
	key := []byte("some-key")
	if h.Hash(key) != h.Hash(key) {
		t.Error("Hash should be deterministic for the same input")
	}
}

func int64Key(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func float64Key(v float64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	return b[:]
}

// TestNumericHasherCanonicalCollision verifies that an int64 key and
// the float64 key holding the same exact value collide under
// NumericHasher, for both Hash and SameKey.
func TestNumericHasherCanonicalCollision(t *testing.T) {
	h := NumericHasher{}

	tests := []int64{0, 1, -1, 42, -42, 1 << 20, -(1 << 20)}
	for _, v := range tests {
		intKey := int64Key(v)
		floatKey := float64Key(float64(v))

		if !h.SameKey(intKey, floatKey) {
			t.Errorf("int64(%d) and float64(%d) should compare as the same key", v, v)
		}
		if h.Hash(intKey) != h.Hash(floatKey) {
			t.Errorf("int64(%d) and float64(%d) should hash identically", v, v)
		}
	}
}

// TestNumericHasherDistinctValues checks different canonical values
// don't collide.
func TestNumericHasherDistinctValues(t *testing.T) {
	h := NumericHasher{}
	a := int64Key(1)
	b := int64Key(2)
	if h.SameKey(a, b) {
		t.Error("distinct integer keys should not compare equal")
	}
}

// TestNumericHasherNonNumericFallsBackToBinary checks that a key of a
// length other than 8 bytes is compared byte-for-byte, unchanged.
func TestNumericHasherNonNumericFallsBackToBinary(t *testing.T) {
	h := NumericHasher{}
	a := []byte("not-a-number")
	b := []byte("not-a-number")
	if !h.SameKey(a, b) {
		t.Error("identical non-numeric keys should still compare equal")
	}

	c := []byte("different-len-key")
	if h.SameKey(a, c) {
		t.Error("differing non-numeric keys should not compare equal")
	}
}

// TestNumericHasherOutOfRangeFloatNotNormalized checks a float64 key
// that isn't exactly representable as an int64 (or is outside the
// exact-mantissa range) is left as its raw bytes rather than coerced.
func TestNumericHasherOutOfRangeFloatNotNormalized(t *testing.T) {
	h := NumericHasher{}
	fractional := float64Key(1.5)
	asRawBytes := fractional

	// A fractional float64 key must still compare equal to an
	// identical copy of itself (raw fallback is still well-defined).
	if !h.SameKey(fractional, asRawBytes) {
		t.Error("identical fractional float keys should compare equal")
	}

	// But it must not collide with the integer it truncates to.
	intKey := int64Key(1)
	if h.SameKey(fractional, intKey) {
		t.Error("a fractional float key must not collide with its truncated integer")
	}
}
