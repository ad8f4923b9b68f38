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

// slotsPerBucket and banishSlots approximate a "fit in one cache line"
// packing that doesn't translate literally to Go (slice headers and
// interface pointers aren't the same size as raw pointers): 4 value
// slots per bucket for PlainBucket, 3 for TransactionalBucket (which
// spends extra header space on banishTerm and banish hashes), 2 banish
// slots.
const (
	slotsPerBucket       = 4
	transactionalSlots   = 3
	banishSlotsPerBucket = 2
)

// PlainBucket is the non-transactional bucket: a lock word, up to
// slotsPerBucket truncated hashes, and the CachedValue each hash
// indexes. An empty slot has hash == 0 and value == nil.
type PlainBucket struct {
	state  BucketState
	hashes [slotsPerBucket]uint32
	values [slotsPerBucket]*CachedValue
}

// lockState exposes the bucket's BucketState so Table can lock/unlock
// and inspect MIGRATED without knowing the bucket's payload layout.
func (b *PlainBucket) lockState() *BucketState { return &b.state }

// find scans for hash/key, returning the matching value or nil. The
// caller must hold the bucket lock.
func (b *PlainBucket) find(hasher Hasher, hash uint32, key []byte) *CachedValue {
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] == nil || b.hashes[i] != hash {
			continue
		}
		if b.values[i].sameKey(hasher, key) {
			return b.values[i]
		}
	}
	return nil
}

// insert places value into the first empty slot. The caller must hold
// the bucket lock and have verified there is room (full, or
// evictionCandidate followed by evictSlot).
func (b *PlainBucket) insert(hash uint32, value *CachedValue) {
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] == nil {
			b.hashes[i] = hash
			b.values[i] = value
			return
		}
	}
}

// remove scans for hash/key, swaps the match with the last occupied
// slot, and returns the removed value (nil if absent).
func (b *PlainBucket) remove(hasher Hasher, hash uint32, key []byte) *CachedValue {
	idx := -1
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] != nil && b.hashes[i] == hash && b.values[i].sameKey(hasher, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := b.values[idx]
	last := b.lastOccupied()
	if last != idx {
		b.hashes[idx] = b.hashes[last]
		b.values[idx] = b.values[last]
	}
	b.hashes[last] = 0
	b.values[last] = nil
	return removed
}

func (b *PlainBucket) lastOccupied() int {
	last := 0
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] != nil {
			last = i
		}
	}
	return last
}

// full reports whether every slot is occupied.
func (b *PlainBucket) full() bool {
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] == nil {
			return false
		}
	}
	return true
}

// evictionCandidate returns the first slot index holding a value whose
// reference count is zero, or -1 if none is evictable.
func (b *PlainBucket) evictionCandidate() int {
	for i := 0; i < slotsPerBucket; i++ {
		if b.values[i] != nil && b.values[i].evictable() {
			return i
		}
	}
	return -1
}

// evictSlot clears slot i and returns the value that occupied it.
func (b *PlainBucket) evictSlot(i int) *CachedValue {
	v := b.values[i]
	b.hashes[i] = 0
	b.values[i] = nil
	return v
}

// TransactionalBucket additionally tracks a lazily-reset banish set:
// hashes marked as banished as of banishTerm.
type TransactionalBucket struct {
	state        BucketState
	banishTerm   uint64
	hashes       [transactionalSlots]uint32
	values       [transactionalSlots]*CachedValue
	banishHashes [banishSlotsPerBucket]uint32
	banishNext   int // next banish slot to overwrite (ring cursor)
}

// lockState exposes the bucket's BucketState so Table can lock/unlock
// and inspect MIGRATED without knowing the bucket's payload layout.
func (b *TransactionalBucket) lockState() *BucketState { return &b.state }

func (b *TransactionalBucket) find(hasher Hasher, hash uint32, key []byte) *CachedValue {
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] == nil || b.hashes[i] != hash {
			continue
		}
		if b.values[i].sameKey(hasher, key) {
			return b.values[i]
		}
	}
	return nil
}

func (b *TransactionalBucket) insert(hash uint32, value *CachedValue) {
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] == nil {
			b.hashes[i] = hash
			b.values[i] = value
			return
		}
	}
}

func (b *TransactionalBucket) remove(hasher Hasher, hash uint32, key []byte) *CachedValue {
	idx := -1
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] != nil && b.hashes[i] == hash && b.values[i].sameKey(hasher, key) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	removed := b.values[idx]
	last := b.lastOccupied()
	if last != idx {
		b.hashes[idx] = b.hashes[last]
		b.values[idx] = b.values[last]
	}
	b.hashes[last] = 0
	b.values[last] = nil
	return removed
}

func (b *TransactionalBucket) lastOccupied() int {
	last := 0
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] != nil {
			last = i
		}
	}
	return last
}

func (b *TransactionalBucket) full() bool {
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] == nil {
			return false
		}
	}
	return true
}

func (b *TransactionalBucket) evictionCandidate() int {
	for i := 0; i < transactionalSlots; i++ {
		if b.values[i] != nil && b.values[i].evictable() {
			return i
		}
	}
	return -1
}

func (b *TransactionalBucket) evictSlot(i int) *CachedValue {
	v := b.values[i]
	b.hashes[i] = 0
	b.values[i] = nil
	return v
}

// refreshTerm lazily resets the banish set when currentTerm has moved
// past the term this bucket last recorded.
func (b *TransactionalBucket) refreshTerm(currentTerm uint64) {
	if b.banishTerm < currentTerm {
		b.banishTerm = currentTerm
		for i := range b.banishHashes {
			b.banishHashes[i] = 0
		}
		b.banishNext = 0
		b.state.toggle(flagBanished, false)
	}
}

// isBanished refreshes the term as above, then reports whether hash is
// recorded in the (now possibly-cleared) banish set.
func (b *TransactionalBucket) isBanished(hash uint32, currentTerm uint64) bool {
	b.refreshTerm(currentTerm)
	if hash == 0 {
		return false
	}
	for _, h := range b.banishHashes {
		if h == hash {
			return true
		}
	}
	return false
}

// banish refreshes the term, then records hash in the banish set,
// evicting the oldest entry (ring order) when full.
func (b *TransactionalBucket) banish(hash uint32, currentTerm uint64) {
	b.refreshTerm(currentTerm)
	for _, h := range b.banishHashes {
		if h == hash {
			b.state.toggle(flagBanished, true)
			return
		}
	}
	b.banishHashes[b.banishNext] = hash
	b.banishNext = (b.banishNext + 1) % banishSlotsPerBucket
	b.state.toggle(flagBanished, true)
}
