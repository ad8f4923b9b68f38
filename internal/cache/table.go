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
	"sync"
	"sync/atomic"
)

const (
	// MinLogSize is the smallest permitted Table.logSize.
	MinLogSize = 8
	// MaxLogSize is the largest permitted Table.logSize.
	MaxLogSize = 32
	// BucketSizeBytes is the nominal (non-enforced in Go) bucket size
	// this design's sizing decisions assume. See bucket.go.
	BucketSizeBytes = 64
)

// bucketPtr is the capability Table needs from *S: a BucketState to
// lock/unlock and inspect MIGRATED. S is the bucket struct
// (PlainBucket or TransactionalBucket); P is always *S. Spelling it as
// two type parameters is the standard way to require pointer-receiver
// methods from a generic type's element type.
type bucketPtr[S any] interface {
	*S
	lockState() *BucketState
}

// Table is a power-of-two array of buckets, generic over the bucket
// payload (PlainBucket or TransactionalBucket). A newly constructed
// Table is disabled; enable() must be called before it serves lookups.
type Table[S any, P bucketPtr[S]] struct {
	mu sync.RWMutex // guards disabled, evictions, auxiliary, shape

	logSize   uint32
	size      uint32
	mask      uint32
	shift     uint32
	buckets   []S
	auxiliary *Table[S, P]

	disabled  bool
	evictions atomic.Bool

	slotsPerBkt uint64
	slotsTotal  uint64
	slotsUsed   atomic.Int64

	idealLowerRatio float64
	idealUpperRatio float64
}

// NewTable allocates a Table of 1<<logSize buckets. slotsPerBucket is
// the payload's fixed slot count (slotsPerBucket for Plain,
// transactionalSlots for Transactional) used for fill-ratio math.
func NewTable[S any, P bucketPtr[S]](logSize uint32, slotsPerBucket int, idealLower, idealUpper float64) *Table[S, P] {
	if logSize < MinLogSize {
		logSize = MinLogSize
	}
	if logSize > MaxLogSize {
		logSize = MaxLogSize
	}
	size := uint32(1) << logSize
	return newTableWithBuckets[S, P](logSize, make([]S, size), slotsPerBucket, idealLower, idealUpper)
}

// newTableWithBuckets builds a Table around an already-allocated bucket
// slice, re-allocating only if its length doesn't match 1<<logSize.
// tablePool.lease uses this to hand a Table a backing array recycled
// from its per-logSize array pool instead of always calling make.
func newTableWithBuckets[S any, P bucketPtr[S]](logSize uint32, buckets []S, slotsPerBucket int, idealLower, idealUpper float64) *Table[S, P] {
	want := uint32(1) << logSize
	if uint32(len(buckets)) != want {
		buckets = make([]S, want)
	}
	return &Table[S, P]{
		logSize:         logSize,
		size:            want,
		mask:            (want - 1) << (32 - logSize),
		shift:           32 - logSize,
		buckets:         buckets,
		disabled:        true,
		slotsPerBkt:     uint64(slotsPerBucket),
		slotsTotal:      uint64(want) * uint64(slotsPerBucket),
		idealLowerRatio: idealLower,
		idealUpperRatio: idealUpper,
	}
}

// LogSize returns the table's log2 bucket count.
func (t *Table[S, P]) LogSize() uint32 { return t.logSize }

// Size returns the bucket count (1<<logSize).
func (t *Table[S, P]) Size() uint32 { return t.size }

// SlotsTotal returns size × slotsPerBucket.
func (t *Table[S, P]) SlotsTotal() uint64 { return t.slotsTotal }

// SlotsUsed returns the current atomic fill count.
func (t *Table[S, P]) SlotsUsed() uint64 { return uint64(t.slotsUsed.Load()) }

// MemoryUsage approximates the table's allocation: size × BucketSizeBytes.
func (t *Table[S, P]) MemoryUsage() uint64 { return uint64(t.size) * BucketSizeBytes }

// bucketIndex computes the top-logSize-bits bucket selection from a
// 32-bit hash.
func (t *Table[S, P]) bucketIndex(hash uint32) uint32 {
	return (hash & t.mask) >> t.shift
}

// enable flips the disabled flag off under the table write lock.
func (t *Table[S, P]) enable() {
	t.mu.Lock()
	t.disabled = false
	t.mu.Unlock()
}

// disable flips the disabled flag on under the table write lock. All
// lookups must short-circuit to "not found" while disabled.
func (t *Table[S, P]) disable() {
	t.mu.Lock()
	t.disabled = true
	t.mu.Unlock()
}

// isDisabled reports the current gate state.
func (t *Table[S, P]) isDisabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.disabled
}

// primaryBucket returns a pointer to the bucket at index in this
// table, ignoring auxiliary redirection.
func (t *Table[S, P]) primaryBucket(index uint32) P {
	return P(&t.buckets[index])
}

// fetchAndLockBucket takes a brief table read lock, resolves hash to a
// bucket (following MIGRATED redirects into the auxiliary table), and
// tries to lock it. Returns the bucket pointer, a locker to release it,
// and whether the lock was acquired. A false ok cannot carry a non-nil
// bucket pointer; callers should treat ok==false as Busy.
func (t *Table[S, P]) fetchAndLockBucket(hash uint32, maxTries uint64) (P, bucketLocker, bool) {
	for {
		t.mu.RLock()
		if t.disabled {
			t.mu.RUnlock()
			var zero P
			return zero, bucketLocker{}, false
		}
		idx := t.bucketIndex(hash)
		bucket := P(&t.buckets[idx])
		state := bucket.lockState()
		locked := state.tryLock(maxTries)
		if !locked {
			t.mu.RUnlock()
			var zero P
			return zero, bucketLocker{}, false
		}
		if state.isSet(flagMigrated) {
			aux := t.auxiliary
			state.unlock()
			t.mu.RUnlock()
			if aux == nil {
				var zero P
				return zero, bucketLocker{}, false
			}
			t = aux
			continue
		}
		t.mu.RUnlock()
		return bucket, bucketLocker{state: state}, true
	}
}

// auxiliaryBuckets returns the buckets in the auxiliary table that
// correspond to primary bucket index: one bucket when the auxiliary is
// the same size or smaller, or 2^diff buckets when it is larger, used
// during migration to fan a single old bucket out into (or in from)
// several new ones.
func (t *Table[S, P]) auxiliaryBuckets(index uint32) []P {
	aux := t.auxiliary
	if aux == nil {
		return nil
	}
	if aux.logSize >= t.logSize {
		diff := aux.logSize - t.logSize
		count := uint32(1) << diff
		base := index << diff
		out := make([]P, count)
		for i := uint32(0); i < count; i++ {
			out[i] = P(&aux.buckets[base+i])
		}
		return out
	}
	diff := t.logSize - aux.logSize
	return []P{P(&aux.buckets[index>>diff])}
}

// setAuxiliary atomically swaps the auxiliary table under the table
// write lock, returning the previous one (nil if none).
func (t *Table[S, P]) setAuxiliary(aux *Table[S, P]) *Table[S, P] {
	t.mu.Lock()
	old := t.auxiliary
	t.auxiliary = aux
	t.mu.Unlock()
	return old
}

// slotFilled records a new occupied slot and reports whether the
// resulting fill ratio crosses idealUpperRatio while the table is not
// already at MaxLogSize — the caller's cue to requestMigrate(grow).
func (t *Table[S, P]) slotFilled() bool {
	used := t.slotsUsed.Add(1)
	if t.logSize >= MaxLogSize {
		return false
	}
	return float64(used) >= t.idealUpperRatio*float64(t.slotsTotal)
}

// slotEmptied records a freed slot and reports whether the resulting
// fill ratio drops below idealLowerRatio while logSize > MinLogSize —
// the caller's cue to requestMigrate(shrink).
func (t *Table[S, P]) slotEmptied() bool {
	used := t.slotsUsed.Add(-1)
	if used < 0 {
		used = 0
	}
	if t.logSize <= MinLogSize {
		return false
	}
	return float64(used) < t.idealLowerRatio*float64(t.slotsTotal)
}

// signalEvictions marks the table so the next idealSize call forces
// growth, even if fill ratio alone would not ask for it.
func (t *Table[S, P]) signalEvictions() {
	t.evictions.Store(true)
}

// idealSize returns the recommended logSize for the table's current
// fill and resets the eviction signal.
func (t *Table[S, P]) idealSize() uint32 {
	forced := t.evictions.Swap(false)
	used := uint64(t.slotsUsed.Load())
	fillUpper := float64(used) >= t.idealUpperRatio*float64(t.slotsTotal)
	fillLower := float64(used) < t.idealLowerRatio*float64(t.slotsTotal)

	switch {
	case forced || fillUpper:
		if t.logSize < MaxLogSize {
			return t.logSize + 1
		}
		return t.logSize
	case fillLower && t.logSize > MinLogSize:
		return t.logSize - 1
	default:
		return t.logSize
	}
}

// reset clears every bucket back to its zero value and zeroes the fill
// count, used when a table is returned to the spare pool.
func (t *Table[S, P]) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		var zero S
		t.buckets[i] = zero
	}
	t.auxiliary = nil
	t.evictions.Store(false)
	t.slotsUsed.Store(0)
	t.disabled = true
}
