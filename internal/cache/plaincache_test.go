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
	"fmt"
	"testing"
	"time"
)

func newTestPlainCache(t *testing.T, cacheSize uint64) *PlainCache {
	t.Helper()
	m := newTestManager(cacheSize)
	c, err := m.CreateCache(Plain, false, 0)
	if err != nil {
		t.Fatalf("CreateCache() error = %v", err)
	}
	return c.(*PlainCache)
}

// TestPlainCacheInsertFindRemove checks the basic find-miss,
// insert-then-find-hit, remove-then-find-miss cycle.
func TestPlainCacheInsertFindRemove(t *testing.T) {
	c := newTestPlainCache(t, 1<<20)

	if f := c.Find([]byte("k")); f.Result() != NotFound {
		t.Fatalf("Find() on an empty cache = %v, want NotFound", f.Result())
	}

	if status := c.Insert([]byte("k"), []byte("v1")); status != OK {
		t.Fatalf("Insert() = %v, want OK", status)
	}
	f := c.Find([]byte("k"))
	if f.Result() != OK {
		t.Fatalf("Find() after insert = %v, want OK", f.Result())
	}
	if string(f.Value()) != "v1" {
		t.Errorf("Find().Value() = %q, want %q", f.Value(), "v1")
	}
	f.Release()

	if status := c.Remove([]byte("k")); status != OK {
		t.Fatalf("Remove() = %v, want OK", status)
	}
	if f := c.Find([]byte("k")); f.Result() != NotFound {
		t.Errorf("Find() after remove = %v, want NotFound", f.Result())
	}
}

// TestPlainCacheInsertReplacesExistingValue checks a second Insert for
// the same key overwrites rather than duplicating the entry.
func TestPlainCacheInsertReplacesExistingValue(t *testing.T) {
	c := newTestPlainCache(t, 1<<20)
	c.Insert([]byte("k"), []byte("v1"))
	c.Insert([]byte("k"), []byte("v2-longer"))

	f := c.Find([]byte("k"))
	defer f.Release()
	if string(f.Value()) != "v2-longer" {
		t.Errorf("Find().Value() = %q, want %q", f.Value(), "v2-longer")
	}
}

// TestPlainCacheInsertRejectsOversizedValue checks Insert refuses a
// value larger than the configured MaxCacheValueSize with
// ResourceLimit.
func TestPlainCacheInsertRejectsOversizedValue(t *testing.T) {
	c := newTestPlainCache(t, 1<<20) // MaxCacheValueSize defaults to cacheSize/4
	huge := make([]byte, 1<<20)
	if status := c.Insert([]byte("k"), huge); status != ResourceLimit {
		t.Errorf("Insert() of an oversized value = %v, want ResourceLimit", status)
	}
}

// TestPlainCacheInsertAtLimitRequestsGrow checks a refused insert asks
// the Manager for a bigger budget, so the usage limit rises and a
// retry can land.
func TestPlainCacheInsertAtLimitRequestsGrow(t *testing.T) {
	c := newTestPlainCache(t, 1<<30)
	c.manager.rebalanceCompleted = time.Now().Add(-time.Hour)
	before := c.UsageLimit()

	big := make([]byte, MinCacheSize) // cannot fit under the minimum limit
	if status := c.Insert([]byte("k"), big); status != ResourceLimit {
		t.Fatalf("Insert() = %v, want ResourceLimit when usage is pinned", status)
	}
	if got := c.UsageLimit(); got <= before {
		t.Errorf("UsageLimit() = %d, want greater than %d after the refused insert triggered a grow", got, before)
	}
	if status := c.Insert([]byte("k"), big); status != OK {
		t.Errorf("Insert() retry = %v, want OK once the limit has grown", status)
	}
}

// TestPlainCacheBanishIsNoop checks Banish always reports OK and never
// affects subsequent finds (PlainCache has no banish semantics).
func TestPlainCacheBanishIsNoop(t *testing.T) {
	c := newTestPlainCache(t, 1<<20)
	c.Insert([]byte("k"), []byte("v"))
	if status := c.Banish([]byte("k")); status != OK {
		t.Errorf("Banish() = %v, want OK", status)
	}
	f := c.Find([]byte("k"))
	defer f.Release()
	if f.Result() != OK {
		t.Error("Banish must not affect PlainCache lookups")
	}
}

// TestPlainCacheInsertEvictionKeepsSlotAccounting checks an insert that
// evicted its way into a full bucket leaves the table's fill count
// unchanged: the eviction freed the slot the new value refilled, so
// counting it again would let slotsUsed outrun slotsTotal under
// sustained eviction.
func TestPlainCacheInsertEvictionKeepsSlotAccounting(t *testing.T) {
	c := newTestPlainCache(t, 1<<30)
	table := c.activeTable()

	// Collect enough keys hashing to one bucket to overflow it twice.
	target := table.bucketIndex(c.hasher.Hash([]byte("seed-0")))
	keys := [][]byte{[]byte("seed-0")}
	for i := 1; len(keys) < slotsPerBucket+2; i++ {
		k := []byte(fmt.Sprintf("seed-%d", i))
		if table.bucketIndex(c.hasher.Hash(k)) == target {
			keys = append(keys, k)
		}
	}

	for _, k := range keys {
		if status := c.Insert(k, []byte("v")); status != OK {
			t.Fatalf("Insert(%q) = %v, want OK", k, status)
		}
	}
	if got := table.SlotsUsed(); got != slotsPerBucket {
		t.Errorf("SlotsUsed() = %d, want %d once the bucket is full and evicting", got, slotsPerBucket)
	}
}

// TestPlainCacheSizeHintMigratesTable checks SizeHint requests a
// migration when the target logSize differs from the current one, and
// that it settles on a larger table for a large hint. deserved starts
// at the minimum hard limit with zero margin, so it is nudged up first
// so migrationAllowed can admit the bigger table.
func TestPlainCacheSizeHintMigratesTable(t *testing.T) {
	m := newTestManager(1 << 30)
	created, err := m.CreateCache(Plain, false, 0)
	if err != nil {
		t.Fatalf("CreateCache() error = %v", err)
	}
	c := created.(*PlainCache)
	c.meta.adjustDeserved(c.meta.AllocatedSize() + 64<<20)
	before := c.activeTable().LogSize()

	c.SizeHint(1 << 20) // large enough to require a bigger table than MinLogSize

	if got := c.activeTable().LogSize(); got <= before {
		t.Errorf("active table LogSize() = %d, want greater than %d after a large SizeHint", got, before)
	}
}

// TestPlainCacheFreeMemoryEvictsDownToSoftLimit checks freeMemory stops
// evicting once usage has dropped to the soft limit.
func TestPlainCacheFreeMemoryEvictsDownToSoftLimit(t *testing.T) {
	c := newTestPlainCache(t, 1<<20)
	for i := 0; i < 8; i++ {
		key := []byte{byte(i)}
		c.Insert(key, []byte("value"))
	}
	usageBefore := c.Usage()
	if usageBefore == 0 {
		t.Fatal("expected nonzero usage after inserting entries")
	}

	// Force a tight soft limit, then invoke the task body directly.
	// deserved starts with zero margin over the minimum hard limit, so
	// bump it first or the start-shrink cap check refuses the new soft.
	c.meta.adjustDeserved(c.meta.AllocatedSize() + 1<<20)
	if !c.meta.adjustLimits(c.meta.Usage()/2, c.meta.UsageLimit()) {
		t.Fatal("start-shrink to half the current usage should be accepted")
	}
	c.freeMemory()

	if c.meta.Usage() > c.meta.softLimitSnapshot() {
		t.Errorf("Usage() = %d, want at most the soft limit %d after freeMemory", c.meta.Usage(), c.meta.softLimitSnapshot())
	}
}

// TestPlainCacheShutdownIsIdempotentAndUnregisters checks Shutdown can
// be called twice safely and unregisters the cache from its Manager.
func TestPlainCacheShutdownIsIdempotentAndUnregisters(t *testing.T) {
	c := newTestPlainCache(t, 1<<20)
	c.Shutdown()
	c.Shutdown() // must not panic or double-unregister

	if !c.IsShutdown() {
		t.Error("IsShutdown() should be true after Shutdown")
	}
	if status := c.Insert([]byte("k"), []byte("v")); status != ShuttingDown {
		t.Errorf("Insert() after Shutdown = %v, want ShuttingDown", status)
	}
	if f := c.Find([]byte("k")); f.Result() != ShuttingDown {
		t.Errorf("Find() after Shutdown = %v, want ShuttingDown", f.Result())
	}
}
