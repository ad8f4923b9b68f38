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

import "sync"

// TransactionalCache adds banish/term interaction on top of the plain
// bucket algorithm: find/insert check the bucket's banish set at the
// Manager's current term so readers cannot observe a value concurrent
// with a writer's in-flight commit to the backing store.
type TransactionalCache struct {
	*baseCache

	tableMu sync.RWMutex
	table   *txnTable
	pool    *tablePool[TransactionalBucket, *TransactionalBucket]

	txns *TransactionManager

	maxValueSize uint64
}

func newTransactionalCache(base *baseCache, table *txnTable, pool *tablePool[TransactionalBucket, *TransactionalBucket], txns *TransactionManager, maxValueSize uint64) *TransactionalCache {
	table.enable()
	return &TransactionalCache{baseCache: base, table: table, pool: pool, txns: txns, maxValueSize: maxValueSize}
}

func (c *TransactionalCache) activeTable() *txnTable {
	c.tableMu.RLock()
	defer c.tableMu.RUnlock()
	return c.table
}

// Find returns NotFound without touching the stored value when the
// key is banished at the current term.
func (c *TransactionalCache) Find(key []byte) Finding {
	if c.IsShutdown() {
		return notFoundFinding(ShuttingDown)
	}
	hash := c.hasher.Hash(key)
	term := c.txns.Term()
	bucket, locker, ok := c.activeTable().fetchAndLockBucket(hash, defaultLockTries)
	if !ok {
		return notFoundFinding(Busy)
	}
	defer locker.unlock()

	if bucket.isBanished(hash, term) {
		c.recordMiss()
		return notFoundFinding(NotFound)
	}

	v := bucket.find(c.hasher, hash, key)
	if v == nil {
		c.recordMiss()
		return notFoundFinding(NotFound)
	}
	c.recordHit()
	return foundFinding(v)
}

// Insert refuses with Conflict when the key's hash is banished at the
// current term; otherwise behaves like PlainCache.Insert.
func (c *TransactionalCache) Insert(key, value []byte) Status {
	if c.IsShutdown() {
		return ShuttingDown
	}
	newValue := newCachedValue(key, value)
	if newValue.Size() > c.maxValueSize {
		return ResourceLimit
	}

	hash := c.hasher.Hash(key)
	term := c.txns.Term()
	table := c.activeTable()
	bucket, locker, ok := table.fetchAndLockBucket(hash, defaultLockTries)
	if !ok {
		return Busy
	}
	defer locker.unlock()

	if bucket.isBanished(hash, term) {
		return Conflict
	}

	if existing := bucket.find(c.hasher, hash, key); existing != nil {
		delta := int64(newValue.Size()) - int64(existing.Size())
		if !c.meta.adjustUsageIfAllowed(delta) {
			c.requestGrow(c)
			return ResourceLimit
		}
		bucket.remove(c.hasher, hash, key)
		bucket.insert(hash, newValue)
		c.reportMemoryDelta(delta, false)
		return OK
	}

	hadEviction := false
	if bucket.full() {
		idx := bucket.evictionCandidate()
		if idx < 0 {
			return Busy
		}
		evicted := bucket.evictSlot(idx)
		c.meta.adjustUsageIfAllowed(-int64(evicted.Size()))
		c.reportMemoryDelta(-int64(evicted.Size()), false)
		hadEviction = true
	}

	if !c.meta.adjustUsageIfAllowed(int64(newValue.Size())) {
		// Usage is pinned at the limit; ask the Manager for a bigger
		// budget so a later retry can land.
		c.requestGrow(c)
		return ResourceLimit
	}
	bucket.insert(hash, newValue)
	c.reportMemoryDelta(int64(newValue.Size()), false)

	// An eviction freed the slot this insert refilled, so net occupancy
	// is unchanged; only a previously-empty slot moves the fill count.
	grew := false
	if !hadEviction {
		grew = table.slotFilled()
	}
	shouldMigrate := c.reportInsert(table.signalEvictions, hadEviction)
	if grew || shouldMigrate {
		c.requestMigrate(c, table.idealSize())
	}
	return OK
}

// Remove deletes key if present, then banishes its hash so concurrent
// writers observe the removal (read-your-writes half of the protocol).
func (c *TransactionalCache) Remove(key []byte) Status {
	if c.IsShutdown() {
		return ShuttingDown
	}
	hash := c.hasher.Hash(key)
	term := c.txns.Term()
	table := c.activeTable()
	bucket, locker, ok := table.fetchAndLockBucket(hash, defaultLockTries)
	if !ok {
		return Busy
	}

	removed := bucket.remove(c.hasher, hash, key)
	bucket.banish(hash, term)
	locker.unlock()

	if removed == nil {
		return OK
	}
	c.meta.adjustUsageIfAllowed(-int64(removed.Size()))
	c.reportMemoryDelta(-int64(removed.Size()), false)

	if table.slotEmptied() {
		c.requestMigrate(c, table.idealSize())
	}
	return OK
}

// Banish marks key's hash so any find at the current term returns
// NotFound, regardless of whether the key is currently present.
func (c *TransactionalCache) Banish(key []byte) Status {
	if c.IsShutdown() {
		return ShuttingDown
	}
	hash := c.hasher.Hash(key)
	term := c.txns.Term()
	bucket, locker, ok := c.activeTable().fetchAndLockBucket(hash, defaultLockTries)
	if !ok {
		return Busy
	}
	defer locker.unlock()
	bucket.banish(hash, term)
	return OK
}

// SizeHint asks the Manager to migrate toward a table sized for n
// elements, if that differs from the current size.
func (c *TransactionalCache) SizeHint(n uint64) {
	target := sizeHintLogSize(n, transactionalSlots, c.idealUpperRatio)
	if current := c.activeTable().LogSize(); target != current {
		c.requestMigrate(c, target)
	}
}

func (c *TransactionalCache) freeMemory() {
	table := c.activeTable()
	for c.meta.Usage() > c.meta.softLimitSnapshot() {
		if !c.evictOneLocked(table) {
			break
		}
	}
}

func (c *TransactionalCache) evictOneLocked(table *txnTable) bool {
	for i := uint32(0); i < table.Size(); i++ {
		bucket := table.primaryBucket(i)
		state := bucket.lockState()
		if !state.tryLock(defaultLockTries) {
			continue
		}
		idx := bucket.evictionCandidate()
		if idx < 0 {
			state.unlock()
			continue
		}
		v := bucket.evictSlot(idx)
		state.unlock()
		c.meta.adjustUsageIfAllowed(-int64(v.Size()))
		c.reportMemoryDelta(-int64(v.Size()), false)
		return true
	}
	return false
}

func (c *TransactionalCache) migrate(newLogSize uint32) bool {
	newTable := c.pool.lease(newLogSize)
	if c.IsShutdown() {
		c.pool.reclaim(newTable, c.manager.maxSpareAllocationSnapshot())
		return false
	}

	old := c.activeTable()
	old.setAuxiliary(newTable)

	var moved int64
	for i := uint32(0); i < old.Size(); i++ {
		src := old.primaryBucket(i)
		state := src.lockState()
		state.tryLock(triesGuarantee)

		dsts := old.auxiliaryBuckets(i)
		for slot := 0; slot < transactionalSlots; slot++ {
			v := src.values[slot]
			if v == nil {
				continue
			}
			hash := src.hashes[slot]
			if placeInAnyTxn(dsts, hash, v) {
				moved++
			} else {
				c.meta.adjustUsageIfAllowed(-int64(v.Size()))
				c.reportMemoryDelta(-int64(v.Size()), false)
			}
		}
		state.toggle(flagMigrated, true)
		state.unlock()
	}
	newTable.slotsUsed.Store(moved)

	c.tableMu.Lock()
	c.table = newTable
	c.tableMu.Unlock()

	newTable.enable()
	old.setAuxiliary(nil)
	c.meta.changeTable(newTable.MemoryUsage())
	c.reportMemoryDelta(0, true)
	c.pool.reclaim(old, c.manager.maxSpareAllocationSnapshot())
	return true
}

func placeInAnyTxn(dsts []*TransactionalBucket, hash uint32, v *CachedValue) bool {
	for _, d := range dsts {
		if !d.full() {
			state := d.lockState()
			state.tryLock(triesGuarantee)
			d.insert(hash, v)
			state.unlock()
			return true
		}
	}
	return false
}

func (c *TransactionalCache) Shutdown() {
	if !c.beginShutdown() {
		return
	}
	c.waitQuiescent()
	c.manager.unregisterCache(c.id)

	c.tableMu.Lock()
	table := c.table
	c.tableMu.Unlock()
	table.disable()
	c.pool.reclaim(table, c.manager.maxSpareAllocationSnapshot())
	c.manager.refreshGauges()

	// The reclaimed table dropped every remaining value; give their
	// reported bytes back to the global budget before the final flush.
	if u := c.meta.Usage(); u > 0 {
		c.meta.adjustUsageIfAllowed(-int64(u))
		c.reportMemoryDelta(-int64(u), false)
	}
	c.finalizeShutdown()
}
