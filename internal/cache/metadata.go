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

const (
	// MinCacheSize is the smallest permitted hard usage limit.
	MinCacheSize = 16384
	// CacheRecordOverhead is the manager bookkeeping cost charged per
	// registered cache, independent of its table or value memory.
	CacheRecordOverhead = 256
)

// Metadata is the per-cache accounting record the Manager owns: usage
// against soft/hard limits, the rebalancer's deserved target, and the
// resizing/migrating state-machine flags. All mutation goes through its
// own lock, distinct from the cache's bucket/table locks.
type Metadata struct {
	mu sync.RWMutex

	fixedSize  uint64 // cache-kind-specific fixed overhead
	tableSize  uint64 // current primary table's MemoryUsage
	maxSize    uint64 // hard cap on allocatedSize
	deserved   uint64 // rebalancer's target allocatedSize

	allocatedSize uint64

	usage          int64 // atomic-ish; protected by mu like the rest
	softUsageLimit uint64
	hardUsageLimit uint64

	resizing  bool
	migrating bool
}

// NewMetadata builds a Metadata whose allocatedSize invariant already
// holds for the given starting hard limit, fixed size, and table size.
func NewMetadata(hardLimit, fixedSize, tableSize, maxSize uint64) *Metadata {
	m := &Metadata{
		fixedSize:      fixedSize,
		tableSize:      tableSize,
		maxSize:        maxSize,
		hardUsageLimit: hardLimit,
		softUsageLimit: hardLimit,
		deserved:       hardLimit,
	}
	m.recomputeAllocated()
	return m
}

// recomputeAllocated enforces allocatedSize == hardUsageLimit +
// fixedSize + tableSize + CacheRecordOverhead. Caller must hold mu.
func (m *Metadata) recomputeAllocated() {
	m.allocatedSize = m.hardUsageLimit + m.fixedSize + m.tableSize + CacheRecordOverhead
}

// AllocatedSize returns the current total accounted allocation.
func (m *Metadata) AllocatedSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.allocatedSize
}

// Usage returns the current tracked usage.
func (m *Metadata) Usage() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.usage < 0 {
		return 0
	}
	return uint64(m.usage)
}

// UsageLimit returns the current hard usage limit.
func (m *Metadata) UsageLimit() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hardUsageLimit
}

// softLimitSnapshot returns the current soft usage limit, the target
// FreeMemoryTask evicts down to.
func (m *Metadata) softLimitSnapshot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.softUsageLimit
}

// maxSizeSnapshot returns the hard cap on allocatedSize the rebalancer
// and requestGrow clamp against.
func (m *Metadata) maxSizeSnapshot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSize
}

// DeservedSize returns the rebalancer's current target.
func (m *Metadata) DeservedSize() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deserved
}

// IsResizing reports the resizing flag.
func (m *Metadata) IsResizing() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resizing
}

// IsMigrating reports the migrating flag.
func (m *Metadata) IsMigrating() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.migrating
}

// adjustUsageIfAllowed applies delta to usage unless doing so would
// cross softUsageLimit on a growth (or hardUsageLimit if already above
// soft). delta may be negative (frees always succeed).
func (m *Metadata) adjustUsageIfAllowed(delta int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.usage + delta
	if delta > 0 {
		limit := m.softUsageLimit
		if m.usage > int64(m.softUsageLimit) {
			limit = m.hardUsageLimit
		}
		if uint64(next) > limit {
			return false
		}
	}
	if next < 0 {
		next = 0
	}
	m.usage = next
	return true
}

// adjustLimits attempts to change {soft, hard} to the requested pair.
// Only the following transitions are accepted:
//   - start-shrink: soft decreases, hard unchanged, new total ≤ min(deserved, max)
//   - finish-shrink: soft == hard, usage ≤ hard
//   - grow: soft == hard, usage ≤ hard, new total ≤ min(deserved, max)
//   - drop-to-minimum: soft == hard == MinCacheSize
//
// Anything else is rejected with no state change.
func (m *Metadata) adjustLimits(soft, hard uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	capLimit := m.deserved
	if m.maxSize < capLimit {
		capLimit = m.maxSize
	}
	newTotal := hard + m.fixedSize + m.tableSize + CacheRecordOverhead
	// For a start-shrink the hard limit is unchanged (still the old,
	// larger value); the cap is checked against the total the cache
	// will settle at once hard catches down to soft.
	shrinkTotal := soft + m.fixedSize + m.tableSize + CacheRecordOverhead

	switch {
	case soft < m.softUsageLimit && hard == m.hardUsageLimit && shrinkTotal <= capLimit:
		// start-shrink
	case soft == hard && hard <= m.hardUsageLimit && uint64(m.usage) <= hard:
		// finish-shrink: hard drops to meet the already-reduced soft
		// (or this is a no-op re-affirming the current limit).
	case soft == hard && hard > m.hardUsageLimit && uint64(m.usage) <= hard && newTotal <= capLimit:
		// grow
	case soft == hard && hard == MinCacheSize:
		// drop-to-minimum
	default:
		return false
	}

	m.softUsageLimit = soft
	m.hardUsageLimit = hard
	m.recomputeAllocated()
	return true
}

// adjustDeserved sets deservedSize = min(deserved, maxSize) and returns
// the clamped value.
func (m *Metadata) adjustDeserved(deserved uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if deserved > m.maxSize {
		deserved = m.maxSize
	}
	m.deserved = deserved
	return deserved
}

// newLimit returns the recommended hardUsageLimit after a deserved
// change, clamped to [MinCacheSize, 4×hardUsageLimit]. deserved is
// shaped like allocatedSize (it is compared directly against
// maxSize/capLimit elsewhere), so it is first converted to a
// hardUsageLimit-equivalent by subtracting the fixed/table/overhead
// components that adjustLimits' own cap check will add back.
func (m *Metadata) newLimit() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fixed := m.fixedSize + m.tableSize + CacheRecordOverhead
	var limit uint64
	if m.deserved > fixed {
		limit = m.deserved - fixed
	}
	ceiling := 4 * m.hardUsageLimit
	if limit > ceiling {
		limit = ceiling
	}
	if limit < MinCacheSize {
		limit = MinCacheSize
	}
	return limit
}

// migrationAllowed reports whether swapping in a table of newTableSize
// bytes keeps allocatedSize within min(deservedSize, maxSize).
func (m *Metadata) migrationAllowed(newTableSize uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	capLimit := m.deserved
	if m.maxSize < capLimit {
		capLimit = m.maxSize
	}
	return m.hardUsageLimit+m.fixedSize+newTableSize+CacheRecordOverhead <= capLimit
}

// changeTable updates tableSize and recomputes allocatedSize.
func (m *Metadata) changeTable(newTableSize uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tableSize = newTableSize
	m.recomputeAllocated()
}

// toggleResizing sets or clears the resizing flag. Caller must already
// be serialized with respect to other toggles (the Manager holds its
// own write lock around the dispatch sequence).
func (m *Metadata) toggleResizing(on bool) {
	m.mu.Lock()
	m.resizing = on
	m.mu.Unlock()
}

// toggleMigrating sets or clears the migrating flag.
func (m *Metadata) toggleMigrating(on bool) {
	m.mu.Lock()
	m.migrating = on
	m.mu.Unlock()
}
