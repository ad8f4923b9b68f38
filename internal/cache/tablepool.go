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

	"github.com/axfor/hbcache/pkg/pool"
)

const (
	// MaxSpareTablesTotal bounds the Manager-wide spare table count
	// across both Plain and Transactional pools.
	MaxSpareTablesTotal = 16
	// maxReclaimableTableBytes is the per-table memory ceiling above
	// which a released table is freed outright rather than pooled.
	maxReclaimableTableBytes = 32 << 20
	// arraySpareCap bounds how many backing bucket arrays the
	// GC-tolerant array pool keeps per logSize; this is deliberately
	// small since it only smooths allocation for tables that fall
	// outside the budgeted LIFO below, not the steady-state path.
	arraySpareCap = 2
)

// tablePool is a LIFO pool of spare tables keyed by logSize, shared in
// spirit by the Manager's Plain and Transactional pools: both hold an
// instance of this type, parameterized over their own bucket type, and
// both contribute to the same Manager-wide counters passed in at
// construction.
//
// Two layers of reuse sit side by side here. The LIFO (spare, mu) is
// the strictly-budgeted one the Manager's memory accounting depends
// on: admission is governed by exact counters (totalSpareTables,
// spareAllocation) that must be known precisely. arrayPools
// is a second, best-effort layer underneath it: a pool.Class per
// logSize recycling the raw bucket-array allocation (the expensive
// part of constructing a Table) for the cases that fall outside that
// budget — a freshly leased table when the LIFO is empty, or a table
// the LIFO just rejected. Losing an entry from arrayPools to GC
// pressure is harmless; losing one from spare is a budget violation,
// which is why only the LIFO is allowed to track the shared counters.
type tablePool[S any, P bucketPtr[S]] struct {
	mu    sync.Mutex
	spare map[uint32][]*Table[S, P]

	slotsPerBucket         int
	idealLower, idealUpper float64

	arrayPools [MaxLogSize + 1]*pool.Class[[]S]

	totalSpareTables *sharedCounter
	spareAllocation  *sharedCounter
}

func newTablePool[S any, P bucketPtr[S]](slotsPerBucket int, idealLower, idealUpper float64, totalSpareTables, spareAllocation *sharedCounter) *tablePool[S, P] {
	p := &tablePool[S, P]{
		spare:            make(map[uint32][]*Table[S, P]),
		slotsPerBucket:   slotsPerBucket,
		idealLower:       idealLower,
		idealUpper:       idealUpper,
		totalSpareTables: totalSpareTables,
		spareAllocation:  spareAllocation,
	}
	for logSize := uint32(MinLogSize); logSize <= MaxLogSize; logSize++ {
		size := uint32(1) << logSize
		p.arrayPools[logSize] = pool.NewClass(func() []S {
			return make([]S, size)
		}, arraySpareCap)
	}
	return p
}

// lease pops a spare table of logSize if one is pooled, otherwise
// builds a fresh one around a bucket array pulled from the array
// pool. The returned table is always disabled; callers must enable()
// it once it is wired into a cache.
func (p *tablePool[S, P]) lease(logSize uint32) *Table[S, P] {
	p.mu.Lock()
	list := p.spare[logSize]
	if len(list) > 0 {
		t := list[len(list)-1]
		p.spare[logSize] = list[:len(list)-1]
		p.mu.Unlock()
		p.totalSpareTables.add(-1)
		p.spareAllocation.add(-int64(t.MemoryUsage()))
		return t
	}
	p.mu.Unlock()
	buckets := p.arrayPools[logSize].Acquire()
	return newTableWithBuckets[S, P](logSize, buckets, p.slotsPerBucket, p.idealLower, p.idealUpper)
}

// reclaim offers t back to the pool. Returns false (and leaves t
// disabled for the caller to discard) when any admission bound is
// exceeded: per-size count, Manager-wide spare table count, or
// Manager-wide spare allocation budget. A rejected table's backing
// bucket array is still worth keeping around, just not under the
// strict budget, so it goes to the array pool instead of straight to
// the garbage collector.
func (p *tablePool[S, P]) reclaim(t *Table[S, P], maxSpareAllocation uint64) bool {
	usage := t.MemoryUsage()
	logSize := t.LogSize()
	if usage > maxReclaimableTableBytes {
		p.releaseArray(t)
		return false
	}
	perSizeCap := perLogSizeCap(logSize)

	p.mu.Lock()
	if len(p.spare[logSize]) >= perSizeCap ||
		p.totalSpareTables.load() >= MaxSpareTablesTotal ||
		uint64(p.spareAllocation.load())+usage > maxSpareAllocation {
		p.mu.Unlock()
		p.releaseArray(t)
		return false
	}

	t.reset()
	p.spare[logSize] = append(p.spare[logSize], t)
	p.mu.Unlock()
	p.totalSpareTables.add(1)
	p.spareAllocation.add(int64(usage))
	return true
}

// releaseArray zeroes t's bucket array and offers it to the array
// pool for t's logSize, for a table that didn't make it into the
// budgeted LIFO.
func (p *tablePool[S, P]) releaseArray(t *Table[S, P]) {
	t.reset()
	p.arrayPools[t.LogSize()].Release(t.buckets)
}

// drain empties the pool, giving every pooled table back to the shared
// counters, used during Manager shutdown.
func (p *tablePool[S, P]) drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, list := range p.spare {
		for _, t := range list {
			p.totalSpareTables.add(-1)
			p.spareAllocation.add(-int64(t.MemoryUsage()))
		}
		delete(p.spare, k)
	}
}

// perLogSizeCap implements "max(1, 2^(18-logSize))".
func perLogSizeCap(logSize uint32) int {
	shift := 18 - int(logSize)
	if shift < 0 {
		shift = 0
	}
	n := 1 << shift
	if n < 1 {
		n = 1
	}
	return n
}
