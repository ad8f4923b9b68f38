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
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/axfor/hbcache/pkg/log"
)

// memoryReportGranularity is MEMORY_REPORT_GRANULARITY: a cache only
// tells the Manager about its allocation delta once the accumulated
// local diff reaches this many bytes, or when a flush is forced.
const memoryReportGranularity = 4096

// Cache is the contract both PlainCache and TransactionalCache
// satisfy. All key arguments are arbitrary byte sequences compared via
// the cache's Hasher.
type Cache interface {
	Find(key []byte) Finding
	Insert(key, value []byte) Status
	Remove(key []byte) Status
	Banish(key []byte) Status // no-op, always OK, on PlainCache

	SizeHint(n uint64)
	Size() uint64
	Usage() uint64
	UsageLimit() uint64
	SizeAndUsage() (uint64, uint64)
	HitRates() (lifetime, windowed float64)

	IsResizing() bool
	IsMigrating() bool
	IsShutdown() bool

	ID() uint64
	Shutdown()

	// metadata, freeMemory, and migrate back the Manager's task
	// dispatch; they are not part of the public cache API.
	metadata() *Metadata
	freeMemory()
	migrate(newLogSize uint32) bool
}

// baseCache holds everything PlainCache and TransactionalCache share:
// identity, accounting, sampled statistics, and the rate-limited
// grow/migrate request path. Each concrete cache embeds it and adds
// its own table and bucket algorithm.
type baseCache struct {
	id      uint64
	manager *Manager
	meta    *Metadata
	hasher  Hasher
	logger  *log.Logger

	windowedEnabled bool
	idealUpperRatio float64

	memDiff atomic.Int64

	findStats  atomic.Pointer[FindStats]
	evictStats atomic.Pointer[EvictionStats]

	opCounter atomic.Uint64

	taskMu         sync.Mutex
	growLimiter    *rate.Limiter
	migrateLimiter *rate.Limiter

	shuttingDown atomic.Bool
}

func newBaseCache(id uint64, mgr *Manager, meta *Metadata, hasher Hasher, windowedEnabled bool, idealUpperRatio float64, rateLimit time.Duration, logger *log.Logger) *baseCache {
	return &baseCache{
		id:              id,
		manager:         mgr,
		meta:            meta,
		hasher:          hasher,
		logger:          logger,
		windowedEnabled: windowedEnabled,
		idealUpperRatio: idealUpperRatio,
		growLimiter:     rate.NewLimiter(rate.Every(rateLimit), 1),
		migrateLimiter:  rate.NewLimiter(rate.Every(rateLimit), 1),
	}
}

// ID returns the cache's Manager-assigned identity.
func (bc *baseCache) ID() uint64 { return bc.id }

// metadata exposes the cache's Metadata to the Manager and its tasks.
func (bc *baseCache) metadata() *Metadata { return bc.meta }

// Size, Usage, UsageLimit, SizeAndUsage proxy Metadata.
func (bc *baseCache) Size() uint64                  { return bc.meta.AllocatedSize() }
func (bc *baseCache) Usage() uint64                 { return bc.meta.Usage() }
func (bc *baseCache) UsageLimit() uint64            { return bc.meta.UsageLimit() }
func (bc *baseCache) SizeAndUsage() (uint64, uint64) { return bc.Size(), bc.Usage() }

func (bc *baseCache) IsResizing() bool  { return bc.meta.IsResizing() }
func (bc *baseCache) IsMigrating() bool { return bc.meta.IsMigrating() }
func (bc *baseCache) IsShutdown() bool  { return bc.shuttingDown.Load() }

// findStatsFor lazily creates the FindStats the first time a hit or
// miss is recorded, so a cache that serves nothing costs nothing.
func (bc *baseCache) findStatsFor() *FindStats {
	if p := bc.findStats.Load(); p != nil {
		return p
	}
	created := newFindStats(bc.windowedEnabled)
	if bc.findStats.CompareAndSwap(nil, created) {
		return created
	}
	return bc.findStats.Load()
}

// evictStatsFor lazily creates the EvictionStats the first time an
// insert is reported.
func (bc *baseCache) evictStatsFor() *EvictionStats {
	if p := bc.evictStats.Load(); p != nil {
		return p
	}
	created := newEvictionStats()
	if bc.evictStats.CompareAndSwap(nil, created) {
		return created
	}
	return bc.evictStats.Load()
}

// sampleTick advances the operation counter and reports whether this
// is an "every 8th operation" sample point, the cadence access
// statistics are recorded at.
func (bc *baseCache) sampleTick() bool {
	return bc.opCounter.Add(1)&7 == 0
}

func (bc *baseCache) recordHit() {
	bc.findStatsFor().recordHit(bc.manager.samplePRNG)
	if bc.manager.metrics != nil {
		bc.manager.metrics.RecordHit(strconv.FormatUint(bc.id, 10))
	}
	if bc.sampleTick() {
		bc.manager.recordAccessSample(bc.id)
	}
}

func (bc *baseCache) recordMiss() {
	bc.findStatsFor().recordMiss(bc.manager.samplePRNG)
	if bc.manager.metrics != nil {
		bc.manager.metrics.RecordMiss(strconv.FormatUint(bc.id, 10))
	}
	if bc.sampleTick() {
		bc.manager.recordAccessSample(bc.id)
	}
}

// HitRates returns (lifetime, windowed) hit-rate percentages.
func (bc *baseCache) HitRates() (float64, float64) {
	return bc.findStatsFor().hitRates()
}

// reportInsert records one insert sample (hadEviction or not) and, on
// the EvictionStats' periodic check, signals the table to grow and
// reports whether the cache should now requestMigrate.
func (bc *baseCache) reportInsert(signalEvictions func(), hadEviction bool) bool {
	crossed := bc.evictStatsFor().sample(hadEviction)
	if crossed {
		signalEvictions()
	}
	return crossed
}

// reportMemoryDelta accumulates delta into the cache's local diff and
// flushes it to the Manager once |diff| ≥ memoryReportGranularity, or
// immediately when force is true (used by migrate and by Shutdown to
// flush whatever remains).
func (bc *baseCache) reportMemoryDelta(delta int64, force bool) {
	total := bc.memDiff.Add(delta)
	if !force {
		abs := total
		if abs < 0 {
			abs = -abs
		}
		if abs < memoryReportGranularity {
			return
		}
	}
	flushed := bc.memDiff.Swap(0)
	bc.manager.adjustGlobalAllocation(flushed)
}

// requestGrow asks the Manager to grow this cache's usage limit,
// rate-limited to at most once per configured window and coalesced
// across concurrent callers via taskMu.
func (bc *baseCache) requestGrow(self Cache) {
	bc.taskMu.Lock()
	defer bc.taskMu.Unlock()
	if !bc.growLimiter.Allow() {
		return
	}
	bc.manager.requestGrow(self)
}

// requestMigrate asks the Manager to migrate this cache to a table of
// requestedLogSize, rate-limited and coalesced like requestGrow.
func (bc *baseCache) requestMigrate(self Cache, requestedLogSize uint32) {
	bc.taskMu.Lock()
	defer bc.taskMu.Unlock()
	if !bc.migrateLimiter.Allow() {
		return
	}
	bc.manager.requestMigrate(self, requestedLogSize)
}

// sizeHintLogSize computes the smallest logSize with
// (1<<logSize) × slotsPerBucket × idealUpperFillRatio ≥ n.
func sizeHintLogSize(n uint64, slotsPerBucket int, idealUpperRatio float64) uint32 {
	logSize := uint32(MinLogSize)
	for logSize < MaxLogSize {
		capacity := (uint64(1) << logSize) * uint64(slotsPerBucket)
		if float64(capacity)*idealUpperRatio >= float64(n) {
			break
		}
		logSize++
	}
	return logSize
}

// beginShutdown flips shuttingDown from false to true, reporting
// whether this call is the one that performed the transition (making
// Shutdown idempotent: a second caller's beginShutdown returns false
// and should not repeat the teardown work).
func (bc *baseCache) beginShutdown() bool {
	return bc.shuttingDown.CompareAndSwap(false, true)
}

// waitQuiescent spins until neither resizing nor migrating is set, so
// Shutdown never races a task still holding the metadata flag.
func (bc *baseCache) waitQuiescent() {
	for bc.meta.IsResizing() || bc.meta.IsMigrating() {
		runtime.Gosched()
	}
}

// finalizeShutdown forces a final, possibly-zero memory delta flush.
func (bc *baseCache) finalizeShutdown() {
	bc.reportMemoryDelta(0, true)
}
