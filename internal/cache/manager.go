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
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/axfor/hbcache/pkg/cacheconfig"
	"github.com/axfor/hbcache/pkg/cachemetrics"
	"github.com/axfor/hbcache/pkg/log"
	"github.com/axfor/hbcache/pkg/syncmap"
)

// CacheKind selects which bucket algorithm Manager.CreateCache builds.
type CacheKind int

const (
	// Plain requests a PlainCache.
	Plain CacheKind = iota
	// Transactional requests a TransactionalCache.
	Transactional
)

// accessStatsCapacity sizes the Manager's cache-id access sampler used
// by the rebalancer's accessWeight term.
const accessStatsCapacity = 4096

// minCacheAllocation is the per-registered-cache floor createCache
// reserves against the global highwater before admitting a new cache.
func minCacheAllocation(kind CacheKind) uint64 {
	minTable := uint64(1) << MinLogSize * BucketSizeBytes
	return MinCacheSize + minTable + cacheKindOverhead(kind) + CacheRecordOverhead
}

// cacheKindOverhead is the fixed, non-table, non-usage bookkeeping cost
// a cache of this kind carries; the transactional bucket layout spends
// extra header space on banishTerm and the banish-hash ring.
func cacheKindOverhead(kind CacheKind) uint64 {
	if kind == Transactional {
		return 512
	}
	return 256
}

// Manager is the process-wide singleton coordinating the global memory
// budget, the cache registry, the table pools, the rebalancer, and
// task dispatch. Construct exactly one per process and inject it into
// every Cache; the Manager outlives all Caches, and its Shutdown is the
// last call a caller makes before tearing down the process.
type Manager struct {
	mu sync.RWMutex // guards limits, shuttingDown, rebalanceCompleted

	logger    *log.Logger
	metrics   *cachemetrics.Metrics
	scheduler Scheduler
	rngSource func() uint64

	opts cacheconfig.CacheOptions

	globalHardLimit    uint64
	globalSoftLimit    uint64
	globalHighwater    uint64
	globalAllocation   sharedCounter
	spareAllocation    sharedCounter
	spareTablesTotal   sharedCounter

	caches      *syncmap.Map[uint64, Cache]
	cacheCount  sharedCounter
	nextCacheID uint64

	plainPool *tablePool[PlainBucket, *PlainBucket]
	txnPool   *tablePool[TransactionalBucket, *TransactionalBucket]

	txns *TransactionManager

	accessStats *FrequencyBuffer[uint64]

	taskCounters [3]sharedCounter // indexed by taskKind

	rebalanceCompleted time.Time

	shuttingDown bool
	shutdown     bool
}

// NewManager builds a Manager with the given global options, scheduler,
// and logger. rngSource, if nil, defaults to a process-wide PRNG; tests
// inject a deterministic one to keep sampling reproducible.
func NewManager(opts cacheconfig.CacheOptions, scheduler Scheduler, metrics *cachemetrics.Metrics, logger *log.Logger, rngSource func() uint64) *Manager {
	if logger == nil {
		logger = log.NewNop()
	}
	if rngSource == nil {
		rngSource = defaultPRNG()
	}
	opts.SetDefaults()

	m := &Manager{
		logger:          logger,
		metrics:         metrics,
		scheduler:       scheduler,
		rngSource:       rngSource,
		opts:            opts,
		globalHardLimit: opts.CacheSize,
		globalSoftLimit: opts.CacheSize,
		caches:          syncmap.New[uint64, Cache](),
		// Cache id 0 is never handed out: the access-statistics buffer
		// uses 0 as its empty sentinel, and a cache with that id would
		// be invisible to the rebalancer's access weighting.
		nextCacheID: 1,
		txns:        NewTransactionManager(),
		accessStats: NewFrequencyBuffer[uint64](accessStatsCapacity),
	}
	m.globalHighwater = uint64(float64(m.globalSoftLimit) * opts.HighwaterMultiplier)
	m.plainPool = newTablePool[PlainBucket, *PlainBucket](slotsPerBucket, opts.IdealLowerFillRatio, opts.IdealUpperFillRatio, &m.spareTablesTotal, &m.spareAllocation)
	m.txnPool = newTablePool[TransactionalBucket, *TransactionalBucket](transactionalSlots, opts.IdealLowerFillRatio, opts.IdealUpperFillRatio, &m.spareTablesTotal, &m.spareAllocation)
	m.rebalanceCompleted = time.Now()
	return m
}

func defaultPRNG() func() uint64 {
	return func() uint64 { return rand.Uint64() }
}

// samplePRNG is the shared PRNG source baseCache and FrequencyBuffer
// callers use, injected so the Manager stays deterministic in tests.
func (m *Manager) samplePRNG() uint64 {
	return m.rngSource()
}

// maxSpareAllocationSnapshot returns the configured spare-pool budget.
// opts is immutable after NewManager, so no lock is needed; migrate
// tasks call this while the Manager may be holding its own write lock
// around dispatch.
func (m *Manager) maxSpareAllocationSnapshot() uint64 {
	return m.opts.MaxSpareAllocation
}

// TransactionManager exposes the shared term counter for
// BeginTransaction/EndTransaction.
func (m *Manager) TransactionManager() *TransactionManager { return m.txns }

// BeginTransaction starts a transaction at the Manager's current term.
func (m *Manager) BeginTransaction(readOnly bool) Transaction {
	return m.txns.Begin(readOnly)
}

// EndTransaction closes a transaction previously returned by
// BeginTransaction.
func (m *Manager) EndTransaction(tx Transaction) {
	m.txns.End(tx)
}

// GlobalLimit returns the current global hard limit.
func (m *Manager) GlobalLimit() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalHardLimit
}

// GlobalAllocation returns the current global allocation.
func (m *Manager) GlobalAllocation() uint64 {
	return uint64(m.globalAllocation.load())
}

// Resize changes the global hard/soft limit and highwater mark.
// Returns false if newLimit is below the current allocation.
func (m *Manager) Resize(newLimit uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newLimit < uint64(m.globalAllocation.load()) {
		return false
	}
	m.globalHardLimit = newLimit
	m.globalSoftLimit = newLimit
	m.globalHighwater = uint64(float64(newLimit) * m.opts.HighwaterMultiplier)
	return true
}

// MemoryStats is a point-in-time snapshot of the Manager's global
// memory accounting.
type MemoryStats struct {
	GlobalLimit          uint64
	GlobalAllocation     uint64
	PeakGlobalAllocation uint64
	SpareAllocation      uint64
	PeakSpareAllocation  uint64
	ActiveTables         uint64
	SpareTables          uint64
	MigrateTasks         uint64
	FreeMemoryTasks      uint64
}

// MemoryStats snapshots the Manager's current accounting. maxTries
// bounds an opportunistic read-lock acquisition; on failure returns
// (MemoryStats{}, false).
func (m *Manager) MemoryStats(maxTries int) (MemoryStats, bool) {
	for i := 0; i < maxTries; i++ {
		if m.mu.TryRLock() {
			defer m.mu.RUnlock()
			return MemoryStats{
				GlobalLimit:          m.globalHardLimit,
				GlobalAllocation:     uint64(m.globalAllocation.load()),
				PeakGlobalAllocation: uint64(m.globalAllocation.peakValue()),
				SpareAllocation:      uint64(m.spareAllocation.load()),
				PeakSpareAllocation:  uint64(m.spareAllocation.peakValue()),
				ActiveTables:         uint64(m.cacheCount.load()),
				SpareTables:          uint64(m.spareTablesTotal.load()),
				MigrateTasks:         uint64(m.taskCounters[taskMigrating].load()),
				FreeMemoryTasks:      uint64(m.taskCounters[taskResizing].load()),
			}, true
		}
		runtime.Gosched()
	}
	return MemoryStats{}, false
}

// adjustGlobalAllocation applies a cache's flushed delta to the global
// counter and keeps the peak up to date.
func (m *Manager) adjustGlobalAllocation(delta int64) {
	next := m.globalAllocation.add(delta)
	if m.metrics != nil {
		m.metrics.SetGlobalAllocation(uint64(next))
		m.metrics.SetPeaks(uint64(m.globalAllocation.peakValue()), uint64(m.spareAllocation.peakValue()))
	}
}

// recordAccessSample feeds cacheID into the access-statistics buffer
// the rebalancer's accessWeight term reads.
func (m *Manager) recordAccessSample(cacheID uint64) {
	m.accessStats.Insert(m.samplePRNG, cacheID)
}

// unregisterCache removes cacheID from the registry. Called by a
// cache's own Shutdown, not by the Manager's Shutdown loop (which
// calls cache.Shutdown() instead, and Shutdown itself calls this). The
// registry is a syncmap.Map, so this needs no Manager lock at all.
func (m *Manager) unregisterCache(cacheID uint64) {
	if _, ok := m.caches.LoadAndDelete(cacheID); ok {
		m.cacheCount.add(-1)
		m.adjustGlobalAllocation(-int64(CacheRecordOverhead))
	}
	if m.metrics != nil {
		m.metrics.SetCachesRegistered(int(m.cacheCount.load()))
	}
}

// snapshotCaches copies the current registry into a slice. Safe to
// call without holding m.mu.
func (m *Manager) snapshotCaches() []Cache {
	caches := make([]Cache, 0, m.cacheCount.load())
	m.caches.Range(func(_ uint64, c Cache) bool {
		caches = append(caches, c)
		return true
	})
	return caches
}

// GlobalHitRates returns (lifetime, windowed) percentages across every
// registered cache's find activity.
func (m *Manager) GlobalHitRates() (float64, float64) {
	caches := m.snapshotCaches()

	if len(caches) == 0 {
		return 0, math.NaN()
	}
	var lifetimeSum, windowedSum float64
	windowedSamples := 0
	for _, c := range caches {
		life, windowed := c.HitRates()
		lifetimeSum += life
		if !math.IsNaN(windowed) {
			windowedSum += windowed
			windowedSamples++
		}
	}
	lifetime := lifetimeSum / float64(len(caches))
	windowed := math.NaN()
	if windowedSamples > 0 {
		windowed = windowedSum / float64(windowedSamples)
	}
	if m.metrics != nil {
		m.metrics.SetGlobalHitRate(lifetime)
	}
	return lifetime, windowed
}

// CreateCache builds a new PlainCache or TransactionalCache, registers
// it, and returns it as the shared Cache interface.
func (m *Manager) CreateCache(kind CacheKind, enableWindowedStats bool, maxSize uint64) (Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown || m.shutdown {
		return nil, NewError(ShuttingDown, "manager is shutting down")
	}

	registered := uint64(m.cacheCount.load())
	reserved := minCacheAllocation(kind) * (registered + 1)
	if reserved > m.globalHighwater {
		return nil, NewError(ResourceLimit, "global highwater exhausted")
	}

	fixedSize := cacheKindOverhead(kind)
	if maxSize == 0 || maxSize > m.globalSoftLimit {
		maxSize = m.globalSoftLimit
	}
	// Every cache starts at the minimum usage limit and grows toward
	// maxSize through requestGrow/rebalancing.
	hardLimit := uint64(MinCacheSize)

	id := m.nextCacheID
	m.nextCacheID++

	var created Cache
	switch kind {
	case Transactional:
		table := m.txnPool.lease(MinLogSize)
		meta := NewMetadata(hardLimit, fixedSize, table.MemoryUsage(), maxSize)
		base := newBaseCache(id, m, meta, NumericHasher{}, enableWindowedStats, m.opts.IdealUpperFillRatio, m.opts.RequestRateLimit, m.logger)
		created = newTransactionalCache(base, table, m.txnPool, m.txns, m.opts.MaxCacheValueSize)
	default:
		table := m.plainPool.lease(MinLogSize)
		meta := NewMetadata(hardLimit, fixedSize, table.MemoryUsage(), maxSize)
		base := newBaseCache(id, m, meta, BinaryHasher{}, enableWindowedStats, m.opts.IdealUpperFillRatio, m.opts.RequestRateLimit, m.logger)
		created = newPlainCache(base, table, m.plainPool, m.opts.MaxCacheValueSize)
	}

	m.caches.Store(id, created)
	m.cacheCount.add(1)
	m.globalAllocation.add(int64(CacheRecordOverhead))

	m.logger.Info("cache created", log.CacheID(id), log.Component("manager"))
	if m.metrics != nil {
		m.metrics.SetCachesRegistered(int(m.cacheCount.load()))
	}
	m.refreshGauges()
	return created, nil
}

// DestroyCache shuts down and unregisters cacheID, if present.
func (m *Manager) DestroyCache(cacheID uint64) {
	c, ok := m.caches.Load(cacheID)
	if !ok {
		return
	}
	c.Shutdown()
}

// requestGrow computes a bounded increase in the cache's hard limit
// and, if admissible, applies it directly — growth never needs to
// evict, so it never dispatches a FreeMemoryTask.
func (m *Manager) requestGrow(c Cache) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown || m.shutdown {
		return
	}
	meta := c.metadata()
	if meta.IsResizing() || meta.IsMigrating() {
		return
	}
	if time.Since(m.rebalanceCompleted) < m.opts.RebalanceInterval {
		return
	}

	allocated := meta.AllocatedSize()
	maxSize := meta.maxSizeSnapshot()
	increase := meta.UsageLimit() / 2
	if room := maxSize - allocated; increase > room {
		increase = room
	}
	if increase == 0 {
		return
	}
	newDeserved := allocated + increase
	meta.adjustDeserved(newDeserved)
	m.resizeCacheLocked(c, meta.newLimit())
}

// requestMigrate checks admission then dispatches a MigrateTask.
func (m *Manager) requestMigrate(c Cache, requestedLogSize uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown || m.shutdown {
		return
	}
	meta := c.metadata()
	if meta.IsMigrating() {
		return
	}
	newTableSize := uint64(1) << requestedLogSize * BucketSizeBytes
	if !meta.migrationAllowed(newTableSize) {
		return
	}

	meta.toggleMigrating(true)
	task := &migrateTask{manager: m, cache: c, newLogSize: requestedLogSize}
	if !m.dispatch(taskMigrating, task.run) {
		meta.toggleMigrating(false)
		m.logger.Warn("migrate task rejected by scheduler", log.CacheID(c.ID()))
	}
}

// resizeCacheLocked applies a new hard limit to c, dispatching a
// FreeMemoryTask when the new limit requires eviction first. Caller
// must hold m.mu.
func (m *Manager) resizeCacheLocked(c Cache, newLimit uint64) {
	meta := c.metadata()
	if meta.Usage() <= newLimit {
		meta.adjustLimits(newLimit, newLimit)
		return
	}
	meta.adjustLimits(newLimit, meta.UsageLimit())
	meta.toggleResizing(true)
	task := &freeMemoryTask{manager: m, cache: c}
	if !m.dispatch(taskResizing, task.run) {
		meta.toggleResizing(false)
		m.logger.Warn("free-memory task rejected by scheduler", log.CacheID(c.ID()))
	}
}

// Rebalance recomputes each registered cache's deserved size from a
// weight blending a base floor, recent access frequency, and current
// usage, then shrinks any cache that is over-allocated relative to its
// new deserved size.
func (m *Manager) Rebalance() {
	m.mu.Lock()
	defer m.mu.Unlock()

	caches := m.snapshotCaches()
	if m.shuttingDown || m.shutdown || len(caches) == 0 {
		return
	}

	n := len(caches)
	accessCounts := make(map[uint64]uint64)
	for _, c := range m.accessStats.Frequencies() {
		accessCounts[c.Key] = c.Count
	}
	var totalAccess uint64
	for _, v := range accessCounts {
		totalAccess += v
	}
	var totalUsage uint64
	for _, c := range caches {
		totalUsage += c.Usage()
	}

	type weighted struct {
		cache  Cache
		weight float64
	}
	weights := make([]weighted, 0, n)
	var sum float64
	for _, c := range caches {
		id := c.ID()
		base := float64(minCacheAllocation(cacheKindOf(c))) / float64AsRatio(m.globalHighwater)
		floor := 0.2 / float64(n)
		if base < floor {
			base = floor
		}
		var accessWeight float64
		if totalAccess > 0 {
			accessWeight = float64(accessCounts[id]) / float64(totalAccess)
		}
		var usageWeight float64
		if totalUsage > 0 {
			usageWeight = float64(c.Usage()) / float64(totalUsage)
		}
		w := base + accessWeight + usageWeight
		weights = append(weights, weighted{cache: c, weight: w})
		sum += w
	}
	if sum > 1.0 {
		for i := range weights {
			weights[i].weight /= sum
		}
	}

	for _, w := range weights {
		deserved := uint64(math.Ceil(w.weight * float64(m.globalHighwater)))
		meta := w.cache.metadata()
		meta.adjustDeserved(deserved)
		if meta.AllocatedSize() > deserved {
			m.resizeCacheLocked(w.cache, meta.newLimit())
		}
	}
	m.rebalanceCompleted = time.Now()
}

func float64AsRatio(v uint64) float64 {
	if v == 0 {
		return 1
	}
	return float64(v)
}

func cacheKindOf(c Cache) CacheKind {
	if _, ok := c.(*TransactionalCache); ok {
		return Transactional
	}
	return Plain
}

// Post forwards to the injected scheduler.
func (m *Manager) Post(job func()) bool {
	return m.scheduler.Post(job)
}

// onPanicRecovered mirrors a recovered task panic into the Manager's
// metrics, if configured. Passed to reliability.RecoverPanic by every
// dispatched task.
func (m *Manager) onPanicRecovered() {
	if m.metrics != nil {
		m.metrics.IncPanicsRecovered()
	}
}

// refreshGauges mirrors the Manager's task counters and spare table
// count into its metrics, if configured. Called around every dispatch
// and pool lease/reclaim so a scrape never sees more than one
// operation's worth of staleness.
func (m *Manager) refreshGauges() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetTaskGauges(
		m.taskCounters[taskResizing].load(),
		m.taskCounters[taskMigrating].load(),
		m.taskCounters[taskRebalancing].load(),
	)
	m.metrics.SetSpareTables(uint64(m.spareTablesTotal.load()))
}

// BeginShutdown marks the Manager as shutting down; new CreateCache,
// requestGrow, and requestMigrate calls are rejected from this point.
func (m *Manager) BeginShutdown() {
	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()
}

// Shutdown waits for all in-flight tasks to drain, shuts down every
// registered cache, empties the table pools, and marks the Manager
// fully shut down. Returns the combined error from any cache shutdown
// that failed (PlainCache/TransactionalCache.Shutdown never actually
// errors today, but the fan-in is wired the way this corpus reports
// partial shutdown failure).
func (m *Manager) Shutdown() error {
	m.BeginShutdown()

	for {
		if m.taskCounters[taskRebalancing].load() == 0 &&
			m.taskCounters[taskResizing].load() == 0 &&
			m.taskCounters[taskMigrating].load() == 0 {
			break
		}
		runtime.Gosched()
	}

	caches := m.snapshotCaches()

	var errs error
	for _, c := range caches {
		errs = multierr.Append(errs, shutdownCache(c))
	}

	m.plainPool.drain()
	m.txnPool.drain()

	m.mu.Lock()
	m.shutdown = true
	m.mu.Unlock()

	m.logger.Info("manager shutdown complete", log.Component("manager"))
	return errs
}

func shutdownCache(c Cache) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(Internal, "panic during cache shutdown")
		}
	}()
	c.Shutdown()
	return nil
}
