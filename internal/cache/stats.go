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
	"sync"
	"sync/atomic"
)

// findStatsCapacity sizes the windowed hit-rate FrequencyBuffer.
const findStatsCapacity = 8192

// findEvent is the value sampled into a FindStats windowed buffer: 1
// for a hit, 2 for a miss. 0 stays reserved as the buffer's empty
// sentinel, so a plain bool can't be used directly.
type findEvent uint32

const (
	eventHit  findEvent = 1
	eventMiss findEvent = 2
)

// FindStats is created lazily on a cache's first hit or miss so a
// cache that serves nothing costs nothing.
type FindStats struct {
	hits   atomic.Uint64
	misses atomic.Uint64

	windowed *FrequencyBuffer[findEvent]
}

func newFindStats(windowedEnabled bool) *FindStats {
	fs := &FindStats{}
	if windowedEnabled {
		fs.windowed = NewFrequencyBuffer[findEvent](findStatsCapacity)
	}
	return fs
}

func (fs *FindStats) recordHit(rng func() uint64) {
	fs.hits.Add(1)
	if fs.windowed != nil {
		fs.windowed.Insert(rng, eventHit)
	}
}

func (fs *FindStats) recordMiss(rng func() uint64) {
	fs.misses.Add(1)
	if fs.windowed != nil {
		fs.windowed.Insert(rng, eventMiss)
	}
}

// hitRates returns (lifetime, windowed) percentages. windowed is NaN
// when windowed stats are disabled or no samples have been recorded.
func (fs *FindStats) hitRates() (float64, float64) {
	hits := fs.hits.Load()
	misses := fs.misses.Load()
	lifetime := ratioPercent(hits, hits+misses)

	if fs.windowed == nil {
		return lifetime, math.NaN()
	}
	var windowHits, windowTotal uint64
	for _, c := range fs.windowed.Frequencies() {
		windowTotal += c.Count
		if c.Key == eventHit {
			windowHits += c.Count
		}
	}
	if windowTotal == 0 {
		return lifetime, math.NaN()
	}
	return lifetime, ratioPercent(windowHits, windowTotal)
}

func ratioPercent(numerator, denominator uint64) float64 {
	if denominator == 0 {
		return 0
	}
	return 100 * float64(numerator) / float64(denominator)
}

// EvictionStats tracks the running insert/eviction sample the Cache
// base contract uses to decide when to signal the table and ask the
// Manager for a migration.
type EvictionStats struct {
	mu           sync.Mutex
	insertsTotal uint64
	insertEvicts uint64
}

func newEvictionStats() *EvictionStats {
	return &EvictionStats{}
}

// sample records one insert and reports whether the running eviction
// rate crossed evictionRateThreshold on every (evictionSampleMask+1)-th
// sample, resetting the running counts whenever it checks.
func (es *EvictionStats) sample(hadEviction bool) bool {
	es.mu.Lock()
	defer es.mu.Unlock()

	es.insertsTotal++
	if hadEviction {
		es.insertEvicts++
	}
	if es.insertsTotal&evictionSampleMask != 0 {
		return false
	}
	rate := float64(es.insertEvicts) / float64(es.insertsTotal)
	es.insertsTotal = 0
	es.insertEvicts = 0
	return rate > evictionRateThreshold
}

const (
	evictionSampleMask    = 4095 // EVICTION_SAMPLE_MASK
	evictionRateThreshold = 0.01 // EVICTION_RATE_THRESHOLD
)
