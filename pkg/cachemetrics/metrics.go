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

// Package cachemetrics exposes the Manager's internal counters as
// Prometheus collectors.
package cachemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hbcache"

// Metrics holds every Prometheus collector the Manager and its caches
// update. Construct with New against a registry; nil-safe methods let
// callers pass a nil *Metrics when no registry was configured.
type Metrics struct {
	GlobalAllocation     prometheus.Gauge
	SpareAllocation      prometheus.Gauge
	PeakGlobalAllocation prometheus.Gauge
	PeakSpareAllocation  prometheus.Gauge
	SpareTables          prometheus.Gauge
	ResizingTasks        prometheus.Gauge
	MigrateTasks         prometheus.Gauge
	RebalanceTasks       prometheus.Gauge

	FindHitsTotal    *prometheus.CounterVec // by cache_id
	FindMissesTotal  *prometheus.CounterVec
	GlobalHitRate    prometheus.Gauge
	PanicsRecovered  prometheus.Counter
	CachesRegistered prometheus.Gauge
}

// New creates and registers every collector against registry.
func New(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		GlobalAllocation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "global_allocation_bytes",
			Help: "Current global memory allocation across all registered caches.",
		}),
		SpareAllocation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "spare_allocation_bytes",
			Help: "Memory held by spare (pooled) tables not in active use.",
		}),
		PeakGlobalAllocation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peak_global_allocation_bytes",
			Help: "High-water mark of global allocation since process start.",
		}),
		PeakSpareAllocation: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "peak_spare_allocation_bytes",
			Help: "High-water mark of spare table allocation since process start.",
		}),
		SpareTables: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "spare_tables",
			Help: "Tables currently held in the Manager's spare pools.",
		}),
		ResizingTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "resizing_tasks_in_flight",
			Help: "FreeMemoryTasks currently running.",
		}),
		MigrateTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "migrate_tasks_in_flight",
			Help: "MigrateTasks currently running.",
		}),
		RebalanceTasks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rebalance_tasks_in_flight",
			Help: "Rebalance passes currently running.",
		}),
		FindHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "find_hits_total",
			Help: "Cache find() calls that returned a value, by cache id.",
		}, []string{"cache_id"}),
		FindMissesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "find_misses_total",
			Help: "Cache find() calls that returned not-found, by cache id.",
		}, []string{"cache_id"}),
		GlobalHitRate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "global_hit_rate_percent",
			Help: "Manager-wide lifetime hit rate, updated on globalHitRates() sampling.",
		}),
		PanicsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "panics_recovered_total",
			Help: "Panics recovered while running a dispatched task.",
		}),
		CachesRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "caches_registered",
			Help: "Caches currently registered with the Manager.",
		}),
	}
}

func (m *Metrics) recordFind(cacheID string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.FindHitsTotal.WithLabelValues(cacheID).Inc()
	} else {
		m.FindMissesTotal.WithLabelValues(cacheID).Inc()
	}
}

// RecordHit records a cache hit for cacheID.
func (m *Metrics) RecordHit(cacheID string) { m.recordFind(cacheID, true) }

// RecordMiss records a cache miss for cacheID.
func (m *Metrics) RecordMiss(cacheID string) { m.recordFind(cacheID, false) }

// SetGlobalAllocation records the Manager's current global allocation.
func (m *Metrics) SetGlobalAllocation(v uint64) {
	if m == nil {
		return
	}
	m.GlobalAllocation.Set(float64(v))
}

// SetSpareAllocation records the Manager's current spare table allocation.
func (m *Metrics) SetSpareAllocation(v uint64) {
	if m == nil {
		return
	}
	m.SpareAllocation.Set(float64(v))
}

// SetPeaks records the Manager's high-water marks.
func (m *Metrics) SetPeaks(global, spare uint64) {
	if m == nil {
		return
	}
	m.PeakGlobalAllocation.Set(float64(global))
	m.PeakSpareAllocation.Set(float64(spare))
}

// SetGlobalHitRate records the Manager-wide lifetime hit rate percentage.
func (m *Metrics) SetGlobalHitRate(pct float64) {
	if m == nil {
		return
	}
	m.GlobalHitRate.Set(pct)
}

// SetCachesRegistered records the number of caches currently registered.
func (m *Metrics) SetCachesRegistered(n int) {
	if m == nil {
		return
	}
	m.CachesRegistered.Set(float64(n))
}

// IncPanicsRecovered counts a recovered task panic.
func (m *Metrics) IncPanicsRecovered() {
	if m == nil {
		return
	}
	m.PanicsRecovered.Inc()
}

// SetSpareTables records the current count of pooled spare tables.
func (m *Metrics) SetSpareTables(n uint64) {
	if m == nil {
		return
	}
	m.SpareTables.Set(float64(n))
}

// SetTaskGauges records the current in-flight count for each task kind.
func (m *Metrics) SetTaskGauges(resizing, migrating, rebalancing int64) {
	if m == nil {
		return
	}
	m.ResizingTasks.Set(float64(resizing))
	m.MigrateTasks.Set(float64(migrating))
	m.RebalanceTasks.Set(float64(rebalancing))
}
