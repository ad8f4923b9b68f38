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

import "github.com/axfor/hbcache/pkg/reliability"

// Scheduler is the injected thread-pool abstraction: Post must report
// whether job was accepted for execution. A false return means the
// Manager must revert whatever flag it set before dispatch.
type Scheduler interface {
	Post(job func()) bool
}

// taskKind distinguishes the three counters the Manager maintains for
// in-flight async work (rebalancing, resizing, migrating).
type taskKind int

const (
	taskResizing taskKind = iota
	taskMigrating
	taskRebalancing
)

// freeMemoryTask evicts cache down to its soft usage limit, then
// finalizes hardUsageLimit = softUsageLimit and clears resizing.
// Guaranteed to clear resizing even if cache.freeMemory panics.
type freeMemoryTask struct {
	manager *Manager
	cache   Cache
}

func (t *freeMemoryTask) run() {
	defer reliability.RecoverPanic("freeMemoryTask", t.manager.logger, t.manager.onPanicRecovered)
	defer t.manager.taskCounters[taskResizing].add(-1)
	defer t.finalize()

	t.cache.freeMemory()
}

func (t *freeMemoryTask) finalize() {
	meta := t.cache.metadata()
	soft := meta.softLimitSnapshot()
	meta.adjustLimits(soft, soft)
	meta.toggleResizing(false)
}

// migrateTask leases a table of newLogSize and installs it as the
// cache's active table, moving every live entry across. migrate itself
// reclaims the leased table to the pool when it reports failure (e.g.
// the cache shut down mid-flight).
type migrateTask struct {
	manager    *Manager
	cache      Cache
	newLogSize uint32
}

func (t *migrateTask) run() {
	defer reliability.RecoverPanic("migrateTask", t.manager.logger, t.manager.onPanicRecovered)
	defer t.manager.taskCounters[taskMigrating].add(-1)
	defer t.cache.metadata().toggleMigrating(false)

	t.cache.migrate(t.newLogSize)
}

// dispatch increments the matching in-flight counter and posts run to
// the scheduler; on rejection it decrements the counter back and
// reports failure so the caller can revert the flag it set. The
// wrapped job refreshes the Manager's task gauges as its last step,
// whether it ran to completion or panicked and was recovered.
func (m *Manager) dispatch(kind taskKind, job func()) bool {
	m.taskCounters[kind].add(1)
	m.refreshGauges()
	wrapped := func() {
		defer m.refreshGauges()
		job()
	}
	if m.scheduler.Post(wrapped) {
		return true
	}
	m.taskCounters[kind].add(-1)
	m.refreshGauges()
	return false
}
