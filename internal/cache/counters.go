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

import "sync/atomic"

// sharedCounter is a signed atomic accumulator used for the Manager's
// global allocation and spare-table bookkeeping: several call sites
// (cache delta flushes, table pool lease/reclaim) add to the same
// counter without taking the Manager's write lock.
type sharedCounter struct {
	v    atomic.Int64
	peak atomic.Int64
}

func (c *sharedCounter) add(delta int64) int64 {
	next := c.v.Add(delta)
	c.bumpPeak(next)
	return next
}

func (c *sharedCounter) bumpPeak(v int64) {
	for {
		cur := c.peak.Load()
		if v <= cur {
			return
		}
		if c.peak.CompareAndSwap(cur, v) {
			return
		}
	}
}

func (c *sharedCounter) load() int64 {
	return c.v.Load()
}

func (c *sharedCounter) peakValue() int64 {
	return c.peak.Load()
}
