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

package pool

import "sync/atomic"

// atomicCounter is a small helper over atomic.Int64 that never goes
// negative, used for the pool's spare count.
type atomicCounter struct {
	v atomic.Int64
}

func (c *atomicCounter) add(delta int64) {
	c.v.Add(delta)
}

func (c *atomicCounter) addClampedNonNegative(delta int64) {
	for {
		old := c.v.Load()
		next := old + delta
		if next < 0 {
			next = 0
		}
		if c.v.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *atomicCounter) load() int64 {
	return c.v.Load()
}
