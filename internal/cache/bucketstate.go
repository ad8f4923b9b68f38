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
	"sync/atomic"
)

// bucketFlag is a single bit of BucketState beyond the lock bit itself.
type bucketFlag uint32

const (
	flagMigrated bucketFlag = 1 << 1
	flagBanished bucketFlag = 1 << 2
)

const lockBit uint32 = 1 << 0

// triesGuarantee tells tryLock to spin until the lock is acquired,
// never reporting failure.
const triesGuarantee uint64 = ^uint64(0)

// BucketState is a 32-bit atomic lock word guarding one Bucket. Bit 0 is
// the spin lock itself; higher bits are state flags (MIGRATED, BANISHED)
// that a caller may only read/toggle while holding the lock.
type BucketState struct {
	word atomic.Uint32
}

// tryLock attempts to acquire the spin lock, retrying up to maxTries
// times with a CPU-relax hint between attempts. Passing triesGuarantee
// spins until the lock is obtained. Returns whether the lock was
// acquired.
func (s *BucketState) tryLock(maxTries uint64) bool {
	var attempt uint64
	for maxTries == triesGuarantee || attempt < maxTries {
		cur := s.word.Load()
		if cur&lockBit == 0 {
			if s.word.CompareAndSwap(cur, cur|lockBit) {
				return true
			}
			continue
		}
		runtime.Gosched()
		attempt++
	}
	return false
}

// unlock releases the spin lock. The caller must hold it.
func (s *BucketState) unlock() {
	for {
		cur := s.word.Load()
		if s.word.CompareAndSwap(cur, cur&^lockBit) {
			return
		}
	}
}

// isSet reports whether flag is currently set. Safe to call without
// holding the lock; callers that need a consistent read pair this with
// tryLock.
func (s *BucketState) isSet(flag bucketFlag) bool {
	return s.word.Load()&uint32(flag) != 0
}

// toggle flips flag to on/off. The caller must hold the lock.
func (s *BucketState) toggle(flag bucketFlag, on bool) {
	for {
		cur := s.word.Load()
		var next uint32
		if on {
			next = cur | uint32(flag)
		} else {
			next = cur &^ uint32(flag)
		}
		if s.word.CompareAndSwap(cur, next) {
			return
		}
	}
}

// bucketLocker is an RAII-style guard returned by a successful bucket
// lock acquisition. Call unlock exactly once.
type bucketLocker struct {
	state *BucketState
}

func (l bucketLocker) unlock() {
	if l.state != nil {
		l.state.unlock()
	}
}
