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

package log

import (
	"time"

	"go.uber.org/zap"
)

// Field constructors used across hbcache. Kept narrow on purpose: only the
// shapes this codebase actually logs.

func String(key, val string) zap.Field { return zap.String(key, val) }

func Int(key string, val int) zap.Field { return zap.Int(key, val) }

func Uint64(key string, val uint64) zap.Field { return zap.Uint64(key, val) }

func Uint32(key string, val uint32) zap.Field { return zap.Uint32(key, val) }

func Bool(key string, val bool) zap.Field { return zap.Bool(key, val) }

func Float64(key string, val float64) zap.Field { return zap.Float64(key, val) }

func Duration(key string, val time.Duration) zap.Field { return zap.Duration(key, val) }

func Err(err error) zap.Field { return zap.Error(err) }

// Component tags the subsystem emitting the log entry (e.g. "manager",
// "table", "rebalancer").
func Component(name string) zap.Field { return zap.String("component", name) }

// CacheID tags the originating cache's registry id.
func CacheID(id uint64) zap.Field { return zap.Uint64("cache_id", id) }

// LogSize tags a table's log2 bucket count.
func LogSize(logSize uint8) zap.Field { return zap.Uint8("log_size", logSize) }

// Phase tags a named phase of a multi-step operation (shutdown, migration).
func Phase(name string) zap.Field { return zap.String("phase", name) }

// Goroutine tags the named goroutine a recovered panic occurred in.
func Goroutine(name string) zap.Field { return zap.String("goroutine", name) }
