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

// Package reliability holds process-wide panic recovery used when the
// Manager dispatches tasks to the injected scheduler: a task panicking
// must not take down the caller, and must still clear the metadata flag
// it was holding.
package reliability

import (
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/axfor/hbcache/pkg/log"
)

var panicCounter atomic.Int64

// RecoverPanic recovers a panic in the current goroutine, logging it and
// bumping the global panic counter. onRecovered, if non-nil, is invoked
// after logging so a caller can mirror the count into its own metrics
// (e.g. a Prometheus counter scoped to its own registry); pass nil when
// the global counter returned by PanicCount is enough. Call as
// `defer RecoverPanic(name, logger, onRecovered)` at the top of any
// goroutine the Manager starts.
func RecoverPanic(goroutineName string, logger *log.Logger, onRecovered func()) {
	if r := recover(); r != nil {
		panicCounter.Add(1)
		stack := debug.Stack()
		logger.Error("panic recovered",
			log.Goroutine(goroutineName),
			log.String("panic_value", fmt.Sprintf("%v", r)),
			log.String("stack", string(stack)),
			log.Component("panic-recovery"))
		if onRecovered != nil {
			onRecovered()
		}
	}
}

// SafeGo starts fn in a new goroutine that recovers any panic instead of
// crashing the process.
func SafeGo(name string, logger *log.Logger, fn func()) {
	go func() {
		defer RecoverPanic(name, logger, nil)
		fn()
	}()
}

// PanicCount returns the number of panics recovered so far, for metrics
// and tests.
func PanicCount() int64 {
	return panicCounter.Load()
}
