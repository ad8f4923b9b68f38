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

// Package cache implements the hash-bucketed cache core: the Manager,
// the Cache base contract, PlainCache/TransactionalCache, the hash Table,
// per-cache Metadata, the lock-free FrequencyBuffer sampler, and the
// TransactionManager term counter.
package cache

import "fmt"

// Status is the fixed set of outcomes a Cache API call can return.
type Status int

const (
	// OK indicates the call completed successfully.
	OK Status = iota
	// NotFound indicates the key is absent (or banished) in the cache.
	NotFound
	// Conflict indicates the key/hash is banished at the current term.
	Conflict
	// Busy indicates a bucket lock could not be acquired within budget.
	Busy
	// ResourceLimit indicates the call would exceed per-cache or global
	// memory allocation.
	ResourceLimit
	// OutOfMemory indicates an underlying allocation failed.
	OutOfMemory
	// ShuttingDown indicates the cache or Manager is shutting down.
	ShuttingDown
	// Internal indicates an invariant violation; only returned on a bug.
	Internal
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Busy:
		return "busy"
	case ResourceLimit:
		return "resource_limit"
	case OutOfMemory:
		return "out_of_memory"
	case ShuttingDown:
		return "shutting_down"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps a Status as a Go error.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// NewError builds an *Error for the given status with an optional message.
func NewError(status Status, message string) *Error {
	return &Error{Status: status, Message: message}
}

// StatusOf extracts the Status from err, returning OK for a nil error and
// Internal for any error not produced by this package.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}
	if ce, ok := err.(*Error); ok {
		return ce.Status
	}
	return Internal
}
