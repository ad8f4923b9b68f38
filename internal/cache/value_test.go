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

import "testing"

// TestCachedValueSize checks Size accounts for key, value, and the
// fixed per-value header overhead.
func TestCachedValueSize(t *testing.T) {
	v := newCachedValue([]byte("key"), []byte("value12345"))
	want := uint64(len("key")) + uint64(len("value12345")) + valueHeaderOverhead
	if got := v.Size(); got != want {
		t.Errorf("Size() = %d, want %d", got, want)
	}
}

// TestCachedValueRefCounting checks retain/release/evictable track a
// simple reference count.
func TestCachedValueRefCounting(t *testing.T) {
	v := newCachedValue([]byte("k"), []byte("v"))
	if !v.evictable() {
		t.Fatal("a freshly constructed value should start evictable")
	}

	v.retain()
	if v.evictable() {
		t.Error("a retained value should not be evictable")
	}
	if got := v.refCount(); got != 1 {
		t.Errorf("refCount() = %d, want 1", got)
	}

	v.retain()
	if got := v.refCount(); got != 2 {
		t.Errorf("refCount() = %d, want 2", got)
	}

	v.release()
	if v.evictable() {
		t.Error("value should not be evictable with one outstanding reference")
	}

	v.release()
	if !v.evictable() {
		t.Error("value should be evictable once every reference is released")
	}
}

// TestFoundFindingRetainsAndReleases checks foundFinding retains the
// value and Release gives the reference back.
func TestFoundFindingRetainsAndReleases(t *testing.T) {
	v := newCachedValue([]byte("k"), []byte("v"))
	f := foundFinding(v)

	if !f.Found() {
		t.Fatal("foundFinding should report Found")
	}
	if f.Result() != OK {
		t.Errorf("Result() = %v, want OK", f.Result())
	}
	if string(f.Value()) != "v" {
		t.Errorf("Value() = %q, want %q", f.Value(), "v")
	}
	if string(f.Key()) != "k" {
		t.Errorf("Key() = %q, want %q", f.Key(), "k")
	}
	if v.evictable() {
		t.Error("value retained by a live Finding should not be evictable")
	}

	f.Release()
	if !v.evictable() {
		t.Error("value should be evictable after its only Finding releases it")
	}
}

// TestNotFoundFindingIsInert checks a not-found Finding reports no
// value and is safe to Release as a no-op.
func TestNotFoundFindingIsInert(t *testing.T) {
	f := notFoundFinding(Busy)
	if f.Found() {
		t.Error("notFoundFinding should never report Found")
	}
	if f.Value() != nil {
		t.Error("Value() should be nil on a not-found Finding")
	}
	if f.Key() != nil {
		t.Error("Key() should be nil on a not-found Finding")
	}
	if f.Result() != Busy {
		t.Errorf("Result() = %v, want Busy", f.Result())
	}
	f.Release() // must not panic
}
