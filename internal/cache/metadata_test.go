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

// TestNewMetadataAllocatedSizeInvariant checks AllocatedSize equals
// hardLimit + fixedSize + tableSize + CacheRecordOverhead at
// construction.
func TestNewMetadataAllocatedSizeInvariant(t *testing.T) {
	m := NewMetadata(10000, 256, 4096, 1<<20)
	want := uint64(10000) + 256 + 4096 + CacheRecordOverhead
	if got := m.AllocatedSize(); got != want {
		t.Errorf("AllocatedSize() = %d, want %d", got, want)
	}
	if got := m.UsageLimit(); got != 10000 {
		t.Errorf("UsageLimit() = %d, want 10000", got)
	}
}

// TestAdjustUsageIfAllowedRespectsSoftLimit checks growth is refused
// once usage would cross the soft limit, but shrinks always succeed.
func TestAdjustUsageIfAllowedRespectsSoftLimit(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	m.adjustDeserved(2000) // headroom so the start-shrink cap check passes
	m.adjustLimits(500, 1000) // soft=500, hard=1000 (start-shrink shape)

	if !m.adjustUsageIfAllowed(500) {
		t.Fatal("growth up to the soft limit should be allowed")
	}
	if m.adjustUsageIfAllowed(1) {
		t.Error("growth past the soft limit should be refused")
	}
	if !m.adjustUsageIfAllowed(-100) {
		t.Error("a shrink should always be allowed")
	}
	if got, want := m.Usage(), uint64(400); got != want {
		t.Errorf("Usage() = %d, want %d", got, want)
	}
}

// TestAdjustUsageIfAllowedAboveSoftUsesHardLimit checks that once usage
// already exceeds soft (e.g. soft was lowered underneath it), further
// growth is checked against hard instead.
func TestAdjustUsageIfAllowedAboveSoftUsesHardLimit(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	if !m.adjustUsageIfAllowed(900) {
		t.Fatal("initial usage should fit under hard==soft==1000")
	}
	m.adjustDeserved(2000) // headroom so the start-shrink cap check passes
	if !m.adjustLimits(500, 1000) {
		t.Fatal("start-shrink (soft<current, hard unchanged) should be accepted")
	}
	// usage (900) is now above soft (500); growth should be checked
	// against hard (1000), not soft.
	if !m.adjustUsageIfAllowed(50) {
		t.Error("growth should be allowed up to hard once usage already exceeds soft")
	}
	if m.adjustUsageIfAllowed(60) {
		t.Error("growth past hard should be refused even when usage already exceeds soft")
	}
}

// TestAdjustUsageIfAllowedNeverGoesNegative checks usage floors at zero.
func TestAdjustUsageIfAllowedNeverGoesNegative(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	m.adjustUsageIfAllowed(-1000)
	if got := m.Usage(); got != 0 {
		t.Errorf("Usage() = %d, want 0 (floored)", got)
	}
}

// TestAdjustLimitsStartShrink checks the start-shrink transition: soft
// decreases while hard stays put, gated by the deserved/max cap.
func TestAdjustLimitsStartShrink(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	m.adjustDeserved(2000) // headroom so the cap check passes
	if !m.adjustLimits(400, 1000) {
		t.Fatal("start-shrink should be accepted")
	}
	if got := m.softLimitSnapshot(); got != 400 {
		t.Errorf("softLimitSnapshot() = %d, want 400", got)
	}
	if got := m.UsageLimit(); got != 1000 {
		t.Errorf("UsageLimit() = %d, want unchanged 1000", got)
	}
}

// TestAdjustLimitsFinishShrink checks the finish-shrink transition
// lowers hard to meet the already-reduced soft, once usage fits.
func TestAdjustLimitsFinishShrink(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	m.adjustUsageIfAllowed(300)
	m.adjustDeserved(2000) // headroom so the start-shrink cap check passes
	if !m.adjustLimits(400, 1000) {
		t.Fatal("start-shrink should be accepted")
	}
	if !m.adjustLimits(400, 400) {
		t.Fatal("finish-shrink (soft==hard==400, usage <= 400) should be accepted")
	}
	if got := m.UsageLimit(); got != 400 {
		t.Errorf("UsageLimit() = %d, want 400 after finish-shrink", got)
	}
}

// TestAdjustLimitsFinishShrinkRejectsWhenUsageTooHigh checks
// finish-shrink is refused if current usage wouldn't fit under the new
// hard limit.
func TestAdjustLimitsFinishShrinkRejectsWhenUsageTooHigh(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	m.adjustUsageIfAllowed(900)
	m.adjustLimits(400, 1000)
	if m.adjustLimits(400, 400) {
		t.Error("finish-shrink should be refused when usage (900) exceeds the proposed hard limit (400)")
	}
}

// TestAdjustLimitsGrow checks a grow transition respects the
// min(deserved, max) cap.
func TestAdjustLimitsGrow(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 5000)
	m.adjustDeserved(5000)
	if !m.adjustLimits(3000, 3000) {
		t.Fatal("grow within the deserved/max cap should be accepted")
	}
	if got := m.UsageLimit(); got != 3000 {
		t.Errorf("UsageLimit() = %d, want 3000", got)
	}

	if m.adjustLimits(100000, 100000) {
		t.Error("grow past the deserved/max cap should be refused")
	}
}

// TestAdjustLimitsDropToMinimum checks the drop-to-minimum transition
// is always accepted regardless of the cap.
func TestAdjustLimitsDropToMinimum(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 2000)
	m.adjustDeserved(0)
	if !m.adjustLimits(MinCacheSize, MinCacheSize) {
		t.Fatal("drop-to-minimum should always be accepted")
	}
	if got := m.UsageLimit(); got != MinCacheSize {
		t.Errorf("UsageLimit() = %d, want MinCacheSize (%d)", got, MinCacheSize)
	}
}

// TestAdjustLimitsRejectsArbitraryTransition checks a pair that matches
// none of the four accepted shapes leaves state unchanged.
func TestAdjustLimitsRejectsArbitraryTransition(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 2000)
	// soft > hard is not one of the accepted shapes.
	if m.adjustLimits(2000, 1000) {
		t.Error("an arbitrary soft/hard pair should be rejected")
	}
	if got := m.UsageLimit(); got != 1000 {
		t.Error("a rejected adjustLimits call must not change state")
	}
}

// TestAdjustDeservedClampsToMax checks adjustDeserved never exceeds
// maxSize.
func TestAdjustDeservedClampsToMax(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 5000)
	if got := m.adjustDeserved(10000); got != 5000 {
		t.Errorf("adjustDeserved(10000) = %d, want clamped to maxSize 5000", got)
	}
	if got := m.DeservedSize(); got != 5000 {
		t.Errorf("DeservedSize() = %d, want 5000", got)
	}
}

// TestNewLimitClampsToCeilingAndFloor checks newLimit clamps to
// [MinCacheSize, 4×hardUsageLimit].
func TestNewLimitClampsToCeilingAndFloor(t *testing.T) {
	m := NewMetadata(10000, 0, 0, 1<<30)
	m.adjustDeserved(1 << 20) // far above 4x current hard limit (40000)
	if got, want := m.newLimit(), uint64(40000); got != want {
		t.Errorf("newLimit() = %d, want ceiling %d", got, want)
	}

	low := NewMetadata(1000, 0, 0, 1<<30)
	low.adjustDeserved(1)
	if got := low.newLimit(); got != MinCacheSize {
		t.Errorf("newLimit() = %d, want floor MinCacheSize (%d)", got, MinCacheSize)
	}
}

// TestMigrationAllowedRespectsCap checks migrationAllowed compares the
// prospective allocatedSize against min(deserved, max).
func TestMigrationAllowedRespectsCap(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 5000)
	m.adjustDeserved(2000)
	if !m.migrationAllowed(500) {
		t.Error("a small table should fit under the cap")
	}
	if m.migrationAllowed(1_000_000) {
		t.Error("an oversized table should be refused")
	}
}

// TestChangeTableUpdatesAllocatedSize checks changeTable recomputes
// AllocatedSize from the new table size.
func TestChangeTableUpdatesAllocatedSize(t *testing.T) {
	m := NewMetadata(1000, 0, 4096, 1<<20)
	before := m.AllocatedSize()
	m.changeTable(8192)
	after := m.AllocatedSize()
	if after-before != 8192-4096 {
		t.Errorf("AllocatedSize() changed by %d, want %d", after-before, 8192-4096)
	}
}

// TestToggleResizingAndMigratingFlags checks the two state flags are
// independent and report correctly through IsResizing/IsMigrating.
func TestToggleResizingAndMigratingFlags(t *testing.T) {
	m := NewMetadata(1000, 0, 0, 1<<20)
	if m.IsResizing() || m.IsMigrating() {
		t.Fatal("a fresh Metadata should start with both flags clear")
	}
	m.toggleResizing(true)
	if !m.IsResizing() {
		t.Error("IsResizing() should be true after toggleResizing(true)")
	}
	if m.IsMigrating() {
		t.Error("toggling resizing must not affect migrating")
	}
	m.toggleMigrating(true)
	if !m.IsMigrating() {
		t.Error("IsMigrating() should be true after toggleMigrating(true)")
	}
	m.toggleResizing(false)
	if m.IsResizing() {
		t.Error("IsResizing() should be false after toggleResizing(false)")
	}
}
