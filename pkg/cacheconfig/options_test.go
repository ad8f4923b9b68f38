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

package cacheconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultOptionsIsValid(t *testing.T) {
	o := DefaultOptions()
	if err := o.Validate(); err != nil {
		t.Fatalf("DefaultOptions() is invalid: %v", err)
	}
	if o.CacheSize != 1<<30 {
		t.Errorf("CacheSize = %d, want %d", o.CacheSize, 1<<30)
	}
}

func TestSetDefaultsFillsOnlyZeroFields(t *testing.T) {
	o := CacheOptions{CacheSize: 1 << 24, IdealUpperFillRatio: 0.75}
	o.SetDefaults()

	if o.CacheSize != 1<<24 {
		t.Errorf("CacheSize should be preserved, got %d", o.CacheSize)
	}
	if o.IdealUpperFillRatio != 0.75 {
		t.Errorf("IdealUpperFillRatio should be preserved, got %v", o.IdealUpperFillRatio)
	}
	if o.MaxCacheValueSize != o.CacheSize/4 {
		t.Errorf("MaxCacheValueSize = %d, want %d", o.MaxCacheValueSize, o.CacheSize/4)
	}
	if o.MaxSpareAllocation != o.CacheSize/16 {
		t.Errorf("MaxSpareAllocation = %d, want %d", o.MaxSpareAllocation, o.CacheSize/16)
	}
	if o.IdealLowerFillRatio != 0.10 {
		t.Errorf("IdealLowerFillRatio = %v, want 0.10", o.IdealLowerFillRatio)
	}
	if o.RebalanceInterval != 10*time.Millisecond {
		t.Errorf("RebalanceInterval = %v, want 10ms", o.RebalanceInterval)
	}
	if o.RequestRateLimit != 100*time.Millisecond {
		t.Errorf("RequestRateLimit = %v, want 100ms", o.RequestRateLimit)
	}
	if o.HighwaterMultiplier != 0.56 {
		t.Errorf("HighwaterMultiplier = %v, want 0.56", o.HighwaterMultiplier)
	}
}

func TestLoadReadsYAMLAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	contents := "cache_size: 67108864\nideal_upper_fill_ratio: 0.8\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	o, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if o.CacheSize != 67108864 {
		t.Errorf("CacheSize = %d, want 67108864", o.CacheSize)
	}
	if o.IdealUpperFillRatio != 0.8 {
		t.Errorf("IdealUpperFillRatio = %v, want 0.8", o.IdealUpperFillRatio)
	}
	if o.IdealLowerFillRatio != 0.10 {
		t.Errorf("IdealLowerFillRatio = %v, want the default 0.10", o.IdealLowerFillRatio)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load() of a missing file should return an error")
	}
}

func TestLoadRejectsInvalidYAMLContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	// ideal_lower_fill_ratio >= ideal_upper_fill_ratio after defaults fill in.
	contents := "ideal_lower_fill_ratio: 0.95\nideal_upper_fill_ratio: 0.9\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject an inverted fill-ratio pair")
	}
}

func TestOverrideFromEnvParsesRecognizedVariables(t *testing.T) {
	o := DefaultOptions()
	t.Setenv("HBCACHE_SIZE", "4096")
	t.Setenv("HBCACHE_ENABLE_WINDOWED_STATS", "true")

	o.OverrideFromEnv()

	if o.CacheSize != 4096 {
		t.Errorf("CacheSize = %d, want 4096", o.CacheSize)
	}
	if !o.EnableWindowedStats {
		t.Error("EnableWindowedStats should be true after the env override")
	}
}

func TestOverrideFromEnvIgnoresUnparsableValues(t *testing.T) {
	o := DefaultOptions()
	before := o.CacheSize
	t.Setenv("HBCACHE_SIZE", "not-a-number")

	o.OverrideFromEnv()

	if o.CacheSize != before {
		t.Errorf("CacheSize = %d, want unchanged %d on an unparsable override", o.CacheSize, before)
	}
}

func TestValidateRejectsBadFields(t *testing.T) {
	tests := []struct {
		name string
		opt  func(*CacheOptions)
	}{
		{"zero cache size", func(o *CacheOptions) { o.CacheSize = 0 }},
		{"lower ratio out of range", func(o *CacheOptions) { o.IdealLowerFillRatio = 0 }},
		{"upper ratio out of range", func(o *CacheOptions) { o.IdealUpperFillRatio = 1 }},
		{"lower not less than upper", func(o *CacheOptions) { o.IdealLowerFillRatio = 0.9; o.IdealUpperFillRatio = 0.9 }},
		{"zero rebalance interval", func(o *CacheOptions) { o.RebalanceInterval = 0 }},
		{"zero request rate limit", func(o *CacheOptions) { o.RequestRateLimit = 0 }},
		{"highwater multiplier out of range", func(o *CacheOptions) { o.HighwaterMultiplier = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.opt(&o)
			if err := o.Validate(); err == nil {
				t.Errorf("Validate() should reject %s", tt.name)
			}
		})
	}
}
