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

// Package cacheconfig holds the Manager's tunable configuration: the
// global memory budget and the knobs CacheOptions exposes for tuning
// growth, migration, and rebalancing behavior.
package cacheconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheOptions is the Manager-wide configuration: the global memory
// budget plus the knobs controlling growth, migration, and rebalance
// cadence.
type CacheOptions struct {
	// CacheSize is the global hard memory limit in bytes.
	CacheSize uint64 `yaml:"cache_size"`

	// MaxCacheValueSize caps the size of any single inserted value,
	// independent of the owning cache's usage limit. Inserts above it
	// are refused with ResourceLimit rather than evicting their way in.
	MaxCacheValueSize uint64 `yaml:"max_cache_value_size"`

	// MaxSpareAllocation bounds how much memory the Manager lets the
	// spare table pool hold before it starts freeing tables outright.
	MaxSpareAllocation uint64 `yaml:"max_spare_allocation"`

	// IdealLowerFillRatio / IdealUpperFillRatio drive Table.idealSize:
	// below the lower ratio a table signals it should shrink, above the
	// upper ratio it signals it should grow.
	IdealLowerFillRatio float64 `yaml:"ideal_lower_fill_ratio"`
	IdealUpperFillRatio float64 `yaml:"ideal_upper_fill_ratio"`

	// EnableWindowedStats turns on the per-cache windowed hit-rate
	// FrequencyBuffer.
	EnableWindowedStats bool `yaml:"enable_windowed_stats"`

	// RebalanceInterval is the grace period between rebalance passes.
	RebalanceInterval time.Duration `yaml:"rebalance_interval"`

	// RequestRateLimit is the minimum spacing between a single cache's
	// grow/migrate requests.
	RequestRateLimit time.Duration `yaml:"request_rate_limit"`

	// HighwaterMultiplier derives globalHighwaterMark from the global
	// soft limit.
	HighwaterMultiplier float64 `yaml:"highwater_multiplier"`
}

// DefaultOptions returns CacheOptions populated with sensible defaults
// for a cacheSize of 1 GiB.
func DefaultOptions() CacheOptions {
	o := CacheOptions{CacheSize: 1 << 30}
	o.SetDefaults()
	return o
}

// SetDefaults fills any zero-valued field with its documented default.
func (o *CacheOptions) SetDefaults() {
	if o.CacheSize == 0 {
		o.CacheSize = 1 << 30
	}
	if o.MaxCacheValueSize == 0 {
		o.MaxCacheValueSize = o.CacheSize / 4
	}
	if o.MaxSpareAllocation == 0 {
		o.MaxSpareAllocation = o.CacheSize / 16
	}
	if o.IdealLowerFillRatio == 0 {
		o.IdealLowerFillRatio = 0.10
	}
	if o.IdealUpperFillRatio == 0 {
		o.IdealUpperFillRatio = 0.90
	}
	if o.RebalanceInterval == 0 {
		o.RebalanceInterval = 10 * time.Millisecond
	}
	if o.RequestRateLimit == 0 {
		o.RequestRateLimit = 100 * time.Millisecond
	}
	if o.HighwaterMultiplier == 0 {
		o.HighwaterMultiplier = 0.56
	}
}

// Load reads YAML-encoded CacheOptions from path, applying defaults and
// environment overrides, then validates the result.
func Load(path string) (CacheOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CacheOptions{}, fmt.Errorf("read config: %w", err)
	}

	var o CacheOptions
	if err := yaml.Unmarshal(data, &o); err != nil {
		return CacheOptions{}, fmt.Errorf("parse config: %w", err)
	}

	o.SetDefaults()
	o.OverrideFromEnv()

	if err := o.Validate(); err != nil {
		return CacheOptions{}, fmt.Errorf("invalid config: %w", err)
	}
	return o, nil
}

// OverrideFromEnv lets the handful of options worth tuning at deploy time
// be set without a config file.
func (o *CacheOptions) OverrideFromEnv() {
	if v := os.Getenv("HBCACHE_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			o.CacheSize = n
		}
	}
	if v := os.Getenv("HBCACHE_ENABLE_WINDOWED_STATS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			o.EnableWindowedStats = b
		}
	}
}

// Validate rejects option combinations that can never be satisfied.
func (o *CacheOptions) Validate() error {
	if o.CacheSize == 0 {
		return fmt.Errorf("cache_size must be > 0")
	}
	if o.IdealLowerFillRatio <= 0 || o.IdealLowerFillRatio >= 1 {
		return fmt.Errorf("ideal_lower_fill_ratio must be in (0, 1)")
	}
	if o.IdealUpperFillRatio <= 0 || o.IdealUpperFillRatio >= 1 {
		return fmt.Errorf("ideal_upper_fill_ratio must be in (0, 1)")
	}
	if o.IdealLowerFillRatio >= o.IdealUpperFillRatio {
		return fmt.Errorf("ideal_lower_fill_ratio must be < ideal_upper_fill_ratio")
	}
	if o.RebalanceInterval <= 0 {
		return fmt.Errorf("rebalance_interval must be > 0")
	}
	if o.RequestRateLimit <= 0 {
		return fmt.Errorf("request_rate_limit must be > 0")
	}
	if o.HighwaterMultiplier <= 0 || o.HighwaterMultiplier > 1 {
		return fmt.Errorf("highwater_multiplier must be in (0, 1]")
	}
	return nil
}
