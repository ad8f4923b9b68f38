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

// Command cachebench drives a Manager under a synthetic read/write
// workload and exposes its Prometheus metrics, standing in for an
// integration-test harness: a fixed number of workers hammer a Plain
// and a Transactional cache while a background goroutine rebalances
// and a /metrics endpoint lets an operator watch the result.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	flag "github.com/spf13/pflag"

	"github.com/axfor/hbcache/internal/cache"
	"github.com/axfor/hbcache/pkg/cacheconfig"
	"github.com/axfor/hbcache/pkg/cachemetrics"
	"github.com/axfor/hbcache/pkg/log"
)

func main() {
	var (
		configPath  = flag.StringP("config", "c", "", "path to a YAML CacheOptions file (defaults used if empty)")
		cacheSize   = flag.Uint64("cache-size", 0, "global hard memory limit in bytes (overrides config/defaults)")
		metricsAddr = flag.StringP("metrics-addr", "m", ":9090", "address the /metrics and /health server listens on")
		workers     = flag.IntP("workers", "w", 8, "concurrent workload goroutines per cache")
		keys        = flag.Int("keys", 50_000, "distinct keys each worker cycles through")
		duration    = flag.DurationP("duration", "d", 30*time.Second, "how long to run the synthetic workload")
		logLevel    = flag.String("log-level", "info", "debug, info, warn, or error")
	)
	flag.Parse()

	logger, err := log.New(log.Config{Level: *logLevel, Encoding: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	opts := cacheconfig.DefaultOptions()
	if *configPath != "" {
		loaded, err := cacheconfig.Load(*configPath)
		if err != nil {
			logger.Error("load config", log.Err(err))
			os.Exit(1)
		}
		opts = loaded
	}
	if *cacheSize != 0 {
		opts.CacheSize = *cacheSize
	}
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		logger.Error("invalid config", log.Err(err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	metrics := cachemetrics.New(registry)
	metricsSrv := cachemetrics.NewServer(*metricsAddr, registry)
	go func() {
		logger.Info("metrics server listening", log.String("addr", *metricsAddr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", log.Err(err))
		}
	}()

	mgr := cache.NewManager(opts, goroutineScheduler{}, metrics, logger, nil)

	plain, err := mgr.CreateCache(cache.Plain, true, opts.CacheSize/2)
	if err != nil {
		logger.Error("create plain cache", log.Err(err))
		os.Exit(1)
	}
	txn, err := mgr.CreateCache(cache.Transactional, true, opts.CacheSize/2)
	if err != nil {
		logger.Error("create transactional cache", log.Err(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn("signal received, stopping workload early")
		cancel()
	}()

	rebalanceStop := make(chan struct{})
	go runRebalancer(ctx, mgr, rebalanceStop)

	var wg sync.WaitGroup
	runWorkload(ctx, &wg, plain, *workers, *keys, logger, "plain")
	runWorkload(ctx, &wg, txn, *workers, *keys, logger, "transactional")
	wg.Wait()
	<-rebalanceStop

	lifetime, windowed := mgr.GlobalHitRates()
	logger.Info("workload complete",
		log.String("lifetime_hit_rate", fmt.Sprintf("%.2f%%", lifetime)),
		log.String("windowed_hit_rate", fmt.Sprintf("%.2f%%", windowed)))

	if err := mgr.Shutdown(); err != nil {
		logger.Error("manager shutdown reported errors", log.Err(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
}

// goroutineScheduler is the simplest Scheduler that satisfies
// cache.Scheduler: every job gets its own goroutine, panic recovery is
// left to the job itself (tasks.go already wraps every dispatched job
// in reliability.RecoverPanic before it reaches here).
type goroutineScheduler struct{}

func (goroutineScheduler) Post(job func()) bool {
	go job()
	return true
}

// runRebalancer calls Manager.Rebalance on a fixed cadence until ctx is
// done, then closes stop.
func runRebalancer(ctx context.Context, mgr *cache.Manager, stop chan<- struct{}) {
	defer close(stop)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Rebalance()
		}
	}
}

// randomBytes fills an n-byte slice from rng, drawing 8 bytes at a
// time from Uint64.
func randomBytes(rng *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	for i := 0; i < n; i += 8 {
		var word [8]byte
		v := rng.Uint64()
		for b := 0; b < 8; b++ {
			word[b] = byte(v >> (8 * b))
		}
		copy(buf[i:], word[:])
	}
	return buf
}

// runWorkload starts numWorkers goroutines against c, each repeatedly
// inserting, finding, and occasionally removing one of numKeys
// deterministic keys until ctx is done.
func runWorkload(ctx context.Context, wg *sync.WaitGroup, c cache.Cache, numWorkers, numKeys int, logger *log.Logger, label string) {
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)*31 + int64(c.ID())))
			var inserted, found, removed int
			for {
				select {
				case <-ctx.Done():
					logger.Info("worker done",
						log.String("cache", label),
						log.Int("worker", worker),
						log.Int("inserted", inserted),
						log.Int("found", found),
						log.Int("removed", removed))
					return
				default:
				}

				key := []byte(strconv.Itoa(rng.Intn(numKeys)))
				switch rng.Intn(10) {
				case 0:
					c.Remove(key)
					removed++
				default:
					if rng.Intn(3) == 0 {
						value := randomBytes(rng, 32+rng.Intn(256))
						if c.Insert(key, value) == cache.OK {
							inserted++
						}
					} else {
						result := c.Find(key)
						if result.Found() {
							found++
						}
						result.Release()
					}
				}
			}
		}(w)
	}
}
