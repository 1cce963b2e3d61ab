// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscoord

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/util/syncutil"
)

// ReadRegistry holds the current set of read regions as an immutable
// snapshot, swapped wholesale under an RWMutex rather than mutated in
// place (I3/I4): readers taking a Snapshot never observe a partially
// updated region list, and Update never blocks a reader out for longer
// than the swap itself takes.
//
// Grounded on
// _examples/cockroachdb-cockroach/pkg/kv/kvclient/kvcoord/range_cache.go's
// RUnlock-snapshot-then-act pattern.
type ReadRegistry struct {
	mu syncutil.RWMutex

	clients      []tsnet.NetworkClient
	names        []string
	maxNumShards int64

	factory       tsnet.NetworkClientFactory
	configAdapter tsnet.ConfigurationAdapter
	metrics       *tsmetrics.GlobalMetrics
	logger        *zap.Logger
}

// NewReadRegistry builds an empty registry; call Update at least once
// before using Snapshot in anger.
func NewReadRegistry(
	factory tsnet.NetworkClientFactory,
	configAdapter tsnet.ConfigurationAdapter,
	metrics *tsmetrics.GlobalMetrics,
	logger *zap.Logger,
) *ReadRegistry {
	return &ReadRegistry{
		factory:       factory,
		configAdapter: configAdapter,
		metrics:       metrics,
		logger:        logger,
	}
}

// Update re-reads the configured read services and, if the list changed,
// builds fresh NetworkClients and swaps them in. An empty service list
// from the adapter is treated as "no change" (spec scenario S6): the
// registry never discards a working region set in favor of nothing.
//
// Services the adapter rejects as invalid, or that fail client
// construction, are skipped and counted against BadReadServices rather
// than failing the whole update. If every configured service turns out
// bad, the registry falls back to the adapter's NearestReadService so
// reads never end up with zero regions while the adapter reports at least
// one candidate.
func (r *ReadRegistry) Update() error {
	services, err := r.configAdapter.ReadServices()
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return nil
	}

	r.mu.RLock()
	unchanged := stringsEqual(services, r.names)
	r.mu.RUnlock()
	if unchanged {
		return nil
	}

	var clients []tsnet.NetworkClient
	var names []string
	for _, svc := range services {
		if !r.configAdapter.IsValidReadService(svc) {
			r.metrics.BadReadServices.Inc(1)
			r.logger.Warn("read service rejected by configuration adapter", zap.String("service", svc))
			continue
		}
		c, err := r.factory(svc, false)
		if err != nil {
			r.metrics.BadReadServices.Inc(1)
			r.logger.Error("failed to construct network client for read service",
				zap.String("service", svc), zap.Error(err))
			continue
		}
		clients = append(clients, c)
		names = append(names, svc)
	}

	if len(clients) == 0 {
		nearest, err := r.configAdapter.NearestReadService()
		if err != nil {
			return err
		}
		c, err := r.factory(nearest, false)
		if err != nil {
			return err
		}
		clients = []tsnet.NetworkClient{c}
		names = []string{nearest}
	}

	var maxShards int64
	for _, c := range clients {
		if n := c.NumShards(); n > maxShards {
			maxShards = n
		}
	}

	r.mu.Lock()
	r.clients = clients
	r.names = names
	r.maxNumShards = maxShards
	r.mu.Unlock()
	return nil
}

// Snapshot returns the current region list. The returned slices are never
// mutated in place by the registry (only ever wholesale-replaced), so
// callers may hold onto them across a read without racing Update.
func (r *ReadRegistry) Snapshot() ([]tsnet.NetworkClient, []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients, r.names
}

// MaxNumShards returns the largest NumShards reported by any current read
// region.
func (r *ReadRegistry) MaxNumShards() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.maxNumShards
}

// StartPeriodicUpdate runs Update on a ticker until ctx is done. A
// non-positive interval disables periodic updates entirely (the caller is
// expected to call Update manually, e.g. in tests).
func (r *ReadRegistry) StartPeriodicUpdate(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Update(); err != nil {
					r.logger.Warn("periodic read region update failed", zap.Error(err))
				}
			}
		}
	}()
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
