// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscoord

import (
	"context"
	"sync"
	"time"

	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

// fakeClient is a minimal, single-host tsnet.NetworkClient stand-in for
// exercising tscoord's collectors and fan-out logic without a real
// transport.
type fakeClient struct {
	mu sync.Mutex

	service string
	shards  int64

	statusFn func(k tspb.Key) tspb.KeyResult
	scanFn   func(req tspb.ScanShardRequest) tspb.ScanShardResult

	getErr      error
	scanErr     error
	noScanHost  bool
	invalidated []int64
	stopped     bool
	delay       time.Duration
}

func (c *fakeClient) AddKeyToGetRequest(key tspb.Key, idx int, m tsnet.GetRequestMap) {
	e, ok := m["host0"]
	if !ok {
		e = &tsnet.HostGetEntry{}
		m["host0"] = e
	}
	e.Keys = append(e.Keys, key)
	e.Indices = append(e.Indices, idx)
}

func (c *fakeClient) AddDataPointToRequest(dp tspb.DataPoint, m tsnet.PutRequestMap) (bool, bool) {
	e, ok := m["host0"]
	if !ok {
		e = &tsnet.HostPutEntry{}
		m["host0"] = e
	}
	e.Points = append(e.Points, dp)
	return true, false
}

func (c *fakeClient) PerformGet(ctx context.Context, m tsnet.GetRequestMap) error {
	if c.getErr != nil {
		return c.getErr
	}
	for _, e := range m {
		results := make([]tspb.KeyResult, len(e.Keys))
		for i, k := range e.Keys {
			results[i] = c.statusFn(k)
		}
		e.Result = tspb.GetDataResult{Results: results}
	}
	return nil
}

func (c *fakeClient) PerformGetAsync(ctx context.Context, host string, entry *tsnet.HostGetEntry) (tspb.GetDataResult, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.getErr != nil {
		return tspb.GetDataResult{}, c.getErr
	}
	results := make([]tspb.KeyResult, len(entry.Keys))
	for i, k := range entry.Keys {
		results[i] = c.statusFn(k)
	}
	return tspb.GetDataResult{Results: results}, nil
}

func (c *fakeClient) PerformPut(ctx context.Context, m tsnet.PutRequestMap) ([]tspb.DataPoint, error) {
	return nil, nil
}

func (c *fakeClient) PerformScanShard(ctx context.Context, host string, req tspb.ScanShardRequest) (tspb.ScanShardResult, error) {
	if c.scanErr != nil {
		return tspb.ScanShardResult{}, c.scanErr
	}
	return c.scanFn(req), nil
}

func (c *fakeClient) GetHostForScanShard(req tspb.ScanShardRequest) (string, bool) {
	if c.noScanHost {
		return "", false
	}
	return "host0", true
}

func (c *fakeClient) InvalidateCache(shardIDs []int64) {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, shardIDs...)
	c.mu.Unlock()
}

func (c *fakeClient) ServiceName() string { return c.service }
func (c *fakeClient) NumShards() int64    { return c.shards }

func (c *fakeClient) IsCorrespondingService(name string) bool { return name == c.service }

func (c *fakeClient) StopRequests() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *fakeClient) GetLastUpdateTimes(
	ctx context.Context,
	minLastUpdateTime int64,
	maxKeysPerRequest int,
	timeout time.Duration,
	callback func([]tspb.KeyUpdateTime) bool,
) error {
	callback([]tspb.KeyUpdateTime{{Key: "k", UpdateTime: minLastUpdateTime}})
	return nil
}

// fakeConfigAdapter is a minimal tsnet.ConfigurationAdapter stand-in.
type fakeConfigAdapter struct {
	readServices []string
	invalid      map[string]bool
	nearest      string
	nearestErr   error
}

func (a *fakeConfigAdapter) ReadServices() ([]string, error)   { return a.readServices, nil }
func (a *fakeConfigAdapter) WriteServices() ([]string, error)  { return nil, nil }
func (a *fakeConfigAdapter) ShadowServices() ([]string, error) { return nil, nil }

func (a *fakeConfigAdapter) NearestReadService() (string, error) {
	if a.nearestErr != nil {
		return "", a.nearestErr
	}
	return a.nearest, nil
}

func (a *fakeConfigAdapter) IsValidReadService(name string) bool {
	return !a.invalid[name]
}
