// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tsclient

import (
	"context"
	"sync"
	"time"

	"github.com/m3db/prometheus_client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

// fakeClient is a minimal tsnet.NetworkClient usable as both a read and a
// write region.
type fakeClient struct {
	mu sync.Mutex

	service string
	shards  int64

	statusFn func(k tspb.Key) tspb.KeyResult
	dropAll  bool

	putCalls int
	putPoints []tspb.DataPoint
	stopped   bool
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
	for _, e := range m {
		results := make([]tspb.KeyResult, len(e.Keys))
		for i, k := range e.Keys {
			if c.statusFn != nil {
				results[i] = c.statusFn(k)
			} else {
				results[i] = tspb.KeyResult{Status: tspb.StatusOK, Data: [][]byte{[]byte("v")}}
			}
		}
		e.Result = tspb.GetDataResult{Results: results}
	}
	return nil
}

func (c *fakeClient) PerformGetAsync(ctx context.Context, host string, entry *tsnet.HostGetEntry) (tspb.GetDataResult, error) {
	results := make([]tspb.KeyResult, len(entry.Keys))
	for i, k := range entry.Keys {
		if c.statusFn != nil {
			results[i] = c.statusFn(k)
		} else {
			results[i] = tspb.KeyResult{Status: tspb.StatusOK, Data: [][]byte{[]byte("v")}}
		}
	}
	return tspb.GetDataResult{Results: results}, nil
}

func (c *fakeClient) PerformPut(ctx context.Context, m tsnet.PutRequestMap) ([]tspb.DataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putCalls++
	var dropped []tspb.DataPoint
	for _, e := range m {
		c.putPoints = append(c.putPoints, e.Points...)
		if c.dropAll {
			dropped = append(dropped, e.Points...)
		}
	}
	return dropped, nil
}

func (c *fakeClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putCalls
}

func (c *fakeClient) PerformScanShard(ctx context.Context, host string, req tspb.ScanShardRequest) (tspb.ScanShardResult, error) {
	return tspb.ScanShardResult{Status: tspb.StatusOK, Data: [][]byte{[]byte("v")}}, nil
}

func (c *fakeClient) GetHostForScanShard(req tspb.ScanShardRequest) (string, bool) { return "host0", true }
func (c *fakeClient) InvalidateCache(shardIDs []int64)                             {}
func (c *fakeClient) ServiceName() string                                         { return c.service }
func (c *fakeClient) NumShards() int64                                            { return c.shards }
func (c *fakeClient) IsCorrespondingService(name string) bool                     { return name == c.service }

func (c *fakeClient) StopRequests() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

func (c *fakeClient) GetLastUpdateTimes(
	ctx context.Context, minLastUpdateTime int64, maxKeysPerRequest int, timeout time.Duration,
	callback func([]tspb.KeyUpdateTime) bool,
) error {
	callback([]tspb.KeyUpdateTime{{Key: "k", UpdateTime: minLastUpdateTime}})
	return nil
}

// fakeConfigAdapter is a minimal tsnet.ConfigurationAdapter stand-in.
type fakeConfigAdapter struct {
	read    []string
	write   []string
	shadow  []string
	invalid map[string]bool
	nearest string
}

func (a *fakeConfigAdapter) ReadServices() ([]string, error)   { return a.read, nil }
func (a *fakeConfigAdapter) WriteServices() ([]string, error)  { return a.write, nil }
func (a *fakeConfigAdapter) ShadowServices() ([]string, error) { return a.shadow, nil }
func (a *fakeConfigAdapter) NearestReadService() (string, error) { return a.nearest, nil }
func (a *fakeConfigAdapter) IsValidReadService(name string) bool { return !a.invalid[name] }

func newTestMetricsRegistry() *tsmetrics.Registry {
	return tsmetrics.New(prometheus.NewRegistry())
}

func testLogger() *zap.Logger { return zap.NewNop() }
