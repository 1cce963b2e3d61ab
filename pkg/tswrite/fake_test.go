// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tswrite

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

// fakeWriteClient is a minimal tsnet.NetworkClient stand-in for exercising
// WritePipeline and RetryPump.
type fakeWriteClient struct {
	mu sync.Mutex

	// dropAllRemote, when true, makes PerformPut report every point in the
	// request map as remote-dropped.
	dropAllRemote bool
	putCalls      int
	putPoints     []tspb.DataPoint
}

func (c *fakeWriteClient) AddKeyToGetRequest(tspb.Key, int, tsnet.GetRequestMap) {}

func (c *fakeWriteClient) AddDataPointToRequest(dp tspb.DataPoint, m tsnet.PutRequestMap) (bool, bool) {
	e, ok := m["host0"]
	if !ok {
		e = &tsnet.HostPutEntry{}
		m["host0"] = e
	}
	e.Points = append(e.Points, dp)
	return true, false
}

func (c *fakeWriteClient) PerformGet(context.Context, tsnet.GetRequestMap) error { return nil }
func (c *fakeWriteClient) PerformGetAsync(context.Context, string, *tsnet.HostGetEntry) (tspb.GetDataResult, error) {
	return tspb.GetDataResult{}, nil
}

func (c *fakeWriteClient) PerformPut(ctx context.Context, m tsnet.PutRequestMap) ([]tspb.DataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putCalls++
	var dropped []tspb.DataPoint
	for _, e := range m {
		c.putPoints = append(c.putPoints, e.Points...)
		if c.dropAllRemote {
			dropped = append(dropped, e.Points...)
		}
	}
	return dropped, nil
}

func (c *fakeWriteClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putCalls
}

func (c *fakeWriteClient) pointsPut() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.putPoints)
}

func (c *fakeWriteClient) PerformScanShard(context.Context, string, tspb.ScanShardRequest) (tspb.ScanShardResult, error) {
	return tspb.ScanShardResult{}, nil
}
func (c *fakeWriteClient) GetHostForScanShard(tspb.ScanShardRequest) (string, bool) { return "", false }
func (c *fakeWriteClient) InvalidateCache([]int64)                                 {}
func (c *fakeWriteClient) ServiceName() string                                     { return "w0" }
func (c *fakeWriteClient) NumShards() int64                                        { return 1 }
func (c *fakeWriteClient) IsCorrespondingService(name string) bool                 { return name == "w0" }
func (c *fakeWriteClient) StopRequests()                                          {}
func (c *fakeWriteClient) GetLastUpdateTimes(context.Context, int64, int, time.Duration, func([]tspb.KeyUpdateTime) bool) error {
	return nil
}

func newTestRegionMetrics() (*tsmetrics.RegionMetrics, *tsmetrics.GlobalMetrics) {
	reg := tsmetrics.New(prometheus.NewRegistry())
	return reg.RegionMetrics("w0"), reg.GlobalMetrics()
}

func testLogger() *zap.Logger { return zap.NewNop() }
