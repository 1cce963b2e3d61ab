// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

func newTestFactory(clients map[string]*fakeClient) tsnet.NetworkClientFactory {
	return func(service string, shadow bool) (tsnet.NetworkClient, error) {
		c, ok := clients[service]
		if !ok {
			c = &fakeClient{service: service, shards: 4}
			clients[service] = c
		}
		return c, nil
	}
}

func TestNewReaderOnlyBuildsNoPipelines(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{read: []string{"r1", "r2"}}
	cfg := DefaultConfig()
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.Empty(t, c.pipelines)
	require.Equal(t, int64(0), c.GetNumShardsFromWriteClient())
	require.Equal(t, int64(4), c.GetMaxNumShards())
}

func TestNewWithWritersBuildsOnePipelinePerRegionIncludingShadow(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{
		read:   []string{"r1"},
		write:  []string{"w1", "w2"},
		shadow: []string{"s1"},
	}
	cfg := DefaultConfig()
	cfg.WriterThreads = 2
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.Len(t, c.pipelines, 3)
	require.ElementsMatch(t, []string{"w1", "w2", "s1"}, c.writeNames)
	require.Equal(t, int64(4), c.GetNumShardsFromWriteClient())
}

func TestClientPutFansOutAcrossAllWriteRegions(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{
		read:  []string{"r1"},
		write: []string{"w1", "w2"},
	}
	cfg := DefaultConfig()
	cfg.WriterThreads = 1
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	batch := []tspb.DataPoint{{Key: tspb.Key{KeyName: "k1"}, Timestamp: 1, Value: 1}}
	require.True(t, c.Put(batch))

	require.Eventually(t, func() bool {
		return clients["w1"].calls() > 0 && clients["w2"].calls() > 0
	}, time.Second, time.Millisecond)
}

func TestClientPutReturnsFalseWhenReaderOnly(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{read: []string{"r1"}}
	cfg := DefaultConfig()
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.False(t, c.Put([]tspb.DataPoint{{Key: tspb.Key{KeyName: "k1"}, Timestamp: 1, Value: 1}}))
}

// Get's legacy contract rewrites req.Keys to the accepted-order keys
// returned by the sequential fanout.
func TestClientGetRewritesRequestKeysToAcceptedOrder(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{read: []string{"r1"}}
	cfg := DefaultConfig()
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	req := &tspb.GetDataRequest{Keys: []tspb.Key{{KeyName: "a"}, {KeyName: "b"}}}
	result, err := c.Get(context.Background(), req, "")
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	require.Equal(t, []tspb.Key{{KeyName: "a"}, {KeyName: "b"}}, req.Keys)
}

func TestClientGetParallelResolvesFromSingleRegion(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{read: []string{"r1"}}
	cfg := DefaultConfig()
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	result, err := c.GetParallel(context.Background(), tspb.GetDataRequest{Keys: []tspb.Key{{KeyName: "a"}}}, "")
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	require.Equal(t, tspb.StatusOK, result.Results[0].Status)
}

func TestClientScanShardBranchesOnParallelConfig(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{read: []string{"r1", "r2"}}
	cfg := DefaultConfig()
	cfg.ReadServicesUpdateInterval = 0
	cfg.ParallelScanShard = true

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	result, err := c.ScanShard(context.Background(), tspb.ScanShardRequest{ShardID: 1}, "")
	require.NoError(t, err)
	require.Equal(t, tspb.StatusOK, result.Status)
}

func TestClientFlushQueueDrainsAndRestartsWorkers(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{
		read:  []string{"r1"},
		write: []string{"w1"},
	}
	cfg := DefaultConfig()
	cfg.WriterThreads = 1
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	require.True(t, c.Put([]tspb.DataPoint{{Key: tspb.Key{KeyName: "k1"}, Timestamp: 1, Value: 1}}))
	require.Eventually(t, func() bool {
		return clients["w1"].calls() > 0
	}, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.FlushQueue(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FlushQueue did not return")
	}

	// Workers must still accept pushes after restart.
	require.True(t, c.Put([]tspb.DataPoint{{Key: tspb.Key{KeyName: "k2"}, Timestamp: 2, Value: 2}}))
}

func TestClientStopRequestsReachesReadersAndWriters(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{
		read:  []string{"r1"},
		write: []string{"w1"},
	}
	cfg := DefaultConfig()
	cfg.WriterThreads = 1
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()
	defer reg.Close()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)
	defer c.Close(context.Background())

	c.StopRequests()

	require.True(t, clients["r1"].stopped)
	require.True(t, clients["w1"].stopped)
}

func TestClientCloseStopsPipelinesAndIsUsableOnce(t *testing.T) {
	clients := map[string]*fakeClient{}
	adapter := &fakeConfigAdapter{
		read:  []string{"r1"},
		write: []string{"w1"},
	}
	cfg := DefaultConfig()
	cfg.WriterThreads = 1
	cfg.ReadServicesUpdateInterval = 0

	reg := newTestMetricsRegistry()

	c, err := New(context.Background(), cfg, adapter, newTestFactory(clients), reg, testLogger())
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
}
