// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tsclient

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HuliSystems/beringei/pkg/tscoord"
	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
	"github.com/HuliSystems/beringei/pkg/tsqueue"
	"github.com/HuliSystems/beringei/pkg/tswrite"
)

// Client is the public facade of spec §4.7, tying the read coordination
// layer (tscoord) and the write pipeline layer (tswrite) into the single
// object application code holds.
type Client struct {
	cfg Config

	configAdapter tsnet.ConfigurationAdapter
	factory       tsnet.NetworkClientFactory

	registry *tscoord.ReadRegistry
	fanout   *tscoord.ReadFanout

	logger        *zap.Logger
	metricsReg    *tsmetrics.Registry
	globalMetrics *tsmetrics.GlobalMetrics

	writeMu    sync.Mutex
	writeNames []string
	pipelines  []*tswrite.WritePipeline

	retryQueue *tsqueue.RetryQueue
	retryPump  *tswrite.RetryPump

	cancel context.CancelFunc
}

// New builds and starts a Client: it resolves the initial read and write
// region sets, starts every WritePipeline's workers, starts the shared
// RetryPump, and (if cfg.ReadServicesUpdateInterval is positive) launches
// the periodic read-region refresh. Callers must call Close when done.
func New(
	ctx context.Context,
	cfg Config,
	configAdapter tsnet.ConfigurationAdapter,
	factory tsnet.NetworkClientFactory,
	metricsReg *tsmetrics.Registry,
	logger *zap.Logger,
) (*Client, error) {
	globalMetrics := metricsReg.GlobalMetrics()

	registry := tscoord.NewReadRegistry(factory, configAdapter, globalMetrics, logger)
	if err := registry.Update(); err != nil {
		return nil, errors.Wrap(err, "tsclient: initial read region update")
	}

	fanout := tscoord.NewReadFanout(
		registry, configAdapter, factory, globalMetrics, logger,
		cfg.ThrowOnTransientFailure, cfg.NetworkTimeout, cfg.CompareReads, cfg.CompareEpsilon,
	)

	runCtx, cancel := context.WithCancel(ctx)

	c := &Client{
		cfg:           cfg,
		configAdapter: configAdapter,
		factory:       factory,
		registry:      registry,
		fanout:        fanout,
		logger:        logger,
		metricsReg:    metricsReg,
		globalMetrics: globalMetrics,
		retryQueue:    tsqueue.NewRetryQueue(cfg.RetryQueueCapacity),
		cancel:        cancel,
	}

	if cfg.WriterThreads > 0 {
		if err := c.buildWritePipelines(runCtx); err != nil {
			cancel()
			return nil, err
		}
	}

	c.retryPump = tswrite.NewRetryPump(c.retryQueue, globalMetrics, logger, cfg.RetryThreshold)
	c.retryPump.Start(runCtx, c.cfg.WriteRetryThreads)

	registry.StartPeriodicUpdate(runCtx, cfg.ReadServicesUpdateInterval)

	return c, nil
}

func (c *Client) buildWritePipelines(ctx context.Context) error {
	writeServices, err := c.configAdapter.WriteServices()
	if err != nil {
		return errors.Wrap(err, "tsclient: listing write services")
	}
	shadowServices, err := c.configAdapter.ShadowServices()
	if err != nil {
		return errors.Wrap(err, "tsclient: listing shadow services")
	}
	shadow := make(map[string]bool, len(shadowServices))
	for _, s := range shadowServices {
		shadow[s] = true
	}

	itemCap := c.cfg.QueueCapacity
	pointCap := int64(c.cfg.QueueCapacity) * c.cfg.QueueSizeRatio

	for _, svc := range append(append([]string(nil), writeServices...), shadowServices...) {
		client, err := c.factory(svc, shadow[svc])
		if err != nil {
			return errors.Wrapf(err, "tsclient: building write client for %q", svc)
		}
		queue := tsqueue.NewBoundedPointQueue(itemCap, pointCap, itemCap)
		pipelineCfg := tswrite.Config{
			Workers:           c.cfg.WriterThreads,
			MaxRetryBatchSize: 10000,
			MinQueueSize:      c.cfg.MinQueueSize,
			SleepPerPut:       c.cfg.SleepPerPut,
			RetryDelay:        c.cfg.RetryDelay,
			Shadow:            shadow[svc],
		}
		pipeline := tswrite.NewWritePipeline(
			client, queue, c.retryQueue, c.metricsReg.RegionMetrics(svc), c.globalMetrics, c.logger, pipelineCfg,
		)
		pipeline.Start(ctx)

		c.writeNames = append(c.writeNames, svc)
		c.pipelines = append(c.pipelines, pipeline)
	}
	return nil
}

// Put fans points out across every write region: a copy is pushed to
// every region but the last, which receives the original slice (spec
// §4.2). Returns true iff at least one region accepted the batch.
func (c *Client) Put(points []tspb.DataPoint) bool {
	c.writeMu.Lock()
	pipelines := append([]*tswrite.WritePipeline(nil), c.pipelines...)
	c.writeMu.Unlock()

	if len(pipelines) == 0 {
		return false
	}

	var g errgroup.Group
	var mu sync.Mutex
	accepted := false
	for i, p := range pipelines {
		i, p := i, p
		batch := points
		if i != len(pipelines)-1 {
			batch = append([]tspb.DataPoint(nil), points...)
		}
		g.Go(func() error {
			if p.Push(batch) {
				mu.Lock()
				accepted = true
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return accepted
}

// Get is the legacy sequential form: it populates the returned result and
// rewrites req.Keys to the accepted-keys order, matching the original's
// mutate-in-place contract (spec §4.7, design note §9). The underlying
// engine (tscoord.ReadFanout.GetSequential) never mutates its input; this
// method performs the legacy side effect itself, on top of a clean core.
func (c *Client) Get(ctx context.Context, req *tspb.GetDataRequest, serviceOverride string) (tspb.GetDataResult, error) {
	result, acceptedOrder, err := c.fanout.GetSequential(ctx, *req, serviceOverride)
	if err != nil {
		return tspb.GetDataResult{}, err
	}
	req.Keys = acceptedOrder
	return result, nil
}

// GetParallel is the parallel form built on FutureGet (spec §4.7).
func (c *Client) GetParallel(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) (tspb.GetDataResult, error) {
	return c.fanout.Get(ctx, req, serviceOverride)
}

// FutureGet returns a handle to an in-flight parallel read.
func (c *Client) FutureGet(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) *tscoord.GetFuture {
	return c.fanout.FutureGet(ctx, req, serviceOverride)
}

// ScanShard dumps a whole shard, sequentially or in parallel depending on
// cfg.ParallelScanShard.
func (c *Client) ScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) (tspb.ScanShardResult, error) {
	if c.cfg.ParallelScanShard {
		return c.fanout.ParallelScanShard(ctx, req, serviceOverride)
	}
	return c.fanout.ScanShard(ctx, req, serviceOverride)
}

// FutureScanShard returns a handle to an in-flight parallel scan.
func (c *Client) FutureScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) *tscoord.ScanShardFuture {
	return c.fanout.FutureScanShard(ctx, req, serviceOverride)
}

// GetLastUpdateTimes delegates to a single read region.
func (c *Client) GetLastUpdateTimes(
	ctx context.Context,
	serviceOverride string,
	minLastUpdateTime int64,
	maxKeysPerRequest int,
	timeout time.Duration,
	callback func([]tspb.KeyUpdateTime) bool,
) error {
	return c.fanout.GetLastUpdateTimes(ctx, serviceOverride, minLastUpdateTime, maxKeysPerRequest, timeout, callback)
}

// StopRequests cancels outstanding RPCs on every currently known read and
// write client.
func (c *Client) StopRequests() {
	readClients, _ := c.registry.Snapshot()
	for _, rc := range readClients {
		rc.StopRequests()
	}
	c.writeMu.Lock()
	pipelines := append([]*tswrite.WritePipeline(nil), c.pipelines...)
	c.writeMu.Unlock()
	for _, p := range pipelines {
		p.Client().StopRequests()
	}
}

// FlushQueue drains every WritePipeline (one drain sentinel per worker,
// then join) and restarts its workers. Per the REDESIGN FLAGS fix for the
// original's writers-per-client integer-division bug, this never
// recomputes a worker count: each WritePipeline already carries its own
// original Config.Workers value from construction, so restart uses
// exactly the count the pipeline was built with.
func (c *Client) FlushQueue(ctx context.Context) {
	c.writeMu.Lock()
	pipelines := append([]*tswrite.WritePipeline(nil), c.pipelines...)
	c.writeMu.Unlock()

	var g errgroup.Group
	for _, p := range pipelines {
		p := p
		g.Go(func() error {
			p.Stop()
			p.Start(ctx)
			return nil
		})
	}
	_ = g.Wait()
}

// GetMaxNumShards reports the largest shard count among current read
// regions.
func (c *Client) GetMaxNumShards() int64 {
	return c.registry.MaxNumShards()
}

// GetNumShardsFromWriteClient reports the shard count of the first write
// region, or 0 if the client is reader-only.
func (c *Client) GetNumShardsFromWriteClient() int64 {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if len(c.pipelines) == 0 {
		return 0
	}
	return c.pipelines[0].Client().NumShards()
}

// Close stops every WritePipeline and the retry pump, cancels the
// periodic read-region refresh, and closes the metrics registry. ctx bounds
// the shutdown: if it expires before every worker has joined, Close returns
// ctx.Err() without waiting further (the workers keep draining in the
// background; Close does not leak goroutines, it only stops waiting for
// them).
func (c *Client) Close(ctx context.Context) error {
	c.cancel()

	c.writeMu.Lock()
	pipelines := append([]*tswrite.WritePipeline(nil), c.pipelines...)
	c.writeMu.Unlock()

	done := make(chan error, 1)
	go func() {
		for _, p := range pipelines {
			p.Stop()
		}
		c.retryPump.Stop(c.cfg.WriteRetryThreads)
		done <- c.metricsReg.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
