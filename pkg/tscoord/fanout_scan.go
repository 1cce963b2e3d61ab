// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscoord

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

// ScanShard implements the sequential whole-shard scan path: regions are
// tried in order until one produces OK or data-bearing output, merging
// every attempt's result via the same status ladder as GetSequential so a
// caller in non-strict mode still gets the best partial answer seen.
func (f *ReadFanout) ScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) (tspb.ScanShardResult, error) {
	clients, names, err := f.regionsForOverride(serviceOverride)
	if err != nil {
		return tspb.ScanShardResult{}, err
	}

	var best tspb.ScanShardResult
	for i, client := range clients {
		if i > 0 {
			f.metrics.ReadFailover.Inc(1)
			f.logger.Info("falling over scan to next read region", zap.String("region", names[i]))
		}
		host, ok := client.GetHostForScanShard(req)
		if !ok {
			f.logger.Warn("no host owns shard for scan", zap.String("region", names[i]), zap.Int64("shard", req.ShardID))
			continue
		}
		res, err := client.PerformScanShard(ctx, host, req)
		if err != nil {
			f.logger.Error("scan shard RPC failed", zap.String("region", names[i]), zap.Error(err))
			continue
		}
		if res.Status == tspb.StatusBucketNotFinalized {
			f.logger.Error("server reported an unfinalized bucket",
				zap.String("region", names[i]), zap.Int64("shard", req.ShardID))
			return tspb.ScanShardResult{}, tspb.ErrBucketNotFinalized
		}
		if tspb.Dominates(res.Status, res.HasData(), best.Status, best.HasData()) {
			best = res
		}
		if res.Status == tspb.StatusOK || res.HasData() {
			return best, nil
		}
	}

	if f.strict && best.Status != tspb.StatusOK && !best.HasData() {
		return best, errors.New("tscoord: shard scan failed against every configured region")
	}
	return best, nil
}

// ScanShardFuture is a handle to an in-flight parallel scan.
type ScanShardFuture struct {
	ch chan scanFutureResult
}

type scanFutureResult struct {
	result tspb.ScanShardResult
	err    error
}

// Get blocks until the scan resolves or ctx is done.
func (s *ScanShardFuture) Get(ctx context.Context) (tspb.ScanShardResult, error) {
	select {
	case r := <-s.ch:
		return r.result, r.err
	case <-ctx.Done():
		return tspb.ScanShardResult{}, ctx.Err()
	}
}

// FutureScanShard fans req out across every current read region (or just
// serviceOverride) in parallel, spec §4.5's parallelScanShard mode.
func (f *ReadFanout) FutureScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) *ScanShardFuture {
	future := &ScanShardFuture{ch: make(chan scanFutureResult, 1)}
	go func() {
		future.ch <- f.doParallelScanShard(ctx, req, serviceOverride)
	}()
	return future
}

// ParallelScanShard is the blocking form of FutureScanShard.
func (f *ReadFanout) ParallelScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) (tspb.ScanShardResult, error) {
	r := f.doParallelScanShard(ctx, req, serviceOverride)
	return r.result, r.err
}

func (f *ReadFanout) doParallelScanShard(ctx context.Context, req tspb.ScanShardRequest, serviceOverride string) scanFutureResult {
	clients, names, err := f.regionsForOverride(serviceOverride)
	if err != nil {
		return scanFutureResult{err: err}
	}

	collector := NewScanShardResultCollector(len(clients))

	var wg sync.WaitGroup
	oneComplete := make(chan struct{})
	var oneCompleteOnce sync.Once
	allDone := make(chan struct{})

	for regionID, client := range clients {
		wg.Add(1)
		go func(regionID int, region string, client tsnet.NetworkClient) {
			defer wg.Done()
			host, ok := client.GetHostForScanShard(req)
			if !ok {
				f.logger.Warn("no host owns shard for parallel scan", zap.String("region", region), zap.Int64("shard", req.ShardID))
				return
			}
			res, err := client.PerformScanShard(ctx, host, req)
			if err != nil {
				f.logger.Error("parallel scan shard RPC failed", zap.String("region", region), zap.Error(err))
				return
			}
			if collector.AddResult(res, regionID) {
				oneCompleteOnce.Do(func() { close(oneComplete) })
			}
		}(regionID, names[regionID], client)
	}

	go func() {
		wg.Wait()
		close(allDone)
	}()

	select {
	case <-oneComplete:
		select {
		case <-time.After(f.networkTimeout):
		case <-allDone:
		case <-ctx.Done():
		}
	case <-allDone:
	case <-ctx.Done():
	}

	result, err := collector.Finalize(f.strict, names)
	return scanFutureResult{result: result, err: err}
}

// GetLastUpdateTimes delegates to the resolved region's NetworkClient,
// picking serviceOverride when given, else the first region in the
// current snapshot (spec §4.6).
func (f *ReadFanout) GetLastUpdateTimes(
	ctx context.Context,
	serviceOverride string,
	minLastUpdateTime int64,
	maxKeysPerRequest int,
	timeout time.Duration,
	callback func([]tspb.KeyUpdateTime) bool,
) error {
	clients, _, err := f.regionsForOverride(serviceOverride)
	if err != nil {
		return err
	}
	return clients[0].GetLastUpdateTimes(ctx, minLastUpdateTime, maxKeysPerRequest, timeout, callback)
}
