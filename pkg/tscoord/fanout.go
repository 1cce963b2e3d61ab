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

	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

// ReadFanout implements the two read strategies of spec §4.5: a parallel
// fan-out across every current read region racing to "one-complete" plus
// a grace window, and a sequential region-by-region fallback with
// same-region shard-cache-invalidation retry. Grounded on
// _examples/cockroachdb-cockroach/pkg/kv/kvclient/kvstreamer/streamer.go's
// budgeted-concurrent-subrequest model and on
// original_source/beringei/client/BeringeiClientImpl.cpp's futureGet /
// get methods, whose oneComplete-plus-grace-window rendezvous and
// same-region retry-after-cache-invalidation this reproduces faithfully.
type ReadFanout struct {
	registry      *ReadRegistry
	configAdapter tsnet.ConfigurationAdapter
	factory       tsnet.NetworkClientFactory
	metrics       *tsmetrics.GlobalMetrics
	logger        *zap.Logger

	// strict mirrors throwOnTransientFailure: when true, a read that never
	// resolves any region to OK-or-data returns an error instead of an
	// empty-slot result.
	strict bool
	// networkTimeout is the grace window a parallel fan-out waits after the
	// first region completes, to give straggling regions a chance to
	// contribute before a winner is declared (spec §4.5, P3).
	networkTimeout time.Duration

	// compareReads, when true, asynchronously diffs each region's answers
	// against the first region that answered the same key and logs
	// discrepancies beyond compareEpsilon; purely
	// diagnostic; never alters the returned result. Recovered from
	// original_source (FLAGS_gorilla_compare_reads / compare_epsilon).
	compareReads   bool
	compareEpsilon float64
}

// NewReadFanout builds a ReadFanout. networkTimeout of zero disables the
// post-one-complete grace window (the fan-out returns as soon as one
// region is fully covered).
func NewReadFanout(
	registry *ReadRegistry,
	configAdapter tsnet.ConfigurationAdapter,
	factory tsnet.NetworkClientFactory,
	metrics *tsmetrics.GlobalMetrics,
	logger *zap.Logger,
	strict bool,
	networkTimeout time.Duration,
	compareReads bool,
	compareEpsilon float64,
) *ReadFanout {
	return &ReadFanout{
		registry:       registry,
		configAdapter:  configAdapter,
		factory:        factory,
		metrics:        metrics,
		logger:         logger,
		strict:         strict,
		networkTimeout: networkTimeout,
		compareReads:   compareReads,
		compareEpsilon: compareEpsilon,
	}
}

// regionsForOverride resolves the region set a read should target:
// every current read region, unless serviceOverride names one specific
// region (by exact match in the current snapshot, or by building a
// one-off client for a valid-but-not-currently-configured service name).
func (f *ReadFanout) regionsForOverride(serviceOverride string) ([]tsnet.NetworkClient, []string, error) {
	clients, names := f.registry.Snapshot()
	if serviceOverride == "" {
		if len(clients) == 0 {
			return nil, nil, errors.New("tscoord: no read regions configured")
		}
		return clients, names, nil
	}

	for i, c := range clients {
		if c.IsCorrespondingService(serviceOverride) {
			return clients[i : i+1], names[i : i+1], nil
		}
	}

	if !f.configAdapter.IsValidReadService(serviceOverride) {
		f.metrics.BadReadServices.Inc(1)
		return nil, nil, errors.Newf("tscoord: %q is not a valid read service", serviceOverride)
	}
	c, err := f.factory(serviceOverride, false)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "tscoord: building client for overridden read service %q", serviceOverride)
	}
	return []tsnet.NetworkClient{c}, []string{serviceOverride}, nil
}

// getWithClient issues req against client and returns the per-key results
// aligned with req.Keys by index, grouping by destination host under the
// hood (spec §4.4's GetRequestMap machinery).
func (f *ReadFanout) getWithClient(ctx context.Context, client tsnet.NetworkClient, req tspb.GetDataRequest) (tspb.GetDataResult, error) {
	m := make(tsnet.GetRequestMap)
	for idx, k := range req.Keys {
		client.AddKeyToGetRequest(k, idx, m)
	}
	for _, entry := range m {
		entry.Begin, entry.End = req.Begin, req.End
	}
	if err := client.PerformGet(ctx, m); err != nil {
		return tspb.GetDataResult{}, err
	}

	out := make([]tspb.KeyResult, len(req.Keys))
	for _, entry := range m {
		for i, idx := range entry.Indices {
			if idx < 0 || idx >= len(out) || i >= len(entry.Result.Results) {
				continue
			}
			out[idx] = entry.Result.Results[i]
		}
	}
	for idx, kr := range out {
		if kr.Status == tspb.StatusBucketNotFinalized {
			f.logger.Error("server reported an unfinalized bucket",
				zap.String("region", client.ServiceName()), zap.Stringer("key", req.Keys[idx]))
			return tspb.GetDataResult{}, tspb.ErrBucketNotFinalized
		}
	}
	return tspb.GetDataResult{Results: out}, nil
}

type pendingKey struct {
	origIndex int
	key       tspb.Key
}

// classify decides whether kr should stop retries for its key (terminal)
// or be carried into the next retry round, and — when retried — whether
// the retry should go through the invalidate-cache-then-retry-same-region
// path (failed) or straight to the next region (partial). This reproduces
// original_source's dual collectInProgress/collectPartialData out-param
// split: StatusShardInProgress honors collectInProgress,
// StatusMissingTooMuchData honors collectPartialData, and — per DESIGN.md's
// Open Question #1 — both flags are reused unchanged for a same-region
// inner retry, not recomputed.
func classify(kr tspb.KeyResult, collectInProgress, collectPartialData bool) (terminal, failed bool) {
	switch kr.Status {
	case tspb.StatusOK, tspb.StatusKeyMissing:
		return true, false
	case tspb.StatusRPCFail, tspb.StatusStorageFail, tspb.StatusDontOwnShard:
		return false, true
	case tspb.StatusShardInProgress:
		return !collectInProgress, false
	case tspb.StatusMissingTooMuchData:
		return !collectPartialData, false
	default:
		return true, false
	}
}

// GetSequential implements the sequential fallback read path (spec §4.5):
// regions are tried one at a time in order, a same-region retry follows
// shard-cache invalidation for routing/transport failures, and unresolved
// keys carry forward to the next region. acceptedKeys lists, in the order
// they were resolved, the keys that GetSequential itself found an answer
// for — offered so ClientFacade's legacy get(request, out_result) entry
// point can reproduce the original's request.Keys-reordering contract
// without this engine mutating its caller's input (spec design note §9).
func (f *ReadFanout) GetSequential(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) (tspb.GetDataResult, []tspb.Key, error) {
	clients, names, err := f.regionsForOverride(serviceOverride)
	if err != nil {
		return tspb.GetDataResult{}, nil, err
	}

	origShard := make(map[string]int64, len(req.Keys))
	for _, k := range req.Keys {
		origShard[k.KeyName] = k.ShardID
	}

	slots := make([]tspb.KeyResult, len(req.Keys))
	var acceptedOrder []tspb.Key
	pending := make([]pendingKey, len(req.Keys))
	for i, k := range req.Keys {
		pending[i] = pendingKey{origIndex: i, key: k}
	}

	merge := func(p pendingKey, kr tspb.KeyResult) {
		if tspb.Dominates(kr.Status, kr.HasData(), slots[p.origIndex].Status, slots[p.origIndex].HasData()) {
			slots[p.origIndex] = kr
		}
	}

	for i, client := range clients {
		if len(pending) == 0 {
			break
		}
		if i > 0 {
			f.metrics.ReadFailover.Inc(1)
			f.logger.Info("falling over to next read region", zap.String("region", names[i]))
		}
		lastIteration := i == len(clients)-1
		collectInProgress := f.strict || !lastIteration
		collectPartialData := !lastIteration

		keys := make([]tspb.Key, len(pending))
		for j, p := range pending {
			keys[j] = p.key
		}
		res, err := f.getWithClient(ctx, client, tspb.GetDataRequest{Keys: keys, Begin: req.Begin, End: req.End})
		if err != nil {
			return tspb.GetDataResult{}, nil, err
		}

		var failedPending, nextRound []pendingKey
		for j, p := range pending {
			kr := res.Results[j]
			merge(p, kr)
			terminal, failed := classify(kr, collectInProgress, collectPartialData)
			switch {
			case terminal && (kr.Status == tspb.StatusOK || kr.HasData() || kr.Status == tspb.StatusKeyMissing):
				if kr.Status == tspb.StatusOK || kr.HasData() {
					acceptedOrder = append(acceptedOrder, p.key)
				}
			case failed:
				failedPending = append(failedPending, p)
			default:
				nextRound = append(nextRound, p)
			}
		}

		if len(failedPending) > 0 {
			shardIDs := make([]int64, 0, len(failedPending))
			for _, p := range failedPending {
				shardIDs = append(shardIDs, p.key.ShardID)
			}
			client.InvalidateCache(shardIDs)

			innerKeys := make([]tspb.Key, len(failedPending))
			for j, p := range failedPending {
				innerKeys[j] = p.key
			}
			innerRes, err := f.getWithClient(ctx, client, tspb.GetDataRequest{Keys: innerKeys, Begin: req.Begin, End: req.End})
			if err != nil {
				return tspb.GetDataResult{}, nil, err
			}
			for j, p := range failedPending {
				kr := innerRes.Results[j]
				merge(p, kr)
				terminal, failed := classify(kr, collectInProgress, collectPartialData)
				switch {
				case terminal && (kr.Status == tspb.StatusOK || kr.HasData()):
					acceptedOrder = append(acceptedOrder, p.key)
				case terminal:
					// StatusKeyMissing: never retried.
				default:
					_ = failed // second-round routing failures are surrendered, not retried a third time
					nextRound = append(nextRound, p)
				}
			}
		}

		if len(nextRound) == 0 {
			pending = nil
			break
		}
		if lastIteration && f.strict {
			return tspb.GetDataResult{}, nil, errors.New("tscoord: read failed against every configured region")
		}
		for j := range nextRound {
			if orig, ok := origShard[nextRound[j].key.KeyName]; ok {
				nextRound[j].key.ShardID = orig
			}
		}
		pending = nextRound
	}

	return tspb.GetDataResult{Results: slots}, acceptedOrder, nil
}

// GetFuture is a handle to an in-flight parallel read, mirroring the
// original's futureGet.
type GetFuture struct {
	ch chan getFutureResult
}

type getFutureResult struct {
	result tspb.GetDataResult
	err    error
}

// Get blocks until the read resolves or ctx is done.
func (g *GetFuture) Get(ctx context.Context) (tspb.GetDataResult, error) {
	select {
	case r := <-g.ch:
		return r.result, r.err
	case <-ctx.Done():
		return tspb.GetDataResult{}, ctx.Err()
	}
}

// FutureGet fans req out across every current read region (or just
// serviceOverride) in parallel and returns a future that resolves once one
// region has answered every key and the networkTimeout grace window has
// elapsed (or every region has replied, whichever is first) — spec §4.5,
// P3.
func (f *ReadFanout) FutureGet(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) *GetFuture {
	future := &GetFuture{ch: make(chan getFutureResult, 1)}
	go func() {
		future.ch <- f.doParallelGet(ctx, req, serviceOverride)
	}()
	return future
}

// Get is the blocking parallel read: equivalent to FutureGet followed
// immediately by Get(ctx).
func (f *ReadFanout) Get(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) (tspb.GetDataResult, error) {
	r := f.doParallelGet(ctx, req, serviceOverride)
	return r.result, r.err
}

func (f *ReadFanout) doParallelGet(ctx context.Context, req tspb.GetDataRequest, serviceOverride string) getFutureResult {
	clients, names, err := f.regionsForOverride(serviceOverride)
	if err != nil {
		return getFutureResult{err: err}
	}

	collector := NewGetResultCollector(len(req.Keys), len(clients))
	var cmp *readComparator
	if f.compareReads {
		cmp = newReadComparator(len(req.Keys), len(clients))
	}

	var wg sync.WaitGroup
	oneComplete := make(chan struct{})
	var oneCompleteOnce sync.Once
	allDone := make(chan struct{})

	for regionID, client := range clients {
		m := make(tsnet.GetRequestMap)
		for idx, k := range req.Keys {
			client.AddKeyToGetRequest(k, idx, m)
		}
		for _, entry := range m {
			entry.Begin, entry.End = req.Begin, req.End
		}
		for host, entry := range m {
			wg.Add(1)
			go func(regionID int, region string, client tsnet.NetworkClient, host string, entry *tsnet.HostGetEntry) {
				defer wg.Done()
				res, err := client.PerformGetAsync(ctx, host, entry)
				if err != nil {
					f.logger.Error("parallel read RPC failed",
						zap.String("region", region), zap.String("host", host), zap.Error(err))
					return
				}
				if cmp != nil {
					cmp.record(regionID, entry.Indices, res)
				}
				if collector.AddResults(res, entry.Indices, regionID) {
					oneCompleteOnce.Do(func() { close(oneComplete) })
				}
			}(regionID, names[regionID], client, host, entry)
		}
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

	if cmp != nil {
		go cmp.logDiscrepancies(f.logger, names, f.compareEpsilon)
	}

	return getFutureResult{result: result, err: err}
}
