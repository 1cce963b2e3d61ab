// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tswrite implements the write side of the client: WritePipeline
// (producer queue -> per-host batching -> network put -> classify and
// retry-enqueue drops) and RetryPump (delayed resend of previously
// dropped points). Grounded on
// original_source/beringei/client/BeringeiClientImpl.cpp's
// writeDataPointsForever/retryThread and on
// _examples/other_examples/blastbao-prometheus__queue_manager.go's
// shard-worker/backoff idiom, which is the closest pack analogue of a
// bounded-queue writer pool that sleeps when shallow.
package tswrite

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
	"github.com/HuliSystems/beringei/pkg/tsqueue"
)

// Config holds the per-pipeline tunables of spec §4.2/§4.3. DefaultConfig
// returns one with every field set; NewWritePipeline uses the Config it is
// given as is and does not fill in zero-value fields.
type Config struct {
	Workers int

	// MaxRetryBatchSize bounds how many points a single worker iteration
	// will accumulate into local_dropped before giving up on the current
	// queue.pop call (kMaxRetryBatchSize in the original, default 10000).
	MaxRetryBatchSize int

	// MinQueueSize and SleepPerPut implement the "sleep to batch larger"
	// backoff of spec §4.2 step 7: once the queue drops below
	// MinQueueSize points, a worker that just finished a put sleeps
	// SleepPerPut before looping, giving producers a chance to build up a
	// bigger batch.
	MinQueueSize int64
	SleepPerPut  time.Duration

	// RetryDelay is added to now() to compute a dropped batch's
	// earliestSendTime (default 55s, chosen in the original to stay under
	// a one-minute storage bucket boundary).
	RetryDelay time.Duration

	// Shadow marks a write-only region whose drops and errors are not
	// counted against write availability (spec §4.2, "Shadow regions").
	// The pipeline runs the same way and still enqueues its drops for
	// retry; only the globalMetrics.RetryQueueWriteFailures counter and
	// log severity are suppressed for this region, so a struggling
	// shadow region never skews the alerting signal production regions
	// share.
	Shadow bool
}

// DefaultConfig returns the tunables from original_source's named
// constants/flags: kMaxRetryBatchSize=10000, kMinQueueSize=10,
// sleepPerPutUs=100ms, FLAGS_gorilla_retry_delay_secs=55. Production
// clients (tsclient.DefaultConfig) override MinQueueSize with
// FLAGS_gorilla_min_queue_size=100 instead; this package's default of 10
// is kMinQueueSize, a distinct, smaller constant, and is only exercised by
// this package's own tests.
func DefaultConfig(workers int) Config {
	return Config{
		Workers:           workers,
		MaxRetryBatchSize: 10000,
		MinQueueSize:      10,
		SleepPerPut:       100 * time.Millisecond,
		RetryDelay:        55 * time.Second,
	}
}

// WritePipeline drives Config.Workers worker goroutines pulling batches
// off queue, grouping them per host via client, and sending drops to
// retryQueue for a RetryPump to resend later.
type WritePipeline struct {
	client        tsnet.NetworkClient
	queue         *tsqueue.BoundedPointQueue
	retryQueue    *tsqueue.RetryQueue
	metrics       *tsmetrics.RegionMetrics
	globalMetrics *tsmetrics.GlobalMetrics
	logger        *zap.Logger
	cfg           Config

	wg sync.WaitGroup
}

// NewWritePipeline builds a WritePipeline. It does not start any workers;
// call Start.
func NewWritePipeline(
	client tsnet.NetworkClient,
	queue *tsqueue.BoundedPointQueue,
	retryQueue *tsqueue.RetryQueue,
	metrics *tsmetrics.RegionMetrics,
	globalMetrics *tsmetrics.GlobalMetrics,
	logger *zap.Logger,
	cfg Config,
) *WritePipeline {
	return &WritePipeline{
		client:        client,
		queue:         queue,
		retryQueue:    retryQueue,
		metrics:       metrics,
		globalMetrics: globalMetrics,
		logger:        logger,
		cfg:           cfg,
	}
}

// Client returns the NetworkClient this pipeline writes through, so a
// caller assembling several pipelines (tsclient.Client) can reach
// operations WritePipeline itself doesn't wrap, like StopRequests and
// NumShards.
func (p *WritePipeline) Client() tsnet.NetworkClient {
	return p.client
}

// Push enqueues batch onto this pipeline's queue. Returns false if the
// queue is at capacity; the caller owns batch on rejection.
func (p *WritePipeline) Push(batch []tspb.DataPoint) bool {
	if p.queue.Push(batch) {
		p.metrics.Enqueued.Inc(int64(len(batch)))
		return true
	}
	p.metrics.EnqueueDropped.Inc(int64(len(batch)))
	return false
}

// Start launches Config.Workers worker goroutines.
func (p *WritePipeline) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
}

// Stop enqueues one drain sentinel per worker (I5) and waits for all of
// them to exit.
func (p *WritePipeline) Stop() {
	p.queue.Flush(p.cfg.Workers)
	p.wg.Wait()
}

// workerLoop is the single-thread loop of spec §4.2: build a per-host
// request map from one queue.pop, send it, classify drops, and enqueue
// them for retry.
func (p *WritePipeline) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		m := make(tsnet.PutRequestMap)
		var localDropped []tspb.DataPoint
		var total int

		alive, count := p.queue.Pop(ctx, func(dp tspb.DataPoint) bool {
			total++
			ok, dropped := p.client.AddDataPointToRequest(dp, m)
			if dropped {
				localDropped = append(localDropped, dp)
			}
			if !ok {
				return false
			}
			return len(localDropped) < p.cfg.MaxRetryBatchSize
		})
		if !alive && count == 0 {
			return
		}
		if count == 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		start := time.Now()
		remoteDropped, err := p.client.PerformPut(ctx, m)
		p.metrics.UsPerPut.Record(time.Since(start))
		if err != nil {
			if p.cfg.Shadow {
				p.logger.Debug("write put RPC failed on shadow region", zap.Error(err))
			} else {
				p.logger.Error("write put RPC failed", zap.Error(err))
			}
		}

		dropped := append(localDropped, remoteDropped...)
		p.metrics.Put.Inc(int64(total - len(dropped)))

		if len(dropped) > 0 {
			p.metrics.PutDropped.Inc(int64(len(dropped)))
			op := tsqueue.RetryOperation{
				Client:           p.client,
				Points:           dropped,
				EarliestSendTime: time.Now().Add(p.cfg.RetryDelay),
			}
			if p.retryQueue.Enqueue(op) {
				p.metrics.PutRetry.Inc(int64(len(dropped)))
			} else {
				if !p.cfg.Shadow {
					p.globalMetrics.RetryQueueWriteFailures.Inc(1)
				}
				p.logger.Warn("retry queue full, dropping batch",
					zap.Int("points", len(dropped)), zap.Bool("shadow", p.cfg.Shadow))
			}
		}

		// A drain sentinel that followed drained batches: they have been
		// sent above, so exit now.
		if !alive {
			return
		}

		size := p.queue.Size()
		p.metrics.QueueSize.Update(float64(size))
		if size < p.cfg.MinQueueSize {
			time.Sleep(p.cfg.SleepPerPut)
		}
	}
}
