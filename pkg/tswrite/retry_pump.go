// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tswrite

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tsmetrics"
	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tsqueue"
)

// RetryThreshold is the staleness cutoff past which a dropped batch is no
// longer worth resending (spec §4.3, default 30s:
// FLAGS_gorilla_retry_threshold_secs in original_source).
const RetryThreshold = 30 * time.Second

// RetryPump drains a RetryQueue, honoring each operation's
// earliestSendTime before resending it once. A second-round failure is
// surrendered, never re-enqueued (spec §4.3 step 7).
type RetryPump struct {
	queue          *tsqueue.RetryQueue
	globalMetrics  *tsmetrics.GlobalMetrics
	logger         *zap.Logger
	retryThreshold time.Duration

	wg sync.WaitGroup
}

// NewRetryPump builds a RetryPump. retryThreshold of zero uses
// RetryThreshold.
func NewRetryPump(queue *tsqueue.RetryQueue, globalMetrics *tsmetrics.GlobalMetrics, logger *zap.Logger, retryThreshold time.Duration) *RetryPump {
	if retryThreshold <= 0 {
		retryThreshold = RetryThreshold
	}
	return &RetryPump{queue: queue, globalMetrics: globalMetrics, logger: logger, retryThreshold: retryThreshold}
}

// Start launches workers goroutines draining the retry queue.
func (p *RetryPump) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(ctx)
	}
}

// Stop enqueues one drain sentinel per worker and waits for them to exit.
func (p *RetryPump) Stop(workers int) {
	p.queue.Drain(workers)
	p.wg.Wait()
}

func (p *RetryPump) workerLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		op, alive := p.queue.Read(ctx)
		if !alive {
			return
		}
		if len(op.Points) == 0 {
			// A residual empty-points operation is itself treated as a
			// stop request, mirroring original_source's "if op.points is
			// empty -> exit".
			p.queue.Done(op)
			return
		}

		now := time.Now()
		if op.EarliestSendTime.Before(now.Add(-p.retryThreshold)) {
			p.globalMetrics.RetryQueueWriteFailures.Inc(1)
			p.logger.Warn("dropping stale retry batch", zap.Int("points", len(op.Points)),
				zap.Time("earliestSendTime", op.EarliestSendTime))
			p.queue.Done(op)
			continue
		}
		if wait := op.EarliestSendTime.Sub(now); wait > 0 {
			time.Sleep(wait)
		}

		m := make(tsnet.PutRequestMap)
		var localDropped int
		for _, dp := range op.Points {
			if _, dropped := op.Client.AddDataPointToRequest(dp, m); dropped {
				localDropped++
			}
		}
		remoteDropped, err := op.Client.PerformPut(ctx, m)
		if err != nil {
			p.logger.Error("retry put RPC failed", zap.Error(err))
		}
		if total := localDropped + len(remoteDropped); total > 0 {
			p.globalMetrics.RetryQueueWriteFailures.Inc(int64(total))
			p.logger.Warn("retry batch dropped points on second attempt, surrendering",
				zap.Int("dropped", total))
		}
		p.queue.Done(op)
	}
}
