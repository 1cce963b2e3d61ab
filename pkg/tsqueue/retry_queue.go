// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tsqueue

import (
	"context"
	"sync"
	"time"

	"github.com/HuliSystems/beringei/pkg/tsnet"
	"github.com/HuliSystems/beringei/pkg/tspb"
)

// RetryOperation is a delayed resend of points that a WritePipeline dropped.
// It is created at drop time, owned by the RetryQueue it's enqueued on, and
// consumed exactly once by a RetryPump worker.
type RetryOperation struct {
	Client           tsnet.NetworkClient
	Points           []tspb.DataPoint
	EarliestSendTime time.Time
}

type retryEntry struct {
	drain bool
	op    RetryOperation
}

// RetryQueue is a bounded FIFO of RetryOperations, capped by total queued
// points rather than by entry count (spec §4.3): a handful of huge retry
// batches should be rejected just as readily as many small ones once the
// configured point budget (retryQueueCapacity) is spent.
//
// The queue tracks its own queued-point count, but per spec §4.3 step 2 the
// decrement on the consumer side is the RetryPump's explicit responsibility
// (Done), not automatic on Read. The count therefore covers the queued
// entries plus every op that has been Read but not yet passed to Done: it
// equals the sum of the queued entries' points (I2/P4) whenever no worker
// is between Read and Done, and exceeds it by the held ops' points while
// one is.
type RetryQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries       []retryEntry
	queuedPoints  int64
	pointCapacity int64
}

// NewRetryQueue builds a RetryQueue that rejects enqueues once queued points
// would exceed pointCapacity.
func NewRetryQueue(pointCapacity int64) *RetryQueue {
	q := &RetryQueue{pointCapacity: pointCapacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends op iff doing so would not exceed the configured point
// capacity. On rejection the caller owns op.Points and must log-drop them.
func (q *RetryQueue) Enqueue(op RetryOperation) bool {
	n := int64(len(op.Points))
	q.mu.Lock()
	if q.queuedPoints+n > q.pointCapacity {
		q.mu.Unlock()
		return false
	}
	q.entries = append(q.entries, retryEntry{op: op})
	q.queuedPoints += n
	q.mu.Unlock()
	q.cond.Broadcast()
	return true
}

// Read blocks until an operation is available, a drain sentinel is
// consumed, or ctx is done. alive is false in the latter two cases: a
// RetryPump worker must exit its loop either way. Read does not adjust the
// queued-points accounting; callers must call Done once they've finished
// with the operation (whether it was sent, dropped as stale, or abandoned).
func (q *RetryQueue) Read(ctx context.Context) (RetryOperation, bool) {
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-watchDone:
		}
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) == 0 {
		if ctx.Err() != nil {
			return RetryOperation{}, false
		}
		q.cond.Wait()
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	if entry.drain {
		return RetryOperation{}, false
	}
	return entry.op, true
}

// Done records that op has been fully handled (sent, surrendered as stale,
// or abandoned after a second-round failure) and releases its points from
// the queued-points accounting (I2).
func (q *RetryQueue) Done(op RetryOperation) {
	q.mu.Lock()
	q.queuedPoints -= int64(len(op.Points))
	q.mu.Unlock()
}

// QueuedPoints returns the current queued-point count (P4).
func (q *RetryQueue) QueuedPoints() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queuedPoints
}

// Drain enqueues nDrain drain sentinels, one per RetryPump worker that
// should exit.
func (q *RetryQueue) Drain(nDrain int) {
	if nDrain <= 0 {
		return
	}
	q.mu.Lock()
	for i := 0; i < nDrain; i++ {
		q.entries = append(q.entries, retryEntry{drain: true})
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}
