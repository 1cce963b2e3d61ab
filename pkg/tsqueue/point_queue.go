// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsqueue holds the two bounded queues the write path is built on:
// BoundedPointQueue (producer -> writer worker) and RetryQueue (writer
// worker -> retry pump). Design note §9 of the spec asks that these stay
// separate rather than collapsing into one queue, since their capacity and
// TTL semantics differ; this package gives each its own type so that
// can't happen by accident.
package tsqueue

import (
	"context"
	"sync"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

// queueEntry is either a batch of points or a drain sentinel. Spec §9's
// design notes call for a typed Work(batch) | Drain sum type in place of
// the original "empty vector means quit" convention; this is that type.
type queueEntry struct {
	drain  bool
	points []tspb.DataPoint
}

// BoundedPointQueue is an MPMC queue of point batches, bounded both in
// number of batches (itemCap) and in approximate total point count
// (pointCap). Multiple producer goroutines Push concurrently; multiple
// writer-worker goroutines Pop concurrently.
type BoundedPointQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries    []queueEntry
	itemCount  int
	pointCount int64

	itemCap          int
	pointCap         int64
	maxBatchesPerPop int
}

// NewBoundedPointQueue builds a queue with the given capacities.
// maxBatchesPerPop bounds how many batches a single Pop call will drain
// before returning control to the caller, even if the predicate never
// returns false (defaults to 1 if <= 0, matching "one pop, one send
// attempt" for the common single-batch case; callers driving larger
// per-host groupings should pass a higher value).
func NewBoundedPointQueue(itemCap int, pointCap int64, maxBatchesPerPop int) *BoundedPointQueue {
	if maxBatchesPerPop <= 0 {
		maxBatchesPerPop = 1
	}
	q := &BoundedPointQueue{
		itemCap:          itemCap,
		pointCap:         pointCap,
		maxBatchesPerPop: maxBatchesPerPop,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push atomically enqueues batch. It succeeds iff the queue has room in
// both the item-count and point-count dimensions; on failure the caller
// retains ownership of batch (I4: push either succeeds or reports drop,
// the producer decides what to do next).
func (q *BoundedPointQueue) Push(batch []tspb.DataPoint) bool {
	if len(batch) == 0 {
		return true
	}
	q.mu.Lock()
	if q.itemCount >= q.itemCap || q.pointCount+int64(len(batch)) > q.pointCap {
		q.mu.Unlock()
		return false
	}
	q.entries = append(q.entries, queueEntry{points: batch})
	q.itemCount++
	q.pointCount += int64(len(batch))
	q.mu.Unlock()
	q.cond.Broadcast()
	return true
}

// Pop dequeues batches one at a time, calling pred once per point in
// encounter order. It stops as soon as pred returns false, or it has
// drained maxBatchesPerPop batches, or it consumes a drain sentinel. Only
// the first batch is waited for: once at least one batch has been drained,
// Pop returns as soon as the queue is empty.
//
// alive is false only when a drain sentinel was consumed (I5): the caller
// must treat that as its signal to exit the writer-worker loop. count is
// the number of batches actually drained (0 is a legal, non-terminal
// result: it means ctx was cancelled before any data arrived). When the
// sentinel follows batches drained in the same call, alive is false and
// count is the number of those batches, whose points pred has already seen.
//
// If pred returns false partway through a batch, the unconsumed remainder
// of that batch is requeued (at the front, for the next Pop to see) rather
// than dropped: the predicate deciding "stop for now" must never cause
// data loss.
func (q *BoundedPointQueue) Pop(ctx context.Context, pred func(tspb.DataPoint) bool) (alive bool, count int) {
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

	batchesPopped := 0
	for batchesPopped < q.maxBatchesPerPop {
		entry, ok := q.take(ctx, batchesPopped == 0)
		if !ok {
			return true, batchesPopped
		}
		if entry.drain {
			return false, batchesPopped
		}

		consumed := len(entry.points)
		stop := false
		for i, dp := range entry.points {
			if !pred(dp) {
				consumed = i + 1
				stop = true
				break
			}
			consumed = i + 1
		}
		batchesPopped++

		if consumed < len(entry.points) {
			q.requeueFront(entry.points[consumed:])
		}
		if stop {
			return true, batchesPopped
		}
	}
	return true, batchesPopped
}

// take claims the front entry. With wait set it blocks until one is
// available or ctx is done; without it, it returns at once when the queue
// is empty. ok is false only when no entry was available.
func (q *BoundedPointQueue) take(ctx context.Context, wait bool) (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) == 0 {
		if !wait || ctx.Err() != nil {
			return queueEntry{}, false
		}
		q.cond.Wait()
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	if !entry.drain {
		q.itemCount--
		q.pointCount -= int64(len(entry.points))
	}
	return entry, true
}

func (q *BoundedPointQueue) requeueFront(points []tspb.DataPoint) {
	q.mu.Lock()
	q.entries = append([]queueEntry{{points: points}}, q.entries...)
	q.itemCount++
	q.pointCount += int64(len(points))
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Size reports the approximate number of points currently queued, used for
// backpressure decisions (spec §4.2 step 7).
func (q *BoundedPointQueue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pointCount
}

// Flush enqueues nDrain drain sentinels, one per worker that should exit.
// Per I5, the pipeline must enqueue exactly one sentinel per worker it
// wants to stop.
func (q *BoundedPointQueue) Flush(nDrain int) {
	if nDrain <= 0 {
		return
	}
	q.mu.Lock()
	for i := 0; i < nDrain; i++ {
		q.entries = append(q.entries, queueEntry{drain: true})
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}
