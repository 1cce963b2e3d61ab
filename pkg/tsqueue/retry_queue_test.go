// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tsqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

func TestRetryQueueEnqueueRejectsOverCapacity(t *testing.T) {
	q := NewRetryQueue(10)
	require.True(t, q.Enqueue(RetryOperation{Points: points(6)}))
	require.False(t, q.Enqueue(RetryOperation{Points: points(6)}))
	require.EqualValues(t, 6, q.QueuedPoints())
}

// P4 (retry conservation): QueuedPoints must track the sum of entries'
// point counts across Enqueue/Read/Done.
func TestRetryQueueConservation(t *testing.T) {
	q := NewRetryQueue(1000)
	require.True(t, q.Enqueue(RetryOperation{Points: points(5)}))
	require.True(t, q.Enqueue(RetryOperation{Points: points(7)}))
	require.EqualValues(t, 12, q.QueuedPoints())

	op, alive := q.Read(context.Background())
	require.True(t, alive)
	require.Len(t, op.Points, 5)
	// Accounting only drops once Done is called (spec §4.3 step 2), not on
	// Read alone.
	require.EqualValues(t, 12, q.QueuedPoints())
	q.Done(op)
	require.EqualValues(t, 7, q.QueuedPoints())

	op, alive = q.Read(context.Background())
	require.True(t, alive)
	q.Done(op)
	require.EqualValues(t, 0, q.QueuedPoints())
}

func TestRetryQueueReadDrainsSentinel(t *testing.T) {
	q := NewRetryQueue(1000)
	q.Drain(1)
	_, alive := q.Read(context.Background())
	require.False(t, alive)
}

func TestRetryQueueReadHonorsContextCancellation(t *testing.T) {
	q := NewRetryQueue(1000)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, alive := q.Read(ctx)
	require.False(t, alive)
}

func TestRetryQueueReadBlocksUntilEnqueue(t *testing.T) {
	q := NewRetryQueue(1000)
	done := make(chan tspb.DataPoint, 1)
	go func() {
		op, alive := q.Read(context.Background())
		if alive && len(op.Points) > 0 {
			done <- op.Points[0]
		}
	}()

	select {
	case <-done:
		t.Fatal("Read returned before Enqueue")
	case <-time.After(20 * time.Millisecond):
	}

	require.True(t, q.Enqueue(RetryOperation{Points: points(1)}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Read did not wake up after Enqueue")
	}
}
