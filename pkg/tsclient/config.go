// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsclient assembles tspb, tsnet, tsqueue, tscoord and tswrite
// into the public ClientFacade of spec §4.7: Client. Grounded 1:1 on
// original_source/beringei/client/BeringeiClientImpl.cpp, the component
// this whole module distills.
package tsclient

import "time"

// Config holds the full option set of spec §6's configuration table.
// Values recovered from original_source's named flags are called out
// below; NetworkTimeout is not named in the spec's table (which
// enumerates write-path and region-management options only) but is
// required by ReadFanout's one-complete-plus-grace-window rendezvous
// (spec §4.5, P3), so it is supplemented here from
// FLAGS_gorilla_network_timeout_ms in original_source.
type Config struct {
	// WriterThreads is the number of writer workers per write region. 0
	// means the client is reader-only: no WritePipelines are constructed.
	WriterThreads int
	// QueueCapacity is the batch-slot (item) capacity of each write
	// region's queue.
	QueueCapacity int
	// QueueSizeRatio scales QueueCapacity into a point-count capacity:
	// pointCap = QueueCapacity * QueueSizeRatio.
	QueueSizeRatio int64
	// MinQueueSize is the point-count floor below which writer workers
	// sleep between iterations to batch larger.
	MinQueueSize int64
	// SleepPerPut is how long a writer worker sleeps when the queue is
	// shallow.
	SleepPerPut time.Duration

	// RetryQueueCapacity bounds the total points allowed in the shared
	// retry queue, across every write region.
	RetryQueueCapacity int64
	// RetryDelay is added to now() when scheduling a dropped batch's
	// resend.
	RetryDelay time.Duration
	// RetryThreshold is the max staleness past earliestSendTime before a
	// retry operation is discarded rather than resent.
	RetryThreshold time.Duration
	// WriteRetryThreads is the number of workers draining the retry
	// queue.
	WriteRetryThreads int

	// ParallelScanShard fans scanShard out across every read region
	// instead of trying them sequentially.
	ParallelScanShard bool
	// ReadServicesUpdateInterval is the read-region list refresh period.
	// Non-positive disables periodic refresh: the read-region set stays as
	// New resolved it.
	ReadServicesUpdateInterval time.Duration

	// CompareReads and CompareEpsilon enable best-effort cross-region
	// read comparison logging (recovered from original_source's
	// FLAGS_gorilla_compare_reads / compare_epsilon; never affects the
	// value returned to the caller).
	CompareReads  bool
	CompareEpsilon float64

	// ThrowOnTransientFailure is the strict-mode flag: when true, a read
	// that never resolves any region to OK-or-data returns an error
	// instead of an empty slot.
	ThrowOnTransientFailure bool

	// NetworkTimeout is ReadFanout's post-one-complete grace window.
	NetworkTimeout time.Duration
}

// DefaultConfig returns spec §6's documented defaults, plus NetworkTimeout
// recovered from original_source.
func DefaultConfig() Config {
	return Config{
		WriterThreads:              0,
		QueueCapacity:              1,
		QueueSizeRatio:             500,
		MinQueueSize:               100,
		SleepPerPut:                100 * time.Millisecond,
		RetryQueueCapacity:         10000,
		RetryDelay:                 55 * time.Second,
		RetryThreshold:             30 * time.Second,
		WriteRetryThreads:          4,
		ParallelScanShard:          false,
		ReadServicesUpdateInterval: 15 * time.Second,
		CompareReads:               false,
		CompareEpsilon:             0.1,
		ThrowOnTransientFailure:    false,
		NetworkTimeout:             100 * time.Millisecond,
	}
}
