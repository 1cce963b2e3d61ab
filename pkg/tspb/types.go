// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tspb holds the data model shared by every component of the
// client: keys, data points, and the request/result shapes for reads and
// writes. Nothing here talks to the network; see package tsnet for the
// external collaborator interfaces that do.
package tspb

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Key identifies a single time series. ShardID is advisory: the server is
// free to reassign shard ownership, and clients cache shard->host mappings
// per region, invalidating them on routing failure.
type Key struct {
	KeyName string
	ShardID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.KeyName, k.ShardID)
}

// DataPoint is a single (key, timestamp, value) sample. Immutable once
// produced; copied by value throughout the pipeline.
type DataPoint struct {
	Key       Key
	Timestamp int64
	Value     float64
}

// GetDataRequest asks for data for an ordered sequence of keys over
// [Begin, End). The ordering of Keys defines the index space that
// GetResultCollector uses to align per-region results (I1).
type GetDataRequest struct {
	Keys  []Key
	Begin int64
	End   int64
}

// KeyResult is the per-key outcome of a GetDataRequest against one region.
type KeyResult struct {
	Status Status
	// Data holds opaque encoded blocks; decompression into raw
	// (timestamp, value) pairs is explicitly out of scope for this client
	// (spec §1) and is left to the caller.
	Data [][]byte
}

// HasData reports whether any encoded block was returned.
func (r KeyResult) HasData() bool {
	return len(r.Data) > 0
}

// GetDataResult is the response to a GetDataRequest, aligned 1:1 with the
// request's Keys by index.
type GetDataResult struct {
	Results []KeyResult
}

// ScanShardRequest asks a region to dump an entire shard, rather than a set
// of keys. Recovered from original_source: whole-shard scans have no
// per-key index space.
type ScanShardRequest struct {
	ShardID int64
}

// ScanShardResult is the response to a ScanShardRequest.
type ScanShardResult struct {
	Status Status
	Data   [][]byte
}

// HasData reports whether any encoded block was returned.
func (r ScanShardResult) HasData() bool {
	return len(r.Data) > 0
}

// KeyUpdateTime is one entry of the getLastUpdateTimes enumeration:
// recovered from original_source, where it is the payload handed to the
// caller's early-terminating callback.
type KeyUpdateTime struct {
	Key        string
	UpdateTime int64
}

// ErrBucketNotFinalized is returned when a region reports a bucket that
// protocol invariants guarantee must already be finalized. The original
// client treats this as an unrecoverable bug and aborts the process;
// DESIGN.md's Open Question #2 resolves this instead as a typed error
// surfaced to the caller, since a long-lived client process aborting on a
// single bad response is worse than a loud, typed failure.
var ErrBucketNotFinalized = errors.AssertionFailedf("tspb: server reported an unfinalized bucket, protocol invariant violated")
