// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tsnet defines the external collaborators the client core talks to
// but does not implement: the per-region NetworkClient (wire protocol,
// transport, shard->host routing) and the ConfigurationAdapter (region
// naming and validation). Spec §1 places both explicitly out of scope;
// spec §6 is their contract.
package tsnet

import (
	"context"
	"time"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

// HostGetEntry groups one host's share of a GetDataRequest together with
// enough bookkeeping to fold its Result back into the caller's original
// index space once NetworkClient.PerformGet has filled it in.
type HostGetEntry struct {
	// Keys is this host's subset of the request's keys, in host-local order.
	Keys []tspb.Key
	// Indices[i] is the index into the original GetDataRequest.Keys that
	// Keys[i] corresponds to.
	Indices []int
	Begin   int64
	End     int64
	// Result is populated by PerformGet/PerformGetAsync, aligned 1:1 with
	// Keys/Indices.
	Result tspb.GetDataResult
}

// GetRequestMap groups a GetDataRequest's keys by destination host.
type GetRequestMap map[string]*HostGetEntry

// HostPutEntry is one host's share of a write batch.
type HostPutEntry struct {
	Points []tspb.DataPoint
}

// PutRequestMap groups a write batch's points by destination host.
type PutRequestMap map[string]*HostPutEntry

// NetworkClient is the wire-protocol and transport adapter for a single
// region. The core never serializes a byte; every method here is an
// external collaborator boundary (spec §6).
type NetworkClient interface {
	// AddKeyToGetRequest routes key (originally at position requestIndex in
	// the caller's request) into m, creating or extending the host bucket
	// the key's shard currently maps to.
	AddKeyToGetRequest(key tspb.Key, requestIndex int, m GetRequestMap)

	// AddDataPointToRequest routes dp into m. ok is false when the caller
	// should stop adding points to this map (the host bucket is saturated,
	// or routing is unknown and the point must go to the caller's local
	// drop set instead). dropped is true when dp itself could not be routed
	// and the caller owns it (should be retried via the caller's drop path).
	AddDataPointToRequest(dp tspb.DataPoint, m PutRequestMap) (ok bool, dropped bool)

	// PerformGet issues the grouped requests in m in parallel (one per
	// host) and fills in each entry's Result field in place.
	PerformGet(ctx context.Context, m GetRequestMap) error

	// PerformGetAsync issues a single host's request and returns its
	// result; used by the parallel read fan-out so each host-request can be
	// folded into the result collector as soon as it completes rather than
	// waiting for every host in the region.
	PerformGetAsync(ctx context.Context, host string, entry *HostGetEntry) (tspb.GetDataResult, error)

	// PerformPut sends m and returns the points the server rejected.
	PerformPut(ctx context.Context, m PutRequestMap) ([]tspb.DataPoint, error)

	// PerformScanShard dumps a whole shard from the given host.
	PerformScanShard(ctx context.Context, host string, req tspb.ScanShardRequest) (tspb.ScanShardResult, error)

	// GetHostForScanShard resolves the host that owns req's shard.
	GetHostForScanShard(req tspb.ScanShardRequest) (host string, ok bool)

	// InvalidateCache drops any cached shard->host mappings for shardIDs,
	// forcing the next routing attempt to re-resolve ownership.
	InvalidateCache(shardIDs []int64)

	// ServiceName returns this client's region name.
	ServiceName() string

	// NumShards returns the total shard count the region reports.
	NumShards() int64

	// IsCorrespondingService reports whether name names this region.
	IsCorrespondingService(name string) bool

	// StopRequests cancels any outstanding RPCs issued by this client.
	StopRequests()

	// GetLastUpdateTimes enumerates keys updated at or after
	// minLastUpdateTime in pages of at most maxKeysPerRequest, invoking
	// callback per page. Enumeration stops early if callback returns false.
	GetLastUpdateTimes(
		ctx context.Context,
		minLastUpdateTime int64,
		maxKeysPerRequest int,
		timeout time.Duration,
		callback func([]tspb.KeyUpdateTime) bool,
	) error
}

// ConfigurationAdapter names and validates regions. Spec §6.
type ConfigurationAdapter interface {
	ReadServices() ([]string, error)
	WriteServices() ([]string, error)
	ShadowServices() ([]string, error)
	NearestReadService() (string, error)
	IsValidReadService(name string) bool
}

// NetworkClientFactory constructs a NetworkClient for a named region.
// shadow marks a write-only region whose failures don't count against
// application-visible write availability (spec §4.2, "Shadow regions").
type NetworkClientFactory func(serviceName string, shadow bool) (NetworkClient, error)
