// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tspb

// Status is the per-key outcome of a read against a single region.
type Status int

const (
	// StatusUnknown is the zero value; never produced by a NetworkClient.
	StatusUnknown Status = iota
	// StatusOK means authoritative data was returned for the key.
	StatusOK
	// StatusKeyMissing means the key is unknown to the region. Never retried.
	StatusKeyMissing
	// StatusRPCFail is a transient, retriable transport failure.
	StatusRPCFail
	// StatusStorageFail is a transient, retriable storage-layer failure.
	StatusStorageFail
	// StatusDontOwnShard means the host contacted does not currently own the
	// shard for this key. Transient and retriable; triggers shard-cache
	// invalidation before the retry.
	StatusDontOwnShard
	// StatusShardInProgress means the shard is still being loaded by its
	// owning host. Retriable; on the last region in non-strict mode, treated
	// as success if it carries any data.
	StatusShardInProgress
	// StatusMissingTooMuchData means the region knows of gaps in the data it
	// has for this key. Retriable elsewhere, or accepted with nonzero data.
	StatusMissingTooMuchData
	// StatusBucketNotFinalized indicates the server returned a bucket that
	// protocol invariants say must already be finalized. See
	// ErrBucketNotFinalized.
	StatusBucketNotFinalized
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusKeyMissing:
		return "KEY_MISSING"
	case StatusRPCFail:
		return "RPC_FAIL"
	case StatusStorageFail:
		return "STORAGE_FAIL"
	case StatusDontOwnShard:
		return "DONT_OWN_SHARD"
	case StatusShardInProgress:
		return "SHARD_IN_PROGRESS"
	case StatusMissingTooMuchData:
		return "MISSING_TOO_MUCH_DATA"
	case StatusBucketNotFinalized:
		return "BUCKET_NOT_FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// Transient reports whether the status is worth retrying against the same
// or another region, as opposed to a terminal outcome like StatusKeyMissing.
func (s Status) Transient() bool {
	switch s {
	case StatusRPCFail, StatusStorageFail, StatusDontOwnShard, StatusShardInProgress, StatusMissingTooMuchData:
		return true
	default:
		return false
	}
}

// rank orders statuses for the monotonic result-merge ladder used by
// GetResultCollector and ScanShardResultCollector (spec §4.4):
//
//	OK > has-data > SHARD_IN_PROGRESS > MISSING_TOO_MUCH_DATA >
//	  {RPC_FAIL, STORAGE_FAIL, DONT_OWN_SHARD} > KEY_MISSING > unfilled
//
// hasData promotes any non-OK status (KEY_MISSING included) that
// nonetheless carries encoded blocks: the original client treats "there is data" as
// almost as good as a clean OK even when the serving region flagged a
// caveat, because returning stale-but-present data beats an empty slot.
func rank(status Status, hasData bool) int {
	switch {
	case status == StatusOK:
		return 6
	case hasData:
		return 5
	case status == StatusShardInProgress:
		return 4
	case status == StatusMissingTooMuchData:
		return 3
	case status == StatusRPCFail || status == StatusStorageFail || status == StatusDontOwnShard:
		return 2
	case status == StatusKeyMissing:
		return 1
	default:
		return 0
	}
}

// Dominates reports whether a result with status s1/hasData1 should replace
// one with status s2/hasData2 in a monotonic merge. Equal rank keeps the
// existing (first-seen) entry, so merges are stable across call order.
func Dominates(s1 Status, hasData1 bool, s2 Status, hasData2 bool) bool {
	return rank(s1, hasData1) > rank(s2, hasData2)
}
