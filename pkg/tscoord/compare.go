// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscoord

import (
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

// readComparator is the best-effort, diagnostic-only cross-region read
// comparison recovered from original_source's FLAGS_gorilla_compare_reads.
// It never affects the value a parallel Get returns; it only logs when two
// regions disagree about the same key by more than compareEpsilon.
//
// Decompressing tspb.KeyResult.Data into (timestamp, value) pairs is out of
// scope for this client (spec §1), so comparison is done on what the
// collector can see without a decoder: the total encoded byte length of the
// blocks a region returned for a key, whatever its status. A byte-count
// mismatch beyond compareEpsilon (a fractional tolerance relative to the
// larger of the two sizes) is reported the same way a value mismatch would
// be in a client that owns decoding.
type readComparator struct {
	mu      sync.Mutex
	numKeys int
	// byRegion[r][k] is the encoded byte length tspb seen for key k from
	// region r, or -1 if region r never answered for key k.
	byRegion [][]int
}

func newReadComparator(numKeys, numRegions int) *readComparator {
	c := &readComparator{numKeys: numKeys, byRegion: make([][]int, numRegions)}
	for r := range c.byRegion {
		c.byRegion[r] = make([]int, numKeys)
		for k := range c.byRegion[r] {
			c.byRegion[r][k] = -1
		}
	}
	return c
}

func (c *readComparator) record(regionID int, indices []int, res tspb.GetDataResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if regionID < 0 || regionID >= len(c.byRegion) {
		return
	}
	for i, kr := range res.Results {
		if i >= len(indices) {
			break
		}
		idx := indices[i]
		if idx < 0 || idx >= c.numKeys {
			continue
		}
		n := 0
		for _, block := range kr.Data {
			n += len(block)
		}
		c.byRegion[regionID][idx] = n
	}
}

// logDiscrepancies compares, for each key, every region that answered it
// against the first region that answered it, and logs one warning for each
// region whose relative size difference from that first region exceeds
// epsilon. Intended to run in its own goroutine after a parallel read has
// already returned its result to the caller.
func (c *readComparator) logDiscrepancies(logger *zap.Logger, regionNames []string, epsilon float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := 0; k < c.numKeys; k++ {
		var first, firstRegion int = -1, -1
		for r := range c.byRegion {
			n := c.byRegion[r][k]
			if n < 0 {
				continue
			}
			if first < 0 {
				first, firstRegion = n, r
				continue
			}
			if relativeDiff(first, n) > epsilon {
				logger.Warn("cross-region read comparison mismatch",
					zap.Int("key_index", k),
					zap.String("region_a", regionNames[firstRegion]), zap.Int("size_a", first),
					zap.String("region_b", regionNames[r]), zap.Int("size_b", n))
			}
		}
	}
}

func relativeDiff(a, b int) float64 {
	if a == 0 && b == 0 {
		return 0
	}
	denom := math.Max(float64(a), float64(b))
	return math.Abs(float64(a-b)) / denom
}
