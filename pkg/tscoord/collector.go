// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package tscoord implements the read-side coordination layer: merging
// per-region results into one answer (GetResultCollector,
// ScanShardResultCollector), holding the hot-swappable set of read regions
// (ReadRegistry), and driving the fan-out/sequential read strategies
// (ReadFanout). Grounded on
// _examples/cockroachdb-cockroach/pkg/kv/kvclient/kvstreamer (budgeted
// concurrent sub-requests merged into one ordered result) and
// .../kvcoord/range_cache.go (RWMutex snapshot-and-release cache).
package tscoord

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

// GetResultCollector merges per-region GetDataResults into one
// index-aligned answer using the status ladder in tspb.Dominates (P2),
// tracking per-region completeness so a parallel fan-out can detect the
// first region to answer every key (spec §4.4, "one-complete").
type GetResultCollector struct {
	mu sync.Mutex

	slots []tspb.KeyResult

	regionFilled      [][]bool
	regionFilledCount []int
	regionSignaled    []bool

	numKeys int
}

// NewGetResultCollector builds a collector for a request of numKeys keys
// being fanned out across numRegions regions.
func NewGetResultCollector(numKeys, numRegions int) *GetResultCollector {
	c := &GetResultCollector{
		slots:             make([]tspb.KeyResult, numKeys),
		regionFilled:      make([][]bool, numRegions),
		regionFilledCount: make([]int, numRegions),
		regionSignaled:    make([]bool, numRegions),
		numKeys:           numKeys,
	}
	for i := range c.regionFilled {
		c.regionFilled[i] = make([]bool, numKeys)
	}
	return c
}

// AddResults folds one host-request's worth of results from regionID into
// the collector. indices[i] gives the original request index that
// result.Results[i] answers (a region's reply may come from several hosts,
// each covering a different key subset).
//
// Returns true the first time regionID's coverage of the key space becomes
// complete; callers use this edge to fire "one region has fully answered"
// without re-signaling on every subsequent host reply from the same
// region.
func (c *GetResultCollector) AddResults(result tspb.GetDataResult, indices []int, regionID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, kr := range result.Results {
		if i >= len(indices) {
			break
		}
		idx := indices[i]
		if idx < 0 || idx >= c.numKeys {
			continue
		}
		if tspb.Dominates(kr.Status, kr.HasData(), c.slots[idx].Status, c.slots[idx].HasData()) {
			c.slots[idx] = kr
		}
		if regionID >= 0 && regionID < len(c.regionFilled) && !c.regionFilled[regionID][idx] {
			c.regionFilled[regionID][idx] = true
			c.regionFilledCount[regionID]++
		}
	}

	if regionID < 0 || regionID >= len(c.regionFilled) {
		return false
	}
	if c.regionFilledCount[regionID] == c.numKeys && !c.regionSignaled[regionID] {
		c.regionSignaled[regionID] = true
		return true
	}
	return false
}

// Finalize returns the merged result. When shouldThrow is true (strict
// mode), any key whose best-known result is neither OK nor carrying data
// is reported as an error instead of a silently empty slot.
func (c *GetResultCollector) Finalize(shouldThrow bool, regionNames []string) (tspb.GetDataResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := tspb.GetDataResult{Results: make([]tspb.KeyResult, c.numKeys)}
	copy(out.Results, c.slots)

	if shouldThrow {
		for i, kr := range out.Results {
			if kr.Status != tspb.StatusOK && !kr.HasData() {
				return out, errors.Newf(
					"tscoord: key at index %d unresolved by any of regions %v (best status %s)",
					i, regionNames, kr.Status)
			}
		}
	}
	return out, nil
}
