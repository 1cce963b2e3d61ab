// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package tscoord

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/HuliSystems/beringei/pkg/tspb"
)

// ScanShardResultCollector is GetResultCollector's analogue for whole-shard
// scans (spec §4.4): since a ScanShardResult has no per-key index space, a
// single region reply is "complete" as soon as it arrives, rather than
// needing per-key coverage tracking.
type ScanShardResultCollector struct {
	mu sync.Mutex

	best           tspb.ScanShardResult
	regionSignaled []bool
}

// NewScanShardResultCollector builds a collector for a scan fanned out
// across numRegions regions.
func NewScanShardResultCollector(numRegions int) *ScanShardResultCollector {
	return &ScanShardResultCollector{
		regionSignaled: make([]bool, numRegions),
	}
}

// AddResult folds regionID's reply into the collector using the same
// status ladder as GetResultCollector. Returns true the first time
// regionID reports in (a region can only reply once per scan, so this is
// equivalent to "is this regionID's first call").
func (c *ScanShardResultCollector) AddResult(result tspb.ScanShardResult, regionID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tspb.Dominates(result.Status, result.HasData(), c.best.Status, c.best.HasData()) {
		c.best = result
	}
	if regionID < 0 || regionID >= len(c.regionSignaled) {
		return false
	}
	if c.regionSignaled[regionID] {
		return false
	}
	c.regionSignaled[regionID] = true
	return true
}

// Finalize returns the best-known scan result, failing in strict mode if
// no region produced OK or data-bearing output.
func (c *ScanShardResultCollector) Finalize(shouldThrow bool, regionNames []string) (tspb.ScanShardResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if shouldThrow && c.best.Status != tspb.StatusOK && !c.best.HasData() {
		return c.best, errors.Newf(
			"tscoord: shard scan unresolved by any of regions %v (best status %s)",
			regionNames, c.best.Status)
	}
	return c.best, nil
}
