//                           _       _
// __      _____  __ ___   ___  __ _| |_ ___
// \ \ /\ / / _ \/ _` \ \ / / |/ _` | __/ _ \
//  \ V  V /  __/ (_| |\ V /| | (_| | ||  __/
//   \_/\_/ \___|\__,_| \_/ |_|\__,_|\__\___|
//
//  Copyright © 2016 - 2024 Weaviate B.V. All rights reserved.
//
//  CONTACT: hello@weaviate.io
//

package rowstore

// TableInfo describes one stack member to a merge policy.
type TableInfo struct {
	ID        uint64
	SizeBytes int64
	// Busy tables are already part of a running merge.
	Busy bool
}

// Run is a contiguous range of stack members, Start counted from the
// oldest.
type Run struct {
	Start int
	Count int
}

// MergePolicy picks the runs of tables to merge next.
type MergePolicy interface {
	// SelectRuns returns at most max disjoint runs of two or more non-busy
	// tables.
	SelectRuns(tables []TableInfo, max int) []Run
}

// TieredPolicy merges runs of similarly sized tables. A run qualifies if it
// has between MinTables and MaxTables members and its largest member is at
// most SizeRatio times its smallest; among qualifying runs the one with the
// least data wins. Once the stack reaches OverheatTableCount, the smallest
// run of MinTables adjacent tables is merged regardless of sizes.
type TieredPolicy struct {
	MinTables          int
	MaxTables          int
	SizeRatio          float64
	OverheatTableCount int
}

func NewTieredPolicy(cfg storeConfig) *TieredPolicy {
	return &TieredPolicy{
		MinTables:          cfg.minMergeTables,
		MaxTables:          cfg.maxMergeTables,
		SizeRatio:          cfg.sizeRatio,
		OverheatTableCount: cfg.overheatTableCount,
	}
}

func (p *TieredPolicy) SelectRuns(tables []TableInfo, max int) []Run {
	taken := make([]bool, len(tables))
	for i, t := range tables {
		taken[i] = t.Busy
	}

	var runs []Run
	for len(runs) < max {
		run, ok := p.pick(tables, taken)
		if !ok {
			break
		}
		for i := run.Start; i < run.Start+run.Count; i++ {
			taken[i] = true
		}
		runs = append(runs, run)
	}
	return runs
}

func (p *TieredPolicy) minTables() int {
	if p.MinTables < 2 {
		return 2
	}
	return p.MinTables
}

func (p *TieredPolicy) pick(tables []TableInfo, taken []bool) (Run, bool) {
	minCount := p.minTables()
	maxCount := p.MaxTables
	if maxCount < minCount {
		maxCount = minCount
	}

	best, bestTotal, found := Run{}, int64(0), false
	for start := range tables {
		var total, smallest, largest int64
		for count := 1; count <= maxCount && start+count <= len(tables); count++ {
			i := start + count - 1
			if taken[i] {
				break
			}
			size := tables[i].SizeBytes
			total += size
			if count == 1 || size < smallest {
				smallest = size
			}
			if size > largest {
				largest = size
			}
			if count < minCount {
				continue
			}
			if float64(largest) > p.SizeRatio*float64(smallest) {
				continue
			}
			if !found || total < bestTotal {
				best, bestTotal, found = Run{Start: start, Count: count}, total, true
			}
		}
	}
	if found {
		return best, true
	}

	if p.OverheatTableCount <= 0 || len(tables) < p.OverheatTableCount {
		return Run{}, false
	}
	for start := 0; start+minCount <= len(tables); start++ {
		var total int64
		free := true
		for i := start; i < start+minCount; i++ {
			if taken[i] {
				free = false
				break
			}
			total += tables[i].SizeBytes
		}
		if free && (!found || total < bestTotal) {
			best, bestTotal, found = Run{Start: start, Count: minCount}, total, true
		}
	}
	return best, found
}
