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

package rowfile

import (
	"github.com/pkg/errors"

	"github.com/weaviate/rowstore/entities/rowstore"
)

// MergeStats describes a finished merge.
type MergeStats struct {
	Rows      int64
	Transfers int
	// EqualKeyEdges counts runs that ended on a key the next source also
	// holds.
	EqualKeyEdges int
}

type mergeSource struct {
	index    int
	searcher *Searcher
	cur, end int64
	row      []byte
}

// Merge appends the union of sources to dst in sorted order, copying runs of
// rows between files instead of moving them one by one. Sources are ordered
// oldest first; rows with equal keys are written oldest source first, so the
// newest row of an equal run always comes last. bufRows sizes each source's
// searcher.
func Merge(dst *RowFile, sources []*SortedFile, bufRows int) (MergeStats, error) {
	var stats MergeStats
	if len(sources) < 2 {
		return stats, rowstore.NewContractError("merge needs at least two sources, got %d",
			len(sources))
	}
	order := sources[0].Order()
	for _, src := range sources {
		if src.RowWidth() != dst.RowWidth() {
			return stats, rowstore.NewContractError("source %s has row width %d, destination %d",
				src.Path(), src.RowWidth(), dst.RowWidth())
		}
		if !SameOrder(order, src.Order()) {
			return stats, rowstore.NewContractError("source %s uses a different row order",
				src.Path())
		}
	}

	working := make([]*mergeSource, 0, len(sources))
	for i, src := range sources {
		if src.Count() == 0 {
			continue
		}
		ms := &mergeSource{
			index:    i,
			searcher: src.NewSearcher(bufRows),
			end:      src.Count(),
			row:      make([]byte, src.RowWidth()),
		}
		if err := ms.searcher.Row(0, ms.row); err != nil {
			return stats, err
		}
		working = insertSource(working, ms, order)
	}

	for len(working) > 1 {
		top, next := working[0], working[1]

		var found int64
		var err error
		if top.index < next.index {
			found, err = top.searcher.SearchRowLast(next.row, top.cur)
		} else {
			found, err = top.searcher.SearchRowFirst(next.row, top.cur)
		}
		if err != nil {
			return stats, err
		}

		runEnd := found
		switch {
		case found < 0:
			runEnd = -found - 1
		case top.index < next.index:
			runEnd = found + 1
			stats.EqualKeyEdges++
		default:
			stats.EqualKeyEdges++
		}
		if runEnd <= top.cur {
			return stats, rowstore.NewStorageStateError("%s is not sorted near row %d",
				top.searcher.File().Path(), top.cur)
		}

		if err := transfer(dst, top, runEnd, &stats); err != nil {
			return stats, err
		}

		working = working[1:]
		if top.cur < top.end {
			if err := top.searcher.Row(top.cur, top.row); err != nil {
				return stats, err
			}
			working = insertSource(working, top, order)
		}
	}

	if len(working) == 1 {
		last := working[0]
		if err := transfer(dst, last, last.end, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func transfer(dst *RowFile, src *mergeSource, end int64, stats *MergeStats) error {
	n := end - src.cur
	if _, err := dst.AppendRows(src.searcher.File().Rows(), src.cur, n); err != nil {
		return errors.Wrap(err, "merge")
	}
	src.cur = end
	stats.Rows += n
	stats.Transfers++
	return nil
}

// insertSource keeps working ordered by current row, then by source index.
func insertSource(working []*mergeSource, ms *mergeSource, order RowOrder) []*mergeSource {
	pos := len(working)
	for i, other := range working {
		c := order.Compare(ms.row, other.row)
		if c < 0 || (c == 0 && ms.index < other.index) {
			pos = i
			break
		}
	}
	working = append(working, nil)
	copy(working[pos+1:], working[pos:])
	working[pos] = ms
	return working
}
