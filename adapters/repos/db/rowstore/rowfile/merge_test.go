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
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/rowstore/entities/rowstore"
)

type sourceRow struct {
	key    uint32
	source uint32
}

// mergeSources writes one sorted file per key list. The value of every row
// is the index of its source.
func mergeSources(t *testing.T, dir string, keyLists ...[]uint32) []*SortedFile {
	t.Helper()
	files := make([]*SortedFile, len(keyLists))
	for i, keys := range keyLists {
		rows := make([][]byte, len(keys))
		for j, k := range keys {
			rows[j] = testRow(k, uint32(i))
		}
		f := createTestFile(t, dir, fmt.Sprintf("src-%d.dat", i), rows...)
		files[i] = NewSortedFile(f, testOrder)
	}
	return files
}

func readAllRows(t *testing.T, f *RowFile) []sourceRow {
	t.Helper()
	buf := make([]byte, f.Count()*testRowWidth)
	require.Nil(t, f.Read(0, buf))
	out := make([]sourceRow, f.Count())
	for i := range out {
		row := buf[i*testRowWidth : (i+1)*testRowWidth]
		out[i] = sourceRow{key: rowKey(row), source: rowValue(row)}
	}
	return out
}

func TestMergeInterleaved(t *testing.T) {
	dir := t.TempDir()
	sources := mergeSources(t, dir,
		[]uint32{1, 2, 3, 10, 11, 12},
		[]uint32{4, 5, 6, 20},
		[]uint32{7, 8, 9, 13},
	)
	dst := createTestFile(t, dir, "dst.dat")
	defer dst.Close()

	stats, err := Merge(dst, sources, 2)
	require.Nil(t, err)
	assert.Equal(t, int64(14), stats.Rows)
	assert.Equal(t, 0, stats.EqualKeyEdges)
	assert.Equal(t, 6, stats.Transfers, "one transfer per contiguous run")

	var keys []uint32
	for _, r := range readAllRows(t, dst) {
		keys = append(keys, r.key)
	}
	assert.Equal(t, []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 20}, keys)
}

func TestMergeEqualKeysNewestLast(t *testing.T) {
	dir := t.TempDir()
	sources := mergeSources(t, dir,
		[]uint32{1, 5, 5, 9},
		[]uint32{5, 9},
		[]uint32{0, 5},
	)
	dst := createTestFile(t, dir, "dst.dat")
	defer dst.Close()

	stats, err := Merge(dst, sources, 1)
	require.Nil(t, err)
	assert.Greater(t, stats.EqualKeyEdges, 0)

	assert.Equal(t, []sourceRow{
		{0, 2}, {1, 0}, {5, 0}, {5, 0}, {5, 1}, {5, 2}, {9, 0}, {9, 1},
	}, readAllRows(t, dst))

	t.Run("the newest row of every key is found last", func(t *testing.T) {
		merged := NewSortedFile(dst, testOrder)
		s := merged.NewSearcher(2)
		pos, err := s.SearchLast(testKey(5))
		require.Nil(t, err)
		row := make([]byte, testRowWidth)
		require.Nil(t, s.Row(pos, row))
		assert.Equal(t, uint32(2), rowValue(row))
	})
}

func TestMergeRandomPreservesRows(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		dir := t.TempDir()
		sourceCount := 2 + r.Intn(4)
		keyLists := make([][]uint32, sourceCount)
		var expected []sourceRow
		for i := range keyLists {
			n := r.Intn(60)
			for j := 0; j < n; j++ {
				keyLists[i] = append(keyLists[i], uint32(r.Intn(50)))
			}
			sort.Slice(keyLists[i], func(a, b int) bool { return keyLists[i][a] < keyLists[i][b] })
			for _, k := range keyLists[i] {
				expected = append(expected, sourceRow{key: k, source: uint32(i)})
			}
		}
		// stable: keys ascending, equal keys oldest source first
		sort.SliceStable(expected, func(a, b int) bool {
			if expected[a].key != expected[b].key {
				return expected[a].key < expected[b].key
			}
			return expected[a].source < expected[b].source
		})

		sources := mergeSources(t, dir, keyLists...)
		dst, err := Create(filepath.Join(dir, "dst.dat"), testRowWidth, WithSync(false))
		require.Nil(t, err)

		stats, err := Merge(dst, sources, 1+r.Intn(8))
		require.Nil(t, err)
		assert.Equal(t, int64(len(expected)), stats.Rows)
		got := readAllRows(t, dst)
		if len(expected) == 0 {
			assert.Empty(t, got)
		} else {
			assert.Equal(t, expected, got, "round %d", round)
		}

		require.Nil(t, dst.Close())
		for _, s := range sources {
			require.Nil(t, s.Close())
		}
	}
}

func TestMergeContract(t *testing.T) {
	dir := t.TempDir()
	sources := mergeSources(t, dir, []uint32{1}, []uint32{2})
	dst := createTestFile(t, dir, "dst.dat")
	defer dst.Close()

	t.Run("needs two sources", func(t *testing.T) {
		_, err := Merge(dst, sources[:1], 4)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})

	t.Run("sources must share the order", func(t *testing.T) {
		other := NewSortedFile(sources[1].Rows(), BytewiseOrder{KeyWidth: 2})
		_, err := Merge(dst, []*SortedFile{sources[0], other}, 4)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})

	t.Run("destination must share the row width", func(t *testing.T) {
		wide, err := Create(filepath.Join(dir, "wide.dat"), 2*testRowWidth, WithSync(false))
		require.Nil(t, err)
		defer wide.Close()

		_, err = Merge(wide, sources, 4)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})
}
