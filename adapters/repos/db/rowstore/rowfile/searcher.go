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
	"sort"

	"github.com/weaviate/rowstore/entities/rowstore"
)

// DefaultBlockBytes is the default size of a searcher's block buffer.
const DefaultBlockBytes = 8192

type searchMode int

const (
	searchAny searchMode = iota
	searchFirst
	searchLast
)

// Searcher looks up rows in a sorted file. While the open interval is wider
// than its buffer it reads single rows; the remaining interval is read in
// one go and searched in memory. The last block read is cached and also
// serves Row. A Searcher is not safe for concurrent use.
//
// Search results use the insertion encoding: a hit is the row index, a miss
// is -(p)-1 where p is the index at which the key would be inserted.
type Searcher struct {
	file    *SortedFile
	width   int64
	bufRows int64
	buf     []byte

	blockStart int64
	blockLen   int64

	reads int
}

// NewSearcher returns a searcher with a buffer of bufRows rows. Values below
// one are raised to one.
func (f *SortedFile) NewSearcher(bufRows int) *Searcher {
	if bufRows < 1 {
		bufRows = 1
	}
	return &Searcher{
		file:    f,
		width:   int64(f.RowWidth()),
		bufRows: int64(bufRows),
		buf:     make([]byte, int64(bufRows)*int64(f.RowWidth())),
	}
}

// BufferRows turns a block size in bytes into a row count of at least one.
func BufferRows(blockBytes, rowWidth int) int {
	if rowWidth <= 0 || blockBytes < rowWidth {
		return 1
	}
	return blockBytes / rowWidth
}

// Reads is the number of read calls issued so far.
func (s *Searcher) Reads() int {
	return s.reads
}

func (s *Searcher) File() *SortedFile {
	return s.file
}

// Search finds any row that the key identifies.
func (s *Searcher) Search(key []byte) (int64, error) {
	return s.searchKey(key, searchAny)
}

// SearchFirst finds the first row that the key identifies.
func (s *Searcher) SearchFirst(key []byte) (int64, error) {
	return s.searchKey(key, searchFirst)
}

// SearchLast finds the last row that the key identifies, which is the
// newest one if the file holds duplicates.
func (s *Searcher) SearchLast(key []byte) (int64, error) {
	return s.searchKey(key, searchLast)
}

func (s *Searcher) searchKey(key []byte, mode searchMode) (int64, error) {
	order := s.file.Order()
	return s.search(func(row []byte) int {
		return order.CompareKey(key, row)
	}, -1, s.file.Count(), mode)
}

// SearchRowFirst is SearchFirst for a full row used as key, restricted to
// the rows after row from.
func (s *Searcher) SearchRowFirst(keyRow []byte, from int64) (int64, error) {
	return s.searchRow(keyRow, from, searchFirst)
}

// SearchRowLast is SearchLast for a full row used as key, restricted to the
// rows after row from.
func (s *Searcher) SearchRowLast(keyRow []byte, from int64) (int64, error) {
	return s.searchRow(keyRow, from, searchLast)
}

func (s *Searcher) searchRow(keyRow []byte, from int64, mode searchMode) (int64, error) {
	if int64(len(keyRow)) != s.width {
		return 0, rowstore.NewContractError("key row of %d bytes, row width is %d",
			len(keyRow), s.width)
	}
	order := s.file.Order()
	return s.search(func(row []byte) int {
		return order.Compare(keyRow, row)
	}, from-1, s.file.Count(), mode)
}

// search looks for a row within the open interval (lo, hi). cmp compares the
// key with a row.
func (s *Searcher) search(cmp func(row []byte) int, lo, hi int64, mode searchMode) (int64, error) {
	hit := int64(-1)

	for hi-lo-1 > s.bufRows {
		mid := lo + (hi-lo)/2
		row, err := s.readOne(mid)
		if err != nil {
			return 0, err
		}
		c := cmp(row)
		switch {
		case c < 0:
			hi = mid
		case c > 0:
			lo = mid
		case mode == searchAny:
			return mid, nil
		case mode == searchFirst:
			hit, hi = mid, mid
		default:
			hit, lo = mid, mid
		}
	}

	n := hi - lo - 1
	if n <= 0 {
		if hit >= 0 {
			return hit, nil
		}
		return -(lo + 1) - 1, nil
	}

	block, err := s.load(lo+1, n)
	if err != nil {
		return 0, err
	}
	rowAt := func(i int) []byte {
		return block[int64(i)*s.width : int64(i+1)*s.width]
	}

	// first row the key does not sort after
	lower := sort.Search(int(n), func(i int) bool { return cmp(rowAt(i)) <= 0 })

	switch mode {
	case searchLast:
		upper := sort.Search(int(n), func(i int) bool { return cmp(rowAt(i)) < 0 })
		if upper > 0 && cmp(rowAt(upper-1)) == 0 {
			return lo + 1 + int64(upper-1), nil
		}
		if hit >= 0 {
			return hit, nil
		}
		return -(lo + 1 + int64(upper)) - 1, nil
	default:
		if lower < int(n) && cmp(rowAt(lower)) == 0 {
			return lo + 1 + int64(lower), nil
		}
		if hit >= 0 {
			return hit, nil
		}
		return -(lo + 1 + int64(lower)) - 1, nil
	}
}

func (s *Searcher) cached(row int64) bool {
	return s.blockLen > 0 && row >= s.blockStart && row < s.blockStart+s.blockLen
}

func (s *Searcher) cachedRow(row int64) []byte {
	off := (row - s.blockStart) * s.width
	return s.buf[off : off+s.width]
}

// readOne returns a single row, reading only that row unless it is cached.
func (s *Searcher) readOne(row int64) ([]byte, error) {
	if s.cached(row) {
		return s.cachedRow(row), nil
	}
	return s.load(row, 1)
}

// load reads n rows starting at first into the buffer and caches them.
func (s *Searcher) load(first, n int64) ([]byte, error) {
	if s.cached(first) && s.cached(first+n-1) {
		off := (first - s.blockStart) * s.width
		return s.buf[off : off+n*s.width], nil
	}
	block := s.buf[:n*s.width]
	s.blockLen = 0
	s.reads++
	if err := s.file.Read(first, block); err != nil {
		return nil, err
	}
	s.blockStart, s.blockLen = first, n
	return block, nil
}

// Row copies row n into out, reading a block forward from n when it is not
// cached.
func (s *Searcher) Row(n int64, out []byte) error {
	return s.row(n, out, false)
}

// RowBackward copies row n into out, reading a block that ends at n when it
// is not cached.
func (s *Searcher) RowBackward(n int64, out []byte) error {
	return s.row(n, out, true)
}

func (s *Searcher) row(n int64, out []byte, backward bool) error {
	if int64(len(out)) != s.width {
		return rowstore.NewContractError("row buffer of %d bytes, row width is %d",
			len(out), s.width)
	}
	count := s.file.Count()
	if n < 0 || n >= count {
		return rowstore.NewContractError("row %d out of range, %s holds %d",
			n, s.file.Path(), count)
	}
	if !s.cached(n) {
		first, size := n, s.bufRows
		if backward {
			first = n - s.bufRows + 1
			if first < 0 {
				first = 0
			}
			size = n - first + 1
		} else if first+size > count {
			size = count - first
		}
		if _, err := s.load(first, size); err != nil {
			return err
		}
	}
	copy(out, s.cachedRow(n))
	return nil
}
