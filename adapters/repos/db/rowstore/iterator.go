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

import (
	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/rowstore"
)

// StackIterator walks the merged view of a stack in one direction. For
// every key only the row of the newest file holding it is returned, and
// within a file only the newest row of an equal run.
type StackIterator struct {
	order  rowfile.RowOrder
	dir    rowstore.Direction
	codec  rowfile.TombstoneCodec
	active []*iterSource
	out    []byte
}

type iterSource struct {
	precedence int
	searcher   *rowfile.Searcher
	count      int64
	pos        int64
	row        []byte
	scratch    []byte
	prev       []byte
}

func newStackIterator(s *Stack, key []byte, dir rowstore.Direction, includeKey bool,
	codec rowfile.TombstoneCodec,
) (*StackIterator, error) {
	it := &StackIterator{
		order: s.order,
		dir:   dir,
		codec: codec,
		out:   make([]byte, s.rowWidth),
	}
	for i, f := range s.files {
		src := &iterSource{
			precedence: i,
			searcher:   f.NewSearcher(s.bufRows),
			count:      f.Count(),
			row:        make([]byte, s.rowWidth),
			scratch:    make([]byte, s.rowWidth),
			prev:       make([]byte, s.rowWidth),
		}
		pos, err := it.startPosition(src, key, includeKey)
		if err != nil {
			return nil, err
		}
		src.pos = pos
		if !src.valid() {
			continue
		}
		if err := it.settle(src); err != nil {
			return nil, err
		}
		it.insert(src)
	}
	return it, nil
}

func (it *StackIterator) startPosition(src *iterSource, key []byte, includeKey bool) (int64, error) {
	if key == nil {
		if it.dir == rowstore.Descending {
			return src.count - 1, nil
		}
		return 0, nil
	}

	ascending := it.dir == rowstore.Ascending
	var pos int64
	var err error
	if ascending == includeKey {
		pos, err = src.searcher.SearchFirst(key)
	} else {
		pos, err = src.searcher.SearchLast(key)
	}
	if err != nil {
		return 0, err
	}

	switch {
	case pos < 0 && ascending:
		return -pos - 1, nil
	case pos < 0:
		return -pos - 2, nil
	case includeKey:
		return pos, nil
	case ascending:
		return pos + 1, nil
	default:
		return pos - 1, nil
	}
}

func (src *iterSource) valid() bool {
	return src.pos >= 0 && src.pos < src.count
}

func (it *StackIterator) read(src *iterSource, pos int64, out []byte) error {
	if it.dir == rowstore.Descending {
		return src.searcher.RowBackward(pos, out)
	}
	return src.searcher.Row(pos, out)
}

// settle loads the row at src.pos. Ascending, it moves on to the last row
// of an equal run, which is the newest.
func (it *StackIterator) settle(src *iterSource) error {
	if err := it.read(src, src.pos, src.row); err != nil {
		return err
	}
	if it.dir == rowstore.Descending {
		return nil
	}
	for src.pos+1 < src.count {
		if err := it.read(src, src.pos+1, src.scratch); err != nil {
			return err
		}
		if it.order.Compare(src.scratch, src.row) != 0 {
			break
		}
		src.pos++
		src.row, src.scratch = src.scratch, src.row
	}
	return nil
}

// step moves src past its current key.
func (it *StackIterator) step(src *iterSource) error {
	if it.dir == rowstore.Ascending {
		src.pos++
	} else {
		for src.pos--; src.pos >= 0; src.pos-- {
			if err := it.read(src, src.pos, src.scratch); err != nil {
				return err
			}
			if it.order.Compare(src.scratch, src.row) != 0 {
				break
			}
		}
	}
	if !src.valid() {
		return nil
	}

	copy(src.prev, src.row)
	if err := it.settle(src); err != nil {
		return err
	}
	if !it.before(src.prev, src.row) {
		return rowstore.NewStorageStateError("%s is out of order at row %d",
			src.searcher.File().Path(), src.pos)
	}
	return nil
}

// before reports whether a comes before b in iteration order.
func (it *StackIterator) before(a, b []byte) bool {
	c := it.order.Compare(a, b)
	if it.dir == rowstore.Descending {
		return c > 0
	}
	return c < 0
}

func (it *StackIterator) insert(src *iterSource) {
	pos := len(it.active)
	for i, other := range it.active {
		if it.before(src.row, other.row) ||
			(it.order.Compare(src.row, other.row) == 0 && src.precedence > other.precedence) {
			pos = i
			break
		}
	}
	it.active = append(it.active, nil)
	copy(it.active[pos+1:], it.active[pos:])
	it.active[pos] = src
}

// Next returns the next row, or nil once the iterator is exhausted. The row
// is only valid until the following call.
func (it *StackIterator) Next() ([]byte, error) {
	for len(it.active) > 0 {
		copy(it.out, it.active[0].row)

		equal := 1
		for equal < len(it.active) && it.order.Compare(it.active[equal].row, it.out) == 0 {
			equal++
		}
		advancing := append([]*iterSource(nil), it.active[:equal]...)
		it.active = append(it.active[:0], it.active[equal:]...)
		for _, src := range advancing {
			if err := it.step(src); err != nil {
				return nil, err
			}
			if src.valid() {
				it.insert(src)
			}
		}

		if it.codec != nil && it.codec.IsDeleted(it.out) {
			continue
		}
		return it.out, nil
	}
	return nil, nil
}
