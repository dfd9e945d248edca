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
	"github.com/weaviate/rowstore/entities/rowstore"
)

// SortedFile is a row file whose rows are nondecreasing under an order.
// Rows with equal keys are allowed; the last row of an equal run is the
// newest.
type SortedFile struct {
	rows  *RowFile
	order RowOrder
}

func NewSortedFile(rows *RowFile, order RowOrder) *SortedFile {
	return &SortedFile{rows: rows, order: order}
}

// OpenSorted opens an existing file and trusts it to be sorted under order.
func OpenSorted(path string, rowWidth int, order RowOrder, opts ...Option) (*SortedFile, error) {
	rows, err := Open(path, rowWidth, opts...)
	if err != nil {
		return nil, err
	}
	return NewSortedFile(rows, order), nil
}

func (f *SortedFile) Rows() *RowFile {
	return f.rows
}

func (f *SortedFile) Order() RowOrder {
	return f.order
}

func (f *SortedFile) Count() int64 {
	return f.rows.Count()
}

func (f *SortedFile) RowWidth() int {
	return f.rows.RowWidth()
}

func (f *SortedFile) Path() string {
	return f.rows.Path()
}

func (f *SortedFile) SizeBytes() int64 {
	return f.rows.SizeBytes()
}

func (f *SortedFile) Read(row int64, out []byte) error {
	return f.rows.Read(row, out)
}

// Slice returns a sorted view of n rows starting at first.
func (f *SortedFile) Slice(first, n int64) (*SortedFile, error) {
	rows, err := f.rows.Slice(first, n)
	if err != nil {
		return nil, err
	}
	return NewSortedFile(rows, f.order), nil
}

func (f *SortedFile) Close() error {
	return f.rows.Close()
}

// VerifyOrder scans the file and reports the first pair of rows that is out
// of order.
func (f *SortedFile) VerifyOrder(bufRows int) error {
	count := f.Count()
	if count < 2 {
		return nil
	}
	width := int64(f.RowWidth())
	if bufRows <= 0 {
		bufRows = 1
	}
	buf := make([]byte, int64(bufRows)*width)
	prev := make([]byte, width)
	havePrev := false

	for start := int64(0); start < count; start += int64(bufRows) {
		n := count - start
		if n > int64(bufRows) {
			n = int64(bufRows)
		}
		block := buf[:n*width]
		if err := f.Read(start, block); err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			row := block[i*width : (i+1)*width]
			if havePrev && f.order.Compare(prev, row) > 0 {
				return rowstore.NewStorageStateError("%s: row %d sorts before row %d",
					f.Path(), start+i, start+i-1)
			}
			copy(prev, row)
			havePrev = true
		}
	}
	return nil
}

// IdentifiedFile is a sorted file with the durable id it is stored under.
// It may carry a key filter that lets lookups skip it.
type IdentifiedFile struct {
	*SortedFile
	id     uint64
	filter *KeyFilter
}

func NewIdentifiedFile(id uint64, file *SortedFile) *IdentifiedFile {
	return &IdentifiedFile{SortedFile: file, id: id}
}

// OpenIdentified opens the sorted file stored under id and, with
// withFilter, builds its key filter.
func OpenIdentified(path string, id uint64, rowWidth int, order RowOrder, withFilter bool,
	opts ...Option,
) (*IdentifiedFile, error) {
	sorted, err := OpenSorted(path, rowWidth, order, opts...)
	if err != nil {
		return nil, err
	}
	f := NewIdentifiedFile(id, sorted)
	if withFilter {
		if f.filter, err = BuildKeyFilter(sorted); err != nil {
			sorted.Close()
			return nil, err
		}
	}
	return f, nil
}

func (f *IdentifiedFile) ID() uint64 {
	return f.id
}

// HasKeyFilter reports whether lookups consult a key filter.
func (f *IdentifiedFile) HasKeyFilter() bool {
	return f.filter != nil
}

// MayContain is false only if the file certainly holds no row for key.
// Without a filter it is always true.
func (f *IdentifiedFile) MayContain(key []byte) bool {
	return f.filter == nil || f.filter.MayContain(key)
}

// Delete closes the file and removes it from disk.
func (f *IdentifiedFile) Delete() error {
	return f.rows.Delete()
}
