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
	"bufio"
	"io"

	"github.com/pkg/errors"
	"github.com/willf/bloom"
)

// KeyFilterFalsePositiveRate sizes the bloom filters of sorted files.
const KeyFilterFalsePositiveRate = 0.001

// KeyedOrder is a RowOrder that can name the bytes which make up the key of
// a row. Only such orders get key filters.
type KeyedOrder interface {
	RowOrder
	RowKey(row []byte) []byte
	// LookupKey returns what RowKey returns for the rows key identifies,
	// false if key identifies no row.
	LookupKey(key []byte) ([]byte, bool)
}

// KeyFilter is an in-memory bloom filter over the keys of one sorted file.
// It is rebuilt whenever the file is opened and never written to disk. A
// filled filter is safe for concurrent lookups.
type KeyFilter struct {
	order  KeyedOrder
	filter *bloom.BloomFilter
}

func NewKeyFilter(order KeyedOrder, expectedRows int64) *KeyFilter {
	if expectedRows < 1 {
		expectedRows = 1
	}
	return &KeyFilter{
		order:  order,
		filter: bloom.NewWithEstimates(uint(expectedRows), KeyFilterFalsePositiveRate),
	}
}

// the hash appends to the tail of its input, so it only ever sees copies
func ownedKey(key []byte) []byte {
	return append([]byte(nil), key...)
}

func (k *KeyFilter) Add(row []byte) {
	k.filter.Add(ownedKey(k.order.RowKey(row)))
}

// MayContain is false only if no row of the file carries key.
func (k *KeyFilter) MayContain(key []byte) bool {
	lookup, ok := k.order.LookupKey(key)
	if !ok {
		return false
	}
	return k.filter.Test(ownedKey(lookup))
}

// BuildKeyFilter reads f once from start to end and returns a filter of its
// keys. It returns nil if the order of f can not name keys.
func BuildKeyFilter(f *SortedFile) (*KeyFilter, error) {
	order, ok := f.Order().(KeyedOrder)
	if !ok {
		return nil, nil
	}

	kf := NewKeyFilter(order, f.Count())
	r := bufio.NewReaderSize(f.Rows().Reader(), 1<<16)
	row := make([]byte, f.RowWidth())
	for i := int64(0); i < f.Count(); i++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, errors.Wrapf(err, "build key filter of %s: read row %d", f.Path(), i)
		}
		kf.Add(row)
	}
	return kf, nil
}
