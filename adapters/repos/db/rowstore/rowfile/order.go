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
	"bytes"
	"reflect"

	"github.com/weaviate/rowstore/entities/rowstore"
)

// RowOrder is a total order over fixed-width rows. CompareKey compares a
// standalone key against a row; a key compares equal to every row it
// identifies.
type RowOrder interface {
	Compare(a, b []byte) int
	CompareKey(key, row []byte) int
}

// TombstoneCodec marks rows as deleted using a reserved value inside the
// row.
type TombstoneCodec interface {
	IsDeleted(row []byte) bool
	// MarkDeleted turns a buffer holding a key into its tombstone row form.
	MarkDeleted(row []byte)
}

type validator interface {
	Validate(rowWidth int) error
}

// Validate checks that order and codec can work on rows of the given width,
// for implementations that know how to check themselves.
func Validate(rowWidth int, order RowOrder, codec TombstoneCodec) error {
	if rowWidth <= 0 {
		return rowstore.NewContractError("row width must be positive, got %d", rowWidth)
	}
	if order == nil {
		return rowstore.NewContractError("row order must be set")
	}
	if v, ok := order.(validator); ok {
		if err := v.Validate(rowWidth); err != nil {
			return err
		}
	}
	if v, ok := codec.(validator); ok && codec != nil {
		if err := v.Validate(rowWidth); err != nil {
			return err
		}
	}
	if bo, ok := order.(BytewiseOrder); ok {
		if bc, ok := codec.(ByteFlagCodec); ok && bc.Offset < bo.KeyWidth {
			return rowstore.NewContractError("tombstone byte %d lies inside the %d byte key",
				bc.Offset, bo.KeyWidth)
		}
	}
	return nil
}

// SameOrder reports whether two orders are the same ordering. Orders of a
// comparable type must be equal, others must at least share their type.
func SameOrder(a, b RowOrder) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta == nil || !ta.Comparable() {
		return true
	}
	return a == b
}

// BytewiseOrder orders rows by their first KeyWidth bytes. Keys longer than
// KeyWidth are truncated; shorter keys act as prefixes and sort before every
// row they prefix.
type BytewiseOrder struct {
	KeyWidth int
}

func (o BytewiseOrder) Compare(a, b []byte) int {
	return bytes.Compare(a[:o.KeyWidth], b[:o.KeyWidth])
}

func (o BytewiseOrder) CompareKey(key, row []byte) int {
	if len(key) > o.KeyWidth {
		key = key[:o.KeyWidth]
	}
	return bytes.Compare(key, row[:o.KeyWidth])
}

// RowKey returns the key prefix of row.
func (o BytewiseOrder) RowKey(row []byte) []byte {
	return row[:o.KeyWidth]
}

// LookupKey returns the key prefix rows identified by key carry. A key
// shorter than KeyWidth identifies no row.
func (o BytewiseOrder) LookupKey(key []byte) ([]byte, bool) {
	if len(key) < o.KeyWidth {
		return nil, false
	}
	return key[:o.KeyWidth], true
}

func (o BytewiseOrder) Validate(rowWidth int) error {
	if o.KeyWidth <= 0 || o.KeyWidth > rowWidth {
		return rowstore.NewContractError("key width %d does not fit row width %d",
			o.KeyWidth, rowWidth)
	}
	return nil
}

// ByteFlagCodec reserves the byte at Offset: a row is deleted iff that byte
// equals Marker.
type ByteFlagCodec struct {
	Offset int
	Marker byte
}

func (c ByteFlagCodec) IsDeleted(row []byte) bool {
	return row[c.Offset] == c.Marker
}

func (c ByteFlagCodec) MarkDeleted(row []byte) {
	row[c.Offset] = c.Marker
}

func (c ByteFlagCodec) Validate(rowWidth int) error {
	if c.Offset < 0 || c.Offset >= rowWidth {
		return rowstore.NewContractError("tombstone offset %d outside row width %d",
			c.Offset, rowWidth)
	}
	return nil
}
