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
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
)

// Test rows are 8 bytes: a 4 byte big endian key, a 2 byte value, one
// unused byte and the tombstone flag.
const (
	testRowWidth = 8
	testKeyWidth = 4
)

var (
	testOrder = rowfile.BytewiseOrder{KeyWidth: testKeyWidth}
	testCodec = rowfile.ByteFlagCodec{Offset: 7, Marker: 0xff}
)

func row(key uint32, value uint16) []byte {
	r := make([]byte, testRowWidth)
	binary.BigEndian.PutUint32(r[:4], key)
	binary.BigEndian.PutUint16(r[4:6], value)
	return r
}

func tombstone(key uint32) []byte {
	r := make([]byte, testRowWidth)
	copy(r, key4(key))
	testCodec.MarkDeleted(r)
	return r
}

func key4(key uint32) []byte {
	k := make([]byte, testKeyWidth)
	binary.BigEndian.PutUint32(k, key)
	return k
}

func keyOf(r []byte) uint32 {
	return binary.BigEndian.Uint32(r[:4])
}

func valueOf(r []byte) uint16 {
	return binary.BigEndian.Uint16(r[4:6])
}

func rows(rs ...[]byte) []byte {
	var out []byte
	for _, r := range rs {
		out = append(out, r...)
	}
	return out
}

// makeTable writes rs, which must be sorted, as table id in dir.
func makeTable(t *testing.T, dir string, id uint64, rs ...[]byte) *rowfile.IdentifiedFile {
	t.Helper()
	f, err := rowfile.Create(sortedFilePath(dir, id), testRowWidth, rowfile.WithSync(false))
	require.Nil(t, err)
	if len(rs) > 0 {
		_, err = f.Append(rows(rs...))
		require.Nil(t, err)
	}
	return rowfile.NewIdentifiedFile(id, rowfile.NewSortedFile(f, testOrder))
}

func makeStack(t *testing.T, tables ...*rowfile.IdentifiedFile) *Stack {
	t.Helper()
	s, err := NewStack(testRowWidth, testOrder, 2*testRowWidth, tables...)
	require.Nil(t, err)
	return s
}

func collect(t *testing.T, it *StackIterator) []string {
	t.Helper()
	var out []string
	for {
		r, err := it.Next()
		require.Nil(t, err)
		if r == nil {
			return out
		}
		out = append(out, describe(r))
	}
}

func describe(r []byte) string {
	if testCodec.IsDeleted(r) {
		return fmt.Sprintf("%d:deleted", keyOf(r))
	}
	return fmt.Sprintf("%d:%d", keyOf(r), valueOf(r))
}

func testStoreOptions(extra ...StoreOption) []StoreOption {
	logger, _ := test.NewNullLogger()
	opts := []StoreOption{
		WithLogger(logger),
		WithTombstoneCodec(testCodec),
		WithSyncWrites(false),
		WithMergeInterval(0),
		WithSearchBlockBytes(4 * testRowWidth),
	}
	return append(opts, extra...)
}
