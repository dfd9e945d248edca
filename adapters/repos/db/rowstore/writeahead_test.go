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
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/rowstore/adapters/repos/db/rowstore/rowfile"
	"github.com/weaviate/rowstore/entities/rowstore"
)

func testBuilderConfig(existing ...uint32) builderConfig {
	return builderConfig{
		rowWidth: testRowWidth,
		order:    testOrder,
		codec:    testCodec,
		exists: func(key []byte) (bool, error) {
			for _, k := range existing {
				if testOrder.CompareKey(key, row(k, 0)) == 0 {
					return true, nil
				}
			}
			return false, nil
		},
	}
}

func TestBuilderPutAndGet(t *testing.T) {
	dir := t.TempDir()
	b, err := CreateBuilder(dir, 1, testBuilderConfig())
	require.Nil(t, err)
	defer b.Close()

	require.Nil(t, b.Put(row(2, 20), rowstore.WillMutate))
	require.Nil(t, b.Put(rows(row(1, 10), row(3, 30), row(2, 22)), rowstore.WillMutate))
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, int64(4), b.LoggedRows())
	assert.Equal(t, int64(rowfile.HeaderSize+4*testRowWidth), b.SizeBytes())

	snap := b.Snapshot()
	got, ok := snap.Get(key4(2))
	require.True(t, ok)
	assert.Equal(t, "2:22", describe(got))

	_, ok = snap.Get(key4(4))
	assert.False(t, ok)

	t.Run("the caller may reuse its buffer", func(t *testing.T) {
		buf := row(7, 70)
		require.Nil(t, b.Put(buf, rowstore.WillMutate))
		copy(buf, row(7, 71))
		got, ok := b.Snapshot().Get(key4(7))
		require.True(t, ok)
		assert.Equal(t, "7:70", describe(got))
	})

	t.Run("snapshots do not see later writes", func(t *testing.T) {
		require.Nil(t, b.Put(row(2, 23), rowstore.WillMutate))
		got, _ := snap.Get(key4(2))
		assert.Equal(t, "2:22", describe(got))
	})

	t.Run("misaligned rows are rejected", func(t *testing.T) {
		err := b.Put(make([]byte, testRowWidth-1), rowstore.WillMutate)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})
}

func TestBuilderDelete(t *testing.T) {
	dir := t.TempDir()
	b, err := CreateBuilder(dir, 1, testBuilderConfig(5))
	require.Nil(t, err)
	defer b.Close()

	require.Nil(t, b.Put(rows(row(4, 40), row(5, 50)), rowstore.WillMutate))

	t.Run("a key only held in memory is dropped", func(t *testing.T) {
		require.Nil(t, b.Delete(key4(4)))
		_, ok := b.Snapshot().Get(key4(4))
		assert.False(t, ok)
	})

	t.Run("a key held by older rows gets a tombstone", func(t *testing.T) {
		require.Nil(t, b.Delete(key4(5)))
		got, ok := b.Snapshot().Get(key4(5))
		require.True(t, ok)
		assert.True(t, testCodec.IsDeleted(got))
	})

	t.Run("every delete is logged", func(t *testing.T) {
		assert.Equal(t, int64(4), b.LoggedRows())
	})

	t.Run("keys wider than a row are rejected", func(t *testing.T) {
		assert.ErrorIs(t, b.Delete(make([]byte, testRowWidth+1)), rowstore.ErrContract)
	})

	t.Run("deletes need a codec", func(t *testing.T) {
		cfg := testBuilderConfig()
		cfg.codec = nil
		nb, err := CreateBuilder(t.TempDir(), 2, cfg)
		require.Nil(t, err)
		defer nb.Close()
		assert.ErrorIs(t, nb.Delete(key4(1)), rowstore.ErrContract)
	})
}

func TestBuilderReplay(t *testing.T) {
	dir := t.TempDir()
	cfg := testBuilderConfig(9)

	b, err := CreateBuilder(dir, 3, cfg)
	require.Nil(t, err)
	require.Nil(t, b.Put(rows(row(1, 1), row(2, 2), row(9, 9)), rowstore.WillMutate))
	require.Nil(t, b.Put(row(1, 11), rowstore.WillMutate))
	require.Nil(t, b.Delete(key4(2)))
	require.Nil(t, b.Delete(key4(9)))
	require.Nil(t, b.Close())

	var replayed int64
	reopened, err := OpenBuilder(dir, 3, cfg, false, func(read, _ int64) { replayed += read })
	require.Nil(t, err)
	defer reopened.Close()

	assert.Equal(t, int64(6*testRowWidth), replayed)
	assert.Equal(t, replayed, reopened.ReplayedBytes())
	assert.Equal(t, 2, reopened.Len())
	snap := reopened.Snapshot()

	got, ok := snap.Get(key4(1))
	require.True(t, ok)
	assert.Equal(t, "1:11", describe(got))
	_, ok = snap.Get(key4(2))
	assert.False(t, ok)
	got, ok = snap.Get(key4(9))
	require.True(t, ok)
	assert.True(t, testCodec.IsDeleted(got))

	t.Run("appends continue after the replayed rows", func(t *testing.T) {
		require.Nil(t, reopened.Put(row(3, 3), rowstore.WillMutate))
		assert.Equal(t, int64(7), reopened.LoggedRows())
	})

	t.Run("read-only replay", func(t *testing.T) {
		ro, err := OpenBuilder(dir, 3, cfg, true, nil)
		require.Nil(t, err)
		defer ro.Close()
		assert.Equal(t, 3, ro.Len())
		assert.NotNil(t, ro.Put(row(4, 4), rowstore.WillMutate))
	})
}

func TestBuilderFlush(t *testing.T) {
	dir := t.TempDir()
	b, err := CreateBuilder(dir, 1, testBuilderConfig(3))
	require.Nil(t, err)

	require.Nil(t, b.Put(rows(row(5, 5), row(1, 1), row(4, 4), row(2, 2)), rowstore.WillMutate))
	require.Nil(t, b.Delete(key4(3)))

	dst, err := rowfile.Create(sortedFilePath(dir, 1), testRowWidth, rowfile.WithSync(false))
	require.Nil(t, err)
	require.Nil(t, b.Flush(dst, 2))

	sorted := rowfile.NewSortedFile(dst, testOrder)
	require.Nil(t, sorted.VerifyOrder(4))
	assert.Equal(t, int64(5), sorted.Count())

	it, err := makeStack(t, rowfile.NewIdentifiedFile(1, sorted)).NewIterator(nil, rowstore.Ascending, true)
	require.Nil(t, err)
	assert.Equal(t, []string{"1:1", "2:2", "3:deleted", "4:4", "5:5"}, collect(t, it))

	t.Run("flush leaves the builder intact", func(t *testing.T) {
		assert.Equal(t, 5, b.Len())
	})

	t.Run("discard deletes the log and keeps rows readable", func(t *testing.T) {
		require.Nil(t, b.Discard())
		_, err := os.Stat(walFilePath(dir, 1))
		assert.True(t, os.IsNotExist(err))

		r, ok := b.Snapshot().Get(key4(4))
		require.True(t, ok)
		assert.Equal(t, "4:4", describe(r))
	})
}

func TestBuilderSnapshotNext(t *testing.T) {
	dir := t.TempDir()
	b, err := CreateBuilder(dir, 1, testBuilderConfig())
	require.Nil(t, err)
	defer b.Close()
	require.Nil(t, b.Put(rows(row(2, 2), row(4, 4), row(6, 6)), rowstore.WillMutate))
	snap := b.Snapshot()

	next := func(key []byte, dir rowstore.Direction, include bool) string {
		r, ok := snap.Next(key, dir, include)
		if !ok {
			return "none"
		}
		return describe(r)
	}

	assert.Equal(t, "4:4", next(key4(4), rowstore.Ascending, true))
	assert.Equal(t, "6:6", next(key4(4), rowstore.Ascending, false))
	assert.Equal(t, "4:4", next(key4(3), rowstore.Ascending, false))
	assert.Equal(t, "4:4", next(key4(4), rowstore.Descending, true))
	assert.Equal(t, "2:2", next(key4(4), rowstore.Descending, false))
	assert.Equal(t, "none", next(key4(2), rowstore.Descending, false))
	assert.Equal(t, "none", next(key4(7), rowstore.Ascending, true))
	assert.Equal(t, "2:2", next(nil, rowstore.Ascending, true))
	assert.Equal(t, "6:6", next(nil, rowstore.Descending, true))

	r, ok := snap.NextAfter(row(4, 0), rowstore.Ascending)
	require.True(t, ok)
	assert.Equal(t, "6:6", describe(r))
	r, ok = snap.NextAfter(row(4, 0), rowstore.Descending)
	require.True(t, ok)
	assert.Equal(t, "2:2", describe(r))
}
