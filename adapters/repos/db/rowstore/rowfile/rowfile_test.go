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
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weaviate/rowstore/entities/rowstore"
)

const (
	testRowWidth = 8
	testKeyWidth = 4
)

var testOrder = BytewiseOrder{KeyWidth: testKeyWidth}

// testRow builds a row with a big endian key and a value in the remaining
// bytes.
func testRow(key, value uint32) []byte {
	row := make([]byte, testRowWidth)
	binary.BigEndian.PutUint32(row[:4], key)
	binary.BigEndian.PutUint32(row[4:], value)
	return row
}

func testKey(key uint32) []byte {
	k := make([]byte, testKeyWidth)
	binary.BigEndian.PutUint32(k, key)
	return k
}

func rowKey(row []byte) uint32 {
	return binary.BigEndian.Uint32(row[:4])
}

func rowValue(row []byte) uint32 {
	return binary.BigEndian.Uint32(row[4:])
}

func concatRows(rows ...[]byte) []byte {
	var out []byte
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func createTestFile(t *testing.T, dir, name string, rows ...[]byte) *RowFile {
	t.Helper()
	f, err := Create(filepath.Join(dir, name), testRowWidth, WithSync(false))
	require.Nil(t, err)
	if len(rows) > 0 {
		_, err = f.Append(concatRows(rows...))
		require.Nil(t, err)
	}
	return f
}

func TestRowFileAppendAndRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rows.dat")

	f, err := Create(path, testRowWidth)
	require.Nil(t, err)

	first, err := f.Append(concatRows(testRow(1, 10), testRow(2, 20)))
	require.Nil(t, err)
	assert.Equal(t, int64(0), first)

	first, err = f.Append(testRow(3, 30))
	require.Nil(t, err)
	assert.Equal(t, int64(2), first)
	assert.Equal(t, int64(3), f.Count())
	assert.Equal(t, int64(HeaderSize+3*testRowWidth), f.SizeBytes())

	out := make([]byte, 2*testRowWidth)
	require.Nil(t, f.Read(1, out))
	assert.Equal(t, concatRows(testRow(2, 20), testRow(3, 30)), out)

	t.Run("empty append is a no-op", func(t *testing.T) {
		first, err := f.Append(nil)
		require.Nil(t, err)
		assert.Equal(t, int64(3), first)
	})

	t.Run("misaligned buffers are rejected", func(t *testing.T) {
		_, err := f.Append(make([]byte, testRowWidth+1))
		assert.ErrorIs(t, err, rowstore.ErrContract)
		assert.ErrorIs(t, f.Read(0, make([]byte, 3)), rowstore.ErrContract)
	})

	t.Run("reads past the count are rejected", func(t *testing.T) {
		assert.ErrorIs(t, f.Read(2, make([]byte, 2*testRowWidth)), rowstore.ErrContract)
		assert.ErrorIs(t, f.Read(-1, make([]byte, testRowWidth)), rowstore.ErrContract)
	})

	require.Nil(t, f.Close())
	require.Nil(t, f.Close(), "close is idempotent")
	assert.ErrorIs(t, f.Read(0, make([]byte, testRowWidth)), rowstore.ErrContract)

	t.Run("count survives a reopen", func(t *testing.T) {
		f, err := Open(path, testRowWidth)
		require.Nil(t, err)
		defer f.Close()

		assert.Equal(t, int64(3), f.Count())
		out := make([]byte, testRowWidth)
		require.Nil(t, f.Read(2, out))
		assert.Equal(t, testRow(3, 30), out)
	})
}

func TestRowFileOpenValidation(t *testing.T) {
	dir := t.TempDir()

	t.Run("bytes past the count are ignored", func(t *testing.T) {
		path := filepath.Join(dir, "tail.dat")
		f, err := Create(path, testRowWidth)
		require.Nil(t, err)
		_, err = f.Append(testRow(1, 1))
		require.Nil(t, err)
		require.Nil(t, f.Close())

		// half a row of garbage, as left by a crash during append
		file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o666)
		require.Nil(t, err)
		_, err = file.Write([]byte{1, 2, 3})
		require.Nil(t, err)
		require.Nil(t, file.Close())

		f, err = Open(path, testRowWidth)
		require.Nil(t, err)
		assert.Equal(t, int64(1), f.Count())

		first, err := f.Append(testRow(2, 2))
		require.Nil(t, err)
		assert.Equal(t, int64(1), first)
		require.Nil(t, f.TrimToSize())
		require.Nil(t, f.Close())

		info, err := os.Stat(path)
		require.Nil(t, err)
		assert.Equal(t, int64(HeaderSize+2*testRowWidth), info.Size())
	})

	t.Run("a file shorter than its count is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "short.dat")
		f, err := Create(path, testRowWidth)
		require.Nil(t, err)
		_, err = f.Append(concatRows(testRow(1, 1), testRow(2, 2)))
		require.Nil(t, err)
		require.Nil(t, f.Close())
		require.Nil(t, os.Truncate(path, HeaderSize+testRowWidth))

		_, err = Open(path, testRowWidth)
		assert.ErrorIs(t, err, rowstore.ErrStorageState)
	})

	t.Run("a foreign file is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "foreign.dat")
		require.Nil(t, os.WriteFile(path, make([]byte, 64), 0o666))
		_, err := Open(path, testRowWidth)
		assert.ErrorIs(t, err, rowstore.ErrStorageState)
	})

	t.Run("a different row width is rejected", func(t *testing.T) {
		path := filepath.Join(dir, "width.dat")
		f, err := Create(path, testRowWidth)
		require.Nil(t, err)
		require.Nil(t, f.Close())
		_, err = Open(path, 2*testRowWidth)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})

	t.Run("create does not overwrite", func(t *testing.T) {
		path := filepath.Join(dir, "width.dat")
		_, err := Create(path, testRowWidth)
		assert.NotNil(t, err)
	})
}

func TestRowFileSetAndSlice(t *testing.T) {
	dir := t.TempDir()
	f := createTestFile(t, dir, "rows.dat", testRow(1, 1), testRow(2, 2), testRow(3, 3))
	defer f.Close()

	require.Nil(t, f.Set(1, testRow(2, 22)))
	require.Nil(t, f.Set(3, testRow(4, 4)))
	assert.Equal(t, int64(4), f.Count())
	assert.ErrorIs(t, f.Set(9, testRow(9, 9)), rowstore.ErrContract)

	slice, err := f.Slice(1, 2)
	require.Nil(t, err)
	assert.Equal(t, int64(2), slice.Count())

	out := make([]byte, 2*testRowWidth)
	require.Nil(t, slice.Read(0, out))
	assert.Equal(t, concatRows(testRow(2, 22), testRow(3, 3)), out)

	_, err = slice.Append(testRow(5, 5))
	assert.ErrorIs(t, err, rowstore.ErrContract, "slices are read-only")
	assert.ErrorIs(t, slice.Delete(), rowstore.ErrContract)

	_, err = f.Slice(3, 2)
	assert.ErrorIs(t, err, rowstore.ErrContract)

	t.Run("a slice outlives its parent view", func(t *testing.T) {
		require.Nil(t, f.Close())
		out := make([]byte, testRowWidth)
		require.Nil(t, slice.Read(1, out))
		assert.Equal(t, testRow(3, 3), out)
		require.Nil(t, slice.Close())
	})
}

func TestRowFileTransfer(t *testing.T) {
	dir := t.TempDir()
	src := createTestFile(t, dir, "src.dat", testRow(1, 1), testRow(2, 2), testRow(3, 3), testRow(4, 4))
	defer src.Close()
	dst := createTestFile(t, dir, "dst.dat", testRow(0, 0))
	defer dst.Close()

	first, err := src.TransferRows(1, 2, dst)
	require.Nil(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(3), dst.Count())

	out := make([]byte, 3*testRowWidth)
	require.Nil(t, dst.Read(0, out))
	assert.Equal(t, concatRows(testRow(0, 0), testRow(2, 2), testRow(3, 3)), out)

	t.Run("from a slice", func(t *testing.T) {
		slice, err := src.Slice(3, 1)
		require.Nil(t, err)
		defer slice.Close()

		_, err = dst.AppendRows(slice, 0, 1)
		require.Nil(t, err)
		row := make([]byte, testRowWidth)
		require.Nil(t, dst.Read(3, row))
		assert.Equal(t, testRow(4, 4), row)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := dst.AppendRows(src, 3, 2)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})

	t.Run("onto itself", func(t *testing.T) {
		_, err := dst.AppendRows(dst, 0, 1)
		assert.ErrorIs(t, err, rowstore.ErrContract)
	})
}

func TestRowFileMmap(t *testing.T) {
	dir := t.TempDir()
	f := createTestFile(t, dir, "rows.dat", testRow(1, 1), testRow(2, 2))
	require.Nil(t, f.Close())

	mapped, err := Open(filepath.Join(dir, "rows.dat"), testRowWidth, WithMmap())
	require.Nil(t, err)
	defer mapped.Close()

	out := make([]byte, testRowWidth)
	require.Nil(t, mapped.Read(1, out))
	assert.Equal(t, testRow(2, 2), out)

	_, err = mapped.Append(testRow(3, 3))
	assert.ErrorIs(t, err, rowstore.ErrContract)

	dst := createTestFile(t, dir, "dst.dat")
	defer dst.Close()
	_, err = dst.AppendRows(mapped, 0, 2)
	require.Nil(t, err)
	assert.Equal(t, int64(2), dst.Count())
}

func TestRowFileDelete(t *testing.T) {
	dir := t.TempDir()
	f := createTestFile(t, dir, "rows.dat", testRow(1, 1))
	require.Nil(t, f.Delete())

	_, err := os.Stat(filepath.Join(dir, "rows.dat"))
	assert.True(t, os.IsNotExist(err))
}
