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

package indexcounter

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/rowstore/entities/rowstore"
)

func TestCounters(t *testing.T) {
	dir := t.TempDir()

	t.Run("fresh directory starts at zero", func(t *testing.T) {
		c, err := Open(dir)
		require.NoError(t, err)

		next, commit, wal := c.Snapshot()
		assert.Equal(t, uint64(0), next)
		assert.Equal(t, uint64(0), commit)
		assert.Equal(t, uint64(0), wal)
	})

	t.Run("values are only durable after commit", func(t *testing.T) {
		c, err := Open(dir)
		require.NoError(t, err)

		ids := c.Counter(NextFileID)
		assert.Equal(t, uint64(0), ids.Increment(1))
		assert.Equal(t, uint64(1), ids.Increment(2))
		c.Counter(CommitSequence).Set(7)

		reopened, err := Open(dir)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), reopened.Counter(NextFileID).Get())

		require.NoError(t, ids.Commit())

		reopened, err = Open(dir)
		require.NoError(t, err)
		next, commit, wal := reopened.Snapshot()
		assert.Equal(t, uint64(3), next)
		assert.Equal(t, uint64(7), commit)
		assert.Equal(t, uint64(0), wal)
	})

	t.Run("corrupted file is a storage state error", func(t *testing.T) {
		path := filepath.Join(dir, FileName)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		data[0] ^= 0xff
		require.NoError(t, os.WriteFile(path, data, 0o666))

		_, err = Open(dir)
		assert.ErrorIs(t, err, rowstore.ErrStorageState)
	})

	t.Run("truncated file is a storage state error", func(t *testing.T) {
		path := filepath.Join(dir, FileName)
		require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o666))

		_, err := Open(dir)
		assert.ErrorIs(t, err, rowstore.ErrStorageState)
	})
}

func TestCountersReadOnly(t *testing.T) {
	dir := t.TempDir()
	c, err := OpenReadOnly(dir)
	require.NoError(t, err)

	c.Counter(NextFileID).Increment(1)
	assert.ErrorIs(t, c.Commit(), rowstore.ErrContract)
}

func TestChecksum(t *testing.T) {
	t.Run("reference values", func(t *testing.T) {
		assert.Equal(t, uint32(0), checksum(nil))
		assert.Equal(t, uint32(0x248bfa47), checksum([]byte("hello")))
	})

	t.Run("unaligned input hashes like an aligned copy", func(t *testing.T) {
		buf := make([]byte, 1+3*8)
		for i := range buf {
			buf[i] = byte(i * 7)
		}
		unaligned := buf[1:]
		assert.Equal(t, checksum(append([]byte(nil), unaligned...)), checksum(unaligned))
	})

	t.Run("committed file carries the checksum of its values", func(t *testing.T) {
		dir := t.TempDir()
		c, err := Open(dir)
		require.NoError(t, err)
		c.Counter(WriteAheadID).Set(42)
		require.NoError(t, c.Commit())

		data, err := os.ReadFile(filepath.Join(dir, FileName))
		require.NoError(t, err)
		require.Len(t, data, 3*8+4)
		assert.Equal(t, checksum(data[:3*8]), binary.LittleEndian.Uint32(data[3*8:]))
		assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(data[2*8:]))
	})
}
