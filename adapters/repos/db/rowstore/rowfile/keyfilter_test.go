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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keylessOrder sorts rows but can not name their keys.
type keylessOrder struct{}

func (keylessOrder) Compare(a, b []byte) int {
	return testOrder.Compare(a, b)
}

func (keylessOrder) CompareKey(key, row []byte) int {
	return testOrder.CompareKey(key, row)
}

func TestKeyFilter(t *testing.T) {
	keys := make([]uint32, 0, 1000)
	for k := uint32(0); k < 2000; k += 2 {
		keys = append(keys, k)
	}
	f := sortedTestFile(t, keys)

	kf, err := BuildKeyFilter(f)
	require.Nil(t, err)
	require.NotNil(t, kf)

	t.Run("every stored key may be contained", func(t *testing.T) {
		for _, k := range keys {
			assert.True(t, kf.MayContain(testKey(k)), "key %d", k)
		}
	})

	t.Run("longer lookup keys are cut to the key width", func(t *testing.T) {
		assert.True(t, kf.MayContain(testRow(4, 99)))
	})

	t.Run("absent keys are mostly ruled out", func(t *testing.T) {
		positives := 0
		for k := uint32(1); k < 20000; k += 2 {
			if kf.MayContain(testKey(k)) {
				positives++
			}
		}
		assert.Less(t, positives, 100)
	})

	t.Run("short keys identify no row", func(t *testing.T) {
		assert.False(t, kf.MayContain([]byte{0, 0}))
	})

	t.Run("lookups leave the caller's key alone", func(t *testing.T) {
		buf := make([]byte, testKeyWidth, 64)
		copy(buf, testKey(6))
		kf.MayContain(buf)
		assert.Equal(t, testKey(6), buf)
		assert.Equal(t, make([]byte, 16), buf[testKeyWidth:testKeyWidth+16])
	})

	t.Run("orders without keys get no filter", func(t *testing.T) {
		plain := NewSortedFile(f.Rows(), keylessOrder{})
		kf, err := BuildKeyFilter(plain)
		require.Nil(t, err)
		assert.Nil(t, kf)
	})

	t.Run("an empty file rules out everything", func(t *testing.T) {
		kf, err := BuildKeyFilter(sortedTestFile(t, nil))
		require.Nil(t, err)
		assert.False(t, kf.MayContain(testKey(0)))
	})
}

func TestOpenIdentifiedKeyFilter(t *testing.T) {
	dir := t.TempDir()
	created := createTestFile(t, dir, "T1.stbl", testRow(1, 1), testRow(3, 3))
	require.Nil(t, created.Close())
	path := filepath.Join(dir, "T1.stbl")

	t.Run("with a filter", func(t *testing.T) {
		f, err := OpenIdentified(path, 1, testRowWidth, testOrder, true)
		require.Nil(t, err)
		defer f.Close()

		assert.Equal(t, uint64(1), f.ID())
		assert.True(t, f.HasKeyFilter())
		assert.True(t, f.MayContain(testKey(3)))
		assert.False(t, f.MayContain([]byte{1}))
	})

	t.Run("without a filter every key may be contained", func(t *testing.T) {
		f, err := OpenIdentified(path, 1, testRowWidth, testOrder, false)
		require.Nil(t, err)
		defer f.Close()

		assert.False(t, f.HasKeyFilter())
		assert.True(t, f.MayContain([]byte{1}))
	})

	t.Run("keyless orders open without a filter", func(t *testing.T) {
		f, err := OpenIdentified(path, 1, testRowWidth, keylessOrder{}, true)
		require.Nil(t, err)
		defer f.Close()

		assert.False(t, f.HasKeyFilter())
	})
}
