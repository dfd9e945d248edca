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

package errors

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorGroupWrapper(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("returns first error", func(t *testing.T) {
		eg := NewErrorGroupWrapper(logger)
		eg.Go(func() error { return nil })
		eg.Go(func() error { return errors.New("boom") })
		assert.EqualError(t, eg.Wait(), "boom")
	})

	t.Run("recovers panics into an error", func(t *testing.T) {
		eg := NewErrorGroupWrapper(logger, "merge")
		eg.Go(func() error { panic("oh no") }, 42)
		err := eg.Wait()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oh no")
	})

	t.Run("respects the limit", func(t *testing.T) {
		eg := NewErrorGroupWrapper(logger)
		eg.SetLimit(2)

		var running, peak int32
		for i := 0; i < 8; i++ {
			eg.Go(func() error {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil
			})
		}
		require.NoError(t, eg.Wait())
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	})
}

func TestGoWrapperRecovers(t *testing.T) {
	t.Setenv("DISABLE_RECOVERY_ON_PANIC", "")
	logger, hook := test.NewNullLogger()

	done := make(chan struct{})
	GoWrapper(func() {
		defer close(done)
		panic("from goroutine")
	}, logger)

	<-done
	assert.Eventually(t, func() bool {
		return hook.LastEntry() != nil
	}, time.Second, 5*time.Millisecond)
}
