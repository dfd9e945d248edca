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
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type throttleSample struct {
	at     time.Time
	tables int
}

// Throttle turns the size of the table stack into a signal between 0 and 1
// and slows writers down accordingly. The signal rises linearly from half
// the overheat count to the overheat count and is halved while the stack
// has not grown within the sample window.
type Throttle struct {
	sync.Mutex
	overheat int
	maxRate  float64
	window   time.Duration
	samples  []throttleSample
	signal   float64
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewThrottle(overheat int, maxRate float64, window time.Duration) *Throttle {
	return &Throttle{
		overheat: overheat,
		maxRate:  maxRate,
		window:   window,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		now:      time.Now,
	}
}

// Observe records the current number of tables and returns the new signal.
func (t *Throttle) Observe(tables int) float64 {
	t.Lock()
	defer t.Unlock()

	now := t.now()
	cutoff := now.Add(-t.window)
	keep := 0
	for keep < len(t.samples) && t.samples[keep].at.Before(cutoff) {
		keep++
	}
	t.samples = append(t.samples[keep:], throttleSample{at: now, tables: tables})

	t.signal = t.level(tables)
	if t.signal > 0 && !t.growing() {
		t.signal /= 2
	}

	if t.signal == 0 {
		t.limiter.SetLimitAt(now, rate.Inf)
	} else {
		t.limiter.SetLimitAt(now, rate.Limit(math.Max(1, t.maxRate*(1-t.signal))))
	}
	return t.signal
}

func (t *Throttle) level(tables int) float64 {
	if t.overheat <= 0 {
		return 0
	}
	low := t.overheat / 2
	if tables <= low {
		return 0
	}
	if t.overheat == low {
		return 1
	}
	level := float64(tables-low) / float64(t.overheat-low)
	return math.Min(1, level)
}

// growing reports whether the newest sample is larger than the oldest one
// in the window.
func (t *Throttle) growing() bool {
	if len(t.samples) < 2 {
		return true
	}
	return t.samples[len(t.samples)-1].tables > t.samples[0].tables
}

func (t *Throttle) Signal() float64 {
	t.Lock()
	defer t.Unlock()
	return t.signal
}

// Wait blocks until a write may be admitted or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
