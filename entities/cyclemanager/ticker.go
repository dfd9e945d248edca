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

package cyclemanager

import "time"

type CycleTicker interface {
	Start()
	Stop()
	C() <-chan time.Time
	// called with bool value whenever cycle function finished execution
	// true - indicates cycle function actually did some processing
	// false - cycle function returned without doing anything
	CycleExecuted(executed bool)
}

type fixedTicker struct {
	interval time.Duration
	ticker   *time.Ticker
	ch       chan time.Time
}

// NewFixedTicker ticks every interval. A non-positive interval never ticks,
// leaving Wake as the only trigger.
func NewFixedTicker(interval time.Duration) CycleTicker {
	return &fixedTicker{interval: interval, ch: make(chan time.Time)}
}

func (t *fixedTicker) Start() {
	if t.interval > 0 {
		t.ticker = time.NewTicker(t.interval)
	}
}

func (t *fixedTicker) Stop() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

func (t *fixedTicker) C() <-chan time.Time {
	if t.ticker == nil {
		return t.ch
	}
	return t.ticker.C
}

func (t *fixedTicker) CycleExecuted(executed bool) {}
