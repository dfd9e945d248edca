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

import (
	"context"
	"fmt"
	"sync"
)

type (
	// indicates whether cyclemanager's stop was requested to allow safely
	// break execution of CycleFunc and stop cyclemanager earlier
	ShouldBreakFunc func() bool
	// return value indicates whether actual work was done in the cycle
	CycleFunc func(shouldBreak ShouldBreakFunc) bool
)

type CycleManager interface {
	Start()
	Wake()
	Stop(ctx context.Context) chan bool
	StopAndWait(ctx context.Context) error
	Running() bool
}

type cycleManager struct {
	sync.RWMutex

	cycleFunc   CycleFunc
	cycleTicker CycleTicker
	running     bool
	stopSignal  chan struct{}
	wakeSignal  chan struct{}

	stopContexts []context.Context
	stopResults  []chan bool
}

// New creates a cycle manager running cycleFunc on every tick of
// cycleTicker and on every Wake. A cycle that reports work done is
// followed by another cycle right away, so a backlog drains without
// waiting for the ticker.
func New(cycleTicker CycleTicker, cycleFunc CycleFunc) CycleManager {
	return &cycleManager{
		cycleFunc:   cycleFunc,
		cycleTicker: cycleTicker,
		running:     false,
		stopSignal:  make(chan struct{}, 1),
		wakeSignal:  make(chan struct{}, 1),
	}
}

// Starts instance, does not block
// Does nothing if instance is already started
func (c *cycleManager) Start() {
	c.Lock()
	defer c.Unlock()

	if c.running {
		return
	}

	go func() {
		c.cycleTicker.Start()
		defer c.cycleTicker.Stop()

		executed := false
		for {
			if c.isStopRequested(executed) {
				c.Lock()
				if c.shouldStop() {
					c.handleStopRequest(true)
					c.Unlock()
					break
				}
				c.handleStopRequest(false)
				c.Unlock()
				executed = false
				continue
			}
			executed = c.cycleFunc(c.shouldBreakCycleCallback)
			c.cycleTicker.CycleExecuted(executed)
		}
	}()

	c.running = true
}

// Wake requests a cycle as soon as the current one (if any) has finished.
// Multiple wakes before the next cycle collapse into one.
func (c *cycleManager) Wake() {
	select {
	case c.wakeSignal <- struct{}{}:
	default:
	}
}

// Stops running instance, does not block
// Returns channel with final stop result - true / false
//
// If given context is cancelled before it is handled by stop logic, instance is not stopped
// If called multiple times, all contexts have to be cancelled to cancel stop
// (any valid will result in stopping instance)
// stopResult is the same (consistent) for multiple calls
func (c *cycleManager) Stop(ctx context.Context) (stopResult chan bool) {
	c.Lock()
	defer c.Unlock()

	stopResult = make(chan bool, 1)
	if !c.running {
		stopResult <- true
		close(stopResult)
		return stopResult
	}

	if len(c.stopContexts) == 0 {
		defer func() {
			c.stopSignal <- struct{}{}
		}()
	}
	c.stopContexts = append(c.stopContexts, ctx)
	c.stopResults = append(c.stopResults, stopResult)

	return stopResult
}

// Stops running instance, waits for stop to occur or context to expire (which comes first)
// Returns error if instance was not stopped
func (c *cycleManager) StopAndWait(ctx context.Context) error {
	// if both channels are ready, chan is selected randomly, therefore regardless of
	// channel selected first, second one is also checked
	stop := c.Stop(ctx)
	done := ctx.Done()

	select {
	case <-done:
		select {
		case stopped := <-stop:
			if !stopped {
				return ctx.Err()
			}
		default:
			return ctx.Err()
		}
	case stopped := <-stop:
		if !stopped {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to stop cycle")
		}
	}
	return nil
}

func (c *cycleManager) Running() bool {
	c.RLock()
	defer c.RUnlock()

	return c.running
}

func (c *cycleManager) shouldStop() bool {
	for _, ctx := range c.stopContexts {
		if ctx.Err() == nil {
			return true
		}
	}
	return false
}

func (c *cycleManager) shouldBreakCycleCallback() bool {
	c.RLock()
	defer c.RUnlock()

	return c.shouldStop()
}

// isStopRequested blocks until the next cycle is due and reports whether a
// stop came in meanwhile. If the previous cycle did work, the next one is due
// immediately.
func (c *cycleManager) isStopRequested(immediate bool) bool {
	if immediate {
		select {
		case <-c.stopSignal:
			return true
		default:
			return false
		}
	}

	select {
	case <-c.stopSignal:
	case <-c.wakeSignal:
		return c.stopPending()
	case <-c.cycleTicker.C():
		return c.stopPending()
	}
	return true
}

// as stop chan has higher priority, it is checked again in case ticker or
// wake was selected over stop if both were ready
func (c *cycleManager) stopPending() bool {
	select {
	case <-c.stopSignal:
		return true
	default:
		return false
	}
}

func (c *cycleManager) handleStopRequest(stopped bool) {
	for _, stopResult := range c.stopResults {
		stopResult <- stopped
		close(stopResult)
	}
	c.running = !stopped
	c.stopContexts = nil
	c.stopResults = nil
}

func NewNoop() CycleManager {
	return &noopCycleManager{running: false}
}

type noopCycleManager struct {
	running bool
}

func (c *noopCycleManager) Start() {
	c.running = true
}

func (c *noopCycleManager) Wake() {}

func (c *noopCycleManager) Stop(ctx context.Context) chan bool {
	if !c.running {
		return c.closedChan(true)
	}
	if ctx.Err() != nil {
		return c.closedChan(false)
	}

	c.running = false
	return c.closedChan(true)
}

func (c *noopCycleManager) StopAndWait(ctx context.Context) error {
	if <-c.Stop(ctx) {
		return nil
	}
	return ctx.Err()
}

func (c *noopCycleManager) Running() bool {
	return c.running
}

func (c *noopCycleManager) closedChan(val bool) chan bool {
	ch := make(chan bool, 1)
	ch <- val
	close(ch)
	return ch
}
