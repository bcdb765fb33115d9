// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information

package sync2

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Cycle implements a controllable recurring event with a fixed interval.
//
// The next iteration is always scheduled at now+interval after the previous
// one started, so an overrun shortens or skips the following wait instead of
// making the loop catch up.
type Cycle struct {
	interval atomic.Int64
	minSleep atomic.Int64
	paused   atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once

	iterations atomic.Int64
	overruns   atomic.Int64
}

// NewCycle creates a new cycle with the specified interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{
		stop: make(chan struct{}),
	}
	cycle.SetInterval(interval)
	cycle.minSleep.Store(int64(DefaultMinSleep))
	return cycle
}

// SetInterval changes the interval, it takes effect on the next iteration.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval.Store(int64(interval))
}

// Interval returns the current interval.
func (cycle *Cycle) Interval() time.Duration {
	return time.Duration(cycle.interval.Load())
}

// SetMinSleep sets the shortest wait for which the cycle still sleeps instead
// of spinning.
func (cycle *Cycle) SetMinSleep(minSleep time.Duration) {
	cycle.minSleep.Store(int64(minSleep))
}

// MinSleep returns the sleep threshold.
func (cycle *Cycle) MinSleep() time.Duration {
	return time.Duration(cycle.minSleep.Load())
}

// Run runs fn once per interval.
func (cycle *Cycle) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return cycle.RunPhased(ctx, nil, fn)
}

// RunPhased runs before, waits for the next iteration boundary and then runs
// fn. It returns when ctx is canceled, when the cycle is stopped or when either
// function returns an error.
func (cycle *Cycle) RunPhased(ctx context.Context, before, fn func(ctx context.Context) error) error {
	next := time.Now()
	for {
		select {
		case <-cycle.stop:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if before != nil {
			if err := before(ctx); err != nil {
				return err
			}
			// before may have stopped the cycle.
			select {
			case <-cycle.stop:
				return nil
			default:
			}
		}

		if cycle.paused.Load() {
			if !Sleep(ctx, cycle.Interval()) {
				return ctx.Err()
			}
			next = time.Now()
			continue
		}

		if late := time.Since(next); late > cycle.Interval() {
			cycle.overruns.Add(1)
		}
		if !WaitUntil(ctx, next, cycle.MinSleep()) {
			return ctx.Err()
		}

		start := time.Now()
		if err := fn(ctx); err != nil {
			return err
		}
		cycle.iterations.Add(1)
		next = start.Add(cycle.Interval())
	}
}

// Stop stops the cycle permanently. It is safe to call from within fn.
func (cycle *Cycle) Stop() {
	cycle.stopOnce.Do(func() { close(cycle.stop) })
}

// Close stops the cycle.
func (cycle *Cycle) Close() { cycle.Stop() }

// Stopped returns a channel that is closed once the cycle is stopped.
func (cycle *Cycle) Stopped() <-chan struct{} { return cycle.stop }

// ChangeInterval allows to change the interval after it has started.
func (cycle *Cycle) ChangeInterval(interval time.Duration) {
	cycle.SetInterval(interval)
}

// Pause pauses the cycle.
func (cycle *Cycle) Pause() { cycle.paused.Store(true) }

// Restart continues a paused cycle, scheduling the next iteration immediately.
func (cycle *Cycle) Restart() { cycle.paused.Store(false) }

// Iterations returns how many times fn has completed.
func (cycle *Cycle) Iterations() int64 { return cycle.iterations.Load() }

// Overruns returns how many iterations started more than one interval late.
func (cycle *Cycle) Overruns() int64 { return cycle.overruns.Load() }
