// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"math"
	"sync/atomic"
	"time"
)

// Clock returns the current time of the producer process in seconds.
type Clock interface {
	Now() float64
}

// EpochClock measures seconds since a shared epoch. Every process of a session
// uses the same epoch so timestamps are comparable across processes.
type EpochClock struct {
	Epoch time.Time
}

// Now implements Clock.
func (clock EpochClock) Now() float64 {
	return time.Since(clock.Epoch).Seconds()
}

// ManualClock is a clock that only advances when told to.
type ManualClock struct {
	bits atomic.Uint64
}

// Now implements Clock.
func (clock *ManualClock) Now() float64 {
	return math.Float64frombits(clock.bits.Load())
}

// Set sets the current time.
func (clock *ManualClock) Set(now float64) {
	clock.bits.Store(math.Float64bits(now))
}

// Advance moves the clock forward by d seconds.
func (clock *ManualClock) Advance(d float64) {
	clock.Set(clock.Now() + d)
}
