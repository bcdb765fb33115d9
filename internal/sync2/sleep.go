// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information

package sync2

import (
	"context"
	"runtime"
	"time"

	"github.com/loov/hrtime"
)

// DefaultMinSleep is used until the granularity has been measured.
const DefaultMinSleep = 2 * time.Millisecond

// Sleep sleeps for the given duration or until ctx is canceled.
// It returns false when the context was canceled.
func Sleep(ctx context.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WaitUntil blocks until deadline. While more than minSleep remains it sleeps,
// leaving minSleep of slack, and spins for the final approach.
// It returns false when the context was canceled.
func WaitUntil(ctx context.Context, deadline time.Time, minSleep time.Duration) bool {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ctx.Err() == nil
		}
		if remaining > minSleep {
			if !Sleep(ctx, remaining-minSleep) {
				return false
			}
			continue
		}
		if ctx.Err() != nil {
			return false
		}
		runtime.Gosched()
	}
}

// MeasureMinSleep estimates the scheduler granularity by timing a number of
// minimal sleeps and returning the longest one observed.
func MeasureMinSleep(samples int) time.Duration {
	if samples <= 0 {
		samples = 1
	}
	var longest time.Duration
	for i := 0; i < samples; i++ {
		start := hrtime.Now()
		time.Sleep(time.Microsecond)
		if took := hrtime.Since(start); took > longest {
			longest = took
		}
	}
	return longest
}
