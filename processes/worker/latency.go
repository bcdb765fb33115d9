// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package worker

import (
	"context"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/routine"
)

// LatencyName is the attribute holding the delay between a source entry
// being written and the worker seeing it, in seconds.
const LatencyName = "frame_latency"

// Latency measures how late the worker observes new entries of a source
// attribute written by another process.
type Latency struct {
	routine.Base
	source string

	app     *ipc.AppContext
	ring    *attribute.Ring
	latency *attribute.Array[float64]
	next    int64
}

// NewLatency creates the routine watching source.
func NewLatency(source string) *Latency {
	return &Latency{source: source}
}

// Name implements routine.Routine.
func (latency *Latency) Name() string { return "latency" }

// Setup implements routine.Routine.
func (latency *Latency) Setup(reg *attribute.Registry, opts ...attribute.Option) error {
	_, err := attribute.RegisterArray[float64](reg, LatencyName, attribute.Shape{1}, append(opts, attribute.Persist())...)
	return err
}

// Initialize implements routine.Routine.
func (latency *Latency) Initialize(ctx context.Context, app *ipc.AppContext) (err error) {
	latency.app = app
	latency.ring = app.Registry.Get(latency.source)
	if latency.ring == nil {
		return routine.Error.New("unknown source attribute %q", latency.source)
	}
	latency.next = latency.ring.Index()
	latency.latency, err = attribute.GetArray[float64](app.Registry, LatencyName)
	return err
}

// Main records the latency of the newest source entry, if there is one.
func (latency *Latency) Main(ctx context.Context, data routine.Data) error {
	index := latency.ring.Index()
	if index <= latency.next {
		return nil
	}
	latency.next = index

	times, err := latency.ring.Times(1)
	if err != nil {
		return err
	}
	return latency.latency.WriteScalar(latency.app.Now() - times[0])
}
