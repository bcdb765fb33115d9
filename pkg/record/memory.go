// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package record

import (
	"sync"

	"vxpy.io/vxpy/pkg/attribute"
)

// MemorySink keeps a recording in memory.
type MemorySink struct {
	mu sync.Mutex

	Meta    Metadata
	Specs   map[string]attribute.Spec
	Rows    map[string]attribute.Rows[any]
	Loops   []int64
	Times   []float64
	Closed  bool
	Refused map[string]bool
}

var _ Sink = (*MemorySink)(nil)

// NewMemorySink returns an empty memory sink. Create fails for the refused names.
func NewMemorySink(meta Metadata, refused ...string) *MemorySink {
	sink := &MemorySink{
		Meta:    meta,
		Specs:   map[string]attribute.Spec{},
		Rows:    map[string]attribute.Rows[any]{},
		Refused: map[string]bool{},
	}
	for _, name := range refused {
		sink.Refused[name] = true
	}
	return sink
}

// Create implements Sink.
func (sink *MemorySink) Create(spec attribute.Spec) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.Refused[spec.Name] {
		return Error.New("%q refused", spec.Name)
	}
	sink.Specs[spec.Name] = spec
	return nil
}

// Append implements Sink.
func (sink *MemorySink) Append(spec attribute.Spec, rows attribute.Rows[any]) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if _, ok := sink.Specs[spec.Name]; !ok {
		return Error.New("%q was not created", spec.Name)
	}
	current := sink.Rows[spec.Name]
	for i, index := range rows.Indices {
		if index < 0 {
			continue
		}
		current.Indices = append(current.Indices, index)
		current.Times = append(current.Times, rows.Times[i])
		current.Values = append(current.Values, rows.Values[i])
	}
	sink.Rows[spec.Name] = current
	return nil
}

// Bookkeeping implements Sink.
func (sink *MemorySink) Bookkeeping(index int64, time float64) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	sink.Loops = append(sink.Loops, index)
	sink.Times = append(sink.Times, time)
	return nil
}

// Close implements Sink.
func (sink *MemorySink) Close() error {
	sink.mu.Lock()
	defer sink.mu.Unlock()

	if sink.Closed {
		return Error.New("closed twice")
	}
	sink.Closed = true
	return nil
}

// IsClosed returns whether Close was called.
func (sink *MemorySink) IsClosed() bool {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return sink.Closed
}

// Indices returns the recorded indices of an attribute.
func (sink *MemorySink) Indices(name string) []int64 {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	return append([]int64(nil), sink.Rows[name].Indices...)
}
