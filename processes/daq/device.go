// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package daq

import (
	"sync"
)

// Device is a data acquisition board with named analog pins.
type Device interface {
	Read(pin string) (float64, error)
	Write(pin string, value float64) error
	Close() error
}

// Virtual is a device whose pins hold the last value written to them.
type Virtual struct {
	mu     sync.Mutex
	pins   map[string]float64
	closed bool
}

// NewVirtual creates a virtual device with pins set to zero.
func NewVirtual(pins ...string) *Virtual {
	device := &Virtual{pins: map[string]float64{}}
	for _, pin := range pins {
		device.pins[pin] = 0
	}
	return device
}

// Read implements Device.
func (device *Virtual) Read(pin string) (float64, error) {
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.closed {
		return 0, Error.New("device is closed")
	}
	value, ok := device.pins[pin]
	if !ok {
		return 0, Error.New("unknown pin %q", pin)
	}
	return value, nil
}

// Write implements Device.
func (device *Virtual) Write(pin string, value float64) error {
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.closed {
		return Error.New("device is closed")
	}
	if _, ok := device.pins[pin]; !ok {
		return Error.New("unknown pin %q", pin)
	}
	device.pins[pin] = value
	return nil
}

// Close implements Device.
func (device *Virtual) Close() error {
	device.mu.Lock()
	defer device.mu.Unlock()
	device.closed = true
	return nil
}
