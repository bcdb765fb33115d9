// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package camera

import (
	"context"
	"sync"
)

// Device is a source of grayscale frames.
type Device interface {
	Name() string
	// Size returns the frame width and height in pixels.
	Size() (width, height int)
	// Read returns the next frame in row major order.
	Read(ctx context.Context) ([]uint8, error)
	Close() error
}

// Virtual is a device that renders a gradient moving by one pixel per frame.
type Virtual struct {
	name          string
	width, height int

	mu     sync.Mutex
	frame  int
	closed bool
}

// NewVirtual creates a virtual device.
func NewVirtual(name string, width, height int) *Virtual {
	return &Virtual{name: name, width: width, height: height}
}

// Name implements Device.
func (device *Virtual) Name() string { return device.name }

// Size implements Device.
func (device *Virtual) Size() (width, height int) { return device.width, device.height }

// Read implements Device.
func (device *Virtual) Read(ctx context.Context) ([]uint8, error) {
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.closed {
		return nil, Error.New("device %q is closed", device.name)
	}

	frame := make([]uint8, device.width*device.height)
	for y := 0; y < device.height; y++ {
		row := frame[y*device.width : (y+1)*device.width]
		for x := range row {
			row[x] = uint8(x + y + device.frame)
		}
	}
	device.frame++
	return frame, nil
}

// Close implements Device.
func (device *Virtual) Close() error {
	device.mu.Lock()
	defer device.mu.Unlock()
	device.closed = true
	return nil
}
