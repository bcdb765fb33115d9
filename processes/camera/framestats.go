// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package camera

import (
	"context"

	"storj.io/common/memory"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/routine"
)

// FrameStatus is the summary written by FrameStats every iteration.
type FrameStatus struct {
	Frames  int64    `json:"frames"`
	Clipped []string `json:"clipped,omitempty"`
}

// FrameStats records the mean and peak brightness of every frame.
type FrameStats struct {
	routine.Base
	devices []string

	brightness map[string]*attribute.Array[float64]
	status     *attribute.Object[FrameStatus]
	frames     int64
}

// NewFrameStats creates the routine for devices.
func NewFrameStats(devices []string) *FrameStats {
	return &FrameStats{
		devices:    devices,
		brightness: map[string]*attribute.Array[float64]{},
	}
}

// BrightnessName is the attribute holding mean and peak brightness of device.
func BrightnessName(device string) string { return device + "_brightness" }

// StatusName is the attribute holding the FrameStatus entries.
const StatusName = "framestats_status"

// Name implements routine.Routine.
func (stats *FrameStats) Name() string { return "framestats" }

// Required implements routine.Routine.
func (stats *FrameStats) Required() []string { return stats.devices }

// Setup implements routine.Routine.
func (stats *FrameStats) Setup(reg *attribute.Registry, opts ...attribute.Option) error {
	opts = append(opts, attribute.Persist())
	for _, device := range stats.devices {
		if _, err := attribute.RegisterArray[float64](reg, BrightnessName(device), attribute.Shape{2}, opts...); err != nil {
			return err
		}
	}
	_, err := attribute.RegisterObject[FrameStatus](reg, StatusName, append(opts, attribute.WithObjectSize(memory.KiB))...)
	return err
}

// Initialize implements routine.Routine.
func (stats *FrameStats) Initialize(ctx context.Context, app *ipc.AppContext) (err error) {
	for _, device := range stats.devices {
		stats.brightness[device], err = attribute.GetArray[float64](app.Registry, BrightnessName(device))
		if err != nil {
			return err
		}
	}
	stats.status, err = attribute.GetObject[FrameStatus](app.Registry, StatusName)
	return err
}

// Main implements routine.Routine.
func (stats *FrameStats) Main(ctx context.Context, data routine.Data) error {
	stats.frames++
	status := FrameStatus{Frames: stats.frames}
	for _, device := range stats.devices {
		frame, ok := data[device].([]uint8)
		if !ok || len(frame) == 0 {
			return routine.Error.New("no frame from %q", device)
		}

		var sum float64
		var peak uint8
		for _, pixel := range frame {
			sum += float64(pixel)
			if pixel > peak {
				peak = pixel
			}
		}
		if peak == 255 {
			status.Clipped = append(status.Clipped, device)
		}
		if err := stats.brightness[device].Write([]float64{sum / float64(len(frame)), float64(peak)}); err != nil {
			return err
		}
	}
	return stats.status.Write(status)
}

// Exposed implements routine.Routine.
func (stats *FrameStats) Exposed() map[string]ipc.Callback {
	return map[string]ipc.Callback{
		"reset": func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			stats.frames = 0
			return nil, nil
		},
	}
}
