// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package camera implements the process that reads frames from camera
// devices and runs the routines analysing them.
package camera

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/routine"
)

var (
	// Error is the default camera errs class.
	Error = errs.Class("camera")

	mon = monkit.Package()
)

// Config configures the camera process.
type Config struct {
	Devices      []string `help:"names of the camera devices" default:"cam0"`
	Width        int      `help:"frame width in pixels" default:"64"`
	Height       int      `help:"frame height in pixels" default:"48"`
	Buffer       int      `help:"frames kept in shared memory per device" default:"100"`
	RecordFrames bool     `help:"write raw frames to recordings" default:"false"`
	Loop         proc.Config
}

// FrameName is the attribute holding the frames of device.
func FrameName(device string) string { return device + "_frame" }

// Routines returns the routines run by the camera process.
func Routines(log *zap.Logger, config Config) (*routine.Set, error) {
	return routine.NewSet(log, ipc.Camera, NewFrameStats(config.Devices))
}

// Peer describes the camera process to the controller.
func Peer(log *zap.Logger, config Config) controller.Peer {
	return controller.Peer{
		Role:  ipc.Camera,
		Setup: func(reg *attribute.Registry) error { return Setup(log, reg, config) },
	}
}

// Setup registers the frame attributes and the attributes of the routines.
func Setup(log *zap.Logger, reg *attribute.Registry, config Config) error {
	if len(config.Devices) == 0 {
		return Error.New("no devices configured")
	}
	opts := []attribute.Option{
		attribute.WithOwner(string(ipc.Camera)),
		attribute.WithGroup("camera"),
		attribute.WithLength(config.Buffer),
	}
	if config.RecordFrames {
		opts = append(opts, attribute.Persist())
	}
	for _, device := range config.Devices {
		_, err := attribute.RegisterArray[uint8](reg, FrameName(device), attribute.Shape{config.Height, config.Width}, opts...)
		if err != nil {
			return err
		}
	}

	routines, err := Routines(log, config)
	if err != nil {
		return err
	}
	return routines.Setup(reg)
}

// Process is the camera process.
type Process struct {
	log      *zap.Logger
	app      *ipc.AppContext
	config   Config
	devices  []Device
	frames   []*attribute.Array[uint8]
	routines *routine.Set

	Runtime *proc.Runtime
}

// New creates the camera process of member. Without devices a virtual device
// is opened for every configured name.
func New(log *zap.Logger, member *controller.Member, config Config, devices ...Device) (*Process, error) {
	if len(devices) == 0 {
		for _, name := range config.Devices {
			devices = append(devices, NewVirtual(name, config.Width, config.Height))
		}
	}

	routines, err := Routines(log.Named("routine"), config)
	if err != nil {
		return nil, err
	}
	runtime, err := member.Runtime(config.Loop)
	if err != nil {
		return nil, err
	}

	process := &Process{
		log:      log,
		app:      member.App,
		config:   config,
		devices:  devices,
		routines: routines,
		Runtime:  runtime,
	}
	runtime.Initialize = process.initialize
	runtime.Main = process.main
	runtime.OnShutdown = process.close

	err = member.App.Dispatcher.Register("camera.devices", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
		return process.names(), nil
	})
	if err != nil {
		return nil, err
	}
	return process, nil
}

// Run runs the process loop until shutdown.
func (process *Process) Run(ctx context.Context) error {
	return process.Runtime.Run(ctx)
}

func (process *Process) names() []string {
	names := make([]string, 0, len(process.devices))
	for _, device := range process.devices {
		names = append(names, device.Name())
	}
	return names
}

func (process *Process) initialize(ctx context.Context) error {
	process.frames = process.frames[:0]
	for _, device := range process.devices {
		width, height := device.Size()
		frames, err := attribute.GetArray[uint8](process.app.Registry, FrameName(device.Name()))
		if err != nil {
			return err
		}
		if shape := frames.Spec().Shape; !shape.Equal(attribute.Shape{height, width}) {
			return Error.New("device %q delivers %dx%d frames, attribute holds %v", device.Name(), width, height, shape)
		}
		process.frames = append(process.frames, frames)
	}

	if err := process.routines.Initialize(ctx, process.app, process.names()); err != nil {
		return err
	}
	process.log.Info("camera initialized",
		zap.Strings("devices", process.names()),
		zap.Strings("routines", process.routines.Names()))
	return nil
}

func (process *Process) main(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	data := make(routine.Data, len(process.devices))
	for i, device := range process.devices {
		frame, err := device.Read(ctx)
		if err != nil {
			mon.Counter("frame_errors").Inc(1)
			return Error.New("reading %q: %w", device.Name(), err)
		}
		if err := process.frames[i].Write(frame); err != nil {
			return err
		}
		data[device.Name()] = frame
	}
	return process.routines.Main(ctx, data)
}

func (process *Process) close(ctx context.Context) error {
	var group errs.Group
	for _, device := range process.devices {
		group.Add(device.Close())
	}
	return group.Err()
}
