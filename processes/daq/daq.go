// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package daq implements the io process. It drives the output pins
// requested by protocol phases and samples every pin once per iteration.
package daq

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
)

var (
	// Error is the default daq errs class.
	Error = errs.Class("daq")

	mon = monkit.Package()
)

// Config configures the io process.
type Config struct {
	Inputs  []string `help:"names of the input pins" default:"in0"`
	Outputs []string `help:"names of the output pins" default:"out0"`
	Loop    proc.Config
}

func (config Config) pins() []string {
	return append(append([]string(nil), config.Inputs...), config.Outputs...)
}

// PinName is the attribute sampling pin.
func PinName(pin string) string { return "io_" + pin }

// Peer describes the io process to the controller.
func Peer(config Config) controller.Peer {
	return controller.Peer{
		Role:            ipc.IO,
		Setup:           func(reg *attribute.Registry) error { return Setup(reg, config) },
		FollowsProtocol: true,
	}
}

// Setup registers one attribute per pin.
func Setup(reg *attribute.Registry, config Config) error {
	for _, pin := range config.pins() {
		_, err := attribute.RegisterArray[float64](reg, PinName(pin), attribute.Shape{1},
			attribute.WithOwner(string(ipc.IO)), attribute.WithGroup("io"), attribute.Persist())
		if err != nil {
			return err
		}
	}
	return nil
}

// Process is the io process.
type Process struct {
	protocol.NopHooks

	log      *zap.Logger
	app      *ipc.AppContext
	config   Config
	device   Device
	outputs  map[string]bool
	follower *protocol.Follower

	samples map[string]*attribute.Array[float64]
	// driven holds the outputs set by the running phase.
	driven []string

	Runtime *proc.Runtime
}

// New creates the io process of member. A nil device opens a virtual one.
func New(log *zap.Logger, member *controller.Member, config Config, library *protocol.Library, device Device) (*Process, error) {
	if device == nil {
		device = NewVirtual(config.pins()...)
	}
	runtime, err := member.Runtime(config.Loop)
	if err != nil {
		return nil, err
	}

	process := &Process{
		log:     log,
		app:     member.App,
		config:  config,
		device:  device,
		outputs: map[string]bool{},
		samples: map[string]*attribute.Array[float64]{},
		Runtime: runtime,
	}
	for _, pin := range config.Outputs {
		process.outputs[pin] = true
	}
	process.follower = protocol.NewFollower(log.Named("protocol"), member.App, library, process)

	runtime.Initialize = process.initialize
	runtime.Evaluate = process.follower.Evaluate
	runtime.Main = process.main
	runtime.OnShutdown = process.close

	err = member.App.Dispatcher.Register("io.set", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
		pin, err := ipc.Arg[string](msg, 0)
		if err != nil {
			return nil, err
		}
		value, err := ipc.Arg[float64](msg, 1)
		if err != nil {
			return nil, err
		}
		return nil, process.set(pin, value)
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

func (process *Process) initialize(ctx context.Context) (err error) {
	for _, pin := range process.config.pins() {
		process.samples[pin], err = attribute.GetArray[float64](process.app.Registry, PinName(pin))
		if err != nil {
			return err
		}
	}
	return nil
}

func (process *Process) main(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := process.follower.Run(ctx); err != nil {
		return err
	}
	for _, pin := range process.config.pins() {
		value, err := process.device.Read(pin)
		if err != nil {
			return err
		}
		if err := process.samples[pin].WriteScalar(value); err != nil {
			return err
		}
	}
	return nil
}

func (process *Process) set(pin string, value float64) error {
	if !process.outputs[pin] {
		return Error.New("%q is not an output", pin)
	}
	return process.device.Write(pin, value)
}

// PrepareProtocol checks that the phases only drive outputs.
func (process *Process) PrepareProtocol(ctx context.Context, p *protocol.Protocol) error {
	for i := 0; i < p.Count(); i++ {
		phase, _ := p.Phase(i)
		for pin := range phase.IO {
			if !process.outputs[pin] {
				return Error.New("phase %d drives %q, which is not an output", i, pin)
			}
		}
	}
	return nil
}

// StartPhase drives the outputs of phase.
func (process *Process) StartPhase(ctx context.Context, id int, phase protocol.Phase) error {
	process.driven = process.driven[:0]
	for pin, value := range phase.IO {
		if err := process.set(pin, value); err != nil {
			return err
		}
		process.driven = append(process.driven, pin)
	}
	return nil
}

// EndPhase resets the outputs driven by the phase.
func (process *Process) EndPhase(ctx context.Context, id int, phase protocol.Phase) error {
	var group errs.Group
	for _, pin := range process.driven {
		group.Add(process.set(pin, 0))
	}
	process.driven = process.driven[:0]
	return group.Err()
}

func (process *Process) close(ctx context.Context) error {
	var group errs.Group
	for _, pin := range process.config.Outputs {
		group.Add(process.device.Write(pin, 0))
	}
	group.Add(process.device.Close())
	return group.Err()
}
