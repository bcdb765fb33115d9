// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package display implements the process presenting the visuals of the
// protocol phases.
package display

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/memory"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
)

// Error is the default display errs class.
var Error = errs.Class("display")

// Attributes written by the display.
const (
	PhaseIDName   = "display_phase_id"
	LuminanceName = "display_luminance"
	VisualName    = "display_visual"
)

// Config configures the display process.
type Config struct {
	Loop proc.Config
}

// VisualState describes the visual presented in a phase.
type VisualState struct {
	PhaseID int                    `json:"phase_id"`
	Visual  string                 `json:"visual"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// Peer describes the display process to the controller.
func Peer() controller.Peer {
	return controller.Peer{Role: ipc.Display, Setup: Setup, FollowsProtocol: true}
}

// Setup registers the display attributes.
func Setup(reg *attribute.Registry) error {
	opts := []attribute.Option{
		attribute.WithOwner(string(ipc.Display)),
		attribute.WithGroup("display"),
		attribute.Persist(),
	}
	_, err := attribute.RegisterArray[int64](reg, PhaseIDName, attribute.Shape{1}, opts...)
	if err != nil {
		return err
	}
	_, err = attribute.RegisterArray[float64](reg, LuminanceName, attribute.Shape{1}, opts...)
	if err != nil {
		return err
	}
	_, err = attribute.RegisterObject[VisualState](reg, VisualName, append(opts, attribute.WithObjectSize(2*memory.KiB))...)
	return err
}

// Process is the display process.
type Process struct {
	protocol.NopHooks

	log      *zap.Logger
	app      *ipc.AppContext
	visuals  Visuals
	follower *protocol.Follower

	phaseID   *attribute.Array[int64]
	luminance *attribute.Array[float64]
	state     *attribute.Object[VisualState]

	idle    Visual
	next    Visual
	current Visual
	id      int

	Runtime *proc.Runtime
}

// New creates the display process of member. Protocols are resolved in library.
func New(log *zap.Logger, member *controller.Member, config Config, library *protocol.Library, visuals Visuals) (*Process, error) {
	runtime, err := member.Runtime(config.Loop)
	if err != nil {
		return nil, err
	}
	process := &Process{
		log:     log,
		app:     member.App,
		visuals: visuals,
		idle:    &Blank{},
		id:      -1,
		Runtime: runtime,
	}
	process.follower = protocol.NewFollower(log.Named("protocol"), member.App, library, process)

	runtime.Initialize = process.initialize
	runtime.Evaluate = process.follower.Evaluate
	runtime.Main = process.main

	err = member.App.Dispatcher.Register("display.visuals", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
		return visuals.Names(), nil
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
	reg := process.app.Registry
	if process.phaseID, err = attribute.GetArray[int64](reg, PhaseIDName); err != nil {
		return err
	}
	if process.luminance, err = attribute.GetArray[float64](reg, LuminanceName); err != nil {
		return err
	}
	process.state, err = attribute.GetObject[VisualState](reg, VisualName)
	return err
}

// main renders the idle screen between phases, phases are rendered by RunPhase.
func (process *Process) main(ctx context.Context) error {
	if err := process.follower.Run(ctx); err != nil {
		return err
	}
	if process.current != nil {
		return nil
	}
	return process.render(process.idle.Update(0))
}

func (process *Process) render(luminance float64) error {
	return errs.Combine(
		process.phaseID.WriteScalar(int64(process.id)),
		process.luminance.WriteScalar(luminance),
	)
}

// PrepareProtocol checks that every visual of protocol exists.
func (process *Process) PrepareProtocol(ctx context.Context, p *protocol.Protocol) error {
	for i := 0; i < p.Count(); i++ {
		phase, _ := p.Phase(i)
		if _, err := process.visuals.New(phase.Visual); err != nil {
			return Error.New("phase %d: %w", i, err)
		}
	}
	return nil
}

// PreparePhase initializes the visual of the next phase.
func (process *Process) PreparePhase(ctx context.Context, id int, phase protocol.Phase) error {
	visual, err := process.visuals.New(phase.Visual)
	if err != nil {
		return err
	}
	if err := visual.Initialize(phase.Params); err != nil {
		return Error.New("phase %d: %w", id, err)
	}
	process.next = visual
	return nil
}

// StartPhase presents the prepared visual.
func (process *Process) StartPhase(ctx context.Context, id int, phase protocol.Phase) error {
	process.current, process.next = process.next, nil
	process.id = id
	name := phase.Visual
	if name == "" {
		name = "blank"
	}
	process.log.Debug("phase started", zap.Int("phase", id), zap.String("visual", name))
	return process.state.Write(VisualState{PhaseID: id, Visual: name, Params: phase.Params})
}

// RunPhase renders the current visual.
func (process *Process) RunPhase(ctx context.Context, id int, phase protocol.Phase, elapsed float64) error {
	if process.current == nil {
		return Error.New("phase %d runs without a visual", id)
	}
	return process.render(process.current.Update(elapsed))
}

// EndPhase returns to the idle screen.
func (process *Process) EndPhase(ctx context.Context, id int, phase protocol.Phase) error {
	process.current = nil
	process.id = -1
	return nil
}
