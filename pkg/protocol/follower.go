// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package protocol

import (
	"context"

	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/ipc"
)

// Hooks are called by a Follower as the protocol progresses.
type Hooks interface {
	PrepareProtocol(ctx context.Context, protocol *Protocol) error
	PreparePhase(ctx context.Context, id int, phase Phase) error
	StartPhase(ctx context.Context, id int, phase Phase) error
	// RunPhase is called from the main loop while a phase runs, elapsed is
	// the time since the phase started.
	RunPhase(ctx context.Context, id int, phase Phase, elapsed float64) error
	EndPhase(ctx context.Context, id int, phase Phase) error
	EndProtocol(ctx context.Context, protocol *Protocol) error
}

// NopHooks implements Hooks doing nothing. Embed it to implement only some hooks.
type NopHooks struct{}

// PrepareProtocol implements Hooks.
func (NopHooks) PrepareProtocol(ctx context.Context, protocol *Protocol) error { return nil }

// PreparePhase implements Hooks.
func (NopHooks) PreparePhase(ctx context.Context, id int, phase Phase) error { return nil }

// StartPhase implements Hooks.
func (NopHooks) StartPhase(ctx context.Context, id int, phase Phase) error { return nil }

// RunPhase implements Hooks.
func (NopHooks) RunPhase(ctx context.Context, id int, phase Phase, elapsed float64) error {
	return nil
}

// EndPhase implements Hooks.
func (NopHooks) EndPhase(ctx context.Context, id int, phase Phase) error { return nil }

// EndProtocol implements Hooks.
func (NopHooks) EndProtocol(ctx context.Context, protocol *Protocol) error { return nil }

// Follower mirrors the coordinator in a process that presents phases:
//
//	IDLE -> WAIT_FOR_PHASE -> READY -> RUNNING -> PHASE_END -> WAIT_FOR_PHASE ...
//
// It only observes the STATE of the controller and the protocol fields of
// CONTROL. A failing hook stops the process.
type Follower struct {
	log     *zap.Logger
	app     *ipc.AppContext
	library *Library
	hooks   Hooks

	protocol *Protocol
	phaseID  int
	phase    Phase
	start    float64
	running  bool
}

// NewFollower creates a follower calling hooks.
func NewFollower(log *zap.Logger, app *ipc.AppContext, library *Library, hooks Hooks) *Follower {
	return &Follower{
		log:     log,
		app:     app,
		library: library,
		hooks:   hooks,
		phaseID: -1,
	}
}

// Current returns the running phase.
func (follower *Follower) Current() (id int, phase Phase, ok bool) {
	return follower.phaseID, follower.phase, follower.running
}

// Evaluate advances the local state machine. It is called once per loop iteration.
func (follower *Follower) Evaluate(ctx context.Context) (err error) {
	own, err := follower.app.State(ctx)
	if err != nil {
		return err
	}
	switch own {
	case ipc.Na, ipc.Starting, ipc.Stopped:
		return nil
	}

	controller, err := follower.app.Table.State(ctx, ipc.Controller)
	if err != nil {
		return err
	}

	if own != ipc.Idle && (controller == ipc.ProtocolEnd || controller == ipc.Idle) {
		return follower.guard(ctx, follower.endProtocol(ctx, own))
	}

	switch own {
	case ipc.Idle:
		if controller != ipc.PrepareProtocol {
			return nil
		}
		control, err := follower.app.Table.Control(ctx)
		if err != nil {
			return err
		}
		protocol, err := follower.library.Resolve(control.Protocol.Path)
		if err == nil {
			err = follower.hooks.PrepareProtocol(ctx, protocol)
		}
		if err != nil {
			return follower.guard(ctx, Error.New("preparing protocol %q: %w", control.Protocol.Path, err))
		}
		follower.protocol = protocol
		follower.log.Debug("protocol prepared", zap.String("protocol", protocol.Name))
		return follower.app.SetState(ctx, ipc.WaitForPhase)

	case ipc.WaitForPhase:
		if controller != ipc.PreparePhase {
			return nil
		}
		control, err := follower.app.Table.Control(ctx)
		if err != nil {
			return err
		}
		if err := follower.prepare(ctx, control.Protocol.PhaseID); err != nil {
			return follower.guard(ctx, err)
		}
		return follower.app.SetState(ctx, ipc.Ready)

	case ipc.Ready:
		// the controller waits in PHASE_END for followers that missed RUNNING.
		if controller != ipc.Running && controller != ipc.PhaseEnd {
			return nil
		}
		control, err := follower.app.Table.Control(ctx)
		if err != nil {
			return err
		}
		if control.Protocol.PhaseID != follower.phaseID {
			follower.log.Warn("prepared phase is outdated",
				zap.Int("prepared", follower.phaseID), zap.Int("current", control.Protocol.PhaseID))
			if err := follower.prepare(ctx, control.Protocol.PhaseID); err != nil {
				return follower.guard(ctx, err)
			}
		}
		if follower.app.Now() < control.Protocol.PhaseStart {
			return nil
		}
		if err := follower.hooks.StartPhase(ctx, follower.phaseID, follower.phase); err != nil {
			return follower.guard(ctx, Error.New("starting phase %d: %w", follower.phaseID, err))
		}
		follower.start = control.Protocol.PhaseStart
		follower.running = true
		return follower.app.SetState(ctx, ipc.Running)

	case ipc.Running:
		control, err := follower.app.Table.Control(ctx)
		if err != nil {
			return err
		}
		if follower.app.Now() < control.Protocol.PhaseStop {
			return nil
		}
		follower.running = false
		if err := follower.hooks.EndPhase(ctx, follower.phaseID, follower.phase); err != nil {
			return follower.guard(ctx, Error.New("ending phase %d: %w", follower.phaseID, err))
		}
		return follower.app.SetState(ctx, ipc.PhaseEnd)

	case ipc.PhaseEnd:
		if controller != ipc.PreparePhase {
			return nil
		}
		return follower.app.SetState(ctx, ipc.WaitForPhase)
	}
	return nil
}

// prepare calls PreparePhase for phase id of the protocol.
func (follower *Follower) prepare(ctx context.Context, id int) error {
	phase, ok := follower.protocol.Phase(id)
	if !ok {
		return Error.New("phase %d out of range", id)
	}
	if err := follower.hooks.PreparePhase(ctx, id, phase); err != nil {
		return Error.New("preparing phase %d: %w", id, err)
	}
	follower.phaseID, follower.phase = id, phase
	return nil
}

// Run calls RunPhase while a phase is running. It belongs in the main loop.
func (follower *Follower) Run(ctx context.Context) error {
	if !follower.running {
		return nil
	}
	elapsed := follower.app.Now() - follower.start
	return follower.guard(ctx, follower.hooks.RunPhase(ctx, follower.phaseID, follower.phase, elapsed))
}

func (follower *Follower) endProtocol(ctx context.Context, own ipc.State) error {
	var err error
	if own == ipc.Running {
		follower.running = false
		err = follower.hooks.EndPhase(ctx, follower.phaseID, follower.phase)
	}
	if follower.protocol != nil {
		if endErr := follower.hooks.EndProtocol(ctx, follower.protocol); err == nil {
			err = endErr
		}
	}
	follower.protocol = nil
	follower.phaseID = -1
	if err != nil {
		return err
	}
	return follower.app.SetState(ctx, ipc.Idle)
}

// guard moves the process to STOPPED when err is set.
func (follower *Follower) guard(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	follower.running = false
	follower.log.Error("protocol hook failed, process is stopped", zap.Error(err))
	return follower.app.SetState(ctx, ipc.Stopped)
}
