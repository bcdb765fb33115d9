// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package protocol

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/ipc"
)

// Recorder controls the session recording.
type Recorder interface {
	Recording(ctx context.Context) (bool, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
}

// Config configures the coordinator.
type Config struct {
	StartupDelay time.Duration `help:"delay added to the start of every phase so all processes are ready" default:"100ms"`
	AutoRecord   bool          `help:"start a recording with every protocol unless one is active" default:"true"`
}

// Coordinator runs the protocol state machine of the controller:
//
//	IDLE -> PREPARE_PROTOCOL -> PREPARE_PHASE -> RUNNING -> PHASE_END
//	     -> PREPARE_PHASE ... -> PROTOCOL_END -> IDLE
//
// Transitions that depend on other processes wait until all of them reached
// the expected state, where STOPPED counts as any state.
type Coordinator struct {
	log      *zap.Logger
	app      *ipc.AppContext
	config   Config
	library  *Library
	recorder Recorder
	required []ipc.Role

	protocol      *Protocol
	phase         int
	autoRecording bool
}

// NewCoordinator creates a coordinator waiting for the required roles.
func NewCoordinator(log *zap.Logger, app *ipc.AppContext, config Config, library *Library, recorder Recorder, required []ipc.Role) *Coordinator {
	return &Coordinator{
		log:      log,
		app:      app,
		config:   config,
		library:  library,
		recorder: recorder,
		required: required,
		phase:    -1,
	}
}

// Protocol returns the running protocol, nil when idle.
func (coordinator *Coordinator) Protocol() *Protocol { return coordinator.protocol }

// PhaseID returns the current phase, -1 before the first.
func (coordinator *Coordinator) PhaseID() int { return coordinator.phase }

// Start begins the protocol registered as name or stored at path name.
func (coordinator *Coordinator) Start(ctx context.Context, name string) (err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := coordinator.app.State(ctx)
	if err != nil {
		return err
	}
	if state != ipc.Idle {
		coordinator.log.Warn("protocol start rejected", zap.String("protocol", name), zap.Stringer("state", state))
		return ErrRejected.New("controller is %s", state)
	}
	ready, err := ipc.AllIn(ctx, coordinator.app.Table, coordinator.required, ipc.Idle, ipc.Stopped)
	if err != nil {
		return err
	}
	if !ready {
		states, _ := ipc.States(ctx, coordinator.app.Table)
		coordinator.log.Warn("protocol start rejected, processes are busy", zap.String("protocol", name), zap.Any("states", states))
		return ErrRejected.New("processes are not idle")
	}

	protocol, err := coordinator.library.Resolve(name)
	if err != nil {
		return err
	}

	if coordinator.config.AutoRecord && coordinator.recorder != nil {
		active, err := coordinator.recorder.Recording(ctx)
		if err != nil {
			return err
		}
		if !active {
			if err := coordinator.recorder.StartRecording(ctx); err != nil {
				return err
			}
			coordinator.autoRecording = true
		}
	}

	coordinator.protocol = protocol
	coordinator.phase = -1
	err = coordinator.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Protocol = ipc.ProtocolControl{
			Path:       name,
			PhaseID:    -1,
			PhaseCount: protocol.Count(),
		}
	})
	if err != nil {
		return err
	}

	coordinator.log.Info("protocol started",
		zap.String("protocol", protocol.Name), zap.Int("phases", protocol.Count()),
		zap.Float64("duration", protocol.Duration()))
	return coordinator.app.SetState(ctx, ipc.PrepareProtocol)
}

// Abort ends the running phase now and finishes the protocol.
func (coordinator *Coordinator) Abort(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := coordinator.app.State(ctx)
	if err != nil {
		return err
	}
	switch state {
	case ipc.PrepareProtocol, ipc.PreparePhase, ipc.Running, ipc.PhaseEnd:
	default:
		return ErrRejected.New("no protocol is running")
	}

	now := coordinator.app.Now()
	err = coordinator.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Protocol.PhaseStop = now
	})
	if err != nil {
		return err
	}
	coordinator.log.Info("protocol aborted", zap.Int("phase", coordinator.phase))
	return coordinator.app.SetState(ctx, ipc.ProtocolEnd)
}

// Evaluate advances the state machine. It is called once per loop iteration.
func (coordinator *Coordinator) Evaluate(ctx context.Context) (err error) {
	state, err := coordinator.app.State(ctx)
	if err != nil {
		return err
	}

	switch state {
	case ipc.PrepareProtocol:
		if ok, err := coordinator.others(ctx, ipc.WaitForPhase); !ok || err != nil {
			return err
		}
		return coordinator.advance(ctx)

	case ipc.PreparePhase:
		if ok, err := coordinator.others(ctx, ipc.Ready); !ok || err != nil {
			return err
		}
		phase, _ := coordinator.protocol.Phase(coordinator.phase)
		start := coordinator.app.Now() + coordinator.config.StartupDelay.Seconds()
		stop := start + phase.Duration
		err := coordinator.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
			control.Protocol.PhaseStart = start
			control.Protocol.PhaseStop = stop
		})
		if err != nil {
			return err
		}
		coordinator.log.Info("phase started", zap.Int("phase", coordinator.phase),
			zap.String("visual", phase.Visual), zap.Float64("start", start), zap.Float64("stop", stop))
		return coordinator.app.SetState(ctx, ipc.Running)

	case ipc.Running:
		control, err := coordinator.app.Table.Control(ctx)
		if err != nil {
			return err
		}
		if coordinator.app.Now() < control.Protocol.PhaseStop {
			return nil
		}
		return coordinator.app.SetState(ctx, ipc.PhaseEnd)

	case ipc.PhaseEnd:
		// every follower ends the phase before the next one is prepared.
		if ok, err := coordinator.others(ctx, ipc.PhaseEnd); !ok || err != nil {
			return err
		}
		if coordinator.phase+1 < coordinator.protocol.Count() {
			return coordinator.advance(ctx)
		}
		return coordinator.app.SetState(ctx, ipc.ProtocolEnd)

	case ipc.ProtocolEnd:
		if ok, err := coordinator.others(ctx, ipc.Idle); !ok || err != nil {
			return err
		}
		return coordinator.finish(ctx)
	}
	return nil
}

// others returns whether all required processes are in state or STOPPED.
func (coordinator *Coordinator) others(ctx context.Context, state ipc.State) (bool, error) {
	return ipc.AllIn(ctx, coordinator.app.Table, coordinator.required, state, ipc.Stopped)
}

func (coordinator *Coordinator) advance(ctx context.Context) error {
	coordinator.phase++
	phase := coordinator.phase
	err := coordinator.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Protocol.PhaseID = phase
	})
	if err != nil {
		return err
	}
	coordinator.log.Debug("preparing phase", zap.Int("phase", phase))
	return coordinator.app.SetState(ctx, ipc.PreparePhase)
}

func (coordinator *Coordinator) finish(ctx context.Context) error {
	var name string
	if coordinator.protocol != nil {
		name = coordinator.protocol.Name
	}
	if coordinator.autoRecording {
		coordinator.autoRecording = false
		if err := coordinator.recorder.StopRecording(ctx); err != nil {
			coordinator.log.Error("stopping recording failed", zap.Error(err))
		}
	}

	coordinator.protocol = nil
	coordinator.phase = -1
	err := coordinator.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Protocol = ipc.ProtocolControl{PhaseID: -1}
	})
	if err != nil {
		return err
	}
	coordinator.log.Info("protocol finished", zap.String("protocol", name))
	return coordinator.app.SetState(ctx, ipc.Idle)
}
