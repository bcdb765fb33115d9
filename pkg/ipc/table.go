// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"context"
)

// Control holds the session wide CONTROL values.
//
// Only the controller updates CONTROL; every process reads it.
type Control struct {
	Recording RecordingControl
	Protocol  ProtocolControl
	General   GeneralControl
}

// RecordingControl is the recording block of CONTROL.
type RecordingControl struct {
	// Active is true while data is being written.
	Active bool
	// Folder is the session folder below Base. Empty means no recording.
	Folder string
	// Base is the output directory of all recordings.
	Base string
}

// ProtocolControl is the protocol block of CONTROL.
type ProtocolControl struct {
	// Path names the running protocol.
	Path string
	// PhaseID is the index of the current phase.
	PhaseID int
	// PhaseStart and PhaseStop are times on the session clock.
	PhaseStart float64
	PhaseStop  float64
	// PhaseCount is the number of phases of the running protocol.
	PhaseCount int
}

// GeneralControl holds values measured once per session.
type GeneralControl struct {
	// MinSleep is the measured sleep granularity in seconds.
	MinSleep float64
	// Epoch is the unix time in seconds that the session clock counts from.
	Epoch float64
}

// Table is the shared STATE and CONTROL table.
type Table interface {
	// State returns the protocol state of role.
	State(ctx context.Context, role Role) (State, error)
	// SetState sets the protocol state of role. Every process only sets its own.
	SetState(ctx context.Context, role Role, state State) error
	// RecState returns the recording state of role.
	RecState(ctx context.Context, role Role) (RecState, error)
	// SetRecState sets the recording state of role.
	SetRecState(ctx context.Context, role Role, state RecState) error
	// Control returns a consistent snapshot of CONTROL.
	Control(ctx context.Context) (Control, error)
	// UpdateControl modifies CONTROL. It must only be called by the controller.
	UpdateControl(ctx context.Context, update func(*Control)) error
	// Close releases the table.
	Close() error
}

// States returns the state of every role.
func States(ctx context.Context, table Table) (map[Role]State, error) {
	states := make(map[Role]State, len(Roles))
	for _, role := range Roles {
		state, err := table.State(ctx, role)
		if err != nil {
			return nil, err
		}
		states[role] = state
	}
	return states, nil
}

// AllIn returns whether every role in roles is in one of the given states.
func AllIn(ctx context.Context, table Table, roles []Role, states ...State) (bool, error) {
	for _, role := range roles {
		state, err := table.State(ctx, role)
		if err != nil {
			return false, err
		}
		if !oneOf(state, states) {
			return false, nil
		}
	}
	return true, nil
}

func oneOf(state State, states []State) bool {
	for _, s := range states {
		if state == s {
			return true
		}
	}
	return false
}
