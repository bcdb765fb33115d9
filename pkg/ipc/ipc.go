// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package ipc implements the communication between the processes of a
// session: framed messages over pipes, callback dispatch and the shared
// STATE and CONTROL table.
package ipc

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the default ipc errs class.
	Error = errs.Class("ipc")

	mon = monkit.Package()
)

// Role identifies a process of a session.
type Role string

// Known roles.
const (
	Controller Role = "controller"
	Camera     Role = "camera"
	Display    Role = "display"
	GUI        Role = "gui"
	IO         Role = "io"
	Worker     Role = "worker"
	Logger     Role = "logger"
)

// Roles lists every role in table order.
var Roles = []Role{Controller, Camera, Display, GUI, IO, Worker, Logger}

// index returns the position of role in Roles or -1.
func (role Role) index() int {
	for i, r := range Roles {
		if r == role {
			return i
		}
	}
	return -1
}

// Valid returns whether role is known.
func (role Role) Valid() bool { return role.index() >= 0 }

// ParseRole parses a role name.
func ParseRole(name string) (Role, error) {
	role := Role(name)
	if !role.Valid() {
		return "", Error.New("unknown role %q", name)
	}
	return role, nil
}

// State is the protocol state of a process.
type State int

// Process states.
const (
	Na State = iota
	Starting
	Idle
	PrepareProtocol
	WaitForPhase
	PreparePhase
	Ready
	Running
	PhaseEnd
	ProtocolEnd
	Stopped
)

var stateNames = [...]string{
	Na:              "NA",
	Starting:        "STARTING",
	Idle:            "IDLE",
	PrepareProtocol: "PREPARE_PROTOCOL",
	WaitForPhase:    "WAIT_FOR_PHASE",
	PreparePhase:    "PREPARE_PHASE",
	Ready:           "READY",
	Running:         "RUNNING",
	PhaseEnd:        "PHASE_END",
	ProtocolEnd:     "PROTOCOL_END",
	Stopped:         "STOPPED",
}

// String implements fmt.Stringer.
func (state State) String() string {
	if state < 0 || int(state) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[state]
}

// RecState is the recording state a process reports alongside its State.
type RecState int

// Recording states.
const (
	RecStopped RecState = iota
	RecStart
	RecStartSuccess
	RecStop
)

// String implements fmt.Stringer.
func (state RecState) String() string {
	switch state {
	case RecStopped:
		return "REC_STOPPED"
	case RecStart:
		return "REC_START"
	case RecStartSuccess:
		return "REC_START_SUCCESS"
	case RecStop:
		return "REC_STOP"
	default:
		return "UNKNOWN"
	}
}
