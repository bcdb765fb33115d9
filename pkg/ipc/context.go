// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/attribute"
)

// Sender delivers messages to other processes. Children send over their
// pipe, the controller through its router.
type Sender interface {
	Send(msg *Message) error
}

// AppContext is everything a process knows about its session. It is passed
// explicitly to every component of the process.
type AppContext struct {
	Role       Role
	Session    string
	Log        *zap.Logger
	Registry   *attribute.Registry
	Table      Table
	Pipe       Sender
	Dispatcher *Dispatcher
	Clock      attribute.Clock

	queries atomic.Uint64
}

// Now returns the session time.
func (app *AppContext) Now() float64 { return app.Clock.Now() }

// State returns the state of this process.
func (app *AppContext) State(ctx context.Context) (State, error) {
	return app.Table.State(ctx, app.Role)
}

// SetState sets the state of this process.
func (app *AppContext) SetState(ctx context.Context, state State) error {
	return app.Table.SetState(ctx, app.Role, state)
}

// Send sends a message from this process. Without a pipe the message is
// dropped, which is the case for the controller talking to itself.
func (app *AppContext) Send(signal Signal, receiver Role, name string, args []interface{}, kwargs map[string]interface{}) error {
	msg, err := NewMessage(signal, app.Role, receiver, name, args, kwargs)
	if err != nil {
		return err
	}
	return app.send(msg)
}

func (app *AppContext) send(msg *Message) error {
	if app.Clock != nil {
		msg.Time = app.Clock.Now()
	}
	if app.Pipe == nil {
		app.Log.Debug("no pipe, message dropped", zap.Stringer("signal", msg.Signal), zap.String("name", msg.Name))
		return nil
	}
	return app.Pipe.Send(msg)
}

// Query calls the exposed callback name of receiver and asks for its result.
// The reply carries the returned id.
func (app *AppContext) Query(receiver Role, name string, args ...interface{}) (id uint64, err error) {
	msg, err := NewMessage(SignalQuery, app.Role, receiver, name, args, nil)
	if err != nil {
		return 0, err
	}
	msg.ID = app.queries.Add(1)
	return msg.ID, app.send(msg)
}

// RPC calls the exposed callback name of receiver.
func (app *AppContext) RPC(receiver Role, name string, args ...interface{}) error {
	return app.Send(SignalRPC, receiver, name, args, nil)
}

// UpdateProperty sets property name of receiver.
func (app *AppContext) UpdateProperty(receiver Role, name string, value interface{}) error {
	return app.Send(SignalUpdateProperty, receiver, name, []interface{}{value}, nil)
}
