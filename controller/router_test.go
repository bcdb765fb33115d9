// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/pkg/ipc"
)

func TestRouter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	router := controller.NewRouter(log)

	children := map[ipc.Role]*ipc.Pipe{}
	for _, role := range []ipc.Role{ipc.Camera, ipc.GUI} {
		local, childRead, childWrite, err := ipc.NewPipePair(log)
		require.NoError(t, err)
		child := ipc.NewPipe(log, childRead, childWrite, 0)
		ctx.Defer(local.Close)
		ctx.Defer(child.Close)
		ctx.Go(func() error { return local.Run(ctx) })
		ctx.Go(func() error { return child.Run(ctx) })
		router.Attach(role, local)
		children[role] = child
	}

	send := func(from, to ipc.Role, signal ipc.Signal, name string) {
		msg, err := ipc.NewMessage(signal, from, to, name, nil, nil)
		require.NoError(t, err)
		require.NoError(t, children[from].Send(msg))
	}

	// messages between children are forwarded.
	send(ipc.GUI, ipc.Camera, ipc.SignalRPC, "camera.snap")
	var got *ipc.Message
	require.Eventually(t, func() bool {
		_, ok := router.Poll()
		require.False(t, ok)
		got, ok = children[ipc.Camera].Poll()
		return ok
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, "camera.snap", got.Name)
	require.Equal(t, ipc.GUI, got.Sender)

	// messages for the controller are returned, confirmations are consumed.
	send(ipc.Camera, ipc.Controller, ipc.SignalConfirmShutdown, "shutdown")
	send(ipc.GUI, ipc.Controller, ipc.SignalRPC, "start_recording")
	require.Eventually(t, func() bool {
		router.Route()
		return router.Confirmed(ipc.Camera)
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		msg, ok := router.Poll()
		if ok {
			got = msg
		}
		return ok
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, "start_recording", got.Name)
	require.False(t, router.Confirmed(ipc.GUI))

	msg, err := ipc.NewMessage(ipc.SignalRPC, ipc.Controller, ipc.Worker, "noop", nil, nil)
	require.NoError(t, err)
	require.Error(t, router.Send(msg))

	router.Detach(ipc.GUI)
	msg.Receiver = ipc.GUI
	require.Error(t, router.Send(msg))
}
