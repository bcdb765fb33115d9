// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gui_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/internal/testsession"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/processes/gui"
)

// window keeps the views it was shown.
type window struct {
	mu     sync.Mutex
	views  []gui.View
	closed bool
}

func (w *window) Show(ctx context.Context, view gui.View) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.views = append(w.views, view)
	return nil
}

func (w *window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *window) last() (gui.View, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.views) == 0 {
		return gui.View{}, false
	}
	return w.views[len(w.views)-1], true
}

func cameraPeer() controller.Peer {
	return controller.Peer{
		Role: ipc.Camera,
		Setup: func(reg *attribute.Registry) error {
			opts := []attribute.Option{attribute.WithOwner(string(ipc.Camera)), attribute.WithLength(10)}
			if _, err := attribute.RegisterArray[int64](reg, "counter", attribute.Shape{1}, opts...); err != nil {
				return err
			}
			_, err := attribute.RegisterArray[float64](reg, "position", attribute.Shape{2}, opts...)
			return err
		},
	}
}

func TestProcess(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	local, childRead, childWrite, err := ipc.NewPipePair(log)
	require.NoError(t, err)
	pipe := ipc.NewPipe(log, childRead, childWrite, 0)
	ctx.Defer(local.Close)
	ctx.Defer(pipe.Close)
	ctx.Go(func() error { return local.Run(ctx) })
	ctx.Go(func() error { return pipe.Run(ctx) })

	c := testsession.New(t, ctx, cameraPeer(), gui.Peer())
	camera := testsession.Join(t, ctx, c, ipc.Camera)
	counter, err := attribute.GetArray[int64](camera.App.Registry, "counter")
	require.NoError(t, err)
	require.NoError(t, counter.WriteScalar(7))
	require.NoError(t, camera.App.SetState(ctx, ipc.Idle))

	member, err := controller.Join(ctx, log, c.Dir.Path, ipc.GUI, pipe)
	require.NoError(t, err)
	defer func() { require.NoError(t, member.Close()) }()

	w := &window{}
	process, err := gui.New(log, member, gui.Config{
		Refresh:       5 * time.Millisecond,
		StatsInterval: time.Hour,
		Loop:          proc.Config{Interval: time.Millisecond},
	}, w)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- process.Run(ctx) }()

	// the first iteration queries the loop statistics of the camera.
	query, err := local.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, ipc.SignalQuery, query.Signal)
	require.Equal(t, "runtime.stats", query.Name)
	require.Equal(t, ipc.Camera, query.Receiver)

	reply, err := ipc.NewMessage(ipc.SignalQueryReply, ipc.Camera, ipc.GUI, query.Name,
		[]interface{}{proc.Stats{Role: "camera", Iterations: 42}}, nil)
	require.NoError(t, err)
	reply.ID = query.ID
	require.NoError(t, local.Send(reply))

	require.Eventually(t, func() bool {
		view, ok := w.last()
		return ok && view.Stats[ipc.Camera].Iterations == 42
	}, 10*time.Second, time.Millisecond)

	view, _ := w.last()
	require.Len(t, view.Values, 2)
	require.Equal(t, "counter", view.Values[0].Name)
	require.Equal(t, int64(0), view.Values[0].Index)
	require.Equal(t, []int64{7}, view.Values[0].Value)
	require.Equal(t, int64(-1), view.Values[1].Index)
	require.Equal(t, ipc.Idle, view.States[ipc.Camera])

	// narrowing the watched attributes.
	watch, err := ipc.NewMessage(ipc.SignalRPC, ipc.Controller, ipc.GUI, "gui.watch", []interface{}{"position"}, nil)
	require.NoError(t, err)
	require.NoError(t, local.Send(watch))
	require.Eventually(t, func() bool {
		view, ok := w.last()
		return ok && len(view.Values) == 1 && view.Values[0].Name == "position"
	}, 10*time.Second, time.Millisecond)

	require.NoError(t, process.Command("start_recording"))
	command, err := local.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "start_recording", command.Name)
	require.Equal(t, ipc.Controller, command.Receiver)

	process.Runtime.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("gui did not stop")
	}
	require.True(t, w.closed)
}

func TestProcess_WatchUnknown(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)

	c := testsession.New(t, ctx, cameraPeer(), gui.Peer())
	member := testsession.Join(t, ctx, c, ipc.GUI)
	_, err := gui.New(log, member, gui.Config{Refresh: time.Second, Loop: proc.Config{Interval: time.Millisecond}}, gui.NewHeadless(log))
	require.NoError(t, err)

	msg, err := ipc.NewMessage(ipc.SignalRPC, ipc.Controller, ipc.GUI, "gui.watch", []interface{}{"missing"}, nil)
	require.NoError(t, err)
	require.False(t, member.App.Dispatcher.Dispatch(ctx, msg).OK())
}
