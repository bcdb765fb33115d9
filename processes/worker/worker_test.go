// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package worker_test

import (
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
	"vxpy.io/vxpy/processes/worker"
)

func TestProcess(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)
	config := worker.Config{Source: "ticks", Loop: proc.Config{Interval: time.Millisecond}}

	source := controller.Peer{
		Role: ipc.Camera,
		Setup: func(reg *attribute.Registry) error {
			_, err := attribute.RegisterArray[int64](reg, "ticks", attribute.Shape{1}, attribute.WithOwner(string(ipc.Camera)))
			return err
		},
	}
	c := testsession.New(t, ctx, source, worker.Peer(log, config))
	require.True(t, c.Registry.Get(worker.LatencyName).Spec().Persist)
	require.Equal(t, string(ipc.Worker), c.Registry.Get(worker.LatencyName).Spec().Owner)

	camera := testsession.Join(t, ctx, c, ipc.Camera)
	ticks, err := attribute.GetArray[int64](camera.App.Registry, "ticks")
	require.NoError(t, err)

	member := testsession.Join(t, ctx, c, ipc.Worker)
	process, err := worker.New(log, member, config)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- process.Run(ctx) }()

	latency, err := attribute.GetArray[float64](member.App.Registry, worker.LatencyName)
	require.NoError(t, err)
	var n int64
	require.Eventually(t, func() bool {
		n++
		require.NoError(t, ticks.WriteScalar(n))
		return latency.Index() >= 5
	}, 10*time.Second, 2*time.Millisecond)

	process.Runtime.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	_, _, values, err := latency.Scalars(attribute.Last(5))
	require.NoError(t, err)
	for _, value := range values {
		require.GreaterOrEqual(t, value, 0.0)
		require.Less(t, value, 5.0)
	}
}

func TestProcess_UnknownSource(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)
	config := worker.Config{Source: "missing", Loop: proc.Config{Interval: time.Millisecond}}

	c := testsession.New(t, ctx, worker.Peer(log, config))
	member := testsession.Join(t, ctx, c, ipc.Worker)
	process, err := worker.New(log, member, config)
	require.NoError(t, err)
	require.Error(t, process.Runtime.Initialize(ctx))
}
