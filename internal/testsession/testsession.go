// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testsession creates controller sessions for testing process roles
// without launching any children.
package testsession

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/internal/testrand"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
)

// Config returns a fast controller configuration rooted in the test directory.
func Config(ctx *testcontext.Context) controller.Config {
	return controller.Config{
		RuntimeDir: filepath.Join(ctx.Dir("runtime"), testrand.Name("session")),
		Loop:       proc.Config{Interval: time.Millisecond, MinSleep: time.Millisecond},
		Protocol:   protocol.Config{StartupDelay: 10 * time.Millisecond, AutoRecord: true},
		Recording: controller.RecordingConfig{
			Enabled: true,
			Output:  ctx.Dir("recordings"),
			Format:  controller.FormatBolt,
		},
		Monitor:         controller.MonitorConfig{Interval: 20 * time.Millisecond},
		ShutdownTimeout: 5 * time.Second,
	}
}

// New allocates a session holding the attributes of peers. The controller
// is closed when the test ends.
func New(t testing.TB, ctx *testcontext.Context, peers ...controller.Peer) *controller.Controller {
	c, err := controller.New(ctx, zaptest.NewLogger(t).Named("controller"), Config(ctx), nil, peers...)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

// Join attaches role to the session of c without a pipe.
func Join(t testing.TB, ctx *testcontext.Context, c *controller.Controller, role ipc.Role) *controller.Member {
	member, err := controller.Join(ctx, zaptest.NewLogger(t).Named(string(role)), c.Dir.Path, role, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, member.Close()) })
	return member
}

// RunProtocol starts name on the coordinator of c once all followers are idle
// and evaluates it until it has finished. The controller loop must not be
// running.
func RunProtocol(t testing.TB, ctx *testcontext.Context, c *controller.Controller, name string) {
	require.NoError(t, c.App.SetState(ctx, ipc.Idle))
	require.Eventually(t, func() bool {
		err := c.Coordinator.Start(ctx, name)
		if protocol.ErrRejected.Has(err) {
			return false
		}
		require.NoError(t, err)
		return true
	}, 10*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		require.NoError(t, c.Coordinator.Evaluate(ctx))
		return c.Coordinator.Protocol() == nil
	}, 30*time.Second, time.Millisecond)
}
