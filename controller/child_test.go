// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/pkg/ipc"
)

func TestChild_WaitExited(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	log := zaptest.NewLogger(t)
	local, childRead, childWrite, err := ipc.NewPipePair(log)
	require.NoError(t, err)
	ctx.Defer(childRead.Close)
	ctx.Defer(childWrite.Close)

	killed := 0
	child := controller.NewChild(ctx, log, ipc.Camera, os.Getpid(), local,
		func() error { return nil },
		func() error { killed++; return nil })
	ctx.Defer(child.Close)
	<-child.Done()

	expired, cancel := context.WithCancel(ctx)
	cancel()
	// an exited child wins over an expired deadline every time.
	for i := 0; i < 100; i++ {
		require.NoError(t, child.Wait(expired))
	}
	require.True(t, child.Exited())
	require.NoError(t, child.Kill())
	require.Zero(t, killed)
}
