// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/pkg/ipc"
)

func TestPeers(t *testing.T) {
	log := zaptest.NewLogger(t)

	list, err := peers(log, Config{Roles: []string{"camera", " display", "io"}})
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, ipc.Camera, list[0].Role)
	require.Equal(t, ipc.Display, list[1].Role)
	require.True(t, list[1].FollowsProtocol)
	require.True(t, list[2].FollowsProtocol)

	_, err = peers(log, Config{Roles: []string{"controller"}})
	require.Error(t, err)
	_, err = peers(log, Config{Roles: []string{"projector"}})
	require.Error(t, err)
}

func TestForwardedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("config-dir", "/etc/vxpy", "")
	cmd.Flags().String("runtime-dir", "", "")
	cmd.Flags().String("log.level", "info", "")
	cmd.Flags().Bool("recording.enabled", true, "")
	cmd.Flags().StringSlice("camera.devices", []string{"cam0"}, "")

	require.NoError(t, cmd.Flags().Parse([]string{
		"--runtime-dir=/tmp/x",
		"--log.level=debug",
		"--recording.enabled=false",
		"--camera.devices=left,right",
	}))

	require.Equal(t, []string{
		"--camera.devices=left,right",
		"--recording.enabled=false",
		"--config-dir=/etc/vxpy",
	}, forwardedFlags(cmd))
}
