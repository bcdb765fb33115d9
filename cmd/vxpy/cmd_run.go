// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/process"
	"vxpy.io/vxpy/processes/camera"
	"vxpy.io/vxpy/processes/daq"
	"vxpy.io/vxpy/processes/display"
	"vxpy.io/vxpy/processes/gui"
	"vxpy.io/vxpy/processes/worker"
)

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	log := zap.L()

	peers, err := peers(log, runCfg)
	if err != nil {
		return err
	}

	executable, err := os.Executable()
	if err != nil {
		return err
	}
	launcher := &controller.ExecLauncher{
		Log:        log.Named("child"),
		Executable: executable,
		Args:       forwardedFlags(cmd),
	}

	c, err := controller.New(ctx, log.Named("controller"), runCfg.Config, launcher, peers...)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, c.Close()) }()

	return c.Run(ctx)
}

// peers returns the processes of the configured roles.
func peers(log *zap.Logger, config Config) ([]controller.Peer, error) {
	var peers []controller.Peer
	for _, name := range config.Roles {
		role, err := ipc.ParseRole(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		switch role {
		case ipc.Camera:
			peers = append(peers, camera.Peer(log.Named("camera"), config.Camera))
		case ipc.Display:
			peers = append(peers, display.Peer())
		case ipc.IO:
			peers = append(peers, daq.Peer(config.IO))
		case ipc.GUI:
			peers = append(peers, gui.Peer())
		case ipc.Worker:
			peers = append(peers, worker.Peer(log.Named("worker"), config.Worker))
		default:
			return nil, errs.New("role %q cannot be started", role)
		}
	}
	return peers, nil
}

// forwardedFlags returns the flags set on the command line, children receive
// them so they see the same configuration.
func forwardedFlags(cmd *cobra.Command) []string {
	var flags []string
	cmd.Flags().Visit(func(f *pflag.Flag) {
		// children log json to the controller.
		if f.Name == "runtime-dir" || strings.HasPrefix(f.Name, "log.") {
			return
		}
		value := f.Value.String()
		if slice, ok := f.Value.(pflag.SliceValue); ok {
			value = strings.Join(slice.GetSlice(), ",")
		}
		flags = append(flags, "--"+f.Name+"="+value)
	})
	if f := cmd.Flags().Lookup("config-dir"); f != nil && !f.Changed {
		flags = append(flags, "--config-dir="+f.Value.String())
	}
	return flags
}
