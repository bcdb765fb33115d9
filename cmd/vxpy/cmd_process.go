// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/process"
	"vxpy.io/vxpy/pkg/protocol"
	"vxpy.io/vxpy/processes/camera"
	"vxpy.io/vxpy/processes/daq"
	"vxpy.io/vxpy/processes/display"
	"vxpy.io/vxpy/processes/gui"
	"vxpy.io/vxpy/processes/worker"
)

// Pipe ends inherited from the controller.
const (
	pipeReadFd  = 3
	pipeWriteFd = 4
)

// runner is the process of a role.
type runner interface {
	Run(ctx context.Context) error
}

func cmdProcess(cmd *cobra.Command, args []string) (err error) {
	ctx := process.Ctx(cmd)
	role, err := ipc.ParseRole(processCfg.Role)
	if err != nil {
		return err
	}
	if processCfg.RuntimeDir == "" {
		return errs.New("--runtime-dir is required")
	}
	log := zap.L().Named(string(role))

	// the controller handles interrupts and shuts children down.
	stop := proc.ExitOnInterrupt(log)
	defer stop()

	reader := os.NewFile(pipeReadFd, "controller-read")
	writer := os.NewFile(pipeWriteFd, "controller-write")
	if reader == nil || writer == nil {
		return errs.New("process must be started by the controller")
	}
	pipe := ipc.NewPipe(log.Named("pipe"), reader, writer, 0)
	defer func() { err = errs.Combine(err, pipe.Close()) }()

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := pipe.Run(pipeCtx); err != nil && pipeCtx.Err() == nil {
			log.Debug("pipe closed", zap.Error(err))
		}
	}()

	member, err := controller.Join(ctx, log, processCfg.RuntimeDir, role, pipe)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, member.Close()) }()

	p, runtime, err := newRole(log, member, processCfg.Config)
	if err != nil {
		return err
	}

	// a controller that went away cannot send shutdown anymore.
	go func() {
		select {
		case <-pipe.Closed():
			log.Warn("lost controller, shutting down")
			runtime.Shutdown()
		case <-pipeCtx.Done():
		}
	}()
	return p.Run(ctx)
}

func newRole(log *zap.Logger, member *controller.Member, config Config) (runner, *proc.Runtime, error) {
	switch member.App.Role {
	case ipc.Camera:
		p, err := camera.New(log, member, config.Camera)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Runtime, nil
	case ipc.Display:
		library, err := loadLibrary(log, config.Protocols)
		if err != nil {
			return nil, nil, err
		}
		p, err := display.New(log, member, config.Display, library, display.DefaultVisuals())
		if err != nil {
			return nil, nil, err
		}
		return p, p.Runtime, nil
	case ipc.IO:
		library, err := loadLibrary(log, config.Protocols)
		if err != nil {
			return nil, nil, err
		}
		p, err := daq.New(log, member, config.IO, library, nil)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Runtime, nil
	case ipc.GUI:
		p, err := gui.New(log, member, config.GUI, gui.NewHeadless(log.Named("window")))
		if err != nil {
			return nil, nil, err
		}
		return p, p.Runtime, nil
	case ipc.Worker:
		p, err := worker.New(log, member, config.Worker)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Runtime, nil
	default:
		return nil, nil, errs.New("no process for role %q", member.App.Role)
	}
}

func loadLibrary(log *zap.Logger, dir string) (*protocol.Library, error) {
	library := protocol.NewLibrary()
	if dir == "" {
		return library, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return library, nil
	}
	if err := library.LoadDir(dir); err != nil {
		return nil, err
	}
	log.Debug("protocols loaded", zap.Strings("protocols", library.Names()))
	return library, nil
}
