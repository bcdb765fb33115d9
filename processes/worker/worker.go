// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package worker implements the process running routines that consume the
// attributes of other processes.
package worker

import (
	"context"

	"go.uber.org/zap"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/routine"
)

// Config configures the worker process.
type Config struct {
	Source string `help:"attribute whose delivery latency is measured" default:"cam0_frame"`
	Loop   proc.Config
}

// Routines returns the routines run by the worker.
func Routines(log *zap.Logger, config Config) (*routine.Set, error) {
	return routine.NewSet(log, ipc.Worker, NewLatency(config.Source))
}

// Peer describes the worker process to the controller.
func Peer(log *zap.Logger, config Config) controller.Peer {
	return controller.Peer{
		Role: ipc.Worker,
		Setup: func(reg *attribute.Registry) error {
			routines, err := Routines(log, config)
			if err != nil {
				return err
			}
			return routines.Setup(reg)
		},
	}
}

// Process is the worker process.
type Process struct {
	routines *routine.Set

	Runtime *proc.Runtime
}

// New creates the worker process of member.
func New(log *zap.Logger, member *controller.Member, config Config) (*Process, error) {
	routines, err := Routines(log.Named("routine"), config)
	if err != nil {
		return nil, err
	}
	runtime, err := member.Runtime(config.Loop)
	if err != nil {
		return nil, err
	}
	process := &Process{
		routines: routines,
		Runtime:  runtime,
	}
	runtime.Initialize = func(ctx context.Context) error {
		return routines.Initialize(ctx, member.App, nil)
	}
	runtime.Main = func(ctx context.Context) error {
		return routines.Main(ctx, routine.Data{})
	}
	return process, nil
}

// Run runs the process loop until shutdown.
func (process *Process) Run(ctx context.Context) error {
	return process.Runtime.Run(ctx)
}
