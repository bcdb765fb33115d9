// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gui implements the user facing process. It only consumes
// attributes and sends commands to the controller.
package gui

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/sync2"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
)

// Error is the default gui errs class.
var Error = errs.Class("gui")

// Config configures the gui process.
type Config struct {
	Watch         []string      `help:"attributes shown on refresh, empty shows all" default:""`
	Refresh       time.Duration `help:"how often the window is refreshed" default:"1s"`
	StatsInterval time.Duration `help:"how often loop statistics are queried" default:"5s"`
	Loop          proc.Config
}

// Peer describes the gui process to the controller.
func Peer() controller.Peer {
	return controller.Peer{Role: ipc.GUI}
}

// Process is the gui process.
type Process struct {
	log    *zap.Logger
	app    *ipc.AppContext
	config Config
	window Window

	Refresh *sync2.Cycle
	Runtime *proc.Runtime

	lastQuery time.Time
	mu        sync.Mutex
	watch     []string
	stats     map[ipc.Role]proc.Stats
}

// New creates the gui process of member presenting in window.
func New(log *zap.Logger, member *controller.Member, config Config, window Window) (*Process, error) {
	runtime, err := member.Runtime(config.Loop)
	if err != nil {
		return nil, err
	}
	process := &Process{
		log:     log,
		app:     member.App,
		config:  config,
		window:  window,
		Refresh: sync2.NewCycle(config.Refresh),
		Runtime: runtime,
		watch:   config.Watch,
		stats:   map[ipc.Role]proc.Stats{},
	}
	runtime.Main = process.main
	runtime.OnReply = process.onReply
	runtime.OnShutdown = func(ctx context.Context) error {
		process.Refresh.Stop()
		return process.window.Close()
	}

	err = member.App.Dispatcher.Register("gui.watch", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
		names, err := ipc.Decode[[]string](msg.Arguments())
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if member.App.Registry.Get(name) == nil {
				return nil, Error.New("unknown attribute %q", name)
			}
		}
		process.mu.Lock()
		process.watch = names
		process.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return process, nil
}

// Run runs the process loop and refreshes the window until shutdown.
func (process *Process) Run(ctx context.Context) error {
	var group errgroup.Group
	group.Go(func() error {
		defer process.Refresh.Stop()
		return process.Runtime.Run(ctx)
	})
	group.Go(func() error {
		err := process.Refresh.Run(ctx, process.refresh)
		if errs2.IsCanceled(err) {
			return nil
		}
		return err
	})
	return group.Wait()
}

// Command sends an rpc to the controller, for example "start_recording".
func (process *Process) Command(name string, args ...interface{}) error {
	return process.app.RPC(ipc.Controller, name, args...)
}

func (process *Process) main(ctx context.Context) error {
	if process.config.StatsInterval <= 0 || time.Since(process.lastQuery) < process.config.StatsInterval {
		return nil
	}
	process.lastQuery = time.Now()
	states, err := ipc.States(ctx, process.app.Table)
	if err != nil {
		return err
	}
	for _, role := range ipc.Roles {
		switch {
		case role == ipc.Controller, role == process.app.Role:
			continue
		case states[role] == ipc.Na, states[role] == ipc.Stopped:
			continue
		}
		if _, err := process.app.Query(role, "runtime.stats"); err != nil {
			return err
		}
	}
	return nil
}

func (process *Process) onReply(ctx context.Context, msg *ipc.Message) {
	if msg.Name != "runtime.stats" {
		return
	}
	if reason, ok := msg.Keywords()["error"]; ok {
		process.log.Debug("stats query failed", zap.String("role", string(msg.Sender)), zap.Any("error", reason))
		return
	}
	args := msg.Arguments()
	if len(args) == 0 {
		return
	}
	stats, err := ipc.Decode[proc.Stats](args[0])
	if err != nil {
		process.log.Warn("invalid stats reply", zap.String("role", string(msg.Sender)), zap.Error(err))
		return
	}
	process.mu.Lock()
	process.stats[msg.Sender] = stats
	process.mu.Unlock()
}

// View collects the current values of the watched attributes.
func (process *Process) View(ctx context.Context) (view View, err error) {
	process.mu.Lock()
	watch := process.watch
	view.Stats = make(map[ipc.Role]proc.Stats, len(process.stats))
	for role, stats := range process.stats {
		view.Stats[role] = stats
	}
	process.mu.Unlock()

	if len(watch) == 0 {
		watch = process.app.Registry.Names()
	}
	for _, name := range watch {
		ring := process.app.Registry.Get(name)
		if ring == nil {
			return view, Error.New("unknown attribute %q", name)
		}
		rows, err := ring.ReadAny(attribute.Last(1))
		if err != nil {
			return view, err
		}
		view.Values = append(view.Values, Value{
			Name:  name,
			Index: rows.Indices[0],
			Time:  rows.Times[0],
			Value: rows.Values[0],
		})
	}

	view.States, err = ipc.States(ctx, process.app.Table)
	if err != nil {
		return view, err
	}
	control, err := process.app.Table.Control(ctx)
	if err != nil {
		return view, err
	}
	view.Recording = control.Recording.Active
	return view, nil
}

func (process *Process) refresh(ctx context.Context) error {
	view, err := process.View(ctx)
	if err != nil {
		process.log.Warn("collecting view failed", zap.Error(err))
		return nil
	}
	return process.window.Show(ctx, view)
}
