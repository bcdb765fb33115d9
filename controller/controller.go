// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package controller implements the process that owns a session: it
// allocates the shared memory, starts and supervises the child processes,
// routes their messages and coordinates recordings and protocols.
package controller

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"storj.io/common/errs2"

	"vxpy.io/vxpy/internal/sync2"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
	"vxpy.io/vxpy/pkg/shm"
)

var (
	// Error is the default controller errs class.
	Error = errs.Class("controller")

	mon = monkit.Package()
)

const (
	tableName    = "table"
	folderLayout = "2006-01-02-15-04-05"
)

// Peer describes a child process.
type Peer struct {
	Role ipc.Role
	// Setup registers the attributes the process produces.
	Setup func(reg *attribute.Registry) error
	// FollowsProtocol marks processes that take part in protocols.
	FollowsProtocol bool
}

// Controller is the process owning a session.
type Controller struct {
	log      *zap.Logger
	config   Config
	launcher Launcher
	peers    []Peer

	Session     Session
	Dir         *shm.Dir
	Registry    *attribute.Registry
	Table       ipc.Table
	App         *ipc.AppContext
	Router      *Router
	Library     *protocol.Library
	Coordinator *protocol.Coordinator
	Runtime     *proc.Runtime
	Monitor     *Monitor

	mu       sync.Mutex
	children map[ipc.Role]*Child
	childCtx context.Context
}

// New allocates a session for peers. Nothing is started until Run.
func New(ctx context.Context, log *zap.Logger, config Config, launcher Launcher, peers ...Peer) (_ *Controller, err error) {
	defer mon.Task()(&ctx)(&err)

	controller := &Controller{
		log:      log,
		config:   config,
		launcher: launcher,
		peers:    peers,
		children: map[ipc.Role]*Child{},
		childCtx: context.Background(),
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, controller.Close())
		}
	}()

	seen := map[ipc.Role]bool{ipc.Controller: true}
	for _, peer := range peers {
		if !peer.Role.Valid() || seen[peer.Role] {
			return nil, Error.New("invalid or duplicate process %q", peer.Role)
		}
		seen[peer.Role] = true
	}
	if _, err := Opener(log, config.Recording.Format); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	runtimeDir := config.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = filepath.Join(shm.DefaultRoot(), "vxpy-"+id)
	}
	controller.Dir, err = shm.CreateDir(runtimeDir)
	if err != nil {
		return nil, err
	}

	epoch := time.Now()
	controller.Session = Session{
		ID:         id,
		EpochNanos: epoch.UnixNano(),
		Attributes: controller.Dir.Join("attributes"),
		Table:      config.Table,
		Format:     config.Recording.Format,
	}
	clock := controller.Session.Clock()

	controller.Registry = attribute.NewRegistry(controller.Session.Attributes, attribute.Options{
		Process: string(ipc.Controller),
		Clock:   clock,
	})
	for _, peer := range peers {
		if peer.Setup == nil {
			continue
		}
		if err := peer.Setup(controller.Registry); err != nil {
			return nil, Error.New("setting up %s: %w", peer.Role, err)
		}
	}
	if err := controller.Registry.Allocate(); err != nil {
		return nil, err
	}

	if config.Table.Redis != "" {
		controller.Table, err = ipc.OpenRedisTable(ctx, config.Table.Redis, config.Table.RedisPassword, config.Table.RedisDB, id)
	} else {
		controller.Table, err = ipc.CreateShmTable(controller.Dir.Join(tableName))
	}
	if err != nil {
		return nil, err
	}

	minSleep := config.Loop.MinSleep
	if minSleep <= 0 {
		minSleep = sync2.MeasureMinSleep(config.MinSleepSamples)
	}
	err = controller.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.General = ipc.GeneralControl{
			MinSleep: minSleep.Seconds(),
			Epoch:    float64(epoch.UnixNano()) / 1e9,
		}
		control.Recording = ipc.RecordingControl{Base: config.Recording.Output}
		control.Protocol = ipc.ProtocolControl{PhaseID: -1}
	})
	if err != nil {
		return nil, err
	}
	if err := WriteSession(controller.Dir.Path, controller.Session); err != nil {
		return nil, err
	}

	controller.Router = NewRouter(log.Named("router"))
	controller.App = &ipc.AppContext{
		Role:       ipc.Controller,
		Session:    id,
		Log:        log,
		Registry:   controller.Registry,
		Table:      controller.Table,
		Pipe:       controller.Router,
		Dispatcher: ipc.NewDispatcher(log.Named("dispatch")),
		Clock:      clock,
	}

	controller.Library = protocol.NewLibrary()
	if config.Protocols != "" {
		if _, err := os.Stat(config.Protocols); err == nil {
			if err := controller.Library.LoadDir(config.Protocols); err != nil {
				log.Warn("loading protocols failed", zap.String("dir", config.Protocols), zap.Error(err))
			}
		}
	}

	var followers []ipc.Role
	for _, peer := range peers {
		if peer.FollowsProtocol {
			followers = append(followers, peer.Role)
		}
	}
	controller.Coordinator = protocol.NewCoordinator(log.Named("protocol"), controller.App,
		config.Protocol, controller.Library, controller, followers)

	controller.Runtime, err = proc.New(log.Named("loop"), controller.App, config.Loop, controller.Router, nil)
	if err != nil {
		return nil, err
	}
	controller.Runtime.Evaluate = controller.evaluate
	controller.Runtime.OnShutdown = controller.stopChildren
	controller.Runtime.OnReply = func(ctx context.Context, msg *ipc.Message) {
		log.Info("query reply", zap.String("sender", string(msg.Sender)), zap.String("name", msg.Name),
			zap.Any("result", msg.Arguments()), zap.Any("details", msg.Keywords()))
	}

	controller.Monitor = NewMonitor(log.Named("monitor"), config.Monitor.Interval, controller.running)

	if err := controller.expose(); err != nil {
		return nil, err
	}

	log.Info("session created",
		zap.String("session", id),
		zap.String("runtime dir", controller.Dir.Path),
		zap.Int("attributes", len(controller.Registry.Names())),
		zap.Duration("min sleep", minSleep))
	return controller, nil
}

func (controller *Controller) expose() error {
	dispatcher := controller.App.Dispatcher
	return errs.Combine(
		dispatcher.Register("start_recording", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return nil, controller.StartRecording(ctx)
		}),
		dispatcher.Register("pause_recording", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return nil, controller.PauseRecording(ctx)
		}),
		dispatcher.Register("stop_recording", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return nil, controller.StopRecording(ctx)
		}),
		dispatcher.Register("start_protocol", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			name, err := ipc.Arg[string](msg, 0)
			if err != nil {
				return nil, err
			}
			return nil, controller.Coordinator.Start(ctx, name)
		}),
		dispatcher.Register("abort_protocol", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return nil, controller.Coordinator.Abort(ctx)
		}),
		dispatcher.Register("restart", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			name, err := ipc.Arg[string](msg, 0)
			if err != nil {
				return nil, err
			}
			role, err := ipc.ParseRole(name)
			if err != nil {
				return nil, ipc.ErrTypeMismatch.Wrap(err)
			}
			return nil, controller.Restart(ctx, role)
		}),
		dispatcher.Register("status", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return controller.Status(ctx)
		}),
	)
}

// Run starts all children and runs the controller loop until Shutdown is
// called or ctx is canceled. The children are stopped before Run returns.
func (controller *Controller) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	// children outlive a canceled ctx until they confirmed their shutdown.
	controller.mu.Lock()
	controller.childCtx = context.WithoutCancel(ctx)
	controller.mu.Unlock()

	for _, peer := range controller.peers {
		if err := controller.spawn(peer.Role); err != nil {
			return errs.Combine(err, controller.stopChildren(context.WithoutCancel(ctx)))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var group errgroup.Group
	group.Go(func() error {
		defer cancel()
		return controller.Runtime.Run(ctx)
	})
	group.Go(func() error {
		return controller.Monitor.Run(ctx)
	})
	err = group.Wait()
	if errs2.IsCanceled(err) {
		return nil
	}
	return err
}

// Shutdown asks the controller loop to stop.
func (controller *Controller) Shutdown() { controller.Runtime.Shutdown() }

func (controller *Controller) spawn(role ipc.Role) error {
	controller.mu.Lock()
	ctx := controller.childCtx
	controller.mu.Unlock()

	child, err := controller.launcher.Launch(ctx, controller.Dir.Path, role)
	if err != nil {
		return Error.New("starting %s: %w", role, err)
	}

	controller.mu.Lock()
	controller.children[role] = child
	controller.mu.Unlock()
	controller.Router.Attach(role, child.Pipe)
	mon.Counter("children_started", monkit.NewSeriesTag("role", string(role))).Inc(1)
	return nil
}

// running returns the tracked children in role order.
func (controller *Controller) running() []*Child {
	controller.mu.Lock()
	defer controller.mu.Unlock()

	children := make([]*Child, 0, len(controller.children))
	for _, role := range ipc.Roles {
		if child, ok := controller.children[role]; ok {
			children = append(children, child)
		}
	}
	return children
}

func (controller *Controller) forget(child *Child) {
	controller.mu.Lock()
	if controller.children[child.Role] == child {
		delete(controller.children, child.Role)
	}
	controller.mu.Unlock()
	controller.Router.Detach(child.Role)
	if err := child.Close(); err != nil {
		controller.log.Debug("closing pipe failed", zap.String("role", string(child.Role)), zap.Error(err))
	}
}

// evaluate notices children that exited on their own and advances the
// protocol.
func (controller *Controller) evaluate(ctx context.Context) error {
	for _, child := range controller.running() {
		if !child.Exited() {
			continue
		}
		controller.log.Error("process exited unexpectedly",
			zap.String("role", string(child.Role)), zap.Int("pid", child.Pid), zap.Error(child.Err()))
		mon.Counter("children_lost", monkit.NewSeriesTag("role", string(child.Role))).Inc(1)
		if err := controller.Table.SetState(ctx, child.Role, ipc.Stopped); err != nil {
			return err
		}
		controller.forget(child)
	}
	return controller.Coordinator.Evaluate(ctx)
}

// Restart stops the process of role and starts it again. The process is
// STOPPED until the new one reports its state.
func (controller *Controller) Restart(ctx context.Context, role ipc.Role) (err error) {
	defer mon.Task()(&ctx)(&err)

	known := false
	for _, peer := range controller.peers {
		known = known || peer.Role == role
	}
	if !known {
		return Error.New("no process %q in this session", role)
	}

	if err := controller.Table.SetState(ctx, role, ipc.Stopped); err != nil {
		return err
	}

	controller.mu.Lock()
	child := controller.children[role]
	controller.mu.Unlock()
	if child != nil {
		controller.log.Info("restarting process", zap.String("role", string(role)), zap.Int("pid", child.Pid))
		controller.stop(ctx, []*Child{child})
	}
	return controller.spawn(role)
}

// stopChildren stops every child.
func (controller *Controller) stopChildren(ctx context.Context) error {
	controller.stop(ctx, controller.running())
	return nil
}

// stop asks children to shut down and waits for their confirmation. Children
// that do not confirm and exit within the shutdown timeout are killed.
func (controller *Controller) stop(ctx context.Context, children []*Child) {
	if len(children) == 0 {
		return
	}

	for _, child := range children {
		err := controller.App.Send(ipc.SignalShutdown, child.Role, "shutdown", nil, nil)
		if err != nil {
			controller.log.Warn("sending shutdown failed", zap.String("role", string(child.Role)), zap.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, controller.config.ShutdownTimeout)
	defer cancel()

	for {
		// keep routing while children finish.
		controller.Router.Route()

		done := true
		for _, child := range children {
			if !child.Exited() && !controller.Router.Confirmed(child.Role) {
				done = false
			}
		}
		if done || !sync2.Sleep(waitCtx, 10*time.Millisecond) {
			break
		}
	}

	for _, child := range children {
		if err := child.Wait(waitCtx); err != nil {
			controller.log.Warn("process did not shut down in time, killing it",
				zap.String("role", string(child.Role)), zap.Int("pid", child.Pid),
				zap.Bool("confirmed", controller.Router.Confirmed(child.Role)))
			mon.Counter("children_killed", monkit.NewSeriesTag("role", string(child.Role))).Inc(1)

			if err := child.Kill(); err != nil {
				controller.log.Error("killing process failed", zap.String("role", string(child.Role)), zap.Error(err))
			}
			killCtx, killCancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			_ = child.Wait(killCtx)
			killCancel()

			if err := controller.Table.SetState(context.WithoutCancel(ctx), child.Role, ipc.Stopped); err != nil {
				controller.log.Warn("setting state failed", zap.String("role", string(child.Role)), zap.Error(err))
			}
		}
		controller.log.Info("process stopped", zap.String("role", string(child.Role)), zap.Error(child.Err()))
		controller.forget(child)
	}
}

// Recording implements protocol.Recorder.
func (controller *Controller) Recording(ctx context.Context) (bool, error) {
	control, err := controller.Table.Control(ctx)
	if err != nil {
		return false, err
	}
	return control.Recording.Active && control.Recording.Folder != "", nil
}

// StartRecording starts a recording in a new folder, or resumes a paused one.
func (controller *Controller) StartRecording(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !controller.config.Recording.Enabled {
		return Error.New("recording is disabled")
	}

	var folder string
	err = controller.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Recording.Base = controller.config.Recording.Output
		if control.Recording.Folder == "" {
			control.Recording.Folder = controller.newFolder()
		}
		control.Recording.Active = true
		folder = control.Recording.Folder
	})
	if err != nil {
		return err
	}
	controller.log.Info("recording started", zap.String("folder", filepath.Join(controller.config.Recording.Output, folder)))
	return nil
}

func (controller *Controller) newFolder() string {
	base := time.Now().Format(folderLayout)
	folder := base
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(controller.config.Recording.Output, folder)); os.IsNotExist(err) {
			return folder
		}
		folder = base + "_" + strconv.Itoa(i)
	}
}

// PauseRecording pauses the running recording, keeping its folder.
func (controller *Controller) PauseRecording(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	var folder string
	err = controller.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Recording.Active = false
		folder = control.Recording.Folder
	})
	if err != nil {
		return err
	}
	if folder == "" {
		return Error.New("no recording to pause")
	}
	controller.log.Info("recording paused", zap.String("folder", folder))
	return nil
}

// StopRecording ends the recording; the next one gets a new folder.
func (controller *Controller) StopRecording(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = controller.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Recording.Active = false
		control.Recording.Folder = ""
	})
	if err != nil {
		return err
	}
	controller.log.Info("recording stopped")
	return nil
}

// ProcessStatus describes a process of the session.
type ProcessStatus struct {
	Role     string `json:"role"`
	State    string `json:"state"`
	RecState string `json:"rec_state"`
	Pid      int    `json:"pid,omitempty"`
	Sample   Sample `json:"sample"`
}

// Status returns the status of the controller and every child.
func (controller *Controller) Status(ctx context.Context) ([]ProcessStatus, error) {
	pids := map[ipc.Role]int{ipc.Controller: os.Getpid()}
	for _, child := range controller.running() {
		pids[child.Role] = child.Pid
	}
	samples := controller.Monitor.Samples()

	roles := []ipc.Role{ipc.Controller}
	for _, peer := range controller.peers {
		roles = append(roles, peer.Role)
	}

	statuses := make([]ProcessStatus, 0, len(roles))
	for _, role := range roles {
		state, err := controller.Table.State(ctx, role)
		if err != nil {
			return nil, err
		}
		rec, err := controller.Table.RecState(ctx, role)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, ProcessStatus{
			Role:     string(role),
			State:    state.String(),
			RecState: rec.String(),
			Pid:      pids[role],
			Sample:   samples[role],
		})
	}
	return statuses, nil
}

// Close kills remaining children and releases the session.
func (controller *Controller) Close() error {
	var group errs.Group
	for _, child := range controller.running() {
		group.Add(child.Kill())
		controller.forget(child)
	}
	if controller.Table != nil {
		group.Add(controller.Table.Close())
	}
	if controller.Registry != nil {
		group.Add(controller.Registry.Close())
	}
	if controller.Dir != nil {
		group.Add(controller.Dir.Close())
	}
	return group.Err()
}
