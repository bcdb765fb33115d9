// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/internal/testsession"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
	"vxpy.io/vxpy/pkg/record"
)

type phases struct {
	protocol.NopHooks
	mu     sync.Mutex
	events []string
}

func (p *phases) StartPhase(ctx context.Context, id int, phase protocol.Phase) error {
	p.add("start")
	return nil
}

func (p *phases) EndProtocol(ctx context.Context, protocol *protocol.Protocol) error {
	p.add("end " + protocol.Name)
	return nil
}

func (p *phases) add(event string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *phases) list() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// launcher runs children as goroutines of the test.
type launcher struct {
	t      *testing.T
	log    *zap.Logger
	hang   map[ipc.Role]bool
	phases *phases

	mu       sync.Mutex
	apps     map[ipc.Role]*ipc.AppContext
	launched map[ipc.Role]int
	killed   map[ipc.Role]bool
}

func newLauncher(t *testing.T, hang ...ipc.Role) *launcher {
	l := &launcher{
		t:        t,
		log:      zaptest.NewLogger(t),
		hang:     map[ipc.Role]bool{},
		phases:   &phases{},
		apps:     map[ipc.Role]*ipc.AppContext{},
		launched: map[ipc.Role]int{},
		killed:   map[ipc.Role]bool{},
	}
	for _, role := range hang {
		l.hang[role] = true
	}
	return l
}

func (l *launcher) app(role ipc.Role) *ipc.AppContext {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apps[role]
}

func (l *launcher) count(role ipc.Role) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched[role]
}

func (l *launcher) Launch(ctx context.Context, runtimeDir string, role ipc.Role) (*controller.Child, error) {
	log := l.log.Named(string(role))

	local, childRead, childWrite, err := ipc.NewPipePair(log)
	if err != nil {
		return nil, err
	}
	pipe := ipc.NewPipe(log, childRead, childWrite, 0)

	member, err := controller.Join(ctx, log, runtimeDir, role, pipe)
	if err != nil {
		return nil, errs.Combine(err, local.Close(), pipe.Close())
	}
	runtime, err := member.Runtime(proc.Config{Interval: time.Millisecond})
	if err != nil {
		return nil, err
	}
	switch role {
	case ipc.Camera:
		counter, err := attribute.GetArray[int64](member.App.Registry, "counter")
		if err != nil {
			return nil, err
		}
		var n int64
		runtime.Main = func(ctx context.Context) error {
			n++
			return counter.WriteScalar(n)
		}
	case ipc.Display:
		follower := protocol.NewFollower(log, member.App, protocol.NewLibrary(), l.phases)
		runtime.Evaluate = follower.Evaluate
		runtime.Main = follower.Run
	}

	l.mu.Lock()
	l.apps[role] = member.App
	l.launched[role]++
	hang := l.hang[role]
	l.mu.Unlock()

	childCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { _ = pipe.Run(childCtx) }()
	go func() {
		var err error
		if hang {
			err = member.App.SetState(childCtx, ipc.Idle)
			<-childCtx.Done()
		} else {
			err = runtime.Run(childCtx)
		}
		done <- errs.Combine(err, pipe.Close(), member.Close())
	}()

	wait := func() error { return <-done }
	kill := func() error {
		l.mu.Lock()
		l.killed[role] = true
		l.mu.Unlock()
		cancel()
		return nil
	}
	return controller.NewChild(ctx, l.log, role, os.Getpid(), local, wait, kill), nil
}

func peers() []controller.Peer {
	return []controller.Peer{
		{
			Role: ipc.Camera,
			Setup: func(reg *attribute.Registry) error {
				_, err := attribute.RegisterArray[int64](reg, "counter", attribute.Shape{1},
					attribute.WithOwner(string(ipc.Camera)), attribute.WithLength(1000), attribute.Persist())
				return err
			},
		},
		{Role: ipc.Display, FollowsProtocol: true},
	}
}

func testConfig(ctx *testcontext.Context) controller.Config {
	return testsession.Config(ctx)
}

func run(ctx context.Context, c *controller.Controller) <-chan error {
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	return done
}

func states(t *testing.T, ctx context.Context, table ipc.Table, want ipc.State, roles ...ipc.Role) func() bool {
	return func() bool {
		ok, err := ipc.AllIn(ctx, table, roles, want)
		require.NoError(t, err)
		return ok
	}
}

func TestController(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	l := newLauncher(t)
	config := testConfig(ctx)
	c, err := controller.New(ctx, zaptest.NewLogger(t), config, l, peers()...)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	session, err := controller.ReadSession(config.RuntimeDir)
	require.NoError(t, err)
	require.Equal(t, c.Session, session)

	done := run(ctx, c)
	all := []ipc.Role{ipc.Controller, ipc.Camera, ipc.Display}
	require.Eventually(t, states(t, ctx, c.Table, ipc.Idle, all...), 5*time.Second, time.Millisecond)

	// a protocol started by a child records automatically.
	path := ctx.File("protocols", "flash.yaml")
	require.NoError(t, os.WriteFile(path, []byte("phases:\n  - duration: 0.05\n    visual: flash\n"), 0644))
	require.NoError(t, l.app(ipc.Display).RPC(ipc.Controller, "start_protocol", path))

	require.Eventually(t, func() bool {
		events := l.phases.list()
		return len(events) == 2 && events[1] == "end flash"
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, states(t, ctx, c.Table, ipc.Idle, all...), 5*time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		rec, err := c.Table.RecState(ctx, ipc.Camera)
		require.NoError(t, err)
		return rec == ipc.RecStopped
	}, 5*time.Second, time.Millisecond)

	statuses, err := c.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	require.Equal(t, "camera", statuses[1].Role)
	require.Equal(t, "IDLE", statuses[1].State)

	c.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("controller did not stop")
	}
	require.True(t, states(t, ctx, c.Table, ipc.Stopped, all...)())
	require.False(t, l.killed[ipc.Camera])

	folders, err := os.ReadDir(config.Recording.Output)
	require.NoError(t, err)
	require.Len(t, folders, 1)

	recording, err := record.OpenRecording(record.Path(config.Recording.Output, folders[0].Name(), ipc.Camera, record.BoltExt))
	require.NoError(t, err)
	defer func() { require.NoError(t, recording.Close()) }()
	count, err := recording.Count("counter")
	require.NoError(t, err)
	require.Greater(t, count, 0)
}

func TestController_Recording(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := testConfig(ctx)
	c, err := controller.New(ctx, zaptest.NewLogger(t), config, newLauncher(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	require.Error(t, c.PauseRecording(ctx))

	require.NoError(t, c.StartRecording(ctx))
	control, err := c.Table.Control(ctx)
	require.NoError(t, err)
	require.True(t, control.Recording.Active)
	folder := control.Recording.Folder
	require.NotEmpty(t, folder)
	require.Equal(t, config.Recording.Output, control.Recording.Base)

	require.NoError(t, c.PauseRecording(ctx))
	active, err := c.Recording(ctx)
	require.NoError(t, err)
	require.False(t, active)

	// resuming keeps the folder.
	require.NoError(t, c.StartRecording(ctx))
	control, err = c.Table.Control(ctx)
	require.NoError(t, err)
	require.Equal(t, folder, control.Recording.Folder)

	require.NoError(t, c.StopRecording(ctx))
	control, err = c.Table.Control(ctx)
	require.NoError(t, err)
	require.False(t, control.Recording.Active)
	require.Empty(t, control.Recording.Folder)

	// an existing folder is never reused.
	require.NoError(t, os.MkdirAll(filepath.Join(config.Recording.Output, folder), 0755))
	require.NoError(t, c.StartRecording(ctx))
	control, err = c.Table.Control(ctx)
	require.NoError(t, err)
	require.NotEqual(t, folder, control.Recording.Folder)
}

func TestController_Disabled(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	config := testConfig(ctx)
	config.Recording.Enabled = false
	c, err := controller.New(ctx, zaptest.NewLogger(t), config, newLauncher(t))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	require.Error(t, c.StartRecording(ctx))

	config = testConfig(ctx)
	config.Recording.Format = "csv"
	config.RuntimeDir += "-other"
	_, err = controller.New(ctx, zaptest.NewLogger(t), config, newLauncher(t))
	require.Error(t, err)
}

func TestController_ForceKill(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	l := newLauncher(t, ipc.Camera)
	config := testConfig(ctx)
	config.ShutdownTimeout = 100 * time.Millisecond
	c, err := controller.New(ctx, zaptest.NewLogger(t), config, l, peers()...)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	done := run(ctx, c)
	require.Eventually(t, states(t, ctx, c.Table, ipc.Idle, ipc.Controller, ipc.Camera, ipc.Display), 5*time.Second, time.Millisecond)

	start := time.Now()
	c.Shutdown()
	require.NoError(t, <-done)
	require.GreaterOrEqual(t, time.Since(start), config.ShutdownTimeout)

	l.mu.Lock()
	require.True(t, l.killed[ipc.Camera])
	require.False(t, l.killed[ipc.Display])
	l.mu.Unlock()
	require.True(t, states(t, ctx, c.Table, ipc.Stopped, ipc.Camera, ipc.Display)())
	require.False(t, c.Router.Confirmed(ipc.Camera))
}

func TestController_Restart(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	l := newLauncher(t)
	c, err := controller.New(ctx, zaptest.NewLogger(t), testConfig(ctx), l, peers()...)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	done := run(ctx, c)
	require.Eventually(t, states(t, ctx, c.Table, ipc.Idle, ipc.Camera, ipc.Display), 5*time.Second, time.Millisecond)

	require.NoError(t, l.app(ipc.Display).RPC(ipc.Controller, "restart", "camera"))
	require.Eventually(t, func() bool { return l.count(ipc.Camera) == 2 }, 5*time.Second, time.Millisecond)
	require.Eventually(t, states(t, ctx, c.Table, ipc.Idle, ipc.Camera), 5*time.Second, time.Millisecond)
	require.Equal(t, 1, l.count(ipc.Display))

	require.Error(t, c.Restart(ctx, ipc.Worker))

	c.Shutdown()
	require.NoError(t, <-done)
}
