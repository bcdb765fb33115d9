// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package proc implements the fixed interval loop every process runs.
package proc

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"storj.io/drpc/drpcsignal"

	"vxpy.io/vxpy/internal/sync2"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/record"
)

var (
	// Error is the default proc errs class.
	Error = errs.Class("proc")

	// ErrShutdown is the reason stored in the shutdown signal.
	ErrShutdown = errs.Class("shutdown requested")

	mon = monkit.Package()
)

// Config configures the process loop.
type Config struct {
	Interval time.Duration `help:"target interval of the process loop" default:"10ms"`
	MinSleep time.Duration `help:"shortest wait that is slept instead of spun, zero uses the session value" default:"0s"`
}

// Inbox is a non-blocking source of messages.
type Inbox interface {
	Poll() (*ipc.Message, bool)
}

// Runtime drives the loop of one process:
//
//  1. handle all pending messages,
//  2. evaluate the process state,
//  3. wait for the next iteration boundary,
//  4. run Main,
//  5. flush recorded attributes.
//
// The next boundary is scheduled one interval after the start of the current
// iteration, so an overrun shortens the next wait instead of being caught up.
type Runtime struct {
	log    *zap.Logger
	app    *ipc.AppContext
	config Config
	inbox  Inbox
	bridge *record.Bridge
	cycle  *sync2.Cycle

	// Initialize runs once before the loop. An error moves the process to
	// STOPPED; it keeps handling messages but Main is not called.
	Initialize func(ctx context.Context) error
	// Evaluate advances the state machine of the process.
	Evaluate func(ctx context.Context) error
	// Main runs the process work of one iteration.
	Main func(ctx context.Context) error
	// OnReply receives replies to queries sent by this process.
	OnReply func(ctx context.Context, msg *ipc.Message)
	// OnShutdown runs after the loop has ended, before the state is STOPPED.
	OnShutdown func(ctx context.Context) error

	shutdown drpcsignal.Signal
	failed   atomic.Bool
	started  time.Time
}

// New creates the runtime of app. bridge may be nil when the process records nothing.
func New(log *zap.Logger, app *ipc.AppContext, config Config, inbox Inbox, bridge *record.Bridge) (*Runtime, error) {
	if config.Interval <= 0 {
		return nil, Error.New("invalid interval %v", config.Interval)
	}
	runtime := &Runtime{
		log:    log,
		app:    app,
		config: config,
		inbox:  inbox,
		bridge: bridge,
		cycle:  sync2.NewCycle(config.Interval),
	}
	if config.MinSleep > 0 {
		runtime.cycle.SetMinSleep(config.MinSleep)
	}
	if err := runtime.expose(); err != nil {
		return nil, err
	}
	return runtime, nil
}

func (runtime *Runtime) expose() error {
	dispatcher := runtime.app.Dispatcher
	return errs.Combine(
		dispatcher.RegisterProperty("interval", ipc.Property{
			Get: func() interface{} { return runtime.cycle.Interval().Seconds() },
			Set: func(value interface{}) error {
				seconds, ok := value.(float64)
				if !ok || seconds <= 0 {
					return ipc.ErrTypeMismatch.New("interval must be a positive number of seconds, got %v", value)
				}
				runtime.cycle.SetInterval(time.Duration(seconds * float64(time.Second)))
				return nil
			},
		}),
		dispatcher.Register("runtime.stats", func(ctx context.Context, msg *ipc.Message) (interface{}, error) {
			return runtime.Stats(ctx), nil
		}),
	)
}

// Stats describes the loop of a process.
type Stats struct {
	Role       string  `json:"role"`
	State      string  `json:"state"`
	Interval   float64 `json:"interval"`
	Iterations int64   `json:"iterations"`
	Overruns   int64   `json:"overruns"`
	Uptime     float64 `json:"uptime"`
	Recording  string  `json:"recording"`
}

// Stats returns the current loop statistics.
func (runtime *Runtime) Stats(ctx context.Context) Stats {
	stats := Stats{
		Role:       string(runtime.app.Role),
		Interval:   runtime.cycle.Interval().Seconds(),
		Iterations: runtime.cycle.Iterations(),
		Overruns:   runtime.cycle.Overruns(),
		Recording:  record.NoFile.String(),
	}
	if !runtime.started.IsZero() {
		stats.Uptime = time.Since(runtime.started).Seconds()
	}
	if state, err := runtime.app.State(ctx); err == nil {
		stats.State = state.String()
	}
	if runtime.bridge != nil {
		stats.Recording = runtime.bridge.State().String()
	}
	return stats
}

// Shutdown asks the loop to finish after handling the pending messages.
func (runtime *Runtime) Shutdown() {
	runtime.shutdown.Set(ErrShutdown.New("%s", runtime.app.Role))
}

// ShuttingDown is closed once shutdown was requested.
func (runtime *Runtime) ShuttingDown() <-chan struct{} { return runtime.shutdown.Signal() }

// Failed returns whether initialization failed.
func (runtime *Runtime) Failed() bool { return runtime.failed.Load() }

// Run runs the loop until shutdown is requested or ctx is canceled. On a
// regular shutdown the process ends in STOPPED and confirms to the controller.
func (runtime *Runtime) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	runtime.started = time.Now()
	if err := runtime.app.SetState(ctx, ipc.Starting); err != nil {
		return err
	}

	control, err := runtime.app.Table.Control(ctx)
	if err != nil {
		return err
	}
	if runtime.config.MinSleep <= 0 && control.General.MinSleep > 0 {
		runtime.cycle.SetMinSleep(time.Duration(control.General.MinSleep * float64(time.Second)))
	}

	state := ipc.Idle
	if runtime.Initialize != nil {
		if err := runtime.Initialize(ctx); err != nil {
			runtime.log.Error("initialization failed, process is stopped", zap.Error(err))
			runtime.failed.Store(true)
			state = ipc.Stopped
		}
	}
	if err := runtime.app.SetState(ctx, state); err != nil {
		return err
	}
	runtime.log.Info("process started",
		zap.Duration("interval", runtime.cycle.Interval()),
		zap.Duration("min sleep", runtime.cycle.MinSleep()))

	err = runtime.cycle.RunPhased(ctx, runtime.before, runtime.iterate)
	return errs.Combine(err, runtime.finish(ctx, err))
}

// before handles messages and evaluates the state.
func (runtime *Runtime) before(ctx context.Context) error {
	runtime.drain(ctx)

	if runtime.shutdown.IsSet() {
		runtime.cycle.Stop()
		return nil
	}
	if runtime.failed.Load() {
		return nil
	}

	if runtime.Evaluate != nil {
		if err := runtime.Evaluate(ctx); err != nil {
			return err
		}
	}
	if runtime.bridge != nil {
		if err := runtime.bridge.Update(ctx); err != nil {
			runtime.log.Error("updating recording failed", zap.Error(err))
		}
	}
	return nil
}

func (runtime *Runtime) iterate(ctx context.Context) (err error) {
	if runtime.failed.Load() {
		return nil
	}

	if runtime.Main != nil {
		start := time.Now()
		err := runtime.Main(ctx)
		mon.DurationVal("main_duration", monkit.NewSeriesTag("role", string(runtime.app.Role))).Observe(time.Since(start))
		if err != nil {
			return err
		}
	}

	if runtime.bridge != nil {
		if err := runtime.bridge.Flush(ctx); err != nil {
			runtime.log.Error("flushing recording failed", zap.Error(err))
		}
	}
	return nil
}

// drain handles every pending message without blocking.
func (runtime *Runtime) drain(ctx context.Context) {
	if runtime.inbox == nil {
		return
	}
	for {
		msg, ok := runtime.inbox.Poll()
		if !ok {
			return
		}
		runtime.handle(ctx, msg)
	}
}

func (runtime *Runtime) handle(ctx context.Context, msg *ipc.Message) {
	if msg.Receiver != "" && msg.Receiver != runtime.app.Role {
		runtime.log.Warn("dropping message for another process",
			zap.String("receiver", string(msg.Receiver)), zap.String("name", msg.Name))
		return
	}

	switch msg.Signal {
	case ipc.SignalShutdown:
		runtime.log.Info("shutdown requested", zap.String("sender", string(msg.Sender)))
		runtime.Shutdown()

	case ipc.SignalQueryReply:
		if runtime.OnReply != nil {
			runtime.OnReply(ctx, msg)
		}

	case ipc.SignalQuery:
		result := runtime.app.Dispatcher.Dispatch(ctx, msg)
		kwargs := map[string]interface{}{}
		if !result.OK() {
			kwargs["error"] = result.Kind.String()
		}
		args := []interface{}{result.Value}
		if _, err := ipc.ToValue(result.Value); err != nil {
			runtime.log.Warn("query result cannot be sent", zap.String("name", msg.Name), zap.Error(err))
			args = []interface{}{nil}
			kwargs["error"] = err.Error()
		}
		reply, err := ipc.NewMessage(ipc.SignalQueryReply, runtime.app.Role, msg.Sender, msg.Name, args, kwargs)
		if err == nil {
			reply.ID = msg.ID
			reply.Time = runtime.app.Now()
			err = runtime.reply(reply)
		}
		if err != nil {
			runtime.log.Warn("sending query reply failed", zap.String("name", msg.Name), zap.Error(err))
		}

	default:
		// failures are logged by the dispatcher.
		_ = runtime.app.Dispatcher.Dispatch(ctx, msg)
	}
}

func (runtime *Runtime) reply(msg *ipc.Message) error {
	if runtime.app.Pipe == nil {
		return nil
	}
	return runtime.app.Pipe.Send(msg)
}

// finish closes the recording and confirms the shutdown.
func (runtime *Runtime) finish(ctx context.Context, loopErr error) error {
	ctx = context.WithoutCancel(ctx)

	var group errs.Group
	if runtime.OnShutdown != nil {
		group.Add(runtime.OnShutdown(ctx))
	}
	if runtime.bridge != nil {
		group.Add(runtime.bridge.Close())
	}
	group.Add(runtime.app.SetState(ctx, ipc.Stopped))

	if loopErr == nil {
		group.Add(runtime.app.Send(ipc.SignalConfirmShutdown, ipc.Controller, "shutdown", nil, nil))
	}
	runtime.log.Info("process stopped", zap.Int64("iterations", runtime.cycle.Iterations()))
	return group.Err()
}

// ExitOnInterrupt makes the process exit immediately on SIGINT, without
// draining anything.
func ExitOnInterrupt(log *zap.Logger) (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-signals:
			log.Warn("interrupted")
			_ = log.Sync()
			os.Exit(1)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(signals)
		close(done)
	}
}
