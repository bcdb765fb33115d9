// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/process"
)

// Child is a started child process.
type Child struct {
	Role    ipc.Role
	Pid     int
	Pipe    *ipc.Pipe
	Started time.Time

	kill func() error
	done chan struct{}

	mu  sync.Mutex
	err error
}

// NewChild tracks a started process. wait must block until the process
// exited; kill must end it immediately.
func NewChild(ctx context.Context, log *zap.Logger, role ipc.Role, pid int, pipe *ipc.Pipe, wait, kill func() error) *Child {
	child := &Child{
		Role:    role,
		Pid:     pid,
		Pipe:    pipe,
		Started: time.Now(),
		kill:    kill,
		done:    make(chan struct{}),
	}

	go func() {
		if err := pipe.Run(ctx); err != nil {
			log.Warn("pipe failed", zap.String("role", string(role)), zap.Error(err))
		}
	}()
	go func() {
		err := wait()
		child.mu.Lock()
		child.err = err
		child.mu.Unlock()
		close(child.done)
	}()
	return child
}

// Done is closed once the process exited.
func (child *Child) Done() <-chan struct{} { return child.done }

// Exited returns whether the process exited.
func (child *Child) Exited() bool {
	select {
	case <-child.done:
		return true
	default:
		return false
	}
}

// Err returns the exit error of an exited process.
func (child *Child) Err() error {
	child.mu.Lock()
	defer child.mu.Unlock()
	return child.err
}

// Kill ends the process immediately.
func (child *Child) Kill() error {
	if child.Exited() {
		return nil
	}
	return child.kill()
}

// Wait waits for the process to exit or ctx to be canceled. An exited process
// is reported as such even when ctx is done.
func (child *Child) Wait(ctx context.Context) error {
	select {
	case <-child.done:
		return nil
	default:
	}
	select {
	case <-child.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the pipe to the process.
func (child *Child) Close() error {
	return child.Pipe.Close()
}

// Launcher starts the child process of a role.
type Launcher interface {
	Launch(ctx context.Context, runtimeDir string, role ipc.Role) (*Child, error)
}

// ExecLauncher starts children by executing the `process` command of a
// binary, usually the running one. The child reads messages from fd 3 and
// writes to fd 4; its json logs on stderr are relayed to the controller log.
type ExecLauncher struct {
	Log        *zap.Logger
	Executable string
	// Args are appended to the command line, for example the config flags.
	Args []string
}

// Launch implements Launcher.
func (launcher *ExecLauncher) Launch(ctx context.Context, runtimeDir string, role ipc.Role) (_ *Child, err error) {
	defer mon.Task()(&ctx)(&err)

	executable := launcher.Executable
	if executable == "" {
		executable, err = os.Executable()
		if err != nil {
			return nil, Error.Wrap(err)
		}
	}

	log := launcher.Log.Named(string(role))
	pipe, childRead, childWrite, err := ipc.NewPipePair(log)
	if err != nil {
		return nil, err
	}

	args := []string{"process", "--role", string(role), "--runtime-dir", runtimeDir}
	args = append(args, process.LogFlags()...)
	args = append(args, launcher.Args...)

	cmd := exec.Command(executable, args...)
	cmd.Stdout = os.Stdout
	cmd.ExtraFiles = []*os.File{childRead, childWrite}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, pipe.Close(), childRead.Close(), childWrite.Close()))
	}

	if err := cmd.Start(); err != nil {
		return nil, Error.Wrap(errs.Combine(err, pipe.Close(), childRead.Close(), childWrite.Close()))
	}
	// the child holds its own copies now.
	if err := errs.Combine(childRead.Close(), childWrite.Close()); err != nil {
		log.Warn("closing child pipe ends failed", zap.Error(err))
	}

	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		if err := process.Relay(log, stderr); err != nil {
			log.Warn("log relay failed", zap.Error(err))
		}
		// keep reading so the child never blocks on a full stderr.
		_, _ = io.Copy(io.Discard, stderr)
	}()

	pid := cmd.Process.Pid
	wait := func() error {
		<-relayed
		return cmd.Wait()
	}
	kill := func() error {
		return Error.Wrap(unix.Kill(pid, unix.SIGKILL))
	}

	log.Info("process launched", zap.Int("pid", pid))
	return NewChild(ctx, launcher.Log, role, pid, pipe, wait, kill), nil
}
