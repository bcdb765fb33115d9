// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/record"
	"vxpy.io/vxpy/pkg/record/h5"
)

// SessionFile describes a session to the processes joining it.
const SessionFile = "session.yaml"

// Recording formats.
const (
	FormatHDF5 = "hdf5"
	FormatBolt = "bolt"
)

// Session is what a child needs to attach to the runtime directory.
type Session struct {
	ID         string      `yaml:"id"`
	EpochNanos int64       `yaml:"epoch_nanos"`
	Attributes string      `yaml:"attributes"`
	Table      TableConfig `yaml:"table"`
	Format     string      `yaml:"format"`
}

// Epoch returns the time the session clock counts from.
func (session Session) Epoch() time.Time { return time.Unix(0, session.EpochNanos) }

// Clock returns the session clock.
func (session Session) Clock() attribute.Clock {
	return attribute.EpochClock{Epoch: session.Epoch()}
}

// WriteSession stores session in the runtime directory dir.
func WriteSession(dir string, session Session) error {
	data, err := yaml.Marshal(session)
	if err != nil {
		return Error.Wrap(err)
	}
	path := filepath.Join(dir, SessionFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.Rename(tmp, path))
}

// ReadSession reads the session of the runtime directory dir.
func ReadSession(dir string) (session Session, err error) {
	data, err := os.ReadFile(filepath.Join(dir, SessionFile))
	if err != nil {
		return session, Error.Wrap(err)
	}
	if err := yaml.UnmarshalStrict(data, &session); err != nil {
		return session, Error.New("invalid session file: %w", err)
	}
	return session, nil
}

// TablePath returns the path of the shared memory table in runtimeDir.
func TablePath(runtimeDir string) string { return filepath.Join(runtimeDir, tableName) }

// OpenTable opens the table of session. tablePath is used for the shared
// memory backend.
func OpenTable(ctx context.Context, session Session, tablePath string) (ipc.Table, error) {
	if session.Table.Redis != "" {
		return ipc.OpenRedisTable(ctx, session.Table.Redis, session.Table.RedisPassword, session.Table.RedisDB, session.ID)
	}
	return ipc.OpenShmTable(tablePath)
}

// Opener returns the recording opener for format.
func Opener(log *zap.Logger, format string) (record.Opener, error) {
	switch format {
	case FormatHDF5, "":
		return h5.Opener(log), nil
	case FormatBolt:
		return record.BoltOpener(log), nil
	default:
		return nil, Error.New("unknown recording format %q", format)
	}
}

// Member is a child process attached to a session.
type Member struct {
	Session Session
	App     *ipc.AppContext
	// Pipe connects the member to the controller, nil when detached.
	Pipe *ipc.Pipe
}

// Join attaches the process of role to the session in runtimeDir. The
// returned member must be closed.
func Join(ctx context.Context, log *zap.Logger, runtimeDir string, role ipc.Role, pipe *ipc.Pipe) (_ *Member, err error) {
	session, err := ReadSession(runtimeDir)
	if err != nil {
		return nil, err
	}
	clock := session.Clock()

	reg, err := attribute.Load(session.Attributes, attribute.Options{Process: string(role), Clock: clock})
	if err != nil {
		return nil, err
	}
	if err := reg.BuildAll(); err != nil {
		return nil, errs.Combine(err, reg.Close())
	}

	table, err := OpenTable(ctx, session, TablePath(runtimeDir))
	if err != nil {
		return nil, errs.Combine(err, reg.Close())
	}

	member := &Member{
		Session: session,
		App: &ipc.AppContext{
			Role:       role,
			Session:    session.ID,
			Log:        log,
			Registry:   reg,
			Table:      table,
			Dispatcher: ipc.NewDispatcher(log.Named("dispatch")),
			Clock:      clock,
		},
		Pipe: pipe,
	}
	if pipe != nil {
		member.App.Pipe = pipe
	}
	return member, nil
}

// Runtime creates the loop of the member, recording its persisted attributes.
func (member *Member) Runtime(config proc.Config) (*proc.Runtime, error) {
	opener, err := member.Opener()
	if err != nil {
		return nil, err
	}
	log := member.App.Log
	bridge := record.NewBridge(log.Named("record"), member.App, opener)

	var inbox proc.Inbox
	if member.Pipe != nil {
		inbox = member.Pipe
	}
	return proc.New(log.Named("loop"), member.App, config, inbox, bridge)
}

// Opener returns the recording opener of the session.
func (member *Member) Opener() (record.Opener, error) {
	return Opener(member.App.Log.Named("record"), member.Session.Format)
}

// Close detaches from the session.
func (member *Member) Close() error {
	return errs.Combine(member.App.Table.Close(), member.App.Registry.Close())
}
