// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package record writes persisted attributes of a process to recording files.
package record

import (
	"context"
	"iter"
	"path/filepath"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
)

var (
	// Error is the default record errs class.
	Error = errs.Class("record")

	mon = monkit.Package()
)

// State is the state of a bridge.
type State int

// Bridge states.
const (
	// NoFile means no recording folder is set.
	NoFile State = iota
	// FileOpen means data is being written.
	FileOpen
	// Paused means a folder is set but recording is not active.
	Paused
)

// String implements fmt.Stringer.
func (state State) String() string {
	switch state {
	case NoFile:
		return "no file"
	case FileOpen:
		return "file open"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Entry is a single value waiting to be recorded.
type Entry struct {
	Name  string
	Index int64
	Time  float64
	Value interface{}
}

// Bridge copies new entries of the attributes a process owns and persists
// into the recording file of that process.
//
// The recording state follows CONTROL: an empty folder closes the file, a
// folder with active recording opens it and an inactive recording pauses it.
type Bridge struct {
	log  *zap.Logger
	app  *ipc.AppContext
	open Opener

	state   State
	folder  string
	sink    Sink
	rings   []*attribute.Ring
	next    map[string]int64
	skipped map[string]bool
	loop    int64
}

// NewBridge creates a bridge for the persisted attributes of app.Role.
func NewBridge(log *zap.Logger, app *ipc.AppContext, open Opener) *Bridge {
	return &Bridge{
		log:     log,
		app:     app,
		open:    open,
		rings:   app.Registry.Persisted(string(app.Role)),
		next:    map[string]int64{},
		skipped: map[string]bool{},
	}
}

// State returns the current state.
func (bridge *Bridge) State() State { return bridge.state }

// Attributes returns the names of the recorded attributes.
func (bridge *Bridge) Attributes() []string {
	names := make([]string, 0, len(bridge.rings))
	for _, ring := range bridge.rings {
		names = append(names, ring.Name())
	}
	return names
}

// Update evaluates CONTROL and opens, pauses or closes the recording file.
func (bridge *Bridge) Update(ctx context.Context) (err error) {
	control, err := bridge.app.Table.Control(ctx)
	if err != nil {
		return err
	}
	rec := control.Recording

	switch {
	case rec.Folder == "":
		if bridge.state != NoFile {
			return bridge.closeFile(ctx)
		}
		return nil

	case bridge.sink != nil && rec.Folder != bridge.folder:
		// a new session folder replaces the open file.
		if err := bridge.closeFile(ctx); err != nil {
			return err
		}
		fallthrough

	default:
		if !rec.Active {
			if bridge.state != Paused {
				bridge.log.Info("recording paused", zap.String("folder", rec.Folder))
				bridge.state = Paused
			}
			// entries written while paused are not recorded.
			bridge.skipAhead()
			return nil
		}
		if bridge.sink == nil {
			return bridge.openFile(ctx, control)
		}
		if bridge.state == Paused {
			bridge.log.Info("recording resumed", zap.String("folder", rec.Folder))
			bridge.skipAhead()
			bridge.state = FileOpen
		}
		return nil
	}
}

func (bridge *Bridge) skipAhead() {
	for _, ring := range bridge.rings {
		bridge.next[ring.Name()] = ring.Index()
		ring.ClearNewData()
	}
}

func (bridge *Bridge) openFile(ctx context.Context, control ipc.Control) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := bridge.app.Table.SetRecState(ctx, bridge.app.Role, ipc.RecStart); err != nil {
		return err
	}

	dir := filepath.Join(control.Recording.Base, control.Recording.Folder)
	sink, err := bridge.open(dir, Metadata{
		Session: bridge.app.Session,
		Role:    bridge.app.Role,
		Folder:  control.Recording.Folder,
		Created: bridge.app.Now(),
		Epoch:   control.General.Epoch,
	})
	if err != nil {
		_ = bridge.app.Table.SetRecState(ctx, bridge.app.Role, ipc.RecStopped)
		return Error.New("opening recording in %q: %w", dir, err)
	}

	bridge.sink = sink
	bridge.folder = control.Recording.Folder
	bridge.skipped = map[string]bool{}
	bridge.loop = 0

	for _, ring := range bridge.rings {
		if err := sink.Create(ring.Spec()); err != nil {
			// the attribute is left out of this recording only.
			bridge.log.Error("creating dataset failed",
				zap.String("attribute", ring.Name()), zap.Error(err))
			bridge.skipped[ring.Name()] = true
		}
	}
	bridge.skipAhead()
	bridge.state = FileOpen

	bridge.log.Info("recording started", zap.String("folder", dir), zap.Int("attributes", len(bridge.rings)))
	return bridge.app.Table.SetRecState(ctx, bridge.app.Role, ipc.RecStartSuccess)
}

func (bridge *Bridge) closeFile(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := bridge.app.Table.SetRecState(ctx, bridge.app.Role, ipc.RecStop); err != nil {
		return err
	}

	if bridge.sink != nil {
		// write what arrived up to now.
		if bridge.state == FileOpen {
			err = bridge.drain()
		}
		err = errs.Combine(err, bridge.sink.Close())
		bridge.sink = nil
	}

	bridge.log.Info("recording stopped", zap.String("folder", bridge.folder))
	bridge.state = NoFile
	bridge.folder = ""
	return errs.Combine(err, bridge.app.Table.SetRecState(ctx, bridge.app.Role, ipc.RecStopped))
}

// Flush writes one bookkeeping row and all entries written since the last
// flush. It does nothing unless a file is open.
func (bridge *Bridge) Flush(ctx context.Context) (err error) {
	if bridge.state != FileOpen {
		return nil
	}
	if err := bridge.sink.Bookkeeping(bridge.loop, bridge.app.Now()); err != nil {
		return Error.Wrap(err)
	}
	bridge.loop++
	return bridge.drain()
}

func (bridge *Bridge) drain() error {
	var group errs.Group
	for _, ring := range bridge.rings {
		if !ring.HasNewData() {
			continue
		}
		ring.ClearNewData()

		name := ring.Name()
		rows, err := ring.ReadAny(attribute.From(bridge.next[name]))
		if err != nil {
			group.Add(err)
			continue
		}
		if rows.Len() == 0 {
			continue
		}
		if first := rows.Indices[0]; first > bridge.next[name] {
			mon.Counter("record_lost_entries").Inc(first - bridge.next[name])
			bridge.log.Debug("entries overwritten before recording",
				zap.String("attribute", name), zap.Int64("lost", first-bridge.next[name]))
		}
		bridge.next[name] = rows.Indices[rows.Len()-1] + 1

		if bridge.skipped[name] {
			continue
		}
		if err := bridge.sink.Append(ring.Spec(), rows); err != nil {
			group.Add(Error.New("appending %q: %w", name, err))
		}
	}
	return group.Err()
}

// Pending returns the entries a flush would write now. The sequence can be
// iterated repeatedly and does not consume anything.
func (bridge *Bridge) Pending() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for _, ring := range bridge.rings {
			name := ring.Name()
			if bridge.skipped[name] {
				continue
			}
			rows, err := ring.ReadAny(attribute.From(bridge.next[name]))
			if err != nil {
				bridge.log.Debug("reading pending entries failed", zap.String("attribute", name), zap.Error(err))
				continue
			}
			for i := range rows.Indices {
				entry := Entry{Name: name, Index: rows.Indices[i], Time: rows.Times[i], Value: rows.Values[i]}
				if !yield(entry) {
					return
				}
			}
		}
	}
}

// Close closes an open recording file.
func (bridge *Bridge) Close() error {
	if bridge.sink == nil {
		return nil
	}
	return bridge.closeFile(context.Background())
}
