// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"context"
	"math"
	"sync"

	"github.com/zeebo/errs"

	"vxpy.io/vxpy/pkg/shm"
)

// table segment layout.
const (
	tableSize  = 4096
	tableMagic = 0x31304c4254585856 // "VXXTBL01"

	tblMagic  = 0
	tblStates = 64
	maxRoles  = 16

	tblControl    = tblStates + maxRoles*16
	ctlSeq        = tblControl
	ctlActive     = tblControl + 8
	ctlPhaseID    = tblControl + 16
	ctlPhaseStart = tblControl + 24
	ctlPhaseStop  = tblControl + 32
	ctlPhaseCount = tblControl + 40
	ctlMinSleep   = tblControl + 48
	ctlEpoch      = tblControl + 56
	ctlStrings    = tblControl + 64

	// MaxControlString is the longest string CONTROL can hold.
	MaxControlString = 512
	stringStride     = 8 + MaxControlString
)

// control strings in layout order.
const (
	strFolder = iota
	strBase
	strPath
)

// ShmTable is a Table stored in a shared memory segment.
//
// States are single words written atomically. CONTROL is guarded by a seqlock
// and written only by the controller.
type ShmTable struct {
	seg *shm.Segment

	mu sync.Mutex
}

var _ Table = (*ShmTable)(nil)

// CreateShmTable allocates and opens a new table at path.
func CreateShmTable(path string) (*ShmTable, error) {
	if err := shm.Create(path, tableSize); err != nil {
		return nil, Error.Wrap(err)
	}
	seg, err := shm.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	seg.StoreUint64(tblMagic, tableMagic)
	return &ShmTable{seg: seg}, nil
}

// OpenShmTable opens a table created by CreateShmTable.
func OpenShmTable(path string) (*ShmTable, error) {
	seg, err := shm.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if seg.Size() < tableSize || seg.LoadUint64(tblMagic) != tableMagic {
		return nil, Error.New("%q is not a state table", path)
	}
	return &ShmTable{seg: seg}, nil
}

func stateOffset(role Role) (int, error) {
	index := role.index()
	if index < 0 {
		return 0, Error.New("unknown role %q", role)
	}
	return tblStates + index*16, nil
}

// State implements Table.
func (table *ShmTable) State(ctx context.Context, role Role) (State, error) {
	off, err := stateOffset(role)
	if err != nil {
		return Na, err
	}
	return State(table.seg.LoadUint64(off)), nil
}

// SetState implements Table.
func (table *ShmTable) SetState(ctx context.Context, role Role, state State) error {
	off, err := stateOffset(role)
	if err != nil {
		return err
	}
	table.seg.StoreUint64(off, uint64(state))
	return nil
}

// RecState implements Table.
func (table *ShmTable) RecState(ctx context.Context, role Role) (RecState, error) {
	off, err := stateOffset(role)
	if err != nil {
		return RecStopped, err
	}
	return RecState(table.seg.LoadUint64(off + 8)), nil
}

// SetRecState implements Table.
func (table *ShmTable) SetRecState(ctx context.Context, role Role, state RecState) error {
	off, err := stateOffset(role)
	if err != nil {
		return err
	}
	table.seg.StoreUint64(off+8, uint64(state))
	return nil
}

// Control implements Table.
func (table *ShmTable) Control(ctx context.Context) (control Control, err error) {
	lock := shm.NewSeqLock(table.seg.Uint64(ctlSeq))
	lock.Read(func() {
		control = table.readControl()
	})
	return control, nil
}

func (table *ShmTable) readControl() Control {
	seg := table.seg
	return Control{
		Recording: RecordingControl{
			Active: seg.LoadUint64(ctlActive) != 0,
			Folder: table.readString(strFolder),
			Base:   table.readString(strBase),
		},
		Protocol: ProtocolControl{
			Path:       table.readString(strPath),
			PhaseID:    int(int64(seg.LoadUint64(ctlPhaseID))),
			PhaseStart: math.Float64frombits(seg.LoadUint64(ctlPhaseStart)),
			PhaseStop:  math.Float64frombits(seg.LoadUint64(ctlPhaseStop)),
			PhaseCount: int(int64(seg.LoadUint64(ctlPhaseCount))),
		},
		General: GeneralControl{
			MinSleep: math.Float64frombits(seg.LoadUint64(ctlMinSleep)),
			Epoch:    math.Float64frombits(seg.LoadUint64(ctlEpoch)),
		},
	}
}

func (table *ShmTable) readString(n int) string {
	off := ctlStrings + n*stringStride
	length := int(table.seg.LoadUint64(off))
	if length > MaxControlString {
		length = MaxControlString
	}
	return string(table.seg.Slice(off+8, length))
}

// UpdateControl implements Table.
func (table *ShmTable) UpdateControl(ctx context.Context, update func(*Control)) error {
	table.mu.Lock()
	defer table.mu.Unlock()

	control := table.readControl()
	update(&control)

	for _, s := range []string{control.Recording.Folder, control.Recording.Base, control.Protocol.Path} {
		if len(s) > MaxControlString {
			return Error.New("control string of %d bytes exceeds %d", len(s), MaxControlString)
		}
	}

	seg := table.seg
	lock := shm.NewSeqLock(seg.Uint64(ctlSeq))
	lock.Write(func() {
		active := uint64(0)
		if control.Recording.Active {
			active = 1
		}
		seg.StoreUint64(ctlActive, active)
		seg.StoreUint64(ctlPhaseID, uint64(int64(control.Protocol.PhaseID)))
		seg.StoreUint64(ctlPhaseStart, math.Float64bits(control.Protocol.PhaseStart))
		seg.StoreUint64(ctlPhaseStop, math.Float64bits(control.Protocol.PhaseStop))
		seg.StoreUint64(ctlPhaseCount, uint64(int64(control.Protocol.PhaseCount)))
		seg.StoreUint64(ctlMinSleep, math.Float64bits(control.General.MinSleep))
		seg.StoreUint64(ctlEpoch, math.Float64bits(control.General.Epoch))
		table.writeString(strFolder, control.Recording.Folder)
		table.writeString(strBase, control.Recording.Base)
		table.writeString(strPath, control.Protocol.Path)
	})
	return nil
}

func (table *ShmTable) writeString(n int, s string) {
	off := ctlStrings + n*stringStride
	table.seg.StoreUint64(off, uint64(len(s)))
	copy(table.seg.Slice(off+8, MaxControlString), s)
}

// Close unmaps the table.
func (table *ShmTable) Close() error {
	return errs.Wrap(table.seg.Close())
}
