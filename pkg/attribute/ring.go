// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"vxpy.io/vxpy/pkg/shm"
)

var (
	// Error is the default attribute errs class.
	Error = errs.Class("attribute")
	// ErrBufferTooSmall is returned when more entries are requested than a ring can hold.
	ErrBufferTooSmall = errs.Class("attribute buffer too small")
	// ErrDuplicate is returned when an attribute name is registered twice.
	ErrDuplicate = errs.Class("duplicate attribute")
	// ErrNotBuilt is returned when an attribute is used before Build.
	ErrNotBuilt = errs.Class("attribute not built")
	// ErrNotProducer is returned when a process writes an attribute it does not own.
	ErrNotProducer = errs.Class("not the attribute producer")
	// ErrShape is returned when a value does not match the declared shape or size.
	ErrShape = errs.Class("attribute shape mismatch")

	mon = monkit.Package()
)

// segment header layout.
const (
	headerSize = 64

	hdrMagic    = 0
	hdrLength   = 8
	hdrSlotSize = 16
	hdrIndex    = 24
	hdrNewData  = 32
	hdrKind     = 40

	segmentMagic = 0x3130525454415856 // "VXATTR01"
)

// slot header layout.
const (
	slotHeaderSize = 32

	slotSeq   = 0
	slotIndex = 8
	slotTime  = 16
	slotLen   = 24
)

// Range selects the entries returned by a read.
type Range struct {
	last    int
	from    int64
	byIndex bool
}

// Last selects the n most recent entries.
func Last(n int) Range { return Range{last: n} }

// From selects every entry written at or after the absolute index.
func From(index int64) Range { return Range{from: index, byIndex: true} }

// Rows are entries read from a ring, oldest first.
//
// Entries that were never written are returned as placeholders with index -1
// and a NaN timestamp.
type Rows[V any] struct {
	Indices []int64
	Times   []float64
	Values  []V
}

// Len returns the number of rows.
func (rows Rows[V]) Len() int { return len(rows.Indices) }

// Valid returns whether row i holds written data.
func (rows Rows[V]) Valid(i int) bool { return rows.Indices[i] >= 0 }

func (rows *Rows[V]) add(index int64, time float64, value V) {
	rows.Indices = append(rows.Indices, index)
	rows.Times = append(rows.Times, time)
	rows.Values = append(rows.Values, value)
}

// Attribute is the untyped view of a ring used by the registry and recorder.
type Attribute interface {
	Spec() Spec
	// Index returns the number of entries written so far.
	Index() int64
	HasNewData() bool
	ClearNewData()
	Build() error
	Built() bool
	// ReadAny reads entries as []T for arrays and json.RawMessage for objects.
	ReadAny(rng Range) (Rows[any], error)
	Close() error
}

// Ring is a single producer, multi consumer ring buffer of timestamped entries
// stored in a shared memory segment.
type Ring struct {
	spec Spec
	path string
	reg  *Registry

	mu  sync.Mutex
	seg atomic.Pointer[shm.Segment]
}

var _ Attribute = (*Ring)(nil)

// Spec returns the attribute description.
func (ring *Ring) Spec() Spec { return ring.spec }

// Name returns the attribute name.
func (ring *Ring) Name() string { return ring.spec.Name }

// Build attaches the ring to its segment. It must be called once per process
// before the ring is used; further calls are no-ops.
func (ring *Ring) Build() (err error) {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	if ring.seg.Load() != nil {
		return nil
	}

	seg, err := shm.Open(ring.path)
	if err != nil {
		return ErrNotBuilt.Wrap(err)
	}
	if err := ring.validate(seg); err != nil {
		return errs.Combine(err, seg.Close())
	}

	ring.seg.Store(seg)
	return nil
}

func (ring *Ring) validate(seg *shm.Segment) error {
	if int64(seg.Size()) < ring.spec.segmentSize() {
		return Error.New("segment of %q too small: %d < %d", ring.spec.Name, seg.Size(), ring.spec.segmentSize())
	}
	switch {
	case seg.LoadUint64(hdrMagic) != segmentMagic:
		return Error.New("segment of %q has invalid magic", ring.spec.Name)
	case seg.LoadUint64(hdrLength) != uint64(ring.spec.Length):
		return Error.New("segment of %q has length %d, expected %d", ring.spec.Name, seg.LoadUint64(hdrLength), ring.spec.Length)
	case seg.LoadUint64(hdrSlotSize) != uint64(ring.spec.SlotSize):
		return Error.New("segment of %q has slot size %d, expected %d", ring.spec.Name, seg.LoadUint64(hdrSlotSize), ring.spec.SlotSize)
	case seg.LoadUint64(hdrKind) != kindCode(ring.spec.Kind):
		return Error.New("segment of %q has a different kind", ring.spec.Name)
	}
	return nil
}

// Built returns whether Build succeeded in this process.
func (ring *Ring) Built() bool { return ring.seg.Load() != nil }

// Close detaches the ring from its segment.
func (ring *Ring) Close() error {
	ring.mu.Lock()
	defer ring.mu.Unlock()

	seg := ring.seg.Swap(nil)
	if seg == nil {
		return nil
	}
	return seg.Close()
}

func (ring *Ring) segment() (*shm.Segment, error) {
	seg := ring.seg.Load()
	if seg == nil {
		return nil, ErrNotBuilt.New("%q", ring.spec.Name)
	}
	return seg, nil
}

// Index returns the number of entries written so far. The next write goes to
// the logical index returned.
func (ring *Ring) Index() int64 {
	seg := ring.seg.Load()
	if seg == nil {
		return 0
	}
	return int64(seg.LoadUint64(hdrIndex))
}

// HasNewData returns whether entries were written since ClearNewData.
func (ring *Ring) HasNewData() bool {
	seg := ring.seg.Load()
	return seg != nil && seg.LoadUint64(hdrNewData) != 0
}

// ClearNewData resets the new data flag.
func (ring *Ring) ClearNewData() {
	if seg := ring.seg.Load(); seg != nil {
		seg.StoreUint64(hdrNewData, 0)
	}
}

// checkProducer verifies the calling process owns the ring.
func (ring *Ring) checkProducer() error {
	process := ring.reg.Process()
	if process != "" && ring.spec.Owner != "" && process != ring.spec.Owner {
		return ErrNotProducer.New("%q is owned by %q, not %q", ring.spec.Name, ring.spec.Owner, process)
	}
	return nil
}

func (ring *Ring) slotOffset(index int64) int {
	return headerSize + int(index%int64(ring.spec.Length))*ring.spec.stride()
}

// write stores payload with the current time in the next slot and publishes it.
func (ring *Ring) write(payload []byte) error {
	seg, err := ring.segment()
	if err != nil {
		return err
	}
	if err := ring.checkProducer(); err != nil {
		return err
	}
	if len(payload) > ring.spec.SlotSize {
		return ErrShape.New("%q: %d bytes exceed slot size %d", ring.spec.Name, len(payload), ring.spec.SlotSize)
	}

	now := ring.reg.Clock().Now()
	index := seg.LoadUint64(hdrIndex)
	off := ring.slotOffset(int64(index))

	lock := shm.NewSeqLock(seg.Uint64(off + slotSeq))
	lock.Write(func() {
		seg.StoreUint64(off+slotIndex, index)
		seg.StoreUint64(off+slotTime, math.Float64bits(now))
		seg.StoreUint64(off+slotLen, uint64(len(payload)))
		copy(seg.Slice(off+slotHeaderSize, ring.spec.SlotSize), payload)
	})

	// the index is published only after the slot is complete.
	seg.StoreUint64(hdrIndex, index+1)
	seg.StoreUint64(hdrNewData, 1)

	mon.Meter("attribute_write").Mark(1)
	return nil
}

// bounds resolves a range against the current index. placeholders is the
// number of never written entries that precede start.
func (ring *Ring) bounds(index int64, rng Range) (start, end int64, placeholders int, err error) {
	length := int64(ring.spec.Length)

	if !rng.byIndex {
		if rng.last < 0 || int64(rng.last) >= length {
			return 0, 0, 0, ErrBufferTooSmall.New("reading %d entries of %q with length %d", rng.last, ring.spec.Name, length)
		}
		start = index - int64(rng.last)
		if start < 0 {
			placeholders = int(-start)
			start = 0
		}
		return start, index, placeholders, nil
	}

	start = rng.from
	if start < 0 {
		start = 0
	}
	// entries older than length-1 writes are gone.
	if oldest := index - (length - 1); start < oldest {
		mon.Counter("attribute_lost_entries").Inc(oldest - start)
		start = oldest
	}
	if start >= index {
		return index, index, 0, nil
	}
	return start, index, 0, nil
}

// readRaw reads the selected entries as copies of their payloads.
func (ring *Ring) readRaw(rng Range) (rows Rows[[]byte], err error) {
	seg, err := ring.segment()
	if err != nil {
		return rows, err
	}

	index := int64(seg.LoadUint64(hdrIndex))
	start, end, placeholders, err := ring.bounds(index, rng)
	if err != nil {
		return rows, err
	}

	for i := 0; i < placeholders; i++ {
		rows.add(-1, math.NaN(), nil)
	}
	for logical := start; logical < end; logical++ {
		payload, time, ok := ring.readSlot(seg, logical)
		if !ok {
			// overwritten while reading, the entry is lost.
			mon.Counter("attribute_lost_entries").Inc(1)
			continue
		}
		rows.add(logical, time, payload)
	}
	return rows, nil
}

// readSlot copies the entry at logical index. It returns false when the slot
// already holds a newer entry.
func (ring *Ring) readSlot(seg *shm.Segment, logical int64) (payload []byte, time float64, ok bool) {
	off := ring.slotOffset(logical)
	lock := shm.NewSeqLock(seg.Uint64(off + slotSeq))
	buf := make([]byte, ring.spec.SlotSize)

	var stored uint64
	var n int
	lock.Read(func() {
		stored = seg.LoadUint64(off + slotIndex)
		time = math.Float64frombits(seg.LoadUint64(off + slotTime))
		n = int(seg.LoadUint64(off + slotLen))
		if n > len(buf) {
			n = len(buf)
		}
		copy(buf[:n], seg.Slice(off+slotHeaderSize, n))
	})
	if int64(stored) != logical {
		return nil, 0, false
	}
	return buf[:n], time, true
}

// Times returns the timestamps of the last n entries.
func (ring *Ring) Times(last int) ([]float64, error) {
	rows, err := ring.readRaw(Last(last))
	return rows.Times, err
}

// ReadAny implements Attribute.
func (ring *Ring) ReadAny(rng Range) (Rows[any], error) {
	raw, err := ring.readRaw(rng)
	if err != nil {
		return Rows[any]{}, err
	}

	rows := Rows[any]{
		Indices: raw.Indices,
		Times:   raw.Times,
		Values:  make([]any, len(raw.Values)),
	}
	for i, payload := range raw.Values {
		if payload == nil && raw.Indices[i] < 0 {
			continue
		}
		rows.Values[i] = ring.spec.Decode(payload)
	}
	return rows, nil
}

func kindCode(kind Kind) uint64 {
	switch kind {
	case KindArray:
		return 1
	case KindObject:
		return 2
	default:
		return 0
	}
}

// initSegment writes the header of a freshly allocated segment.
func initSegment(path string, spec Spec) (err error) {
	if err := shm.Create(path, spec.segmentSize()); err != nil {
		return err
	}
	seg, err := shm.Open(path)
	if err != nil {
		return err
	}
	defer func() { err = errs.Combine(err, seg.Close()) }()

	seg.StoreUint64(hdrLength, uint64(spec.Length))
	seg.StoreUint64(hdrSlotSize, uint64(spec.SlotSize))
	seg.StoreUint64(hdrKind, kindCode(spec.Kind))
	seg.StoreUint64(hdrIndex, 0)
	seg.StoreUint64(hdrNewData, 0)
	seg.StoreUint64(hdrMagic, segmentMagic)
	return seg.Flush()
}
