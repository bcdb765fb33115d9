// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package shm implements file backed shared memory segments.
//
// A segment is allocated once with Create, usually by the controller before any
// child process is started, and mapped by every process that uses it with Open.
package shm

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/edsrzf/mmap-go"
	"github.com/zeebo/errs"
)

// Error is the default shm errs class.
var Error = errs.Class("shm")

// MaxSize is the largest segment that can be allocated.
const MaxSize = 1 << 40

const fileMode = 0600

// Create allocates a zeroed segment of size bytes at path.
// An existing file at path is truncated.
func Create(path string, size int64) (err error) {
	if size <= 0 || size > MaxSize {
		return Error.New("invalid segment size %d", size)
	}

	fh, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, Error.Wrap(fh.Close())) }()

	if err := fh.Truncate(size); err != nil {
		return Error.New("unable to truncate %q to %d: %w", path, size, err)
	}
	return Error.Wrap(fh.Sync())
}

// Segment is a mapping of a shared memory segment.
type Segment struct {
	path string
	fh   *os.File
	mem  mmap.MMap
}

// Open maps an existing segment for reading and writing.
func Open(path string) (_ *Segment, err error) {
	fh, err := os.OpenFile(path, os.O_RDWR, fileMode)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close())
		}
	}()

	info, err := fh.Stat()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if info.Size() == 0 {
		return nil, Error.New("segment %q is empty", path)
	}

	mem, err := mmap.Map(fh, mmap.RDWR, 0)
	if err != nil {
		return nil, Error.New("unable to map %q: %w", path, err)
	}

	return &Segment{path: path, fh: fh, mem: mem}, nil
}

// Path returns the file backing the segment.
func (seg *Segment) Path() string { return seg.path }

// Size returns the mapped size in bytes.
func (seg *Segment) Size() int { return len(seg.mem) }

// Bytes returns the mapped memory.
func (seg *Segment) Bytes() []byte { return seg.mem }

// Slice returns n bytes starting at off.
func (seg *Segment) Slice(off, n int) []byte {
	return seg.mem[off : off+n : off+n]
}

// Uint64 returns a pointer to the word at off, which must be 8 byte aligned.
func (seg *Segment) Uint64(off int) *uint64 {
	if off%8 != 0 || off+8 > len(seg.mem) {
		panic("shm: unaligned or out of range word")
	}
	return (*uint64)(unsafe.Pointer(&seg.mem[off]))
}

// LoadUint64 atomically loads the word at off.
func (seg *Segment) LoadUint64(off int) uint64 {
	return atomic.LoadUint64(seg.Uint64(off))
}

// StoreUint64 atomically stores the word at off.
func (seg *Segment) StoreUint64(off int, v uint64) {
	atomic.StoreUint64(seg.Uint64(off), v)
}

// Flush flushes the mapping to the backing file.
func (seg *Segment) Flush() error {
	return Error.Wrap(seg.mem.Flush())
}

// Close unmaps the segment. The backing file is left in place.
func (seg *Segment) Close() error {
	var group errs.Group
	if seg.mem != nil {
		group.Add(seg.mem.Unmap())
		seg.mem = nil
	}
	if seg.fh != nil {
		group.Add(seg.fh.Close())
		seg.fh = nil
	}
	return Error.Wrap(group.Err())
}
