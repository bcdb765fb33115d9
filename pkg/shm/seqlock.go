// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package shm

import (
	"runtime"
	"sync/atomic"
)

// SeqLock protects a region of shared memory that has a single writer.
//
// The sequence is odd while a write is in progress. Readers copy the region
// and retry when the sequence changed underneath them.
type SeqLock struct {
	seq *uint64
}

// NewSeqLock returns a seqlock using the word at seq.
func NewSeqLock(seq *uint64) SeqLock { return SeqLock{seq: seq} }

// BeginWrite marks the region as being written.
func (lock SeqLock) BeginWrite() {
	atomic.AddUint64(lock.seq, 1)
}

// EndWrite marks the region as consistent again.
func (lock SeqLock) EndWrite() {
	atomic.AddUint64(lock.seq, 1)
}

// BeginRead waits until no write is in progress and returns the sequence that
// must be passed to Validate.
func (lock SeqLock) BeginRead() uint64 {
	for spins := 0; ; spins++ {
		seq := atomic.LoadUint64(lock.seq)
		if seq&1 == 0 {
			return seq
		}
		if spins > 64 {
			runtime.Gosched()
		}
	}
}

// Validate returns whether the region was left untouched since BeginRead.
func (lock SeqLock) Validate(seq uint64) bool {
	return atomic.LoadUint64(lock.seq) == seq
}

// Read calls copyOut until it observes a consistent snapshot.
func (lock SeqLock) Read(copyOut func()) {
	for {
		seq := lock.BeginRead()
		copyOut()
		if lock.Validate(seq) {
			return
		}
	}
}

// Write calls copyIn while holding the write side.
func (lock SeqLock) Write(copyIn func()) {
	lock.BeginWrite()
	copyIn()
	lock.EndWrite()
}
