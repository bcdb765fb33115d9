// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build unix

package shm

import (
	"os"

	"golang.org/x/sys/unix"
)

func flock(fh *os.File) error {
	return Error.Wrap(unix.Flock(int(fh.Fd()), unix.LOCK_EX|unix.LOCK_NB))
}
