// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package shm

import (
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
)

const lockName = ".lock"

// DefaultRoot returns the directory under which runtime directories are created.
// It prefers tmpfs backed /dev/shm when available.
func DefaultRoot() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Dir is a runtime directory holding the segments of one session.
// The creating process holds an exclusive lock on it until Close.
type Dir struct {
	Path string
	lock *os.File
}

// CreateDir creates and locks a runtime directory. It fails when another live
// process holds the lock.
func CreateDir(path string) (_ *Dir, err error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, Error.Wrap(err)
	}

	fh, err := os.OpenFile(filepath.Join(path, lockName), os.O_RDWR|os.O_CREATE, fileMode)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := flock(fh); err != nil {
		return nil, errs.Combine(Error.New("runtime directory %q is in use: %w", path, err), fh.Close())
	}

	return &Dir{Path: path, lock: fh}, nil
}

// OpenDir returns a handle to an existing runtime directory without locking it.
func OpenDir(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if !info.IsDir() {
		return nil, Error.New("%q is not a directory", path)
	}
	return &Dir{Path: path}, nil
}

// Join returns the path of name inside the directory.
func (dir *Dir) Join(name string) string {
	return filepath.Join(dir.Path, name)
}

// Owned returns whether this process created and locked the directory.
func (dir *Dir) Owned() bool { return dir.lock != nil }

// Close releases the directory. The owner removes it together with all segments.
func (dir *Dir) Close() error {
	if dir.lock == nil {
		return nil
	}
	err := dir.lock.Close()
	dir.lock = nil
	return Error.Wrap(errs.Combine(err, os.RemoveAll(dir.Path)))
}
