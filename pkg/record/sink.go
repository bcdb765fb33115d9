// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package record

import (
	"path/filepath"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
)

// Metadata describes a recording file.
type Metadata struct {
	Session string
	Role    ipc.Role
	Folder  string
	// Created is the session time the file was opened at.
	Created float64
	// Epoch is the unix time the session clock counts from.
	Epoch float64
}

// Sink receives the data of one recording file.
//
// Datasets are named after the attribute and grouped by Spec.Group.
type Sink interface {
	// Create prepares the datasets of an attribute.
	Create(spec attribute.Spec) error
	// Append writes rows of an attribute created earlier.
	Append(spec attribute.Spec, rows attribute.Rows[any]) error
	// Bookkeeping records the loop index and time of the writing process.
	Bookkeeping(index int64, time float64) error
	// Close flushes and closes the file.
	Close() error
}

// Opener creates the sink for a recording file in dir.
type Opener func(dir string, meta Metadata) (Sink, error)

// FileName returns the name of the file a role records into.
func FileName(role ipc.Role, ext string) string {
	return string(role) + ext
}

// Path returns the recording file of role.
func Path(base, folder string, role ipc.Role, ext string) string {
	return filepath.Join(base, folder, FileName(role, ext))
}

// GroupName returns the group an attribute is recorded in.
func GroupName(spec attribute.Spec) string {
	if spec.Group == "" {
		return "default"
	}
	return spec.Group
}

// TimeName returns the name of the dataset holding the timestamps of an attribute.
func TimeName(spec attribute.Spec) string {
	return spec.Name + "_time"
}
