// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package controller

import (
	"time"

	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/protocol"
)

// Config contains everything the controller needs to run a session.
type Config struct {
	RuntimeDir string `help:"runtime directory of the session, empty creates one below the shared memory root" default:""`

	Table     TableConfig
	Loop      proc.Config
	Protocol  protocol.Config
	Protocols string `help:"directory holding the protocol files" default:"$CONFDIR/protocols"`
	Recording RecordingConfig
	Monitor   MonitorConfig

	MinSleepSamples int           `help:"number of sleeps timed to measure the sleep granularity" default:"20"`
	ShutdownTimeout time.Duration `help:"how long children may take to confirm a shutdown before they are killed" default:"10s"`
}

// TableConfig selects the backend of the STATE and CONTROL table.
type TableConfig struct {
	Redis         string `help:"address of a redis server holding the table, empty uses shared memory" default:""`
	RedisPassword string `help:"password of the redis server" default:""`
	RedisDB       int    `help:"redis database number" default:"0"`
}

// RecordingConfig configures recordings.
type RecordingConfig struct {
	Enabled bool   `help:"allow recordings" default:"true"`
	Output  string `help:"directory holding the recording folders" default:"$CONFDIR/recordings"`
	Format  string `help:"file format of recordings, hdf5 or bolt" default:"hdf5"`
}

// MonitorConfig configures the child health monitor.
type MonitorConfig struct {
	Interval time.Duration `help:"how often cpu and memory of the children are sampled" default:"5s"`
}
