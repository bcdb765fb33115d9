// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package gui

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
)

// Value is the latest entry of a watched attribute.
type Value struct {
	Name  string
	Index int64
	Time  float64
	Value interface{}
}

// View is what a window presents on a refresh.
type View struct {
	Values    []Value
	States    map[ipc.Role]ipc.State
	Recording bool
	Stats     map[ipc.Role]proc.Stats
}

// Window presents views to the user.
type Window interface {
	Show(ctx context.Context, view View) error
	Close() error
}

// Headless is a window that logs every view.
type Headless struct {
	log *zap.Logger
}

// NewHeadless creates a headless window.
func NewHeadless(log *zap.Logger) *Headless {
	return &Headless{log: log}
}

// Show implements Window.
func (window *Headless) Show(ctx context.Context, view View) error {
	roles := make([]string, 0, len(view.States))
	for role := range view.States {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)

	states := make([]zap.Field, 0, len(roles))
	for _, role := range roles {
		states = append(states, zap.Stringer(role, view.States[ipc.Role(role)]))
	}
	window.log.Info("processes", append(states, zap.Bool("recording", view.Recording))...)

	for _, value := range view.Values {
		if value.Index < 0 {
			continue
		}
		window.log.Info("attribute",
			zap.String("name", value.Name),
			zap.Int64("index", value.Index),
			zap.Float64("time", value.Time),
			zap.Any("value", value.Value))
	}
	for role, stats := range view.Stats {
		window.log.Debug("loop",
			zap.String("role", string(role)),
			zap.Int64("iterations", stats.Iterations),
			zap.Int64("overruns", stats.Overruns),
			zap.String("recording", stats.Recording))
	}
	return nil
}

// Close implements Window.
func (window *Headless) Close() error { return nil }
