// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package routine defines the compute steps that run inside a producer
// process once per iteration.
package routine

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
)

// Error is the default routine errs class.
var Error = errs.Class("routine")

// Data is what a producer hands to its routines every iteration, for
// example the frames of all cameras keyed by device.
type Data map[string]interface{}

// Routine is a group of attributes and the step that updates them.
type Routine interface {
	// Name is unique within a process. It prefixes exposed callbacks and
	// groups the attributes in recordings.
	Name() string
	// Setup registers the attributes of the routine. It runs in the
	// controller before any process starts; opts set owner and group.
	Setup(reg *attribute.Registry, opts ...attribute.Option) error
	// Initialize attaches the routine to its producer process.
	Initialize(ctx context.Context, app *ipc.AppContext) error
	// Main runs once per producer iteration.
	Main(ctx context.Context, data Data) error
	// Exposed returns the methods that may be called remotely, by method name.
	Exposed() map[string]ipc.Callback
	// Required lists the devices the routine needs.
	Required() []string
}

// Base implements the optional parts of Routine.
type Base struct{}

// Initialize implements Routine.
func (Base) Initialize(ctx context.Context, app *ipc.AppContext) error { return nil }

// Exposed implements Routine.
func (Base) Exposed() map[string]ipc.Callback { return nil }

// Required implements Routine.
func (Base) Required() []string { return nil }

// Set holds the routines of one process.
type Set struct {
	log      *zap.Logger
	owner    ipc.Role
	routines []Routine
}

// NewSet creates the routine set of owner.
func NewSet(log *zap.Logger, owner ipc.Role, routines ...Routine) (*Set, error) {
	seen := map[string]bool{}
	for _, routine := range routines {
		if seen[routine.Name()] {
			return nil, Error.New("routine %q added twice", routine.Name())
		}
		seen[routine.Name()] = true
	}
	return &Set{log: log, owner: owner, routines: routines}, nil
}

// Names returns the routine names in execution order.
func (set *Set) Names() []string {
	names := make([]string, 0, len(set.routines))
	for _, routine := range set.routines {
		names = append(names, routine.Name())
	}
	return names
}

// Setup registers the attributes of all routines, owned by the set owner.
func (set *Set) Setup(reg *attribute.Registry) error {
	for _, routine := range set.routines {
		err := routine.Setup(reg, attribute.WithOwner(string(set.owner)), attribute.WithGroup(routine.Name()))
		if err != nil {
			return Error.New("setting up %q: %w", routine.Name(), err)
		}
	}
	return nil
}

// Initialize checks the required devices, exposes the callbacks and
// initializes every routine.
func (set *Set) Initialize(ctx context.Context, app *ipc.AppContext, devices []string) error {
	available := map[string]bool{}
	for _, device := range devices {
		available[device] = true
	}

	for _, routine := range set.routines {
		for _, device := range routine.Required() {
			if !available[device] {
				return Error.New("%q requires device %q", routine.Name(), device)
			}
		}

		exposed := routine.Exposed()
		methods := make([]string, 0, len(exposed))
		for method := range exposed {
			methods = append(methods, method)
		}
		sort.Strings(methods)
		for _, method := range methods {
			if err := app.Dispatcher.Register(routine.Name()+"."+method, exposed[method]); err != nil {
				return Error.Wrap(err)
			}
		}

		if err := routine.Initialize(ctx, app); err != nil {
			return Error.New("initializing %q: %w", routine.Name(), err)
		}
		set.log.Debug("routine initialized", zap.String("routine", routine.Name()), zap.Strings("exposed", methods))
	}
	return nil
}

// Main runs every routine in order. The first error stops the iteration.
func (set *Set) Main(ctx context.Context, data Data) error {
	for _, routine := range set.routines {
		if err := routine.Main(ctx, data); err != nil {
			return Error.New("%q: %w", routine.Name(), err)
		}
	}
	return nil
}

// Persisted returns the names of the recorded attributes of the routines.
func (set *Set) Persisted(reg *attribute.Registry) []string {
	groups := map[string]bool{}
	for _, routine := range set.routines {
		groups[routine.Name()] = true
	}
	var names []string
	for _, ring := range reg.Persisted(string(set.owner)) {
		if groups[ring.Spec().Group] {
			names = append(names, ring.Name())
		}
	}
	return names
}
