// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package display

import (
	"math"
	"sort"
)

// Visual is a stimulus presented during a phase.
type Visual interface {
	// Initialize prepares the visual for a phase.
	Initialize(params map[string]interface{}) error
	// Update renders the visual elapsed seconds into the phase and returns
	// the mean luminance of the frame in [0, 1].
	Update(elapsed float64) float64
}

// Visuals creates visuals by name.
type Visuals map[string]func() Visual

// DefaultVisuals returns the built-in visuals.
func DefaultVisuals() Visuals {
	return Visuals{
		"blank":   func() Visual { return &Blank{} },
		"grating": func() Visual { return &Grating{} },
	}
}

// Names returns the sorted names of the visuals.
func (visuals Visuals) Names() []string {
	names := make([]string, 0, len(visuals))
	for name := range visuals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New creates the visual name, an empty name is the blank screen.
func (visuals Visuals) New(name string) (Visual, error) {
	if name == "" {
		name = "blank"
	}
	create, ok := visuals[name]
	if !ok {
		return nil, Error.New("unknown visual %q", name)
	}
	return create(), nil
}

// Blank is a uniform screen.
type Blank struct {
	luminance float64
}

// Initialize implements Visual.
func (blank *Blank) Initialize(params map[string]interface{}) (err error) {
	blank.luminance, err = param(params, "luminance", 0)
	if err != nil {
		return err
	}
	if blank.luminance < 0 || blank.luminance > 1 {
		return Error.New("luminance %v out of range", blank.luminance)
	}
	return nil
}

// Update implements Visual.
func (blank *Blank) Update(elapsed float64) float64 { return blank.luminance }

// Grating is a sinusoidal grating drifting with a temporal frequency.
type Grating struct {
	frequency float64
	contrast  float64
}

// Initialize implements Visual.
func (grating *Grating) Initialize(params map[string]interface{}) (err error) {
	grating.frequency, err = param(params, "frequency", 1)
	if err != nil {
		return err
	}
	grating.contrast, err = param(params, "contrast", 1)
	if err != nil {
		return err
	}
	if grating.contrast < 0 || grating.contrast > 1 {
		return Error.New("contrast %v out of range", grating.contrast)
	}
	return nil
}

// Update implements Visual.
func (grating *Grating) Update(elapsed float64) float64 {
	return 0.5 + 0.5*grating.contrast*math.Sin(2*math.Pi*grating.frequency*elapsed)
}

func param(params map[string]interface{}, name string, fallback float64) (float64, error) {
	raw, ok := params[name]
	if !ok {
		return fallback, nil
	}
	switch value := raw.(type) {
	case float64:
		return value, nil
	case int:
		return float64(value), nil
	default:
		return 0, Error.New("parameter %q: want a number, got %T", name, raw)
	}
}
