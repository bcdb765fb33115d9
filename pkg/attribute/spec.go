// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"regexp"

	"storj.io/common/memory"
)

// Kind distinguishes fixed shape arrays from encoded objects.
type Kind string

const (
	// KindArray attributes hold fixed shape numeric elements.
	KindArray Kind = "array"
	// KindObject attributes hold arbitrary encoded values.
	KindObject Kind = "object"
)

// DefaultLength is the ring length used when a spec does not set one.
const DefaultLength = 1000

// DefaultObjectSize is the slot size used for object attributes.
const DefaultObjectSize = 4 * memory.KiB

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// Spec describes an attribute. It is everything a process needs to attach to
// a segment allocated by another process.
type Spec struct {
	Name  string `json:"name"`
	Kind  Kind   `json:"kind"`
	DType DType  `json:"dtype"`
	Shape Shape  `json:"shape"`
	// Length is the number of entries kept in the ring.
	Length int `json:"length"`
	// SlotSize is the payload capacity of a single entry in bytes.
	SlotSize int `json:"slot_size"`
	// Owner is the name of the producer process.
	Owner string `json:"owner"`
	// Group is the routine the attribute belongs to, used as the group in recordings.
	Group string `json:"group,omitempty"`
	// Persist marks the attribute for recording.
	Persist bool `json:"persist,omitempty"`
}

// Option modifies a spec during registration.
type Option func(*Spec)

// WithLength sets the ring length.
func WithLength(length int) Option { return func(spec *Spec) { spec.Length = length } }

// WithOwner sets the producer process.
func WithOwner(owner string) Option { return func(spec *Spec) { spec.Owner = owner } }

// WithGroup sets the routine group.
func WithGroup(group string) Option { return func(spec *Spec) { spec.Group = group } }

// Persist marks the attribute to be written to recordings.
func Persist() Option { return func(spec *Spec) { spec.Persist = true } }

// WithObjectSize sets the maximum encoded size of an object entry.
func WithObjectSize(size memory.Size) Option {
	return func(spec *Spec) { spec.SlotSize = size.Int() }
}

// normalize fills in defaults and validates the spec.
func (spec *Spec) normalize() error {
	if !validName.MatchString(spec.Name) {
		return Error.New("invalid attribute name %q", spec.Name)
	}
	if spec.Length == 0 {
		spec.Length = DefaultLength
	}
	if spec.Length < 2 {
		return Error.New("attribute %q: length must be at least 2, got %d", spec.Name, spec.Length)
	}
	if !spec.DType.Valid() {
		return Error.New("attribute %q: unknown dtype %q", spec.Name, spec.DType)
	}

	switch spec.Kind {
	case KindArray:
		if spec.DType == ObjectType {
			return Error.New("attribute %q: array attributes need a numeric dtype", spec.Name)
		}
		if !spec.Shape.Valid() {
			return Error.New("attribute %q: invalid shape %v", spec.Name, spec.Shape)
		}
		spec.SlotSize = spec.Shape.Elements() * spec.DType.Size()
	case KindObject:
		spec.DType = ObjectType
		spec.Shape = nil
		if spec.SlotSize == 0 {
			spec.SlotSize = DefaultObjectSize.Int()
		}
		if spec.SlotSize < 0 {
			return Error.New("attribute %q: invalid object size %d", spec.Name, spec.SlotSize)
		}
	default:
		return Error.New("attribute %q: unknown kind %q", spec.Name, spec.Kind)
	}
	return nil
}

// stride returns the size of a slot including its header, aligned to 8 bytes.
func (spec *Spec) stride() int {
	return slotHeaderSize + (spec.SlotSize+7)&^7
}

// segmentSize returns the size of the backing segment.
func (spec *Spec) segmentSize() int64 {
	return int64(headerSize) + int64(spec.Length)*int64(spec.stride())
}
