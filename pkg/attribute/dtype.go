// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"unsafe"
)

// DType is the element type of an attribute.
type DType string

// Supported element types.
const (
	Uint8      DType = "uint8"
	Uint16     DType = "uint16"
	Int16      DType = "int16"
	Int32      DType = "int32"
	Int64      DType = "int64"
	Float32    DType = "float32"
	Float64    DType = "float64"
	ObjectType DType = "object"
)

// Size returns the size of a single element in bytes. Objects have no fixed size.
func (dtype DType) Size() int {
	switch dtype {
	case Uint8:
		return 1
	case Uint16, Int16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	default:
		return 0
	}
}

// Valid returns whether dtype is known.
func (dtype DType) Valid() bool {
	return dtype == ObjectType || dtype.Size() > 0
}

// Numeric is the set of element types an array attribute can hold.
type Numeric interface {
	~uint8 | ~uint16 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

// DTypeOf returns the dtype matching T.
func DTypeOf[T Numeric]() DType {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case int16:
		return Int16
	case int32:
		return Int32
	case int64:
		return Int64
	case float32:
		return Float32
	case float64:
		return Float64
	}
	// named types fall back to their size and kind.
	switch unsafe.Sizeof(zero) {
	case 1:
		return Uint8
	case 2:
		return Int16
	case 4:
		if isFloat(zero) {
			return Float32
		}
		return Int32
	default:
		if isFloat(zero) {
			return Float64
		}
		return Int64
	}
}

func isFloat[T Numeric](v T) bool {
	v = 1
	return v/2 != 0
}

// asBytes reinterprets values as raw bytes without copying.
func asBytes[T Numeric](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	size := int(unsafe.Sizeof(values[0]))
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*size)
}

// Shape is the shape of a single attribute element.
type Shape []int

// Elements returns the number of scalar values in one element.
func (shape Shape) Elements() int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Valid returns whether all dimensions are positive.
func (shape Shape) Valid() bool {
	for _, d := range shape {
		if d <= 0 {
			return false
		}
	}
	return true
}

// Equal compares two shapes.
func (shape Shape) Equal(other Shape) bool {
	if len(shape) != len(other) {
		return false
	}
	for i := range shape {
		if shape[i] != other[i] {
			return false
		}
	}
	return true
}
