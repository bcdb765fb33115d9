// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"encoding/json"
	"unsafe"
)

// Decode converts a raw slot payload to []T for arrays and json.RawMessage
// for objects.
func (spec Spec) Decode(payload []byte) interface{} {
	switch spec.DType {
	case Uint8:
		return decodeArray[uint8](payload)
	case Uint16:
		return decodeArray[uint16](payload)
	case Int16:
		return decodeArray[int16](payload)
	case Int32:
		return decodeArray[int32](payload)
	case Int64:
		return decodeArray[int64](payload)
	case Float32:
		return decodeArray[float32](payload)
	case Float64:
		return decodeArray[float64](payload)
	default:
		return json.RawMessage(append([]byte(nil), payload...))
	}
}

// Encode converts a value returned by Decode back to its raw payload.
func (spec Spec) Encode(value interface{}) ([]byte, error) {
	switch value := value.(type) {
	case []uint8:
		return append([]byte(nil), value...), nil
	case []uint16:
		return copyBytes(value), nil
	case []int16:
		return copyBytes(value), nil
	case []int32:
		return copyBytes(value), nil
	case []int64:
		return copyBytes(value), nil
	case []float32:
		return copyBytes(value), nil
	case []float64:
		return copyBytes(value), nil
	case json.RawMessage:
		return append([]byte(nil), value...), nil
	case nil:
		return nil, nil
	default:
		return nil, ErrShape.New("%q: cannot encode %T", spec.Name, value)
	}
}

func copyBytes[T Numeric](values []T) []byte {
	return append([]byte(nil), asBytes(values)...)
}

func decodeArray[T Numeric](payload []byte) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	values := make([]T, len(payload)/size)
	copy(asBytes(values), payload)
	return values
}
