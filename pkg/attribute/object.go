// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

import (
	"encoding/json"
)

// Object is an attribute whose entries are arbitrary values encoded as JSON.
type Object[T any] struct {
	*Ring
}

// Write encodes value and appends it as a single entry.
func (obj *Object[T]) Write(value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return Error.New("%q: encoding: %w", obj.spec.Name, err)
	}
	return obj.write(data)
}

// Read returns the entries selected by rng. Placeholders hold the zero value.
func (obj *Object[T]) Read(rng Range) (Rows[T], error) {
	raw, err := obj.readRaw(rng)
	if err != nil {
		return Rows[T]{}, err
	}

	rows := Rows[T]{
		Indices: raw.Indices,
		Times:   raw.Times,
		Values:  make([]T, len(raw.Values)),
	}
	for i, payload := range raw.Values {
		if raw.Indices[i] < 0 {
			continue
		}
		if err := json.Unmarshal(payload, &rows.Values[i]); err != nil {
			return Rows[T]{}, Error.New("%q: decoding entry %d: %w", obj.spec.Name, raw.Indices[i], err)
		}
	}
	return rows, nil
}

// Current returns the most recent entry. Only the producer may call it.
func (obj *Object[T]) Current() (index int64, time float64, value T, err error) {
	if err := obj.checkProducer(); err != nil {
		return 0, 0, value, err
	}
	rows, err := obj.Read(Last(1))
	if err != nil {
		return 0, 0, value, err
	}
	last := rows.Len() - 1
	return rows.Indices[last], rows.Times[last], rows.Values[last], nil
}
