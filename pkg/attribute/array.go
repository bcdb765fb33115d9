// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute

// Array is an attribute whose entries are fixed shape numeric arrays.
//
// Values are flattened in row-major order.
type Array[T Numeric] struct {
	*Ring
}

// Write appends a single entry.
func (arr *Array[T]) Write(value []T) error {
	if want := arr.spec.Shape.Elements(); len(value) != want {
		return ErrShape.New("%q: got %d elements, expected %d for shape %v", arr.spec.Name, len(value), want, arr.spec.Shape)
	}
	return arr.write(asBytes(value))
}

// WriteScalar appends an entry of a single element attribute.
func (arr *Array[T]) WriteScalar(value T) error {
	return arr.Write([]T{value})
}

// Read returns the entries selected by rng.
func (arr *Array[T]) Read(rng Range) (Rows[[]T], error) {
	raw, err := arr.readRaw(rng)
	if err != nil {
		return Rows[[]T]{}, err
	}

	elements := arr.spec.Shape.Elements()
	rows := Rows[[]T]{
		Indices: raw.Indices,
		Times:   raw.Times,
		Values:  make([][]T, len(raw.Values)),
	}
	for i, payload := range raw.Values {
		value := make([]T, elements)
		copy(asBytes(value), payload)
		rows.Values[i] = value
	}
	return rows, nil
}

// Scalars returns the first element of each selected entry.
func (arr *Array[T]) Scalars(rng Range) (indices []int64, times []float64, values []T, err error) {
	rows, err := arr.Read(rng)
	if err != nil {
		return nil, nil, nil, err
	}
	values = make([]T, len(rows.Values))
	for i, value := range rows.Values {
		values[i] = value[0]
	}
	return rows.Indices, rows.Times, values, nil
}

// Current returns the most recent entry. Only the producer may call it.
func (arr *Array[T]) Current() (index int64, time float64, value []T, err error) {
	if err := arr.checkProducer(); err != nil {
		return 0, 0, nil, err
	}
	rows, err := arr.Read(Last(1))
	if err != nil {
		return 0, 0, nil, err
	}
	last := rows.Len() - 1
	return rows.Indices[last], rows.Times[last], rows.Values[last], nil
}
