// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package h5_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gonum.org/v1/hdf5"

	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/record"
	"vxpy.io/vxpy/pkg/record/h5"
)

func TestSink(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("recording", "camera.hdf5")
	sink, err := h5.Create(zaptest.NewLogger(t), path, record.Metadata{
		Session: "session", Role: ipc.Camera, Folder: "recording", Created: 1.5, Epoch: 1790000000,
	})
	require.NoError(t, err)

	position := attribute.Spec{
		Name: "position", Kind: attribute.KindArray, DType: attribute.Float64,
		Shape: attribute.Shape{2}, Group: "tracking",
	}
	status := attribute.Spec{
		Name: "status", Kind: attribute.KindObject, DType: attribute.ObjectType, SlotSize: 32,
	}
	require.NoError(t, sink.Create(position))
	require.NoError(t, sink.Create(status))
	require.Error(t, sink.Create(status))

	require.NoError(t, sink.Append(position, attribute.Rows[any]{
		Indices: []int64{-1, 0, 1},
		Times:   []float64{0, 0.1, 0.2},
		Values:  []any{[]float64{0, 0}, []float64{1, 2}, []float64{3, 4}},
	}))
	require.NoError(t, sink.Append(position, attribute.Rows[any]{
		Indices: []int64{2},
		Times:   []float64{0.3},
		Values:  []any{[]float64{5, 6}},
	}))
	require.NoError(t, sink.Append(status, attribute.Rows[any]{
		Indices: []int64{0},
		Times:   []float64{0.15},
		Values:  []any{json.RawMessage(`{"mode":"auto"}`)},
	}))
	require.Error(t, sink.Append(position, attribute.Rows[any]{
		Indices: []int64{3},
		Times:   []float64{0.4},
		Values:  []any{[]float64{7}},
	}))

	require.NoError(t, sink.Bookkeeping(0, 0.1))
	require.NoError(t, sink.Bookkeeping(1, 0.2))
	require.NoError(t, sink.Close())

	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer func() { require.NoError(t, file.Close()) }()

	read := func(group, name string, data interface{}) {
		g, err := file.OpenGroup(group)
		require.NoError(t, err)
		defer func() { require.NoError(t, g.Close()) }()
		set, err := g.OpenDataset(name)
		require.NoError(t, err)
		defer func() { require.NoError(t, set.Close()) }()
		require.NoError(t, set.Read(data))
	}

	values := make([]float64, 6)
	read("tracking", "position", &values)
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6}, values)

	times := make([]float64, 3)
	read("tracking", "position_time", &times)
	require.Equal(t, []float64{0.1, 0.2, 0.3}, times)

	raw := make([]uint8, 32)
	read("default", "status", &raw)
	require.Equal(t, `{"mode":"auto"}`, string(bytes.TrimRight(raw, "\x00")))

	loops := make([]int64, 2)
	read("/", "global_index", &loops)
	require.Equal(t, []int64{0, 1}, loops)
}

func TestSink_Rows(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	path := ctx.File("recording", "display.hdf5")
	sink, err := h5.Create(zaptest.NewLogger(t), path, record.Metadata{Session: "session", Role: ipc.Display})
	require.NoError(t, err)

	luminance := attribute.Spec{
		Name: "luminance", Kind: attribute.KindArray, DType: attribute.Float64,
		Shape: attribute.Shape{1}, Group: "display",
	}
	require.NoError(t, sink.Create(luminance))

	const rows = 25
	var want []float64
	for i := 0; i < rows; i += 5 {
		batch := attribute.Rows[any]{}
		for k := i; k < i+5; k++ {
			value := float64(k) / 10
			batch.Indices = append(batch.Indices, int64(k))
			batch.Times = append(batch.Times, float64(k/2))
			batch.Values = append(batch.Values, []float64{value})
			want = append(want, value)
		}
		require.NoError(t, sink.Append(luminance, batch))
	}
	require.NoError(t, sink.Close())

	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer func() { require.NoError(t, file.Close()) }()
	group, err := file.OpenGroup("display")
	require.NoError(t, err)
	defer func() { require.NoError(t, group.Close()) }()

	open := func(name string) []uint {
		set, err := group.OpenDataset(name)
		require.NoError(t, err)
		defer func() { require.NoError(t, set.Close()) }()
		space := set.Space()
		require.NotNil(t, space)
		defer func() { require.NoError(t, space.Close()) }()
		dims, _, err := space.SimpleExtentDims()
		require.NoError(t, err)
		return dims
	}
	require.Equal(t, []uint{rows, 1}, open("luminance"))
	require.Equal(t, []uint{rows}, open("luminance_time"))

	values := make([]float64, rows)
	set, err := group.OpenDataset("luminance")
	require.NoError(t, err)
	require.NoError(t, set.Read(&values))
	require.NoError(t, set.Close())
	require.Equal(t, want, values)

	times := make([]float64, rows)
	set, err = group.OpenDataset("luminance_time")
	require.NoError(t, err)
	require.NoError(t, set.Read(&times))
	require.NoError(t, set.Close())
	for i := 1; i < rows; i++ {
		require.LessOrEqual(t, times[i-1], times[i])
	}
}
