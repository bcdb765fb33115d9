// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package attribute_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/internal/testrand"
	"vxpy.io/vxpy/pkg/attribute"
)

// setup allocates a registry owned by the controller and returns a second
// registry loaded from the manifest, as a child process would.
func setup(t *testing.T, ctx *testcontext.Context, process string, register func(reg *attribute.Registry)) (controller, child *attribute.Registry) {
	dir := ctx.Dir("attributes")

	controller = attribute.NewRegistry(dir, attribute.Options{})
	register(controller)
	require.NoError(t, controller.Allocate())
	require.NoError(t, controller.BuildAll())

	child, err := attribute.Load(dir, attribute.Options{Process: process, Clock: &attribute.ManualClock{}})
	require.NoError(t, err)
	require.NoError(t, child.BuildAll())

	t.Cleanup(func() {
		require.NoError(t, child.Close())
		require.NoError(t, controller.Close())
	})
	return controller, child
}

func TestArray_LastAfterWrap(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "camera", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[float64](reg, "x", attribute.Shape{1}, attribute.WithLength(5), attribute.WithOwner("camera"))
		require.NoError(t, err)
	})

	x, err := attribute.GetArray[float64](child, "x")
	require.NoError(t, err)

	for i := 1; i <= 6; i++ {
		require.NoError(t, x.WriteScalar(float64(i)))
	}
	require.EqualValues(t, 6, x.Index())

	indices, _, values, err := x.Scalars(attribute.Last(4))
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4, 5}, indices)
	require.Equal(t, []float64{3, 4, 5, 6}, values)
}

func TestArray_RandomRows(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "camera", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[float64](reg, "pos", attribute.Shape{3}, attribute.WithLength(8), attribute.WithOwner("camera"))
		require.NoError(t, err)
	})
	pos, err := attribute.GetArray[float64](child, "pos")
	require.NoError(t, err)

	written := 8 + testrand.Intn(20)
	var want [][]float64
	for i := 0; i < written; i++ {
		value := testrand.Float64s(3)
		require.NoError(t, pos.Write(value))
		want = append(want, value)
	}

	rows, err := pos.Read(attribute.Last(7))
	require.NoError(t, err)
	require.Equal(t, want[written-7:], rows.Values)
	require.EqualValues(t, written-1, rows.Indices[6])

	_, err = pos.Read(attribute.Last(8))
	require.True(t, attribute.ErrBufferTooSmall.Has(err))
}

func TestArray_Placeholders(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "io", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[int32](reg, "counter", attribute.Shape{2}, attribute.WithLength(5), attribute.WithOwner("io"))
		require.NoError(t, err)
	})

	counter, err := attribute.GetArray[int32](child, "counter")
	require.NoError(t, err)
	require.NoError(t, counter.Write([]int32{7, 8}))

	rows, err := counter.Read(attribute.Last(3))
	require.NoError(t, err)
	require.Equal(t, 3, rows.Len())
	require.Equal(t, []int64{-1, -1, 0}, rows.Indices)
	require.False(t, rows.Valid(0))
	require.True(t, math.IsNaN(rows.Times[0]))
	require.Equal(t, []int32{0, 0}, rows.Values[1])
	require.Equal(t, []int32{7, 8}, rows.Values[2])
}

func TestArray_BufferTooSmall(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[uint8](reg, "small", attribute.Shape{1}, attribute.WithLength(5))
		require.NoError(t, err)
	})

	small, err := attribute.GetArray[uint8](child, "small")
	require.NoError(t, err)

	_, err = small.Read(attribute.Last(5))
	require.True(t, attribute.ErrBufferTooSmall.Has(err))

	_, err = small.Read(attribute.Last(4))
	require.NoError(t, err)
}

func TestArray_From(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[int64](reg, "seq", attribute.Shape{1}, attribute.WithLength(4))
		require.NoError(t, err)
	})

	seq, err := attribute.GetArray[int64](child, "seq")
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		require.NoError(t, seq.WriteScalar(i))
	}

	indices, _, values, err := seq.Scalars(attribute.From(1))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, indices)
	require.Equal(t, []int64{1, 2}, values)

	indices, _, _, err = seq.Scalars(attribute.From(3))
	require.NoError(t, err)
	require.Empty(t, indices)

	for i := int64(3); i < 10; i++ {
		require.NoError(t, seq.WriteScalar(i))
	}

	// only the last length-1 entries can still be read.
	indices, _, values, err = seq.Scalars(attribute.From(0))
	require.NoError(t, err)
	require.Equal(t, []int64{7, 8, 9}, indices)
	require.Equal(t, []int64{7, 8, 9}, values)
}

func TestArray_Shape(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[uint8](reg, "frame", attribute.Shape{4, 3}, attribute.WithLength(3))
		require.NoError(t, err)
	})

	frame, err := attribute.GetArray[uint8](child, "frame")
	require.NoError(t, err)

	err = frame.Write(make([]uint8, 11))
	require.True(t, attribute.ErrShape.Has(err))

	image := make([]uint8, 12)
	for i := range image {
		image[i] = uint8(i)
	}
	require.NoError(t, frame.Write(image))

	rows, err := frame.Read(attribute.Last(1))
	require.NoError(t, err)
	require.Equal(t, image, rows.Values[0])

	_, err = attribute.GetArray[float32](child, "frame")
	require.True(t, attribute.ErrShape.Has(err))
}

func TestObject_Dicts(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "worker", func(reg *attribute.Registry) {
		_, err := attribute.RegisterObject[map[string]any](reg, "params", attribute.WithLength(3), attribute.WithOwner("worker"))
		require.NoError(t, err)
	})

	params, err := attribute.GetObject[map[string]any](child, "params")
	require.NoError(t, err)

	require.NoError(t, params.Write(map[string]any{"angle": 1.5, "name": "grating"}))
	require.NoError(t, params.Write(map[string]any{"angle": 2.5, "name": "dots"}))

	rows, err := params.Read(attribute.Last(2))
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1}, rows.Indices)
	require.Equal(t, map[string]any{"angle": 1.5, "name": "grating"}, rows.Values[0])
	require.Equal(t, map[string]any{"angle": 2.5, "name": "dots"}, rows.Values[1])

	index, _, current, err := params.Current()
	require.NoError(t, err)
	require.EqualValues(t, 1, index)
	require.Equal(t, "dots", current["name"])
}

func TestObject_TooLarge(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, child := setup(t, ctx, "", func(reg *attribute.Registry) {
		_, err := attribute.RegisterObject[string](reg, "text", attribute.WithObjectSize(16))
		require.NoError(t, err)
	})

	text, err := attribute.GetObject[string](child, "text")
	require.NoError(t, err)

	err = text.Write("this string is far too long for sixteen bytes")
	require.True(t, attribute.ErrShape.Has(err))
	require.EqualValues(t, 0, text.Index())
}

func TestRing_Producer(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, display := setup(t, ctx, "display", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[float32](reg, "frame_time", attribute.Shape{1}, attribute.WithOwner("camera"))
		require.NoError(t, err)
	})

	frameTime, err := attribute.GetArray[float32](display, "frame_time")
	require.NoError(t, err)

	err = frameTime.WriteScalar(1)
	require.True(t, attribute.ErrNotProducer.Has(err))

	_, _, _, err = frameTime.Current()
	require.True(t, attribute.ErrNotProducer.Has(err))

	// consumers may always read.
	_, err = frameTime.Read(attribute.Last(2))
	require.NoError(t, err)
}

func TestRing_Build(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("attributes")
	reg := attribute.NewRegistry(dir, attribute.Options{})
	ring, err := reg.Register(attribute.Spec{Name: "x", Kind: attribute.KindArray, DType: attribute.Float64, Shape: attribute.Shape{1}})
	require.NoError(t, err)

	x, err := attribute.AsArray[float64](ring)
	require.NoError(t, err)
	err = x.WriteScalar(1)
	require.True(t, attribute.ErrNotBuilt.Has(err))

	require.NoError(t, reg.Allocate())
	require.NoError(t, ring.Build())
	require.NoError(t, ring.Build())
	require.True(t, ring.Built())

	require.NoError(t, x.WriteScalar(1))
	require.NoError(t, reg.Close())
	require.False(t, ring.Built())
}

func TestRegistry(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	reg := attribute.NewRegistry(ctx.Dir("attributes"), attribute.Options{})

	_, err := attribute.RegisterArray[uint8](reg, "frame", attribute.Shape{2, 2}, attribute.WithOwner("camera"), attribute.Persist())
	require.NoError(t, err)
	_, err = attribute.RegisterArray[float64](reg, "position", attribute.Shape{1}, attribute.WithOwner("io"), attribute.Persist())
	require.NoError(t, err)
	_, err = attribute.RegisterArray[float64](reg, "debug", attribute.Shape{1}, attribute.WithOwner("camera"))
	require.NoError(t, err)

	_, err = attribute.RegisterArray[uint8](reg, "frame", attribute.Shape{2, 2})
	require.True(t, attribute.ErrDuplicate.Has(err))

	_, err = reg.Register(attribute.Spec{Name: "bad name", Kind: attribute.KindArray, DType: attribute.Uint8})
	require.Error(t, err)

	require.Equal(t, []string{"frame", "position", "debug"}, reg.Names())
	require.Nil(t, reg.Get("missing"))

	persisted := reg.Persisted("camera")
	require.Len(t, persisted, 1)
	require.Equal(t, "frame", persisted[0].Name())

	require.NoError(t, reg.Allocate())

	loaded, err := attribute.Load(reg.Dir(), attribute.Options{Process: "camera"})
	require.NoError(t, err)
	require.Equal(t, reg.Names(), loaded.Names())
	require.Equal(t, reg.Get("frame").Spec(), loaded.Get("frame").Spec())

	// late registrations are allocated immediately.
	_, err = attribute.RegisterObject[string](reg, "late")
	require.NoError(t, err)
	require.NoError(t, reg.Get("late").Build())
	require.NoError(t, reg.Close())
}

func TestRing_NewDataAndReadAny(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	controller, child := setup(t, ctx, "", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[uint16](reg, "samples", attribute.Shape{3})
		require.NoError(t, err)
		_, err = attribute.RegisterObject[map[string]int](reg, "events")
		require.NoError(t, err)
	})

	samples, err := attribute.GetArray[uint16](child, "samples")
	require.NoError(t, err)
	events, err := attribute.GetObject[map[string]int](child, "events")
	require.NoError(t, err)

	observed := controller.Get("samples")
	require.False(t, observed.HasNewData())

	require.NoError(t, samples.Write([]uint16{1, 2, 3}))
	require.NoError(t, events.Write(map[string]int{"trigger": 1}))
	require.True(t, observed.HasNewData())

	observed.ClearNewData()
	require.False(t, observed.HasNewData())
	require.False(t, samples.HasNewData())

	rows, err := observed.ReadAny(attribute.From(0))
	require.NoError(t, err)
	require.Equal(t, []any{[]uint16{1, 2, 3}}, rows.Values)

	rows, err = controller.Get("events").ReadAny(attribute.From(0))
	require.NoError(t, err)
	require.Len(t, rows.Values, 1)
	require.JSONEq(t, `{"trigger":1}`, string(rows.Values[0].(json.RawMessage)))
}

func TestRing_Timestamps(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	dir := ctx.Dir("attributes")
	clock := &attribute.ManualClock{}
	reg := attribute.NewRegistry(dir, attribute.Options{Clock: clock})
	x, err := attribute.RegisterArray[float64](reg, "x", attribute.Shape{1}, attribute.WithLength(10))
	require.NoError(t, err)
	require.NoError(t, reg.Allocate())
	require.NoError(t, reg.BuildAll())
	defer func() { require.NoError(t, reg.Close()) }()

	for i := 0; i < 3; i++ {
		clock.Set(float64(i) * 0.5)
		require.NoError(t, x.WriteScalar(float64(i)))
	}

	times, err := x.Times(3)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.5, 1}, times)
}

func TestRing_ConcurrentReader(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	controller, child := setup(t, ctx, "camera", func(reg *attribute.Registry) {
		_, err := attribute.RegisterArray[int64](reg, "frame", attribute.Shape{64}, attribute.WithLength(8), attribute.WithOwner("camera"))
		require.NoError(t, err)
	})

	writer, err := attribute.GetArray[int64](child, "frame")
	require.NoError(t, err)
	reader, err := attribute.GetArray[int64](controller, "frame")
	require.NoError(t, err)

	const writes = 5000
	ctx.Go(func() error {
		frame := make([]int64, 64)
		for i := int64(0); i < writes; i++ {
			for k := range frame {
				frame[k] = i
			}
			if err := writer.Write(frame); err != nil {
				return err
			}
		}
		return nil
	})

	for reader.Index() < writes && ctx.Err() == nil {
		rows, err := reader.Read(attribute.Last(4))
		require.NoError(t, err)

		previous := int64(-1)
		for i, value := range rows.Values {
			if !rows.Valid(i) {
				continue
			}
			index := rows.Indices[i]
			require.Greater(t, index, previous)
			previous = index
			// every element of an entry comes from the same write.
			for _, v := range value {
				require.Equal(t, index, v)
			}
		}
	}
	require.NoError(t, ctx.Wait())
}
