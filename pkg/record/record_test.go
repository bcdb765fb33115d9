// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package record_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/record"
)

type status struct {
	Exposure float64 `json:"exposure"`
	Mode     string  `json:"mode"`
}

type fixture struct {
	app   *ipc.AppContext
	clock *attribute.ManualClock
	frame *attribute.Array[float64]
	state *attribute.Object[status]
	base  string

	opened []*record.MemorySink
	dirs   []string
}

func newFixture(t *testing.T, ctx *testcontext.Context) *fixture {
	dir := ctx.Dir("attributes")

	controller := attribute.NewRegistry(dir, attribute.Options{})
	_, err := attribute.RegisterArray[float64](controller, "frame_index", attribute.Shape{1},
		attribute.WithLength(4), attribute.WithOwner("camera"), attribute.WithGroup("camera_routine"), attribute.Persist())
	require.NoError(t, err)
	_, err = attribute.RegisterObject[status](controller, "status",
		attribute.WithLength(4), attribute.WithOwner("camera"), attribute.Persist())
	require.NoError(t, err)
	_, err = attribute.RegisterArray[float64](controller, "preview", attribute.Shape{1}, attribute.WithOwner("camera"))
	require.NoError(t, err)
	require.NoError(t, controller.Allocate())

	clock := &attribute.ManualClock{}
	child, err := attribute.Load(dir, attribute.Options{Process: "camera", Clock: clock})
	require.NoError(t, err)
	require.NoError(t, child.BuildAll())

	table, err := ipc.CreateShmTable(ctx.File("table"))
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, table.Close())
		require.NoError(t, child.Close())
		require.NoError(t, controller.Close())
	})

	f := &fixture{
		app: &ipc.AppContext{
			Role:     ipc.Camera,
			Session:  "session",
			Log:      zaptest.NewLogger(t),
			Registry: child,
			Table:    table,
			Clock:    clock,
		},
		clock: clock,
		base:  ctx.Dir("recordings"),
	}
	f.frame, err = attribute.GetArray[float64](child, "frame_index")
	require.NoError(t, err)
	f.state, err = attribute.GetObject[status](child, "status")
	require.NoError(t, err)
	return f
}

func (f *fixture) opener(refused ...string) record.Opener {
	return func(dir string, meta record.Metadata) (record.Sink, error) {
		sink := record.NewMemorySink(meta, refused...)
		f.opened = append(f.opened, sink)
		f.dirs = append(f.dirs, dir)
		return sink, nil
	}
}

func (f *fixture) control(t *testing.T, ctx *testcontext.Context, active bool, folder string) {
	require.NoError(t, f.app.Table.UpdateControl(ctx, func(control *ipc.Control) {
		control.Recording.Active = active
		control.Recording.Folder = folder
		control.Recording.Base = f.base
	}))
}

func (f *fixture) write(t *testing.T, values ...float64) {
	for _, value := range values {
		f.clock.Advance(0.01)
		require.NoError(t, f.frame.WriteScalar(value))
	}
}

func TestBridge_States(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	bridge := record.NewBridge(f.app.Log, f.app, f.opener())
	require.Equal(t, []string{"frame_index", "status"}, bridge.Attributes())

	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.NoFile, bridge.State())

	// written before the file exists.
	f.write(t, 0)
	require.NoError(t, bridge.Flush(ctx))

	f.control(t, ctx, true, "rec_1")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.FileOpen, bridge.State())
	require.Len(t, f.opened, 1)
	require.Equal(t, filepath.Join(f.base, "rec_1"), f.dirs[0])
	require.Equal(t, ipc.Camera, f.opened[0].Meta.Role)

	rec, err := f.app.Table.RecState(ctx, ipc.Camera)
	require.NoError(t, err)
	require.Equal(t, ipc.RecStartSuccess, rec)

	f.write(t, 1, 2)
	require.NoError(t, bridge.Flush(ctx))
	sink := f.opened[0]
	require.Equal(t, []int64{1, 2}, sink.Indices("frame_index"))
	require.Equal(t, []int64{0}, sink.Loops)

	f.control(t, ctx, false, "rec_1")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.Paused, bridge.State())

	// written while paused.
	f.write(t, 3)
	require.NoError(t, bridge.Flush(ctx))

	f.control(t, ctx, true, "rec_1")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.FileOpen, bridge.State())
	require.Len(t, f.opened, 1)

	f.write(t, 4)
	require.NoError(t, bridge.Flush(ctx))
	require.Equal(t, []int64{1, 2, 4}, sink.Indices("frame_index"))

	// not yet flushed when the recording stops.
	f.write(t, 5)
	f.control(t, ctx, false, "")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.NoFile, bridge.State())
	require.True(t, sink.Closed)
	require.Equal(t, []int64{1, 2, 4, 5}, sink.Indices("frame_index"))
	require.Equal(t, []float64{1, 2, 4, 5}, scalars(sink.Rows["frame_index"]))

	rec, err = f.app.Table.RecState(ctx, ipc.Camera)
	require.NoError(t, err)
	require.Equal(t, ipc.RecStopped, rec)

	require.NoError(t, bridge.Close())
}

func TestBridge_NewFolder(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	bridge := record.NewBridge(f.app.Log, f.app, f.opener())

	f.control(t, ctx, true, "rec_1")
	require.NoError(t, bridge.Update(ctx))
	f.write(t, 1)

	f.control(t, ctx, true, "rec_2")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.FileOpen, bridge.State())
	require.Len(t, f.opened, 2)
	require.True(t, f.opened[0].Closed)
	require.Equal(t, []int64{0}, f.opened[0].Indices("frame_index"))

	f.write(t, 2)
	require.NoError(t, bridge.Close())
	require.True(t, f.opened[1].Closed)
	require.Equal(t, []int64{1}, f.opened[1].Indices("frame_index"))
}

func TestBridge_Lossless(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	bridge := record.NewBridge(f.app.Log, f.app, f.opener())

	f.control(t, ctx, true, "rec")
	require.NoError(t, bridge.Update(ctx))

	var want []int64
	for i := 0; i < 20; i++ {
		// never more entries per flush than the ring holds.
		f.write(t, float64(i), float64(i))
		want = append(want, int64(2*i), int64(2*i+1))
		require.NoError(t, bridge.Flush(ctx))
	}
	require.Equal(t, want, f.opened[0].Indices("frame_index"))
	require.Len(t, f.opened[0].Loops, 20)
}

func TestBridge_CreateFailure(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	bridge := record.NewBridge(f.app.Log, f.app, f.opener("status"))

	f.control(t, ctx, true, "rec")
	require.NoError(t, bridge.Update(ctx))
	require.Equal(t, record.FileOpen, bridge.State())

	f.write(t, 7)
	require.NoError(t, f.state.Write(status{Exposure: 2.5, Mode: "auto"}))
	require.NoError(t, bridge.Flush(ctx))

	sink := f.opened[0]
	require.Equal(t, []int64{0}, sink.Indices("frame_index"))
	require.Empty(t, sink.Indices("status"))
	require.NotContains(t, sink.Specs, "status")
}

func TestBridge_Pending(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	bridge := record.NewBridge(f.app.Log, f.app, f.opener())

	f.control(t, ctx, true, "rec")
	require.NoError(t, bridge.Update(ctx))

	f.write(t, 1, 2)
	require.NoError(t, f.state.Write(status{Exposure: 2.5, Mode: "auto"}))

	collect := func() (names []string) {
		for entry := range bridge.Pending() {
			names = append(names, entry.Name)
		}
		return names
	}
	want := []string{"frame_index", "frame_index", "status"}
	require.Equal(t, want, collect())
	require.Equal(t, want, collect())

	require.NoError(t, bridge.Flush(ctx))
	require.Empty(t, collect())

	var got status
	rows := f.opened[0].Rows["status"]
	require.Equal(t, 1, rows.Len())
	require.NoError(t, json.Unmarshal(rows.Values[0].(json.RawMessage), &got))
	require.Equal(t, status{Exposure: 2.5, Mode: "auto"}, got)
}

func TestBolt_Convert(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	f := newFixture(t, ctx)
	log := zaptest.NewLogger(t)
	bridge := record.NewBridge(log, f.app, record.BoltOpener(log))

	f.control(t, ctx, true, "rec")
	require.NoError(t, bridge.Update(ctx))
	for i := 0; i < 3; i++ {
		f.write(t, float64(10+i))
		require.NoError(t, f.state.Write(status{Exposure: float64(i), Mode: "manual"}))
		require.NoError(t, bridge.Flush(ctx))
	}
	require.NoError(t, bridge.Close())

	path := record.Path(f.base, "rec", ipc.Camera, record.BoltExt)
	recording, err := record.OpenRecording(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, recording.Close()) }()

	meta, err := recording.Metadata()
	require.NoError(t, err)
	require.Equal(t, "session", meta.Session)
	require.Equal(t, ipc.Camera, meta.Role)

	dst := record.NewMemorySink(meta)
	var progress []int
	require.NoError(t, record.Convert(ctx, log, recording, dst, func(done, total int) {
		require.Equal(t, 6, total)
		progress = append(progress, done)
	}))
	require.Equal(t, []int{3, 6}, progress)

	require.Equal(t, "camera_routine", dst.Specs["frame_index"].Group)
	require.Equal(t, []int64{0, 1, 2}, dst.Indices("frame_index"))
	require.Equal(t, []float64{10, 11, 12}, scalars(dst.Rows["frame_index"]))
	require.Equal(t, []float64{0.01, 0.02, 0.03}, roundTimes(dst.Rows["frame_index"].Times))
	require.Equal(t, []int64{0, 1, 2}, dst.Indices("status"))
	require.Equal(t, []int64{0, 1, 2}, dst.Loops)
}

func scalars(rows attribute.Rows[any]) []float64 {
	values := make([]float64, 0, rows.Len())
	for _, value := range rows.Values {
		values = append(values, value.([]float64)[0])
	}
	return values
}

func roundTimes(times []float64) []float64 {
	rounded := make([]float64, len(times))
	for i, time := range times {
		rounded[i] = float64(int64(time*1000+0.5)) / 1000
	}
	return rounded
}
