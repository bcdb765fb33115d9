// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package camera_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"vxpy.io/vxpy/internal/testcontext"
	"vxpy.io/vxpy/internal/testrand"
	"vxpy.io/vxpy/internal/testsession"
	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/ipc"
	"vxpy.io/vxpy/pkg/proc"
	"vxpy.io/vxpy/pkg/record"
	"vxpy.io/vxpy/processes/camera"
)

func testConfig() camera.Config {
	return camera.Config{
		Devices: []string{"left", "right"},
		Width:   8,
		Height:  4,
		Buffer:  50,
		Loop:    proc.Config{Interval: time.Millisecond, MinSleep: time.Millisecond},
	}
}

func TestVirtual(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	device := camera.NewVirtual("cam", 4, 2)
	first, err := device.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint8{0, 1, 2, 3, 1, 2, 3, 4}, first)

	second, err := device.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint8{1, 2, 3, 4, 2, 3, 4, 5}, second)

	require.NoError(t, device.Close())
	_, err = device.Read(ctx)
	require.Error(t, err)
}

func TestSetup(t *testing.T) {
	reg := attribute.NewRegistry(t.TempDir(), attribute.Options{})
	defer func() { require.NoError(t, reg.Close()) }()

	require.NoError(t, camera.Setup(zaptest.NewLogger(t), reg, testConfig()))
	require.Equal(t, []string{
		"left_frame", "right_frame",
		"left_brightness", "right_brightness", "framestats_status",
	}, reg.Names())

	frame := reg.Get("left_frame").Spec()
	require.Equal(t, attribute.Shape{4, 8}, frame.Shape)
	require.Equal(t, string(ipc.Camera), frame.Owner)
	require.False(t, frame.Persist)

	brightness := reg.Get("left_brightness").Spec()
	require.Equal(t, "framestats", brightness.Group)
	require.True(t, brightness.Persist)

	require.Error(t, camera.Setup(zaptest.NewLogger(t), reg, camera.Config{}))
}

func TestProcess(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)
	config := testConfig()

	c := testsession.New(t, ctx, camera.Peer(log, config))
	require.NoError(t, c.StartRecording(ctx))
	control, err := c.Table.Control(ctx)
	require.NoError(t, err)

	member := testsession.Join(t, ctx, c, ipc.Camera)
	process, err := camera.New(log, member, config)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- process.Run(ctx) }()

	status, err := attribute.GetObject[camera.FrameStatus](member.App.Registry, camera.StatusName)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return status.Index() >= 10 }, 10*time.Second, time.Millisecond)

	process.Runtime.Shutdown()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("camera did not stop")
	}

	frames, err := attribute.GetArray[uint8](member.App.Registry, camera.FrameName("left"))
	require.NoError(t, err)
	index, _, frame, err := frames.Current()
	require.NoError(t, err)
	// the first pixel of a virtual frame is its frame number.
	require.Equal(t, uint8(index), frame[0])

	brightness, err := attribute.GetArray[float64](member.App.Registry, camera.BrightnessName("left"))
	require.NoError(t, err)
	statsIndex, _, value, err := brightness.Current()
	require.NoError(t, err)
	require.Equal(t, index, statsIndex)
	require.Len(t, value, 2)
	require.Equal(t, float64(frame[len(frame)-1]), value[1])

	_, _, last, err := status.Current()
	require.NoError(t, err)
	require.Equal(t, index+1, last.Frames)

	recording, err := record.OpenRecording(record.Path(control.Recording.Base, control.Recording.Folder, ipc.Camera, record.BoltExt))
	require.NoError(t, err)
	defer func() { require.NoError(t, recording.Close()) }()
	count, err := recording.Count(camera.BrightnessName("right"))
	require.NoError(t, err)
	require.Equal(t, int(index+1), count)

	specs, err := recording.Specs()
	require.NoError(t, err)
	var names []string
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	require.NotContains(t, names, camera.FrameName("left"))
}

func TestProcess_Reset(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)
	config := testConfig()

	c := testsession.New(t, ctx, camera.Peer(log, config))
	member := testsession.Join(t, ctx, c, ipc.Camera)
	process, err := camera.New(log, member, config)
	require.NoError(t, err)

	require.NoError(t, process.Runtime.Initialize(ctx))
	require.NoError(t, process.Runtime.Main(ctx))
	require.NoError(t, process.Runtime.Main(ctx))

	msg, err := ipc.NewMessage(ipc.SignalRPC, ipc.GUI, ipc.Camera, "framestats.reset", nil, nil)
	require.NoError(t, err)
	require.True(t, member.App.Dispatcher.Dispatch(ctx, msg).OK())
	require.NoError(t, process.Runtime.Main(ctx))

	status, err := attribute.GetObject[camera.FrameStatus](member.App.Registry, camera.StatusName)
	require.NoError(t, err)
	_, _, last, err := status.Current()
	require.NoError(t, err)
	require.Equal(t, int64(1), last.Frames)

	msg.Name = "camera.devices"
	result := member.App.Dispatcher.Dispatch(ctx, msg)
	require.True(t, result.OK())
	require.Equal(t, []string{"left", "right"}, result.Value)

	require.NoError(t, process.Runtime.OnShutdown(context.Background()))
}

// noise is a device delivering random frames.
type noise struct {
	last []uint8
}

func (n *noise) Name() string              { return "noise" }
func (n *noise) Size() (width, height int) { return 16, 8 }
func (n *noise) Close() error              { return nil }

func (n *noise) Read(ctx context.Context) ([]uint8, error) {
	n.last = testrand.BytesN(16 * 8)
	return n.last, nil
}

func TestProcess_Device(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	log := zaptest.NewLogger(t)
	config := camera.Config{Devices: []string{"noise"}, Width: 16, Height: 8, Buffer: 10, Loop: proc.Config{Interval: time.Millisecond}}

	c := testsession.New(t, ctx, camera.Peer(log, config))
	member := testsession.Join(t, ctx, c, ipc.Camera)
	device := &noise{}
	process, err := camera.New(log, member, config, device)
	require.NoError(t, err)
	require.NoError(t, process.Runtime.Initialize(ctx))

	brightness, err := attribute.GetArray[float64](member.App.Registry, camera.BrightnessName("noise"))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, process.Runtime.Main(ctx))

		var sum float64
		var peak uint8
		for _, pixel := range device.last {
			sum += float64(pixel)
			if pixel > peak {
				peak = pixel
			}
		}
		_, _, value, err := brightness.Current()
		require.NoError(t, err)
		require.InDelta(t, sum/float64(len(device.last)), value[0], 1e-9)
		require.Equal(t, float64(peak), value[1])
	}

	// a device with another frame size does not fit the attribute.
	wrong := camera.Config{Devices: []string{"noise"}, Width: 4, Height: 4, Loop: config.Loop}
	other := testsession.Join(t, ctx, c, ipc.Camera)
	process, err = camera.New(log, other, wrong, device)
	require.NoError(t, err)
	require.Error(t, process.Runtime.Initialize(ctx))
}
