// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"os"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vxpy.io/vxpy/internal/testcontext"
)

func TestExec_PropagatesSettings(t *testing.T) {
	// Set up a command that does nothing.
	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	// Define a config struct and some flags.
	var config struct {
		X        int           `default:"0" help:"x"`
		Interval time.Duration `default:"1s" help:"interval"`
	}
	Bind(cmd, &config)
	y := cmd.Flags().Int("y", 0, "y flag (command)")
	z := flag.Int("z", 0, "z flag (stdlib)")

	// Set some environment variables for viper.
	t.Setenv("VXPY_X", "1")
	t.Setenv("VXPY_INTERVAL", "5ms")
	t.Setenv("VXPY_Y", "2")
	t.Setenv("VXPY_Z", "3")

	// Run the command through the exec call.
	Exec(cmd)

	// Check that the variables are now bound.
	require.Equal(t, 1, config.X)
	require.Equal(t, 5*time.Millisecond, config.Interval)
	require.Equal(t, 2, *y)
	require.Equal(t, 3, *z)
}

func TestSaveConfig(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	cmd := &cobra.Command{RunE: func(cmd *cobra.Command, args []string) error { return nil }}

	var config struct {
		W int `default:"0" help:"w setting"`
		X int `default:"0" hidden:"true" help:"x setting"`
		Z int `default:"1" help:"z setting"`
	}
	Bind(cmd, &config)

	path := ctx.File("config.yaml")
	require.NoError(t, SaveConfig(cmd, path, map[string]interface{}{"w": 4}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Contains(t, string(data), "# w setting\nw: 4")
	require.Contains(t, string(data), "# z: 1")
	require.NotContains(t, string(data), "x: ")
}

func TestRelayLine(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := zap.New(core).Named("camera")

	RelayLine(log, []byte(`{"L":"WARN","T":"2026-01-01T00:00:00Z","N":"routine","M":"frame dropped","Process":"camera","count":3}`))
	RelayLine(log, []byte(`not json`))
	RelayLine(log, nil)

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	require.Equal(t, zap.WarnLevel, entries[0].Level)
	require.Equal(t, "camera.routine", entries[0].LoggerName)
	require.Equal(t, "frame dropped", entries[0].Message)
	require.Equal(t, map[string]interface{}{"count": float64(3)}, entries[0].ContextMap())

	require.Equal(t, zap.InfoLevel, entries[1].Level)
	require.Equal(t, "not json", entries[1].Message)
}
