// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"

	"vxpy.io/vxpy/controller"
	"vxpy.io/vxpy/pkg/process"
	"vxpy.io/vxpy/processes/camera"
	"vxpy.io/vxpy/processes/daq"
	"vxpy.io/vxpy/processes/display"
	"vxpy.io/vxpy/processes/gui"
	"vxpy.io/vxpy/processes/worker"
)

// Config is the configuration of every process of a session. Children are
// started with the flags of the controller, so all of them share it.
type Config struct {
	controller.Config

	Roles []string `help:"process roles started with the controller" default:"camera,display,io,gui,worker"`

	Camera  camera.Config
	Display display.Config
	IO      daq.Config
	GUI     gui.Config
	Worker  worker.Config
}

var (
	rootCmd = &cobra.Command{
		Use:   "vxpy",
		Short: "closed-loop experiment platform",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the controller and all configured processes",
		RunE:  cmdRun,
	}
	processCmd = &cobra.Command{
		Use:    "process",
		Short:  "Run a single process of a session, started by the controller",
		RunE:   cmdProcess,
		Hidden: true,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "Create the config file and the protocol directory",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}
	statusCmd = &cobra.Command{
		Use:         "status",
		Short:       "Show the process and recording states of a running session",
		RunE:        cmdStatus,
		Annotations: map[string]string{"type": "helper"},
	}
	convertCmd = &cobra.Command{
		Use:         "convert <recording.bolt> <output.hdf5>",
		Short:       "Convert a bolt recording to HDF5",
		Args:        cobra.ExactArgs(2),
		RunE:        cmdConvert,
		Annotations: map[string]string{"type": "helper"},
	}

	runCfg     Config
	setupCfg   Config
	processCfg struct {
		Config
		Role string `help:"role of the process" default:""`
	}
	statusCfg struct {
		RuntimeDir string `help:"runtime directory of the session" default:""`
		Watch      bool   `help:"refresh the status until interrupted" default:"false"`
	}

	confDir  string
	useColor bool
)

func init() {
	defaultConfDir := process.DefaultConfigDir()
	cfgstruct.SetupFlag(zap.L(), rootCmd, &confDir, "config-dir", defaultConfDir, "main directory for vxpy configuration")
	defaults := cfgstruct.DefaultsFlag(rootCmd)
	rootCmd.PersistentFlags().BoolVar(&useColor, "color", false, "use color in user interface")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(convertCmd)
	process.Bind(runCmd, &runCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(processCmd, &processCfg, defaults, cfgstruct.ConfDir(confDir))
	process.Bind(setupCmd, &setupCfg, defaults, cfgstruct.ConfDir(confDir), cfgstruct.SetupMode())
	process.Bind(statusCmd, &statusCfg, defaults)
}

func main() {
	process.Exec(rootCmd)
}
