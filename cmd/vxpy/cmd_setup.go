// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	yaml "gopkg.in/yaml.v2"

	"vxpy.io/vxpy/pkg/process"
	"vxpy.io/vxpy/pkg/protocol"
)

// exampleProtocol is written to an empty protocol directory.
var exampleProtocol = protocol.Protocol{
	Name:   "example",
	Repeat: 2,
	Phases: []protocol.Phase{
		{Duration: 2, Visual: "blank", Params: map[string]interface{}{"luminance": 0.5}},
		{Duration: 4, Visual: "grating", Params: map[string]interface{}{"frequency": 2, "contrast": 1}, IO: map[string]float64{"out0": 5}},
	},
}

func cmdSetup(cmd *cobra.Command, args []string) (err error) {
	setupDir, err := filepath.Abs(confDir)
	if err != nil {
		return err
	}

	if _, err := os.Stat(filepath.Join(setupDir, process.ConfigFile)); err == nil {
		return errs.New("vxpy configuration already exists (%v)", setupDir)
	}
	if err := os.MkdirAll(setupDir, 0700); err != nil {
		return err
	}

	protocols := os.ExpandEnv(setupCfg.Protocols)
	if err := os.MkdirAll(protocols, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(protocols)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		data, err := yaml.Marshal(exampleProtocol)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(protocols, "example.yaml"), data, 0644); err != nil {
			return err
		}
	}

	configFile := filepath.Join(setupDir, process.ConfigFile)
	zap.L().Info("writing configuration", zap.String("file", configFile), zap.String("protocols", protocols))
	return process.SaveConfig(cmd, configFile, nil)
}
