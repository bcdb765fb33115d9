// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"storj.io/common/cfgstruct"
)

// EnvPrefix is the prefix of environment variables overriding flags.
const EnvPrefix = "vxpy"

// ConfigFile is the name of the config file inside the config dir.
const ConfigFile = "config.yaml"

var (
	commandMtx     sync.Mutex
	commandConfigs = map[*cobra.Command][]interface{}{}
)

// DefaultConfigDir returns the default directory holding config.yaml.
func DefaultConfigDir() string {
	home, err := homedir.Dir()
	if err != nil {
		log.Println(err)
		return ".vxpy"
	}
	return filepath.Join(home, ".vxpy")
}

// Bind sets flags on a command that match the configuration struct
// 'config'. It ensures that the config has all of the values loaded into it
// when the command runs.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	commandMtx.Lock()
	defer commandMtx.Unlock()

	cfgstruct.Bind(cmd.Flags(), config, opts...)
	commandConfigs[cmd] = append(commandConfigs[cmd], config)
}

// Exec runs a cobra command. If "config-dir" exists as a flag, it loads config.yaml
// from that directory. Flags fall back to VXPY_ prefixed environment variables.
func Exec(cmd *cobra.Command) {
	cmd.SilenceUsage = true
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	cleanup(cmd)
	Must(cmd.Execute())
}

// Ctx returns the context of a running command, canceled on SIGTERM or SIGINT.
func Ctx(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Viper returns a viper instance bound to the flags of cmd.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	vip.SetEnvPrefix(EnvPrefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	if f := cmd.Flags().Lookup("config-dir"); f != nil && f.Value.String() != "" {
		path := filepath.Join(os.ExpandEnv(f.Value.String()), ConfigFile)
		if _, err := os.Stat(path); err == nil {
			vip.SetConfigFile(path)
			if err := vip.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}
	return vip, nil
}

func cleanup(cmd *cobra.Command) {
	for _, ccmd := range cmd.Commands() {
		cleanup(ccmd)
	}
	if cmd.Run != nil {
		panic("Please use cobra's RunE instead of Run")
	}
	internalRun := cmd.RunE
	if internalRun == nil {
		return
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		vip, err := Viper(cmd)
		if err != nil {
			return err
		}

		// copy viper settings into every flag that was not explicitly set.
		var group errs.Group
		apply := func(f *pflag.Flag) {
			if f.Changed || !vip.IsSet(f.Name) {
				return
			}
			value := vip.GetString(f.Name)
			if slice, ok := f.Value.(pflag.SliceValue); ok {
				group.Add(slice.Replace(vip.GetStringSlice(f.Name)))
				return
			}
			group.Add(f.Value.Set(value))
		}
		cmd.Flags().VisitAll(apply)
		flag.CommandLine.VisitAll(func(f *flag.Flag) {
			if vip.IsSet(f.Name) && cmd.Flags().Lookup(f.Name) == nil {
				group.Add(f.Value.Set(vip.GetString(f.Name)))
			}
		})
		if err := group.Err(); err != nil {
			return Error.Wrap(err)
		}

		logger, err := NewLogger(cmd.Name())
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		defer zap.ReplaceGlobals(logger)()
		defer zap.RedirectStdLog(logger)()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
		defer cancel()
		cmd.SetContext(ctx)

		if err := InitDebug(logger.Named("debug")); err != nil {
			logger.Warn("failed to start debug endpoints", zap.Error(err))
		}

		err = internalRun(cmd, args)
		if err != nil && !errs.Is(err, context.Canceled) {
			logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		}
		return err
	}
}

// Must checks for errors.
func Must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
