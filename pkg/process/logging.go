// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"os"
	"runtime"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"storj.io/common/cfgstruct"
)

var (
	// Error is a process error class.
	Error = errs.Class("process")

	logLevel = zap.LevelFlag("log.level", func() zapcore.Level {
		if isDev() {
			return zapcore.DebugLevel
		}
		return zapcore.InfoLevel
	}(), "the minimum log level to log")
	logDev      = flag.Bool("log.development", isDev(), "if true, set logging to development mode")
	logCaller   = flag.Bool("log.caller", isDev(), "if true, log function filename and line number")
	logStack    = flag.Bool("log.stack", isDev(), "if true, log stack traces")
	logEncoding = flag.String("log.encoding", "console", "configures log encoding. can either be 'console' or 'json'")
	logOutput   = flag.String("log.output", "stderr", "can be stdout, stderr, or a filename")
)

func isDev() bool { return cfgstruct.DefaultsType() != "release" }

// LogFlags returns the log flags of the current process, used to start child
// processes with the same log level. Children always log json to stderr.
func LogFlags() []string {
	return []string{
		"--log.level=" + logLevel.String(),
		"--log.encoding=json",
		"--log.output=stderr",
	}
}

// NewLogger creates new logger configured by the process flags.
func NewLogger(process string) (*zap.Logger, error) {
	return NewLoggerWithOutputPaths(process, *logOutput)
}

// NewLoggerWithOutputPaths is the same as NewLogger, but overrides the log output paths.
func NewLoggerWithOutputPaths(process string, outputPaths ...string) (*zap.Logger, error) {
	levelEncoder := zapcore.CapitalColorLevelEncoder
	if runtime.GOOS == "windows" || *logEncoding == "json" {
		levelEncoder = zapcore.CapitalLevelEncoder
	}

	timeKey := "T"
	if os.Getenv("VXPY_LOG_NOTIME") != "" {
		// using environment variable VXPY_LOG_NOTIME to avoid additional flags
		timeKey = ""
	}

	logger, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(*logLevel),
		Development:       *logDev,
		DisableCaller:     !*logCaller,
		DisableStacktrace: !*logStack,
		Encoding:          *logEncoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        timeKey,
			LevelKey:       LevelKey,
			NameKey:        NameKey,
			CallerKey:      "C",
			MessageKey:     MessageKey,
			StacktraceKey:  "S",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    levelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputPaths,
		ErrorOutputPaths: outputPaths,
	}.Build()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if process != "" {
		logger = logger.With(zap.String("Process", process))
	}
	return logger, nil
}

// Keys of the json log encoding, used when relaying child process logs.
const (
	LevelKey   = "L"
	NameKey    = "N"
	MessageKey = "M"
)
