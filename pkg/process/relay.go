// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Relay re-emits json log lines written by a child process through log until
// r is closed. Lines that are not json are logged as they are.
func Relay(log *zap.Logger, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		RelayLine(log, scanner.Bytes())
	}
	return Error.Wrap(scanner.Err())
}

// RelayLine re-emits a single log line.
func RelayLine(log *zap.Logger, line []byte) {
	if len(line) == 0 {
		return
	}

	var entry map[string]interface{}
	if err := json.Unmarshal(line, &entry); err != nil {
		log.Info(string(line))
		return
	}

	level := zapcore.InfoLevel
	if s, ok := entry[LevelKey].(string); ok {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			level = zapcore.InfoLevel
		}
	}
	message, _ := entry[MessageKey].(string)
	if name, ok := entry[NameKey].(string); ok && name != "" {
		log = log.Named(name)
	}

	delete(entry, LevelKey)
	delete(entry, MessageKey)
	delete(entry, NameKey)
	delete(entry, "T")
	delete(entry, "Process")

	keys := make([]string, 0, len(entry))
	for key := range entry {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]zap.Field, 0, len(keys))
	for _, key := range keys {
		fields = append(fields, zap.Any(key, entry[key]))
	}

	if ce := log.Check(level, message); ce != nil {
		ce.Write(fields...)
	}
}
