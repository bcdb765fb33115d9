// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CONTROL field names as stored in redis.
const (
	FieldRecordingActive    = "recording.active"
	FieldRecordingFolder    = "recording.folder"
	FieldRecordingBase      = "recording.base"
	FieldProtocolPath       = "protocol.path"
	FieldProtocolPhaseID    = "protocol.phase_id"
	FieldProtocolPhaseStart = "protocol.phase_start"
	FieldProtocolPhaseStop  = "protocol.phase_stop"
	FieldProtocolPhaseCount = "protocol.phase_count"
	FieldGeneralMinSleep    = "general.min_sleep"
	FieldGeneralEpoch       = "general.epoch"
)

// RedisTable is a Table stored in redis hashes, one set per session.
// It allows processes on other hosts to observe a session.
type RedisTable struct {
	db      *redis.Client
	session string
}

var _ Table = (*RedisTable)(nil)

// OpenRedisTable connects to redis at address and uses the keys of session.
func OpenRedisTable(ctx context.Context, address, password string, db int, session string) (*RedisTable, error) {
	table := &RedisTable{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
		session: session,
	}

	// ping here to verify we are able to connect to redis with the initialized client.
	if err := table.db.Ping(ctx).Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}
	return table, nil
}

func (table *RedisTable) key(name string) string {
	return "vxpy:" + table.session + ":" + name
}

func (table *RedisTable) getInt(ctx context.Context, hash, field string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	value, err := table.db.HGet(ctx, table.key(hash), field).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return value, Error.Wrap(err)
}

func (table *RedisTable) setInt(ctx context.Context, hash, field string, value int64) (err error) {
	defer mon.Task()(&ctx)(&err)
	return Error.Wrap(table.db.HSet(ctx, table.key(hash), field, value).Err())
}

// State implements Table.
func (table *RedisTable) State(ctx context.Context, role Role) (State, error) {
	state, err := table.getInt(ctx, "state", string(role))
	return State(state), err
}

// SetState implements Table.
func (table *RedisTable) SetState(ctx context.Context, role Role, state State) error {
	if !role.Valid() {
		return Error.New("unknown role %q", role)
	}
	return table.setInt(ctx, "state", string(role), int64(state))
}

// RecState implements Table.
func (table *RedisTable) RecState(ctx context.Context, role Role) (RecState, error) {
	state, err := table.getInt(ctx, "rec", string(role))
	return RecState(state), err
}

// SetRecState implements Table.
func (table *RedisTable) SetRecState(ctx context.Context, role Role, state RecState) error {
	if !role.Valid() {
		return Error.New("unknown role %q", role)
	}
	return table.setInt(ctx, "rec", string(role), int64(state))
}

// Control implements Table.
func (table *RedisTable) Control(ctx context.Context) (_ Control, err error) {
	defer mon.Task()(&ctx)(&err)

	fields, err := table.db.HGetAll(ctx, table.key("control")).Result()
	if err != nil {
		return Control{}, Error.Wrap(err)
	}
	return parseControl(fields)
}

// UpdateControl implements Table.
func (table *RedisTable) UpdateControl(ctx context.Context, update func(*Control)) (err error) {
	defer mon.Task()(&ctx)(&err)

	key := table.key("control")
	// retry while another client changes control between read and write.
	for attempt := 0; attempt < 10; attempt++ {
		err = table.db.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			control, err := parseControl(fields)
			if err != nil {
				return err
			}
			update(&control)

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				return pipe.HSet(ctx, key, formatControl(control)).Err()
			})
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return Error.Wrap(err)
		}
	}
	return Error.Wrap(err)
}

// Close closes the redis client.
func (table *RedisTable) Close() error {
	return Error.Wrap(table.db.Close())
}

func formatControl(control Control) map[string]interface{} {
	return map[string]interface{}{
		FieldRecordingActive:    strconv.FormatBool(control.Recording.Active),
		FieldRecordingFolder:    control.Recording.Folder,
		FieldRecordingBase:      control.Recording.Base,
		FieldProtocolPath:       control.Protocol.Path,
		FieldProtocolPhaseID:    strconv.Itoa(control.Protocol.PhaseID),
		FieldProtocolPhaseStart: strconv.FormatFloat(control.Protocol.PhaseStart, 'g', -1, 64),
		FieldProtocolPhaseStop:  strconv.FormatFloat(control.Protocol.PhaseStop, 'g', -1, 64),
		FieldProtocolPhaseCount: strconv.Itoa(control.Protocol.PhaseCount),
		FieldGeneralMinSleep:    strconv.FormatFloat(control.General.MinSleep, 'g', -1, 64),
		FieldGeneralEpoch:       strconv.FormatFloat(control.General.Epoch, 'g', -1, 64),
	}
}

func parseControl(fields map[string]string) (control Control, err error) {
	parseBool := func(name string) bool {
		v, ok := fields[name]
		if !ok || err != nil {
			return false
		}
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = Error.New("field %q: %w", name, perr)
		}
		return b
	}
	parseInt := func(name string) int {
		v, ok := fields[name]
		if !ok || err != nil {
			return 0
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = Error.New("field %q: %w", name, perr)
		}
		return n
	}
	parseFloat := func(name string) float64 {
		v, ok := fields[name]
		if !ok || err != nil {
			return 0
		}
		f, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			err = Error.New("field %q: %w", name, perr)
		}
		return f
	}

	control = Control{
		Recording: RecordingControl{
			Active: parseBool(FieldRecordingActive),
			Folder: fields[FieldRecordingFolder],
			Base:   fields[FieldRecordingBase],
		},
		Protocol: ProtocolControl{
			Path:       fields[FieldProtocolPath],
			PhaseID:    parseInt(FieldProtocolPhaseID),
			PhaseStart: parseFloat(FieldProtocolPhaseStart),
			PhaseStop:  parseFloat(FieldProtocolPhaseStop),
			PhaseCount: parseInt(FieldProtocolPhaseCount),
		},
		General: GeneralControl{
			MinSleep: parseFloat(FieldGeneralMinSleep),
			Epoch:    parseFloat(FieldGeneralEpoch),
		},
	}
	return control, err
}
