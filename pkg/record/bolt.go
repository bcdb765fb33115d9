// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

package record

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"vxpy.io/vxpy/pkg/attribute"
)

// BoltExt is the extension of bolt recording files.
const BoltExt = ".bolt"

var (
	defaultTimeout = 1 * time.Second

	metaBucket        = []byte("meta")
	specsBucket       = []byte("specs")
	dataBucket        = []byte("data")
	bookkeepingBucket = []byte("bookkeeping")
)

const (
	// fileMode sets permissions so owner can read and write
	fileMode = 0600
)

// BoltSink records into a bolt database. Every attribute gets a bucket of
// rows keyed by their big endian index; a row is the time followed by the
// raw payload.
type BoltSink struct {
	log  *zap.Logger
	db   *bolt.DB
	Path string
}

var _ Sink = (*BoltSink)(nil)

// BoltOpener returns an Opener creating bolt files.
func BoltOpener(log *zap.Logger) Opener {
	return func(dir string, meta Metadata) (Sink, error) {
		return OpenBolt(log, filepath.Join(dir, FileName(meta.Role, BoltExt)), meta)
	}
}

// OpenBolt creates or opens the bolt file at path.
func OpenBolt(log *zap.Logger, path string, meta Metadata) (*BoltSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, Error.Wrap(err)
	}
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	sink := &BoltSink{log: log, db: db, Path: path}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, specsBucket, dataBucket, bookkeepingBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte("metadata"), data)
	})
	if err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return sink, nil
}

// Create implements Sink.
func (sink *BoltSink) Create(spec attribute.Spec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(sink.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(specsBucket).Put([]byte(spec.Name), data); err != nil {
			return err
		}
		_, err := tx.Bucket(dataBucket).CreateBucketIfNotExists([]byte(spec.Name))
		return err
	}))
}

// Append implements Sink.
func (sink *BoltSink) Append(spec attribute.Spec, rows attribute.Rows[any]) error {
	return Error.Wrap(sink.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(dataBucket).Bucket([]byte(spec.Name))
		if bucket == nil {
			return Error.New("%q was not created", spec.Name)
		}
		for i, index := range rows.Indices {
			if index < 0 {
				continue
			}
			payload, err := spec.Encode(rows.Values[i])
			if err != nil {
				return err
			}
			value := make([]byte, 8+len(payload))
			binary.LittleEndian.PutUint64(value, math.Float64bits(rows.Times[i]))
			copy(value[8:], payload)

			if err := bucket.Put(rowKey(index), value); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Bookkeeping implements Sink.
func (sink *BoltSink) Bookkeeping(index int64, time float64) error {
	return Error.Wrap(sink.db.Update(func(tx *bolt.Tx) error {
		var value [8]byte
		binary.LittleEndian.PutUint64(value[:], math.Float64bits(time))
		return tx.Bucket(bookkeepingBucket).Put(rowKey(index), value[:])
	}))
}

// Close closes the database.
func (sink *BoltSink) Close() error {
	return Error.Wrap(sink.db.Close())
}

func rowKey(index int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(index))
	return key[:]
}

// Recording is the content of a bolt recording, read back for conversion.
type Recording struct {
	db *bolt.DB
}

// OpenRecording opens a bolt recording read only.
func OpenRecording(path string) (*Recording, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout, ReadOnly: true})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Recording{db: db}, nil
}

// Metadata returns the metadata the recording was created with.
func (rec *Recording) Metadata() (meta Metadata, err error) {
	err = rec.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		if bucket == nil {
			return Error.New("not a recording")
		}
		return json.Unmarshal(bucket.Get([]byte("metadata")), &meta)
	})
	return meta, Error.Wrap(err)
}

// Specs returns the recorded attributes.
func (rec *Recording) Specs() (specs []attribute.Spec, err error) {
	err = rec.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(specsBucket)
		if bucket == nil {
			return Error.New("not a recording")
		}
		return bucket.ForEach(func(k, v []byte) error {
			var spec attribute.Spec
			if err := json.Unmarshal(v, &spec); err != nil {
				return err
			}
			specs = append(specs, spec)
			return nil
		})
	})
	return specs, Error.Wrap(err)
}

// Count returns the number of rows recorded for an attribute.
func (rec *Recording) Count(name string) (count int, err error) {
	err = rec.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(dataBucket).Bucket([]byte(name))
		if bucket != nil {
			count = bucket.Stats().KeyN
		}
		return nil
	})
	return count, Error.Wrap(err)
}

// Rows calls fn with batches of up to batch rows of an attribute in index order.
func (rec *Recording) Rows(spec attribute.Spec, batch int, fn func(rows attribute.Rows[any]) error) error {
	if batch <= 0 {
		batch = 1024
	}
	return Error.Wrap(rec.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(dataBucket).Bucket([]byte(spec.Name))
		if bucket == nil {
			return nil
		}

		var rows attribute.Rows[any]
		err := bucket.ForEach(func(k, v []byte) error {
			if len(k) != 8 || len(v) < 8 {
				return Error.New("%q: corrupt row", spec.Name)
			}
			rows.Indices = append(rows.Indices, int64(binary.BigEndian.Uint64(k)))
			rows.Times = append(rows.Times, math.Float64frombits(binary.LittleEndian.Uint64(v)))
			rows.Values = append(rows.Values, spec.Decode(v[8:]))
			if rows.Len() >= batch {
				if err := fn(rows); err != nil {
					return err
				}
				rows = attribute.Rows[any]{}
			}
			return nil
		})
		if err != nil || rows.Len() == 0 {
			return err
		}
		return fn(rows)
	}))
}

// Bookkeeping calls fn for every bookkeeping row in order.
func (rec *Recording) Bookkeeping(fn func(index int64, time float64) error) error {
	return Error.Wrap(rec.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bookkeepingBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			return fn(int64(binary.BigEndian.Uint64(k)), math.Float64frombits(binary.LittleEndian.Uint64(v)))
		})
	}))
}

// Close closes the recording.
func (rec *Recording) Close() error {
	return Error.Wrap(rec.db.Close())
}
