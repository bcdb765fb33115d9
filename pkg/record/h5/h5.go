// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package h5 writes recordings as HDF5 files.
//
// Every attribute becomes an extendable dataset of shape (n, *shape) next to
// a (n,) dataset of its timestamps, inside the group of its routine. Objects
// are stored as rows of their zero padded JSON encoding.
package h5

import (
	"os"
	"path/filepath"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"gonum.org/v1/hdf5"

	"vxpy.io/vxpy/pkg/attribute"
	"vxpy.io/vxpy/pkg/record"
)

// Error is the default h5 errs class.
var Error = errs.Class("h5")

// Ext is the extension of HDF5 recording files.
const Ext = ".hdf5"

// unlimited is H5S_UNLIMITED.
const unlimited = ^uint(0)

type dataset struct {
	spec  attribute.Spec
	shape []uint
	rows  uint
	data  *hdf5.Dataset
	times *hdf5.Dataset
}

// Sink records into an HDF5 file.
type Sink struct {
	log  *zap.Logger
	file *hdf5.File
	Path string

	groups   map[string]*hdf5.Group
	datasets map[string]*dataset

	loops   *hdf5.Dataset
	times   *hdf5.Dataset
	entries uint
}

var _ record.Sink = (*Sink)(nil)

// Opener returns a record.Opener creating HDF5 files.
func Opener(log *zap.Logger) record.Opener {
	return func(dir string, meta record.Metadata) (record.Sink, error) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, Error.Wrap(err)
		}
		return Create(log, filepath.Join(dir, record.FileName(meta.Role, Ext)), meta)
	}
}

// Create creates the HDF5 file at path, replacing an existing one.
func Create(log *zap.Logger, path string, meta record.Metadata) (_ *Sink, err error) {
	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return nil, Error.New("creating %q: %w", path, err)
	}
	sink := &Sink{
		log:      log,
		file:     file,
		Path:     path,
		groups:   map[string]*hdf5.Group{},
		datasets: map[string]*dataset{},
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, sink.Close())
		}
	}()

	if err := sink.writeMetadata(meta); err != nil {
		return nil, err
	}
	if sink.loops, err = sink.extendable(&file.CommonFG, "global_index", hdf5.T_NATIVE_INT64, nil); err != nil {
		return nil, err
	}
	if sink.times, err = sink.extendable(&file.CommonFG, "global_time", hdf5.T_NATIVE_DOUBLE, nil); err != nil {
		return nil, err
	}
	return sink, nil
}

func (sink *Sink) writeMetadata(meta record.Metadata) error {
	root, err := sink.file.OpenGroup("/")
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = root.Close() }()

	scalar, err := hdf5.CreateDataspace(hdf5.S_SCALAR)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = scalar.Close() }()

	for name, value := range map[string]string{
		"session": meta.Session,
		"role":    string(meta.Role),
		"folder":  meta.Folder,
	} {
		dtype, err := hdf5.NewDatatypeFromValue(value)
		if err != nil {
			return Error.Wrap(err)
		}
		attr, err := root.CreateAttribute(name, dtype, scalar)
		if err != nil {
			return Error.Wrap(err)
		}
		err = errs.Combine(attr.Write(&value, dtype), attr.Close())
		if err != nil {
			return Error.New("writing %q: %w", name, err)
		}
	}
	for name, value := range map[string]float64{
		"created": meta.Created,
		"epoch":   meta.Epoch,
	} {
		attr, err := root.CreateAttribute(name, hdf5.T_NATIVE_DOUBLE, scalar)
		if err != nil {
			return Error.Wrap(err)
		}
		err = errs.Combine(attr.Write(&value, hdf5.T_NATIVE_DOUBLE), attr.Close())
		if err != nil {
			return Error.New("writing %q: %w", name, err)
		}
	}
	return nil
}

// extendable creates an empty dataset of shape (0, *shape) chunked by row that
// can grow along the first axis.
func (sink *Sink) extendable(parent *hdf5.CommonFG, name string, dtype *hdf5.Datatype, shape []uint) (*hdf5.Dataset, error) {
	dims := append([]uint{0}, shape...)
	maxdims := append([]uint{unlimited}, shape...)
	chunk := append([]uint{1}, shape...)

	space, err := hdf5.CreateSimpleDataspace(dims, maxdims)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = space.Close() }()

	plist, err := hdf5.NewPropList(hdf5.P_DATASET_CREATE)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = plist.Close() }()
	if err := plist.SetChunk(chunk); err != nil {
		return nil, Error.Wrap(err)
	}

	data, err := parent.CreateDatasetWith(name, dtype, space, plist)
	if err != nil {
		return nil, Error.New("creating dataset %q: %w", name, err)
	}
	return data, nil
}

func (sink *Sink) group(name string) (*hdf5.Group, error) {
	if group, ok := sink.groups[name]; ok {
		return group, nil
	}
	group, err := sink.file.CreateGroup(name)
	if err != nil {
		return nil, Error.New("creating group %q: %w", name, err)
	}
	sink.groups[name] = group
	return group, nil
}

// Create implements record.Sink.
func (sink *Sink) Create(spec attribute.Spec) error {
	if _, ok := sink.datasets[spec.Name]; ok {
		return Error.New("%q created twice", spec.Name)
	}
	dtype, shape, err := layout(spec)
	if err != nil {
		return err
	}
	group, err := sink.group(record.GroupName(spec))
	if err != nil {
		return err
	}

	data, err := sink.extendable(&group.CommonFG, spec.Name, dtype, shape)
	if err != nil {
		return err
	}
	times, err := sink.extendable(&group.CommonFG, record.TimeName(spec), hdf5.T_NATIVE_DOUBLE, nil)
	if err != nil {
		return errs.Combine(err, data.Close())
	}

	sink.datasets[spec.Name] = &dataset{spec: spec, shape: shape, data: data, times: times}
	sink.log.Debug("dataset created", zap.String("group", record.GroupName(spec)), zap.String("name", spec.Name))
	return nil
}

// layout returns the HDF5 element type and the element shape of an attribute.
func layout(spec attribute.Spec) (*hdf5.Datatype, []uint, error) {
	if spec.Kind == attribute.KindObject {
		return hdf5.T_NATIVE_UINT8, []uint{uint(spec.SlotSize)}, nil
	}

	var dtype *hdf5.Datatype
	switch spec.DType {
	case attribute.Uint8:
		dtype = hdf5.T_NATIVE_UINT8
	case attribute.Uint16:
		dtype = hdf5.T_NATIVE_UINT16
	case attribute.Int16:
		dtype = hdf5.T_NATIVE_INT16
	case attribute.Int32:
		dtype = hdf5.T_NATIVE_INT32
	case attribute.Int64:
		dtype = hdf5.T_NATIVE_INT64
	case attribute.Float32:
		dtype = hdf5.T_NATIVE_FLOAT
	case attribute.Float64:
		dtype = hdf5.T_NATIVE_DOUBLE
	default:
		return nil, nil, Error.New("%q: unsupported dtype %q", spec.Name, spec.DType)
	}

	shape := make([]uint, 0, len(spec.Shape))
	for _, d := range spec.Shape {
		shape = append(shape, uint(d))
	}
	return dtype, shape, nil
}

// Append implements record.Sink.
func (sink *Sink) Append(spec attribute.Spec, rows attribute.Rows[any]) error {
	set, ok := sink.datasets[spec.Name]
	if !ok {
		return Error.New("%q was not created", spec.Name)
	}

	var times []float64
	var values []any
	for i, index := range rows.Indices {
		if index < 0 {
			continue
		}
		times = append(times, rows.Times[i])
		values = append(values, rows.Values[i])
	}
	if len(times) == 0 {
		return nil
	}

	flat, err := flatten(spec, set.shape, values)
	if err != nil {
		return err
	}
	if err := extend(set.data, set.rows, uint(len(values)), set.shape, flat); err != nil {
		return Error.New("%q: %w", spec.Name, err)
	}
	if err := extend(set.times, set.rows, uint(len(times)), nil, &times); err != nil {
		return Error.New("%q: %w", record.TimeName(spec), err)
	}
	set.rows += uint(len(values))
	return nil
}

// Bookkeeping implements record.Sink.
func (sink *Sink) Bookkeeping(index int64, time float64) error {
	loops := []int64{index}
	times := []float64{time}
	if err := extend(sink.loops, sink.entries, 1, nil, &loops); err != nil {
		return Error.Wrap(err)
	}
	if err := extend(sink.times, sink.entries, 1, nil, &times); err != nil {
		return Error.Wrap(err)
	}
	sink.entries++
	return nil
}

// extend grows data by count rows starting at offset and writes flat into them.
func extend(data *hdf5.Dataset, offset, count uint, shape []uint, flat interface{}) error {
	dims := append([]uint{offset + count}, shape...)
	if err := setExtent(data, dims); err != nil {
		return err
	}

	start := make([]uint, len(dims))
	start[0] = offset
	block := append([]uint{count}, shape...)

	filespace := data.Space()
	if filespace == nil {
		return Error.New("no dataspace for %q", data.Name())
	}
	defer func() { _ = filespace.Close() }()
	if err := filespace.SelectHyperslab(start, nil, block, nil); err != nil {
		return err
	}

	memspace, err := hdf5.CreateSimpleDataspace(block, nil)
	if err != nil {
		return err
	}
	defer func() { _ = memspace.Close() }()

	return data.WriteSubset(flat, memspace, filespace)
}

// flatten concatenates the values of rows into a pointer to a typed slice.
func flatten(spec attribute.Spec, shape []uint, values []any) (interface{}, error) {
	if spec.Kind == attribute.KindObject {
		width := int(shape[0])
		flat := make([]uint8, len(values)*width)
		for i, value := range values {
			payload, err := spec.Encode(value)
			if err != nil {
				return nil, Error.Wrap(err)
			}
			if len(payload) > width {
				return nil, Error.New("%q: %d bytes exceed width %d", spec.Name, len(payload), width)
			}
			copy(flat[i*width:], payload)
		}
		return &flat, nil
	}

	switch spec.DType {
	case attribute.Uint8:
		return concat[uint8](spec, values)
	case attribute.Uint16:
		return concat[uint16](spec, values)
	case attribute.Int16:
		return concat[int16](spec, values)
	case attribute.Int32:
		return concat[int32](spec, values)
	case attribute.Int64:
		return concat[int64](spec, values)
	case attribute.Float32:
		return concat[float32](spec, values)
	case attribute.Float64:
		return concat[float64](spec, values)
	default:
		return nil, Error.New("%q: unsupported dtype %q", spec.Name, spec.DType)
	}
}

func concat[T attribute.Numeric](spec attribute.Spec, values []any) (interface{}, error) {
	elements := spec.Shape.Elements()
	flat := make([]T, 0, len(values)*elements)
	for _, value := range values {
		row, ok := value.([]T)
		if !ok || len(row) != elements {
			return nil, Error.New("%q: unexpected row %T", spec.Name, value)
		}
		flat = append(flat, row...)
	}
	return &flat, nil
}

// Close closes all datasets and the file.
func (sink *Sink) Close() error {
	var group errs.Group
	for _, set := range sink.datasets {
		group.Add(set.data.Close(), set.times.Close())
	}
	sink.datasets = map[string]*dataset{}
	for _, g := range sink.groups {
		group.Add(g.Close())
	}
	sink.groups = map[string]*hdf5.Group{}
	if sink.loops != nil {
		group.Add(sink.loops.Close())
	}
	if sink.times != nil {
		group.Add(sink.times.Close())
	}
	if sink.file != nil {
		group.Add(sink.file.Close())
		sink.file = nil
	}
	return Error.Wrap(group.Err())
}
