// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package h5

// #cgo LDFLAGS: -lhdf5
// #cgo darwin CFLAGS: -I/usr/local/include
// #cgo darwin LDFLAGS: -L/usr/local/lib
// #cgo linux,!arm64 CFLAGS: -I/usr/local/include -I/usr/lib/x86_64-linux-gnu/hdf5/serial/include
// #cgo linux,!arm64 LDFLAGS: -L/usr/local/lib -L/usr/lib/x86_64-linux-gnu/hdf5/serial/
// #cgo linux,arm64 CFLAGS: -I/usr/local/include -I/usr/lib/aarch64-linux-gnu/hdf5/serial/include
// #cgo linux,arm64 LDFLAGS: -L/usr/local/lib -L/usr/lib/aarch64-linux-gnu/hdf5/serial/
// #include "hdf5.h"
import "C"

import (
	"gonum.org/v1/hdf5"
)

// setExtent changes the dimensions of a chunked dataset. The bindings only
// create datasets with unlimited axes, growing them is done here.
func setExtent(data *hdf5.Dataset, dims []uint) error {
	if len(dims) == 0 {
		return Error.New("no dimensions")
	}
	cdims := make([]C.hsize_t, len(dims))
	for i, d := range dims {
		cdims[i] = C.hsize_t(d)
	}
	if rc := C.H5Dset_extent(C.hid_t(data.ID()), &cdims[0]); rc < 0 {
		return Error.New("setting extent of %q to %v failed", data.Name(), dims)
	}
	return nil
}
