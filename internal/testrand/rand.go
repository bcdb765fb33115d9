// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

// Package testrand implements generating random values for tests.
package testrand

import (
	"math/rand"

	"github.com/google/uuid"
	"storj.io/common/memory"
)

// Intn returns, as an int, a non-negative pseudo-random number in [0,n).
// It panics if n <= 0.
func Intn(n int) int {
	return rand.Intn(n)
}

// Float64s returns n pseudo-random numbers in [0.0,1.0).
func Float64s(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = rand.Float64()
	}
	return values
}

// Read reads pseudo-random data into data.
func Read(data []byte) {
	const newSourceThreshold = 64
	if len(data) < newSourceThreshold {
		_, _ = rand.Read(data)
		return
	}

	src := rand.NewSource(rand.Int63())
	r := rand.New(src)
	_, _ = r.Read(data)
}

// Bytes generates size amount of random data.
func Bytes(size memory.Size) []byte {
	data := make([]byte, size.Int())
	Read(data)
	return data
}

// BytesN generates size amount of random data.
func BytesN(size int) []byte {
	return Bytes(memory.Size(size))
}

// Name creates a random name usable as a runtime directory or attribute name.
func Name(prefix string) string {
	return prefix + "_" + uuid.NewString()[:8]
}
