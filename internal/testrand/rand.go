// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package testrand implements generating random base types for testing.
package testrand

import (
	"encoding/hex"
	"io"
	"math/rand"

	"github.com/google/uuid"

	"forrst.io/forrst/storage"
)

// Int63n returns, as an int64, a non-negative pseudo-random number in [0,n)
// from the default Source. It panics if n <= 0.
func Int63n(n int64) int64 {
	return rand.Int63n(n)
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

// BytesN generates size amount of random data.
func BytesN(size int) []byte {
	data := make([]byte, size)
	Read(data)
	return data
}

// Reader creates a new random data reader.
func Reader() io.Reader {
	return rand.New(rand.NewSource(rand.Int63()))
}

// Key creates a random store key.
func Key() storage.Key {
	return storage.Key("test:" + hexN(8))
}

// UUID creates a random uuid string.
func UUID() string {
	return uuid.NewString()
}

// TraceID creates a random 128-bit hex trace id.
func TraceID() string { return hexN(16) }

// SpanID creates a random 64-bit hex span id.
func SpanID() string { return hexN(8) }

func hexN(bytes int) string {
	data := make([]byte, bytes)
	Read(data)
	return hex.EncodeToString(data)
}
