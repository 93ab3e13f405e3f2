// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package redisserver starts an in-process redis test server.
package redisserver

import (
	"github.com/alicebob/miniredis"
)

// Start starts a miniredis server for tests.
func Start() (addr string, cleanup func(), err error) {
	server, err := miniredis.Run()
	if err != nil {
		return "", nil, err
	}
	return server.Addr(), server.Close, nil
}

// Mini starts a miniredis server and returns it for direct manipulation,
// e.g. fast-forwarding time to trigger TTL eviction.
func Mini() (server *miniredis.Miniredis, err error) {
	return miniredis.Run()
}
