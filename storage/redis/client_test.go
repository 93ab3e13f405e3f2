// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forrst.io/forrst/storage"
	"forrst.io/forrst/storage/redis/redisserver"
	"forrst.io/forrst/storage/testsuite"
)

func TestSuite(t *testing.T) {
	addr, cleanup, err := redisserver.Start()
	require.NoError(t, err)
	defer cleanup()

	client, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	testsuite.RunTests(t, client)
}

func TestExpiry(t *testing.T) {
	server, err := redisserver.Mini()
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(server.Addr(), "", 0)
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close()) }()

	ctx := context.Background()
	require.NoError(t, client.Put(ctx, "expiring", storage.Value("v"), time.Minute))

	server.FastForward(2 * time.Minute)

	_, err = client.Get(ctx, "expiring")
	require.True(t, storage.ErrKeyNotFound.Has(err))
}

func TestNewClientFrom(t *testing.T) {
	addr, cleanup, err := redisserver.Start()
	require.NoError(t, err)
	defer cleanup()

	client, err := NewClientFrom("redis://" + addr + "?db=0")
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = NewClientFrom("http://" + addr)
	require.Error(t, err)
}
