// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forrst.io/forrst/storage"
	"forrst.io/forrst/storage/testsuite"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(filepath.Join(t.TempDir(), "bolt.db"), "forrst")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, client.Close()) })
	return client
}

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, newTestClient(t))
}

func TestExpiry(t *testing.T) {
	client := newTestClient(t)

	now := time.Now()
	client.now = func() time.Time { return now }

	ctx := context.Background()
	require.NoError(t, client.Put(ctx, "expiring", storage.Value("v"), time.Minute))

	now = now.Add(2 * time.Minute)

	_, err := client.Get(ctx, "expiring")
	require.True(t, storage.ErrKeyNotFound.Has(err))

	// eviction removed the key entirely
	keys, err := client.List(ctx, "", 0)
	require.NoError(t, err)
	require.Empty(t, keys)
}
