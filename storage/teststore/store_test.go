// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forrst.io/forrst/storage"
	"forrst.io/forrst/storage/testsuite"
)

func TestSuite(t *testing.T) {
	testsuite.RunTests(t, New())
}

func TestExpiry(t *testing.T) {
	ctx := context.Background()

	now := time.Now()
	store := New()
	store.Now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "expiring", storage.Value("v"), time.Minute))
	require.NoError(t, store.Put(ctx, "durable", storage.Value("v"), storage.TTLNone))

	now = now.Add(2 * time.Minute)

	_, err := store.Get(ctx, "expiring")
	require.True(t, storage.ErrKeyNotFound.Has(err))

	value, err := store.Get(ctx, "durable")
	require.NoError(t, err)
	require.Equal(t, storage.Value("v"), value)

	// an expired key behaves as absent for compare-and-swap
	require.NoError(t, store.CompareAndSwap(ctx, "expiring", nil, storage.Value("w"), storage.TTLNone))
}
