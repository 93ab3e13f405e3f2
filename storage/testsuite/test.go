// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package testsuite contains a conformance suite run against every
// storage.KeyValueStore implementation.
package testsuite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forrst.io/forrst/internal/testrand"
	"forrst.io/forrst/storage"
)

// RunTests runs the KeyValueStore conformance suite against store.
func RunTests(t *testing.T, store storage.KeyValueStore) {
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, store) })
	t.Run("CompareAndSwap", func(t *testing.T) { testCompareAndSwap(t, store) })
	t.Run("List", func(t *testing.T) { testList(t, store) })
	t.Run("TTL", func(t *testing.T) { testTTL(t, store) })
	t.Run("EmptyKey", func(t *testing.T) { testEmptyKey(t, store) })
	t.Run("RandomValues", func(t *testing.T) { testRandomValues(t, store) })
}

func testPutGetDelete(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	key := storage.Key("test:put:alpha")
	require.NoError(t, store.Put(ctx, key, storage.Value("one"), storage.TTLNone))

	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, storage.Value("one"), value)

	require.NoError(t, store.Put(ctx, key, storage.Value("two"), storage.TTLNone))
	value, err = store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, storage.Value("two"), value)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	require.True(t, storage.ErrKeyNotFound.Has(err))
}

func testCompareAndSwap(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	key := storage.Key("test:cas:alpha")

	// create-if-absent
	require.NoError(t, store.CompareAndSwap(ctx, key, nil, storage.Value("one"), storage.TTLNone))
	err := store.CompareAndSwap(ctx, key, nil, storage.Value("again"), storage.TTLNone)
	require.True(t, storage.ErrValueChanged.Has(err))

	// swap with matching old value
	require.NoError(t, store.CompareAndSwap(ctx, key, storage.Value("one"), storage.Value("two"), storage.TTLNone))

	// mismatched old value leaves the store unchanged
	err = store.CompareAndSwap(ctx, key, storage.Value("one"), storage.Value("three"), storage.TTLNone)
	require.True(t, storage.ErrValueChanged.Has(err))
	value, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, storage.Value("two"), value)

	// delete-if-equal
	err = store.CompareAndSwap(ctx, key, storage.Value("one"), nil, storage.TTLNone)
	require.True(t, storage.ErrValueChanged.Has(err))
	require.NoError(t, store.CompareAndSwap(ctx, key, storage.Value("two"), nil, storage.TTLNone))
	_, err = store.Get(ctx, key)
	require.True(t, storage.ErrKeyNotFound.Has(err))

	// swap on a missing key
	err = store.CompareAndSwap(ctx, storage.Key("test:cas:missing"), storage.Value("x"), storage.Value("y"), storage.TTLNone)
	require.True(t, storage.ErrKeyNotFound.Has(err))
}

func testList(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	keys := storage.Keys{
		"test:list:a",
		"test:list:b",
		"test:list:c",
	}
	for _, key := range keys {
		require.NoError(t, store.Put(ctx, key, storage.Value("v"), storage.TTLNone))
	}
	require.NoError(t, store.Put(ctx, "test:other:a", storage.Value("v"), storage.TTLNone))

	listed, err := store.List(ctx, "test:list:", 0)
	require.NoError(t, err)
	require.Equal(t, keys.Strings(), listed.Strings())

	listed, err = store.List(ctx, "test:list:", 2)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	for _, key := range keys {
		require.NoError(t, store.Delete(ctx, key))
	}
	require.NoError(t, store.Delete(ctx, "test:other:a"))
}

func testTTL(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	key := storage.Key("test:ttl:alpha")
	require.NoError(t, store.Put(ctx, key, storage.Value("v"), time.Hour))

	ttl, err := store.TTL(ctx, key)
	require.NoError(t, err)
	require.True(t, ttl > 0 && ttl <= time.Hour)

	require.NoError(t, store.Put(ctx, key, storage.Value("v"), storage.TTLNone))
	ttl, err = store.TTL(ctx, key)
	require.NoError(t, err)
	require.Equal(t, time.Duration(-1), ttl)

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.TTL(ctx, key)
	require.True(t, storage.ErrKeyNotFound.Has(err))
}

func testEmptyKey(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	require.True(t, storage.ErrEmptyKey.Has(store.Put(ctx, "", storage.Value("v"), storage.TTLNone)))
	_, err := store.Get(ctx, "")
	require.True(t, storage.ErrEmptyKey.Has(err))
	require.True(t, storage.ErrEmptyKey.Has(store.Delete(ctx, "")))
}

func testRandomValues(t *testing.T, store storage.KeyValueStore) {
	ctx := context.Background()

	// values must round-trip byte-exact, including sizes that cross
	// internal buffering thresholds
	for _, size := range []int{1, 32, 256, 4096} {
		key := testrand.Key()
		value := storage.Value(testrand.BytesN(size))

		require.NoError(t, store.Put(ctx, key, value, storage.TTLNone))
		loaded, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.Equal(t, value, loaded)
		require.NoError(t, store.Delete(ctx, key))
	}
}
