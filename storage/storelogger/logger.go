// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package storelogger

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/storage"
)

var mon = monkit.Package()

var id int64

// Logger implements a zap.Logger decorator for storage.KeyValueStore.
type Logger struct {
	log   *zap.Logger
	store storage.KeyValueStore
}

// New creates a new Logger with log and store.
func New(log *zap.Logger, store storage.KeyValueStore) *Logger {
	loggerid := atomic.AddInt64(&id, 1)
	name := strconv.Itoa(int(loggerid))
	return &Logger{log.Named(name), store}
}

// Put adds a value to store.
func (store *Logger) Put(ctx context.Context, key storage.Key, value storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Put", zap.String("key", string(key)), zap.Int("value length", len(value)), zap.Duration("ttl", ttl))
	return store.store.Put(ctx, key, value, ttl)
}

// Get gets a value from store.
func (store *Logger) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Get", zap.String("key", string(key)))
	return store.store.Get(ctx, key)
}

// Delete deletes key and the value.
func (store *Logger) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("Delete", zap.String("key", string(key)))
	return store.store.Delete(ctx, key)
}

// CompareAndSwap atomically compares and swaps the value of key.
func (store *Logger) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("CompareAndSwap", zap.String("key", string(key)),
		zap.Int("old length", len(oldValue)), zap.Int("new length", len(newValue)),
		zap.Bool("create", oldValue == nil), zap.Bool("delete", newValue == nil))
	return store.store.CompareAndSwap(ctx, key, oldValue, newValue, ttl)
}

// List returns up to limit keys starting with prefix, sorted.
func (store *Logger) List(ctx context.Context, prefix storage.Key, limit int) (_ storage.Keys, err error) {
	defer mon.Task()(&ctx)(&err)
	keys, err := store.store.List(ctx, prefix, limit)
	store.log.Debug("List", zap.String("prefix", string(prefix)), zap.Int("limit", limit), zap.Strings("keys", keys.Strings()))
	return keys, err
}

// TTL returns the remaining time to live of key.
func (store *Logger) TTL(ctx context.Context, key storage.Key) (_ time.Duration, err error) {
	defer mon.Task()(&ctx)(&err)
	store.log.Debug("TTL", zap.String("key", string(key)))
	return store.store.TTL(ctx, key)
}

// Close closes the store.
func (store *Logger) Close() error {
	store.log.Debug("Close")
	return store.store.Close()
}
