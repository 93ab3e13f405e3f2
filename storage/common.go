// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"context"
	"time"

	"github.com/zeebo/errs"
)

// Delimiter separates key segments in the forrst key layouts.
const Delimiter = ':'

var (
	// ErrKeyNotFound used when a key is not found in a KeyValueStore.
	ErrKeyNotFound = errs.Class("key not found")
	// ErrEmptyKey is returned when an empty key is used in Put, Get or Delete.
	ErrEmptyKey = errs.Class("empty key restricted")
	// ErrValueChanged is returned when the current value of the key does not
	// match the expected value in CompareAndSwap.
	ErrValueChanged = errs.Class("value changed")
)

// Key is the type for the keys in a KeyValueStore.
type Key string

// Value is the type for the values in a KeyValueStore.
type Value []byte

// Keys is the type for a slice of keys in a KeyValueStore.
type Keys []Key

// TTLNone marks a value without an expiration.
const TTLNone time.Duration = 0

// KeyValueStore describes a shared key/value store with TTL eviction and
// atomic compare-and-swap, like redis and boltdb.
type KeyValueStore interface {
	// Put adds a value to the store under key. A ttl of TTLNone stores the
	// value without expiration.
	Put(ctx context.Context, key Key, value Value, ttl time.Duration) error
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key Key) (Value, error)
	// Delete removes key and its value.
	Delete(ctx context.Context, key Key) error
	// CompareAndSwap atomically compares and swaps the value of key.
	// A nil oldValue means the key must not exist yet; a nil newValue
	// deletes the key. On mismatch the store is unchanged and
	// ErrValueChanged is returned. The ttl applies to the new value.
	CompareAndSwap(ctx context.Context, key Key, oldValue, newValue Value, ttl time.Duration) error
	// List returns up to limit keys starting with prefix, sorted.
	// A limit of 0 means no limit.
	List(ctx context.Context, prefix Key, limit int) (Keys, error)
	// TTL returns the remaining time to live of key, -1 when the key has no
	// expiration, or ErrKeyNotFound.
	TTL(ctx context.Context, key Key) (time.Duration, error)
	// Close closes the store.
	Close() error
}

// IsZero returns true if the value struct is its zero value.
func (v Value) IsZero() bool { return len(v) == 0 }

// IsZero returns true if the key struct is its zero value.
func (k Key) IsZero() bool { return len(k) == 0 }

// Strings converts Keys to a slice of strings.
func (keys Keys) Strings() []string {
	strs := make([]string, len(keys))
	for i, key := range keys {
		strs[i] = string(key)
	}
	return strs
}

// CloneValue creates a copy of value.
func CloneValue(value Value) Value { return append(Value{}, value...) }
