// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package teststore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"forrst.io/forrst/storage"
)

// Client implements an in-memory key value store with TTL eviction and
// compare-and-swap, for tests.
type Client struct {
	mu sync.Mutex

	// Now is the clock used for TTL eviction; replaceable in tests.
	Now func() time.Time

	CallCount struct {
		Get            int
		Put            int
		Delete         int
		CompareAndSwap int
		List           int
		TTL            int
		Close          int
	}

	items []item
}

type item struct {
	key     storage.Key
	value   storage.Value
	expires time.Time // zero means no expiry
}

// New creates a new in-memory key-value store.
func New() *Client {
	return &Client{Now: time.Now}
}

// indexOf finds index of key or where it could be inserted.
func (store *Client) indexOf(key storage.Key) (int, bool) {
	i := sort.Search(len(store.items), func(k int) bool {
		return store.items[k].key >= key
	})

	if i >= len(store.items) {
		return i, false
	}
	return i, store.items[i].key == key
}

// locked assumes store.mu is held; reports whether the item at index is live,
// evicting it when expired.
func (store *Client) evictExpired(index int) bool {
	it := &store.items[index]
	if it.expires.IsZero() || store.Now().Before(it.expires) {
		return true
	}
	store.items = append(store.items[:index], store.items[index+1:]...)
	return false
}

// Put adds a value to store.
func (store *Client) Put(ctx context.Context, key storage.Key, value storage.Value, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Put++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	var expires time.Time
	if ttl > 0 {
		expires = store.Now().Add(ttl)
	}

	keyIndex, found := store.indexOf(key)
	if found {
		store.items[keyIndex].value = storage.CloneValue(value)
		store.items[keyIndex].expires = expires
		return nil
	}

	store.items = append(store.items, item{})
	copy(store.items[keyIndex+1:], store.items[keyIndex:])
	store.items[keyIndex] = item{
		key:     key,
		value:   storage.CloneValue(value),
		expires: expires,
	}
	return nil
}

// Get gets a value from the store.
func (store *Client) Get(ctx context.Context, key storage.Key) (storage.Value, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Get++
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found || !store.evictExpired(keyIndex) {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	return storage.CloneValue(store.items[keyIndex].value), nil
}

// Delete deletes key and the value.
func (store *Client) Delete(ctx context.Context, key storage.Key) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Delete++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found || !store.evictExpired(keyIndex) {
		return nil
	}
	store.items = append(store.items[:keyIndex], store.items[keyIndex+1:]...)
	return nil
}

// CompareAndSwap atomically compares and swaps the value of key.
func (store *Client) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value, ttl time.Duration) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.CompareAndSwap++
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if found {
		found = store.evictExpired(keyIndex)
	}

	if oldValue == nil {
		if found {
			return storage.ErrValueChanged.New("%q", key)
		}
	} else {
		if !found {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		if !bytes.Equal(store.items[keyIndex].value, oldValue) {
			return storage.ErrValueChanged.New("%q", key)
		}
	}

	if newValue == nil {
		if found {
			store.items = append(store.items[:keyIndex], store.items[keyIndex+1:]...)
		}
		return nil
	}

	var expires time.Time
	if ttl > 0 {
		expires = store.Now().Add(ttl)
	}
	if found {
		store.items[keyIndex].value = storage.CloneValue(newValue)
		store.items[keyIndex].expires = expires
		return nil
	}

	keyIndex, _ = store.indexOf(key)
	store.items = append(store.items, item{})
	copy(store.items[keyIndex+1:], store.items[keyIndex:])
	store.items[keyIndex] = item{
		key:     key,
		value:   storage.CloneValue(newValue),
		expires: expires,
	}
	return nil
}

// List returns up to limit keys starting with prefix, sorted.
func (store *Client) List(ctx context.Context, prefix storage.Key, limit int) (storage.Keys, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.List++

	var keys storage.Keys
	for i := 0; i < len(store.items); i++ {
		if !store.evictExpired(i) {
			i--
			continue
		}
		it := store.items[i]
		if !bytes.HasPrefix([]byte(it.key), []byte(prefix)) {
			continue
		}
		keys = append(keys, it.key)
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}

// TTL returns the remaining time to live of key.
func (store *Client) TTL(ctx context.Context, key storage.Key) (time.Duration, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.TTL++
	if key.IsZero() {
		return 0, storage.ErrEmptyKey.New("")
	}

	keyIndex, found := store.indexOf(key)
	if !found || !store.evictExpired(keyIndex) {
		return 0, storage.ErrKeyNotFound.New("%q", key)
	}
	if store.items[keyIndex].expires.IsZero() {
		return -1, nil
	}
	return store.items[keyIndex].expires.Sub(store.Now()), nil
}

// Close closes the store.
func (store *Client) Close() error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.CallCount.Close++
	return nil
}
