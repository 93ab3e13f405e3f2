// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package redis

import (
	"bytes"
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/storage"
)

var (
	// Error is a redis error class.
	Error = errs.Class("redis error")

	mon = monkit.Package()
)

const defaultScanCount = 100

// Client is the entrypoint into Redis.
type Client struct {
	db *redis.Client
}

// NewClient returns a configured Client instance, verifying a successful
// connection to redis.
func NewClient(address, password string, db int) (*Client, error) {
	client := &Client{
		db: redis.NewClient(&redis.Options{
			Addr:     address,
			Password: password,
			DB:       db,
		}),
	}

	if err := client.db.Ping().Err(); err != nil {
		return nil, Error.New("ping failed: %v", err)
	}

	return client, nil
}

// NewClientFrom returns a configured Client instance from a redis address,
// verifying a successful connection to redis.
func NewClientFrom(address string) (*Client, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	if u.Scheme != "redis" {
		return nil, Error.New("not a redis:// formatted address")
	}

	q := u.Query()

	db, err := strconv.Atoi(q.Get("db"))
	if err != nil {
		return nil, Error.New("invalid db: %q", q.Get("db"))
	}

	return NewClient(u.Host, q.Get("password"), db)
}

// Put adds a value to the provided key in redis.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	err = client.db.Set(string(key), []byte(value), ttl).Err()
	if err != nil {
		return Error.New("put error: %v", err)
	}
	return nil
}

// Get looks up the provided key from redis, returning either an error or the
// result.
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	value, err := client.db.Get(string(key)).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrKeyNotFound.New("%q", key)
	}
	if err != nil {
		return nil, Error.New("get error: %v", err)
	}
	return value, nil
}

// Delete deletes a key/value pair from redis.
func (client *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	err = client.db.Del(string(key)).Err()
	if err != nil {
		return Error.New("delete error: %v", err)
	}
	return nil
}

// CompareAndSwap atomically compares and swaps the value of key inside a
// WATCH/MULTI transaction.
func (client *Client) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	txf := func(tx *redis.Tx) error {
		value, err := tx.Get(string(key)).Bytes()
		exists := err != redis.Nil
		if err != nil && exists {
			return Error.New("get error: %v", err)
		}

		if oldValue == nil {
			if exists {
				return storage.ErrValueChanged.New("%q", key)
			}
		} else {
			if !exists {
				return storage.ErrKeyNotFound.New("%q", key)
			}
			if !bytes.Equal(value, oldValue) {
				return storage.ErrValueChanged.New("%q", key)
			}
		}

		_, err = tx.Pipelined(func(pipe redis.Pipeliner) error {
			if newValue == nil {
				pipe.Del(string(key))
			} else {
				pipe.Set(string(key), []byte(newValue), ttl)
			}
			return nil
		})
		return err
	}

	err = client.db.Watch(txf, string(key))
	if err == redis.TxFailedErr {
		return storage.ErrValueChanged.New("%q", key)
	}
	return err
}

// List returns up to limit keys starting with prefix, sorted.
func (client *Client) List(ctx context.Context, prefix storage.Key, limit int) (_ storage.Keys, err error) {
	defer mon.Task()(&ctx)(&err)

	match := string(escapeMatch([]byte(prefix))) + "*"

	var keys []string
	var cursor uint64
	for {
		var page []string
		page, cursor, err = client.db.Scan(cursor, match, defaultScanCount).Result()
		if err != nil {
			return nil, Error.New("list error: %v", err)
		}
		keys = append(keys, page...)
		if cursor == 0 {
			break
		}
	}

	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make(storage.Keys, len(keys))
	for i, key := range keys {
		result[i] = storage.Key(key)
	}
	return result, nil
}

// TTL returns the remaining time to live of key.
func (client *Client) TTL(ctx context.Context, key storage.Key) (_ time.Duration, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return 0, storage.ErrEmptyKey.New("")
	}

	ttl, err := client.db.TTL(string(key)).Result()
	if err != nil {
		return 0, Error.New("ttl error: %v", err)
	}
	// redis reports -2 for a missing key and -1 for a key without expiry
	if ttl == -2*time.Second {
		return 0, storage.ErrKeyNotFound.New("%q", key)
	}
	if ttl == -1*time.Second {
		return -1, nil
	}
	return ttl, nil
}

// Close closes a redis client.
func (client *Client) Close() error {
	return client.db.Close()
}

// escapeMatch escapes redis glob characters in a SCAN match pattern.
func escapeMatch(match []byte) []byte {
	start := 0
	escaped := []byte{}
	for i, b := range match {
		switch b {
		case '?', '*', '[', ']', '\\':
			escaped = append(escaped, match[start:i]...)
			escaped = append(escaped, '\\', b)
			start = i + 1
		}
	}
	if start == 0 {
		return match
	}

	return append(escaped, match[start:]...)
}
