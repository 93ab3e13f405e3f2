// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package boltdb

import (
	"bytes"
	"context"
	"time"

	"github.com/boltdb/bolt"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/storage"
)

var (
	// Error is a boltdb error class.
	Error = errs.Class("boltdb error")

	mon = monkit.Package()
)

// Client is the entrypoint into a bolt data store.
type Client struct {
	db     *bolt.DB
	Path   string
	Bucket []byte

	// now is the clock used for TTL eviction; replaceable in tests.
	now func() time.Time
}

const (
	// fileMode sets permissions on the bolt database file.
	fileMode       = 0600
	maxKeyLookup   = 100
	defaultTimeout = 1 * time.Second
)

var expiresBucketSuffix = []byte("!expires")

// New instantiates a new client with the given db file path and bucket name.
func New(path, bucket string) (*Client, error) {
	db, err := bolt.Open(path, fileMode, &bolt.Options{Timeout: defaultTimeout})
	if err != nil {
		return nil, Error.Wrap(err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(append([]byte(bucket), expiresBucketSuffix...))
		return err
	})
	if err != nil {
		return nil, errs.Combine(Error.Wrap(err), Error.Wrap(db.Close()))
	}

	return &Client{
		db:     db,
		Path:   path,
		Bucket: []byte(bucket),
		now:    time.Now,
	}, nil
}

func (client *Client) values(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(client.Bucket)
}

func (client *Client) expires(tx *bolt.Tx) *bolt.Bucket {
	return tx.Bucket(append(client.Bucket, expiresBucketSuffix...))
}

// expired reports whether key has an expiry in the past.
func (client *Client) expired(tx *bolt.Tx, key storage.Key) bool {
	raw := client.expires(tx).Get([]byte(key))
	if raw == nil {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return false
	}
	return !client.now().Before(expiresAt)
}

// evict removes key and its expiry entry. Must be called in an Update tx.
func (client *Client) evict(tx *bolt.Tx, key storage.Key) error {
	if err := client.values(tx).Delete([]byte(key)); err != nil {
		return err
	}
	return client.expires(tx).Delete([]byte(key))
}

func (client *Client) setExpiry(tx *bolt.Tx, key storage.Key, ttl time.Duration) error {
	if ttl <= 0 {
		return client.expires(tx).Delete([]byte(key))
	}
	expiresAt := client.now().Add(ttl).Format(time.RFC3339Nano)
	return client.expires(tx).Put([]byte(key), []byte(expiresAt))
}

// Put adds a key/value to boltdb in a batch.
func (client *Client) Put(ctx context.Context, key storage.Key, value storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		if err := client.values(tx).Put([]byte(key), []byte(value)); err != nil {
			return err
		}
		return client.setExpiry(tx, key, ttl)
	}))
}

// Get looks up the provided key from boltdb, returning either an error or the
// result.
func (client *Client) Get(ctx context.Context, key storage.Key) (_ storage.Value, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return nil, storage.ErrEmptyKey.New("")
	}

	var value storage.Value
	err = client.db.Update(func(tx *bolt.Tx) error {
		if client.expired(tx, key) {
			if err := client.evict(tx, key); err != nil {
				return err
			}
			return storage.ErrKeyNotFound.New("%q", key)
		}
		data := client.values(tx).Get([]byte(key))
		if data == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		value = storage.CloneValue(storage.Value(data))
		return nil
	})
	if storage.ErrKeyNotFound.Has(err) {
		return nil, err
	}
	return value, Error.Wrap(err)
}

// Delete deletes a key/value pair from boltdb.
func (client *Client) Delete(ctx context.Context, key storage.Key) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	return Error.Wrap(client.db.Update(func(tx *bolt.Tx) error {
		return client.evict(tx, key)
	}))
}

// CompareAndSwap atomically compares and swaps the value of key inside a
// single bolt transaction.
func (client *Client) CompareAndSwap(ctx context.Context, key storage.Key, oldValue, newValue storage.Value, ttl time.Duration) (err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return storage.ErrEmptyKey.New("")
	}

	err = client.db.Update(func(tx *bolt.Tx) error {
		data := client.values(tx).Get([]byte(key))
		if data != nil && client.expired(tx, key) {
			if err := client.evict(tx, key); err != nil {
				return err
			}
			data = nil
		}

		if oldValue == nil {
			if data != nil {
				return storage.ErrValueChanged.New("%q", key)
			}
		} else {
			if data == nil {
				return storage.ErrKeyNotFound.New("%q", key)
			}
			if !bytes.Equal(data, oldValue) {
				return storage.ErrValueChanged.New("%q", key)
			}
		}

		if newValue == nil {
			return client.evict(tx, key)
		}
		if err := client.values(tx).Put([]byte(key), []byte(newValue)); err != nil {
			return err
		}
		return client.setExpiry(tx, key, ttl)
	})
	if storage.ErrValueChanged.Has(err) || storage.ErrKeyNotFound.Has(err) {
		return err
	}
	return Error.Wrap(err)
}

// List returns up to limit keys starting with prefix, sorted.
func (client *Client) List(ctx context.Context, prefix storage.Key, limit int) (_ storage.Keys, err error) {
	defer mon.Task()(&ctx)(&err)

	var keys storage.Keys
	err = client.db.Update(func(tx *bolt.Tx) error {
		cursor := client.values(tx).Cursor()
		var expired []storage.Key
		for k, _ := cursor.Seek([]byte(prefix)); k != nil; k, _ = cursor.Next() {
			if !bytes.HasPrefix(k, []byte(prefix)) {
				break
			}
			key := storage.Key(k)
			if client.expired(tx, key) {
				expired = append(expired, key)
				continue
			}
			keys = append(keys, key)
			if limit > 0 && len(keys) >= limit {
				break
			}
		}
		for _, key := range expired {
			if err := client.evict(tx, key); err != nil {
				return err
			}
		}
		return nil
	})
	return keys, Error.Wrap(err)
}

// TTL returns the remaining time to live of key.
func (client *Client) TTL(ctx context.Context, key storage.Key) (_ time.Duration, err error) {
	defer mon.Task()(&ctx)(&err)
	if key.IsZero() {
		return 0, storage.ErrEmptyKey.New("")
	}

	var ttl time.Duration
	err = client.db.Update(func(tx *bolt.Tx) error {
		if client.expired(tx, key) {
			if err := client.evict(tx, key); err != nil {
				return err
			}
			return storage.ErrKeyNotFound.New("%q", key)
		}
		if client.values(tx).Get([]byte(key)) == nil {
			return storage.ErrKeyNotFound.New("%q", key)
		}
		raw := client.expires(tx).Get([]byte(key))
		if raw == nil {
			ttl = -1
			return nil
		}
		expiresAt, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return err
		}
		ttl = expiresAt.Sub(client.now())
		return nil
	})
	if storage.ErrKeyNotFound.Has(err) {
		return 0, err
	}
	return ttl, Error.Wrap(err)
}

// Close closes a boltdb client.
func (client *Client) Close() error {
	return Error.Wrap(client.db.Close())
}
