// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package lock implements atomic advisory locks on shared resources,
// backed by compare-and-swap on the key/value store.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/storage"
)

var (
	// Error is a lock error class.
	Error = errs.Class("lock error")

	mon = monkit.Package()
)

// DefaultTTL bounds a lock's lifetime when the caller does not choose one.
const DefaultTTL = 30 * time.Second

const keyPrefix = "forrst_lock:"

// Status describes a held lock.
type Status struct {
	Key        string
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time

	// TTLRemaining is the store-reported time to eviction, -1 when the
	// store does not expire the key.
	TTLRemaining time.Duration
}

// Manager acquires and releases locks against the shared store.
type Manager struct {
	store storage.KeyValueStore

	// now is the clock for timestamps; replaceable in tests.
	now func() time.Time
}

// NewManager creates a lock manager over the store.
func NewManager(store storage.KeyValueStore) *Manager {
	return &Manager{store: store, now: time.Now}
}

func lockKey(domain, resource string) storage.Key {
	return storage.Key(keyPrefix + domain + ":" + resource)
}

func metaKey(domain, resource, field string) storage.Key {
	return storage.Key(keyPrefix + domain + ":" + resource + ":meta:" + field)
}

// Acquire takes the lock on (domain, resource) for ttl and returns the
// owner token needed to release it. A held lock fails with CONFLICT.
func (m *Manager) Acquire(ctx context.Context, domain, resource string, ttl time.Duration) (_ *Status, err error) {
	defer mon.Task()(&ctx)(&err)

	if domain == "" || resource == "" {
		return nil, Error.New("domain and resource are required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	owner := uuid.NewString()
	now := m.now().UTC()
	expires := now.Add(ttl)

	// nil old value: create only when absent
	err = m.store.CompareAndSwap(ctx, lockKey(domain, resource), nil, storage.Value(owner), ttl)
	if storage.ErrValueChanged.Has(err) {
		holder, getErr := m.store.Get(ctx, lockKey(domain, resource))
		details := map[string]interface{}{"key": string(lockKey(domain, resource))}
		if getErr == nil {
			details["held_by"] = string(holder)
		}
		return nil, codes.New(codes.Conflict, "lock %q is held", lockKey(domain, resource)).
			WithDetails(details)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	meta := map[string]string{
		"owner":       owner,
		"acquired_at": now.Format(time.RFC3339Nano),
		"expires_at":  expires.Format(time.RFC3339Nano),
	}
	for field, value := range meta {
		if err := m.store.Put(ctx, metaKey(domain, resource, field), storage.Value(value), ttl); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	return &Status{
		Key:        string(lockKey(domain, resource)),
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  expires,
	}, nil
}

// Release frees the lock when owner matches the holder. A missing lock
// fails with LOCK_NOT_FOUND, a foreign one with LOCK_OWNERSHIP_MISMATCH.
func (m *Manager) Release(ctx context.Context, domain, resource, owner string) (err error) {
	defer mon.Task()(&ctx)(&err)

	holder, err := m.store.Get(ctx, lockKey(domain, resource))
	if storage.ErrKeyNotFound.Has(err) {
		return codes.New(codes.LockNotFound, "lock %q is not held", lockKey(domain, resource)).
			WithDetails(map[string]interface{}{"key": string(lockKey(domain, resource))})
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if string(holder) != owner {
		return codes.New(codes.LockOwnershipMismatch, "lock %q is held by another owner", lockKey(domain, resource)).
			WithDetails(map[string]interface{}{"key": string(lockKey(domain, resource))})
	}

	// nil new value: delete only while still ours
	err = m.store.CompareAndSwap(ctx, lockKey(domain, resource), holder, nil, storage.TTLNone)
	if storage.ErrValueChanged.Has(err) || storage.ErrKeyNotFound.Has(err) {
		return codes.New(codes.LockOwnershipMismatch, "lock %q changed hands during release", lockKey(domain, resource)).
			WithDetails(map[string]interface{}{"key": string(lockKey(domain, resource))})
	}
	if err != nil {
		return Error.Wrap(err)
	}
	return m.purgeMeta(ctx, domain, resource)
}

// ForceRelease frees the lock regardless of ownership. Operator use only.
func (m *Manager) ForceRelease(ctx context.Context, domain, resource string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = m.store.Get(ctx, lockKey(domain, resource))
	if storage.ErrKeyNotFound.Has(err) {
		return codes.New(codes.LockNotFound, "lock %q is not held", lockKey(domain, resource)).
			WithDetails(map[string]interface{}{"key": string(lockKey(domain, resource))})
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if err := m.store.Delete(ctx, lockKey(domain, resource)); err != nil && !storage.ErrKeyNotFound.Has(err) {
		return Error.Wrap(err)
	}
	return m.purgeMeta(ctx, domain, resource)
}

// Status reports the holder of a lock, or nil when not held.
func (m *Manager) Status(ctx context.Context, domain, resource string) (_ *Status, err error) {
	defer mon.Task()(&ctx)(&err)

	holder, err := m.store.Get(ctx, lockKey(domain, resource))
	if storage.ErrKeyNotFound.Has(err) {
		return nil, nil
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	status := &Status{
		Key:   string(lockKey(domain, resource)),
		Owner: string(holder),
	}
	if raw, err := m.store.Get(ctx, metaKey(domain, resource, "acquired_at")); err == nil {
		status.AcquiredAt, _ = time.Parse(time.RFC3339Nano, string(raw))
	}
	if raw, err := m.store.Get(ctx, metaKey(domain, resource, "expires_at")); err == nil {
		status.ExpiresAt, _ = time.Parse(time.RFC3339Nano, string(raw))
	}
	if remaining, err := m.store.TTL(ctx, lockKey(domain, resource)); err == nil {
		status.TTLRemaining = remaining
	}
	return status, nil
}

func (m *Manager) purgeMeta(ctx context.Context, domain, resource string) error {
	var group errs.Group
	for _, field := range []string{"owner", "acquired_at", "expires_at"} {
		err := m.store.Delete(ctx, metaKey(domain, resource, field))
		if err != nil && !storage.ErrKeyNotFound.Has(err) {
			group.Add(err)
		}
	}
	return Error.Wrap(group.Err())
}
