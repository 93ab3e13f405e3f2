// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package cancellation implements cooperative cancellation tokens backed by
// a shared key/value store.
package cancellation

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
	// Error is a cancellation error class.
	Error = errs.Class("cancellation error")

	mon = monkit.Package()
)

// DefaultTTL bounds the lifetime of a token record.
const DefaultTTL = 300 * time.Second

const keyPrefix = "forrst:cancel:"

// Token states persisted in the store.
const (
	stateActive    = "active"
	stateCancelled = "cancelled"
	stateCompleted = "completed"
)

// ErrCancelled is returned by ThrowIfCancelled when the token was
// cancelled.
var ErrCancelled = errs.Class("request cancelled")

// Broker issues and resolves cancellation tokens against the shared store.
type Broker struct {
	store storage.KeyValueStore
	ttl   time.Duration
}

// NewBroker creates a broker with the default token TTL.
func NewBroker(store storage.KeyValueStore) *Broker {
	return &Broker{store: store, ttl: DefaultTTL}
}

// NewBrokerWithTTL creates a broker with a custom token TTL.
func NewBrokerWithTTL(store storage.KeyValueStore, ttl time.Duration) *Broker {
	return &Broker{store: store, ttl: ttl}
}

func key(token string) storage.Key {
	return storage.Key(keyPrefix + token)
}

// Issue creates a new active token.
func (broker *Broker) Issue(ctx context.Context) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	token := uuid.NewString()
	err = broker.store.Put(ctx, key(token), storage.Value(stateActive), broker.ttl)
	if err != nil {
		return "", Error.Wrap(err)
	}
	return token, nil
}

// Cancel transitions a token to cancelled. Cancelling an already cancelled
// token succeeds (idempotent). An unknown or expired token fails with
// CANCELLATION_TOKEN_UNKNOWN; a completed token with CANCELLATION_TOO_LATE.
func (broker *Broker) Cancel(ctx context.Context, token string) (err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := broker.store.Get(ctx, key(token))
	if storage.ErrKeyNotFound.Has(err) {
		return codes.New(codes.CancellationUnknown, "unknown cancellation token %q", token).
			WithDetails(map[string]interface{}{"token": token})
	}
	if err != nil {
		return Error.Wrap(err)
	}

	switch string(state) {
	case stateCancelled:
		return nil
	case stateCompleted:
		return codes.New(codes.CancellationTooLate, "token %q already completed", token).
			WithDetails(map[string]interface{}{"token": token})
	}

	remaining, err := broker.store.TTL(ctx, key(token))
	if err != nil || remaining < 0 {
		remaining = broker.ttl
	}
	err = broker.store.CompareAndSwap(ctx, key(token), state, storage.Value(stateCancelled), remaining)
	if storage.ErrValueChanged.Has(err) || storage.ErrKeyNotFound.Has(err) {
		// lost the race; re-resolve so concurrent cancels stay idempotent
		return broker.Cancel(ctx, token)
	}
	return Error.Wrap(err)
}

// Complete marks a token's operation as finished; later cancels fail with
// CANCELLATION_TOO_LATE. Completing a cancelled token leaves it cancelled.
func (broker *Broker) Complete(ctx context.Context, token string) (err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := broker.store.Get(ctx, key(token))
	if storage.ErrKeyNotFound.Has(err) {
		return nil
	}
	if err != nil {
		return Error.Wrap(err)
	}
	if string(state) != stateActive {
		return nil
	}

	err = broker.store.CompareAndSwap(ctx, key(token), state, storage.Value(stateCompleted), broker.ttl)
	if storage.ErrValueChanged.Has(err) || storage.ErrKeyNotFound.Has(err) {
		return nil
	}
	return Error.Wrap(err)
}

// IsCancelled reports whether the token was cancelled. Unknown tokens
// report false.
func (broker *Broker) IsCancelled(ctx context.Context, token string) (_ bool, err error) {
	defer mon.Task()(&ctx)(&err)

	state, err := broker.store.Get(ctx, key(token))
	if storage.ErrKeyNotFound.Has(err) {
		return false, nil
	}
	if err != nil {
		return false, Error.Wrap(err)
	}
	return string(state) == stateCancelled, nil
}

// ThrowIfCancelled fails with ErrCancelled when the token was cancelled.
// User code calls this at safe points.
func (broker *Broker) ThrowIfCancelled(ctx context.Context, token string) error {
	cancelled, err := broker.IsCancelled(ctx, token)
	if err != nil {
		return err
	}
	if cancelled {
		return codes.Wrap(codes.Gone, ErrCancelled.New("token %s", token))
	}
	return nil
}

// Checker binds a token to the broker for injection into function calls.
func (broker *Broker) Checker(token string) *Checker {
	return &Checker{broker: broker, token: token}
}

// Checker implements registry.CancelChecker for one token.
type Checker struct {
	broker *Broker
	token  string
}

// Token returns the bound token.
func (c *Checker) Token() string { return c.token }

// IsCancelled implements registry.CancelChecker.
func (c *Checker) IsCancelled(ctx context.Context) (bool, error) {
	return c.broker.IsCancelled(ctx, c.token)
}

// ThrowIfCancelled implements registry.CancelChecker.
func (c *Checker) ThrowIfCancelled(ctx context.Context) error {
	return c.broker.ThrowIfCancelled(ctx, c.token)
}
