// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/internal/testcontext"
	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/storage/teststore"
)

func TestAcquireRelease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := NewManager(teststore.New())

	status, err := manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, status.Owner)
	assert.Equal(t, "forrst_lock:billing:invoice-42", status.Key)
	assert.True(t, status.ExpiresAt.After(status.AcquiredAt))

	// the same resource cannot be locked twice
	_, err = manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.Equal(t, codes.Conflict, codes.CodeOf(err))

	// a different resource in the same domain is independent
	_, err = manager.Acquire(ctx, "billing", "invoice-43", time.Minute)
	require.NoError(t, err)

	require.NoError(t, manager.Release(ctx, "billing", "invoice-42", status.Owner))

	// released locks are acquirable again
	_, err = manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)
}

func TestReleaseErrors(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := NewManager(teststore.New())

	err := manager.Release(ctx, "billing", "invoice-42", "nobody")
	require.Equal(t, codes.LockNotFound, codes.CodeOf(err))

	status, err := manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)

	err = manager.Release(ctx, "billing", "invoice-42", "wrong-owner")
	require.Equal(t, codes.LockOwnershipMismatch, codes.CodeOf(err))

	// the failed release left the lock in place
	held, err := manager.Status(ctx, "billing", "invoice-42")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, status.Owner, held.Owner)
}

func TestForceRelease(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := NewManager(teststore.New())

	err := manager.ForceRelease(ctx, "billing", "invoice-42")
	require.Equal(t, codes.LockNotFound, codes.CodeOf(err))

	_, err = manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)

	require.NoError(t, manager.ForceRelease(ctx, "billing", "invoice-42"))

	status, err := manager.Status(ctx, "billing", "invoice-42")
	require.NoError(t, err)
	assert.Nil(t, status)
}

func TestTTLEviction(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store := teststore.New()
	now := time.Now()
	store.Now = func() time.Time { return now }

	manager := NewManager(store)
	_, err := manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	// the expired lock is gone and acquirable by the next caller
	status, err := manager.Status(ctx, "billing", "invoice-42")
	require.NoError(t, err)
	assert.Nil(t, status)
	_, err = manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)
}

func TestSystemFunctions(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	manager := NewManager(teststore.New())
	ext := NewExtension(manager)

	byURN := make(map[string]*registry.Descriptor)
	for _, desc := range ext.Functions() {
		byURN[desc.URN.String()] = desc
	}
	require.Len(t, byURN, 3)

	status, err := manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)

	args := func(owner string) map[string]envelope.Value {
		members := map[string]envelope.Value{
			"domain":   envelope.String("billing"),
			"resource": envelope.String("invoice-42"),
		}
		if owner != "" {
			members["owner"] = envelope.String(owner)
		}
		return members
	}

	result, err := byURN[StatusFunction.String()].Handler(ctx, &registry.Call{Arguments: args("")})
	require.NoError(t, err)
	locked, _ := result.Member("locked").AsBool()
	assert.True(t, locked)
	owner, _ := result.Member("owner").AsString()
	assert.Equal(t, status.Owner, owner)

	_, err = byURN[ReleaseFunction.String()].Handler(ctx, &registry.Call{Arguments: args("wrong")})
	require.Equal(t, codes.LockOwnershipMismatch, codes.CodeOf(err))

	result, err = byURN[ReleaseFunction.String()].Handler(ctx, &registry.Call{Arguments: args(status.Owner)})
	require.NoError(t, err)
	released, _ := result.Member("released").AsBool()
	assert.True(t, released)

	result, err = byURN[StatusFunction.String()].Handler(ctx, &registry.Call{Arguments: args("")})
	require.NoError(t, err)
	locked, _ = result.Member("locked").AsBool()
	assert.False(t, locked)

	// force release requires a held lock
	_, err = byURN[ForceReleaseFunction.String()].Handler(ctx, &registry.Call{Arguments: args("")})
	require.Equal(t, codes.LockNotFound, codes.CodeOf(err))

	_, err = manager.Acquire(ctx, "billing", "invoice-42", time.Minute)
	require.NoError(t, err)
	result, err = byURN[ForceReleaseFunction.String()].Handler(ctx, &registry.Call{Arguments: args("")})
	require.NoError(t, err)
	forced, _ := result.Member("forced").AsBool()
	assert.True(t, forced)
}

func TestArgumentValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	ext := NewExtension(NewManager(teststore.New()))
	for _, desc := range ext.Functions() {
		_, err := desc.Handler(ctx, &registry.Call{Arguments: nil})
		require.Equal(t, codes.InvalidArguments, codes.CodeOf(err), desc.URN)
	}
}
