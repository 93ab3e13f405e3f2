// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package retrypolicy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
)

func TestDerive(t *testing.T) {
	guidance := Derive(codes.RateLimited)
	assert.True(t, guidance.Allowed)
	assert.Equal(t, StrategyFixed, guidance.Strategy)
	assert.Equal(t, int64(60), guidance.AfterSec)
	assert.Equal(t, 3, guidance.MaxAttempts)

	guidance = Derive(codes.DeadlineExceeded)
	assert.Equal(t, StrategyImmediate, guidance.Strategy)
	assert.Equal(t, 1, guidance.MaxAttempts)

	guidance = Derive(codes.Unavailable)
	assert.Equal(t, StrategyExponential, guidance.Strategy)
	assert.Equal(t, 5, guidance.MaxAttempts)

	assert.False(t, Derive(codes.InvalidArguments).Allowed)
	assert.False(t, Derive(codes.Forbidden).Allowed)
	assert.True(t, Derive(codes.FunctionDisabled).Allowed)
}

func TestDataOmitsAfterForImmediate(t *testing.T) {
	data := Derive(codes.DeadlineExceeded).Data()
	assert.True(t, data.Member("after").IsAbsent())
	strategy, _ := data.Member("strategy").AsString()
	assert.Equal(t, "immediate", strategy)

	data = Derive(codes.RateLimited).Data()
	after, _ := data.Member("after").Member("value").AsInt()
	assert.Equal(t, int64(60), after)
	unit, _ := data.Member("after").Member("unit").AsString()
	assert.Equal(t, "second", unit)
}

func TestDataDisallowed(t *testing.T) {
	data := Derive(codes.NotFound).Data()
	allowed, _ := data.Member("allowed").AsBool()
	assert.False(t, allowed)
	assert.True(t, data.Member("strategy").IsAbsent())
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := event.NewScope(nil)
	scope.Response.SetError(envelope.ErrorObject{
		Code:    string(codes.RateLimited),
		Message: "slow down",
	})
	require.NoError(t, ext.attach(ctx, scope))

	data, found := scope.Response.Extension(URN.String())
	require.True(t, found)
	allowed, _ := data.Member("allowed").AsBool()
	assert.True(t, allowed)
}

func TestAttachSkipsSuccess(t *testing.T) {
	ctx := context.Background()
	ext := New()

	scope := event.NewScope(nil)
	scope.Response.SetResult(envelope.Bool(true))
	require.NoError(t, ext.attach(ctx, scope))

	_, found := scope.Response.Extension(URN.String())
	assert.False(t, found)
}
