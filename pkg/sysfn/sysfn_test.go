// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package sysfn

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/errs"

	"forrst.io/forrst/internal/testcontext"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/extension"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/retrypolicy"
	"forrst.io/forrst/pkg/tracing"
	"forrst.io/forrst/storage"
	"forrst.io/forrst/storage/teststore"
)

type brokenStore struct {
	*teststore.Client
}

func (brokenStore) Get(ctx context.Context, key storage.Key) (storage.Value, error) {
	return nil, errs.New("connection refused")
}

func testProvider(t *testing.T, stores map[string]storage.KeyValueStore) (*Provider, *registry.Functions) {
	functions := registry.NewFunctions()
	extensions := extension.NewRegistry()
	require.NoError(t, extensions.RegisterCore(tracing.New()))
	require.NoError(t, extensions.RegisterCore(retrypolicy.New()))

	provider := New(Capabilities{
		ProtocolName:    "forrst",
		ProtocolVersion: "1.0",
		MaxRequestSize:  1 << 20,
		MaxResponseSize: 10 << 20,
	}, functions, extensions, stores)
	require.NoError(t, provider.Register())
	return provider, functions
}

func call(t *testing.T, functions *registry.Functions, name string, arguments map[string]envelope.Value) envelope.Value {
	desc, err := functions.Resolve(name, "")
	require.NoError(t, err)
	result, err := desc.Handler(context.Background(), &registry.Call{
		Function:  desc.URN,
		Version:   desc.Version.String(),
		Arguments: arguments,
	})
	require.NoError(t, err)
	return result
}

func TestPing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	provider, functions := testProvider(t, nil)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	provider.now = func() time.Time { return now }

	result := call(t, functions, PingFunction.String(), nil)
	pong, _ := result.Member("pong").AsBool()
	assert.True(t, pong)
	serverTime, ok := result.Member("server_time").AsTime()
	require.True(t, ok)
	assert.True(t, serverTime.Equal(now))
	assert.True(t, result.Member("message").IsAbsent())

	result = call(t, functions, PingFunction.String(), map[string]envelope.Value{
		"message": envelope.String("hello"),
	})
	message, _ := result.Member("message").AsString()
	assert.Equal(t, "hello", message)
}

func TestHealth(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, functions := testProvider(t, map[string]storage.KeyValueStore{
		"primary": teststore.New(),
	})

	result := call(t, functions, HealthFunction.String(), nil)
	status, _ := result.Member("status").AsString()
	assert.Equal(t, "ok", status)
	primary, _ := result.Member("stores").Member("primary").AsString()
	assert.Equal(t, "ok", primary)
}

func TestHealthDegraded(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, functions := testProvider(t, map[string]storage.KeyValueStore{
		"primary": teststore.New(),
		"cache":   brokenStore{teststore.New()},
	})

	result := call(t, functions, HealthFunction.String(), nil)
	status, _ := result.Member("status").AsString()
	assert.Equal(t, "degraded", status)
	cache, _ := result.Member("stores").Member("cache").AsString()
	assert.Equal(t, "unreachable", cache)
	primary, _ := result.Member("stores").Member("primary").AsString()
	assert.Equal(t, "ok", primary)
}

func TestCapabilities(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, functions := testProvider(t, nil)

	result := call(t, functions, CapabilitiesFunction.String(), nil)
	name, _ := result.Member("protocol").Member("name").AsString()
	assert.Equal(t, "forrst", name)
	version, _ := result.Member("protocol").Member("version").AsString()
	assert.Equal(t, "1.0", version)
	maxRequest, _ := result.Member("max_request_size").AsInt()
	assert.Equal(t, int64(1<<20), maxRequest)

	extensions, ok := result.Member("extensions").AsList()
	require.True(t, ok)
	require.Len(t, extensions, 2)
	first, _ := extensions[0].AsString()
	assert.Equal(t, tracing.URN.String(), first)
}

func TestDescribe(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, functions := testProvider(t, nil)

	result := call(t, functions, DescribeFunction.String(), nil)
	listed, ok := result.Member("functions").AsList()
	require.True(t, ok)
	require.Len(t, listed, 4, "the four system functions are discoverable")

	byURN := make(map[string]envelope.Value, len(listed))
	for _, desc := range listed {
		u, _ := desc.Member("urn").AsString()
		byURN[u] = desc
	}

	ping := byURN[PingFunction.String()]
	version, _ := ping.Member("version").AsString()
	assert.Equal(t, "1.0.0", version)
	stability, _ := ping.Member("stability").AsString()
	assert.Equal(t, "stable", stability)

	arguments, ok := ping.Member("arguments").AsList()
	require.True(t, ok)
	require.Len(t, arguments, 1)
	argName, _ := arguments[0].Member("name").AsString()
	assert.Equal(t, "message", argName)
	required, _ := arguments[0].Member("required").AsBool()
	assert.False(t, required)
}
