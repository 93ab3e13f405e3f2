// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package registry

import (
	"context"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/urn"
)

func noop(ctx context.Context, call *Call) (envelope.Value, error) {
	return envelope.Null(), nil
}

func descriptor(u string, v string) *Descriptor {
	return &Descriptor{
		URN:     urn.MustParse(u),
		Version: semver.MustParse(v),
		Handler: noop,
	}
}

func TestRegister(t *testing.T) {
	functions := NewFunctions()

	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")))
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.1.0")))

	err := functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.1.0"))
	require.Error(t, err, "duplicate (urn, version) must fail")

	err = functions.Register(descriptor("urn:cline:forrst:fn:sneaky", "1.0.0"))
	require.Error(t, err)
	require.True(t, urn.ErrReserved.Has(err), "reserved vendor must be refused for non-core registration")

	require.NoError(t, functions.RegisterCore(descriptor("urn:cline:forrst:fn:ping", "1.0.0")))

	err = functions.Register(descriptor("urn:acme:forrst:ext:tracing", "1.0.0"))
	require.Error(t, err, "extension urns are not registrable functions")

	both := descriptor("urn:acme:forrst:fn:orders:delete", "1.0.0")
	both.Extensions.Supported = []urn.URN{urn.MustParse("urn:cline:forrst:ext:tracing")}
	both.Extensions.Excluded = []urn.URN{urn.MustParse("urn:cline:forrst:ext:quota")}
	require.Error(t, functions.Register(both), "supported and excluded are mutually exclusive")
}

func TestResolveDefault(t *testing.T) {
	functions := NewFunctions()
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")))
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.4.2")))
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "2.0.0-beta.1")))

	// no requested version: highest non-prerelease wins
	desc, err := functions.Resolve("urn:acme:forrst:fn:orders:create", "")
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", desc.Version.String())

	// prereleases are reachable only by exact request
	desc, err = functions.Resolve("urn:acme:forrst:fn:orders:create", "2.0.0-beta.1")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-beta.1", desc.Version.String())
}

func TestResolveDottedName(t *testing.T) {
	functions := NewFunctions()
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")))

	desc, err := functions.Resolve("orders.create", "")
	require.NoError(t, err)
	assert.Equal(t, urn.URN("urn:acme:forrst:fn:orders:create"), desc.URN)
}

func TestResolveErrors(t *testing.T) {
	functions := NewFunctions()
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")))

	_, err := functions.Resolve("urn:acme:forrst:fn:missing:fn", "")
	require.Equal(t, codes.FunctionNotFound, codes.CodeOf(err))

	_, err = functions.Resolve("orders.missing", "")
	require.Equal(t, codes.FunctionNotFound, codes.CodeOf(err))

	_, err = functions.Resolve("urn:acme:forrst:fn:orders:create", "9.9.9")
	require.Equal(t, codes.VersionNotFound, codes.CodeOf(err))
	details := codes.DetailsOf(err)
	require.NotNil(t, details)
	assert.Equal(t, "9.9.9", details["requested_version"])
	assert.Equal(t, []string{"1.0.0"}, details["available_versions"])

	_, err = functions.Resolve("urn:acme:forrst:fn:orders:create", "not-a-version")
	require.Equal(t, codes.VersionNotFound, codes.CodeOf(err))
}

func TestResolveDisabled(t *testing.T) {
	functions := NewFunctions()
	disabled := descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")
	disabled.Disabled = true
	require.NoError(t, functions.Register(disabled))

	_, err := functions.Resolve("urn:acme:forrst:fn:orders:create", "")
	require.Equal(t, codes.FunctionDisabled, codes.CodeOf(err))
}

func TestResolveOnlyPrereleases(t *testing.T) {
	functions := NewFunctions()
	require.NoError(t, functions.Register(descriptor("urn:acme:forrst:fn:orders:create", "1.0.0-alpha.1")))

	_, err := functions.Resolve("urn:acme:forrst:fn:orders:create", "")
	require.Equal(t, codes.VersionNotFound, codes.CodeOf(err))
}

func TestDescribe(t *testing.T) {
	functions := NewFunctions()

	visible := descriptor("urn:acme:forrst:fn:orders:create", "1.0.0")
	visible.Discoverable = true
	require.NoError(t, functions.Register(visible))

	hidden := descriptor("urn:acme:forrst:fn:orders:audit", "1.0.0")
	require.NoError(t, functions.Register(hidden))

	described := functions.Describe()
	require.Len(t, described, 1)
	assert.Equal(t, urn.URN("urn:acme:forrst:fn:orders:create"), described[0].URN)
	assert.Len(t, functions.All(), 2)
}
