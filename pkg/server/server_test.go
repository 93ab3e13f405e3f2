// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"forrst.io/forrst/internal/testcontext"
	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/extension"
	"forrst.io/forrst/pkg/pipeline"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/urn"
)

func testServer(t *testing.T, config Config) *Server {
	functions := registry.NewFunctions()
	require.NoError(t, functions.Register(&registry.Descriptor{
		URN:     urn.MustParse("urn:acme:forrst:fn:echo:say"),
		Version: semver.MustParse("1.0.0"),
		Arguments: []registry.ArgumentSpec{
			{Name: "message", Type: "string", Required: true},
		},
		Handler: func(ctx context.Context, call *registry.Call) (envelope.Value, error) {
			message, _ := call.Argument("message").AsString()
			if message == "explode" {
				return envelope.Value{}, codes.New(codes.NotFound, "nothing to say")
			}
			return envelope.Object(map[string]envelope.Value{
				"echo": envelope.String(message),
			}), nil
		},
	}))

	p, err := pipeline.New(zaptest.NewLogger(t), pipeline.Config{}, functions, extension.NewRegistry(), pipeline.Options{})
	require.NoError(t, err)
	return New(zaptest.NewLogger(t), config, p)
}

func post(t *testing.T, server *Server, contentType, body string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, request)
	return recorder
}

func TestServeSuccess(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{})
	recorder := post(t, server, "application/json", `{
		"id": "req-1",
		"call": {"function": "echo.say", "arguments": {"message": "hello"}}
	}`)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	response, err := envelope.ParseResponse(recorder.Body.Bytes())
	require.NoError(t, err)
	require.True(t, response.Success())
	echo, _ := response.Result.Member("echo").AsString()
	assert.Equal(t, "hello", echo)
	require.NotNil(t, response.ID)
	assert.Equal(t, "req-1", *response.ID)
}

func TestServeErrorStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{})
	recorder := post(t, server, "application/json", `{
		"call": {"function": "echo.say", "arguments": {"message": "explode"}}
	}`)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	response, err := envelope.ParseResponse(recorder.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, string(codes.NotFound), response.Errors[0].Code)
}

func TestServeMultipleErrorStatus(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{})

	// two INVALID_ARGUMENTS violations map to one consistent status
	recorder := post(t, server, "application/json", `{
		"call": {"function": "echo.say", "arguments": {"extra": 1}}
	}`)
	assert.Equal(t, codes.InvalidArguments.HTTPStatus(), recorder.Code)

	response, err := envelope.ParseResponse(recorder.Body.Bytes())
	require.NoError(t, err)
	assert.Len(t, response.Errors, 2)
}

func TestServeMethodNotAllowed(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{})
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
	assert.Equal(t, http.MethodPost, recorder.Header().Get("Allow"))
}

func TestServeUnsupportedMediaType(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{})
	recorder := post(t, server, "text/plain", `{}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, recorder.Code)

	// charset parameters are accepted
	recorder = post(t, server, "application/json; charset=utf-8", `{
		"call": {"function": "echo.say", "arguments": {"message": "hi"}}
	}`)
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestServeOversizeRequest(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{MaxRequestSize: 64})
	recorder := post(t, server, "application/json", `{
		"call": {"function": "echo.say", "arguments": {"message": "`+strings.Repeat("x", 128)+`"}}
	}`)

	response, err := envelope.ParseResponse(recorder.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, string(codes.InvalidRequest), response.Errors[0].Code)
	limit, _ := response.Errors[0].Details["max_request_size"].AsInt()
	assert.Equal(t, int64(64), limit)
}

func TestServeOversizeResponse(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	server := testServer(t, Config{MaxResponseSize: 32})
	recorder := post(t, server, "application/json", `{
		"call": {"function": "echo.say", "arguments": {"message": "hello"}}
	}`)
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)

	response, err := envelope.ParseResponse(recorder.Body.Bytes())
	require.NoError(t, err)
	require.Len(t, response.Errors, 1)
	assert.Equal(t, string(codes.InternalError), response.Errors[0].Code)
}
