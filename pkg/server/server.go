// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package server exposes the pipeline over HTTP: a single POST endpoint
// accepting request envelopes and returning response envelopes with the
// canonical status mapping.
package server

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/pipeline"
)

var (
	// Error is a server error class.
	Error = errs.Class("server error")

	mon = monkit.Package()
)

// Config holds the transport's address and size caps.
type Config struct {
	Address         string        `help:"address to listen on" default:":7834"`
	MaxRequestSize  int64         `help:"maximum accepted request body size" default:"1048576"`
	MaxResponseSize int64         `help:"maximum emitted response body size" default:"10485760"`
	ShutdownTimeout time.Duration `help:"grace period for in-flight requests on shutdown" default:"10s"`
}

func (c Config) withDefaults() Config {
	if c.Address == "" {
		c.Address = ":7834"
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = 1 << 20
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = 10 << 20
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Server serves request envelopes over HTTP.
type Server struct {
	log      *zap.Logger
	config   Config
	pipeline *pipeline.Pipeline
	http     http.Server
}

// New creates a server around a pipeline.
func New(log *zap.Logger, config Config, p *pipeline.Pipeline) *Server {
	server := &Server{
		log:      log,
		config:   config.withDefaults(),
		pipeline: p,
	}
	server.http = http.Server{
		Addr:    server.config.Address,
		Handler: server,
	}
	return server
}

// Run listens until the context is cancelled, then drains in-flight
// requests within the shutdown grace period.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	listener, err := net.Listen("tcp", server.config.Address)
	if err != nil {
		return Error.Wrap(err)
	}
	server.log.Info("listening", zap.String("address", listener.Addr().String()))

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), server.config.ShutdownTimeout)
		defer shutdownCancel()
		return Error.Wrap(server.http.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		err := server.http.Serve(listener)
		if err == http.ErrServerClosed {
			return nil
		}
		return Error.Wrap(err)
	})
	return group.Wait()
}

// Addr returns the configured listen address.
func (server *Server) Addr() string { return server.config.Address }

// ServeHTTP implements http.Handler.
func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, server.config.MaxRequestSize+1))
	if err != nil {
		http.Error(w, "reading request failed", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > server.config.MaxRequestSize {
		server.write(w, oversizeResponse(server.config.MaxRequestSize))
		return
	}

	server.write(w, server.pipeline.Handle(ctx, body))
}

func (server *Server) write(w http.ResponseWriter, response *envelope.Response) {
	data, err := envelope.Serialize(response)
	if err != nil {
		server.log.Error("serializing response failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) > server.config.MaxResponseSize {
		server.log.Error("response over the size cap",
			zap.Int("size", len(data)),
			zap.Int64("cap", server.config.MaxResponseSize))
		replaced := &envelope.Response{Protocol: response.Protocol, ID: response.ID}
		replaced.SetError(envelope.ErrorObject{
			Code:    string(codes.InternalError),
			Message: "response exceeds the size cap",
		})
		data, err = envelope.Serialize(replaced)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		response = replaced
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOf(response))
	if _, err := w.Write(data); err != nil {
		server.log.Debug("writing response failed", zap.Error(err))
	}
}

// statusOf maps a response to its HTTP status: 200 on success, the single
// error's canonical status, or 400 when multiple errors disagree.
func statusOf(response *envelope.Response) int {
	if response.Success() {
		return http.StatusOK
	}
	status := codes.Code(response.Errors[0].Code).HTTPStatus()
	for _, errObject := range response.Errors[1:] {
		if codes.Code(errObject.Code).HTTPStatus() != status {
			return http.StatusBadRequest
		}
	}
	return status
}

func oversizeResponse(limit int64) *envelope.Response {
	response := &envelope.Response{}
	response.SetError(envelope.ErrorObject{
		Code:    string(codes.InvalidRequest),
		Message: "request exceeds the size cap",
		Details: map[string]envelope.Value{
			"max_request_size": envelope.Int(limit),
		},
	})
	return response
}
