// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package pipeline orchestrates the request lifecycle: parse, protocol
// check, maintenance gate, resolution, extension selection, validation,
// invocation and response enrichment.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/pkg/cancellation"
	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/event"
	"forrst.io/forrst/pkg/extension"
	"forrst.io/forrst/pkg/maintenance"
	"forrst.io/forrst/pkg/registry"
	"forrst.io/forrst/pkg/tracing"
)

var (
	// Error is a pipeline error class.
	Error = errs.Class("pipeline error")

	mon = monkit.Package()
)

// Config holds the pipeline's protocol identity and limits.
type Config struct {
	ProtocolName    string        `help:"protocol name emitted in response envelopes" default:"forrst"`
	ProtocolVersion string        `help:"protocol version emitted in response envelopes" default:"1.0"`
	MaxRequestSize  int           `help:"maximum accepted request document size" default:"1048576"`
	Deadline        time.Duration `help:"wall-clock budget per request" default:"30s"`
}

// withDefaults fills zero members.
func (c Config) withDefaults() Config {
	if c.ProtocolName == "" {
		c.ProtocolName = "forrst"
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = "1.0"
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = envelope.DefaultMaxRequestSize
	}
	if c.Deadline == 0 {
		c.Deadline = 30 * time.Second
	}
	return c
}

// ErrorMapper translates handler errors that carry no taxonomy code. It runs
// before the fallback INTERNAL_ERROR mapping.
type ErrorMapper func(err error) error

// Options are the pipeline's optional collaborators.
type Options struct {
	// Validator checks arguments; defaults to SpecValidator.
	Validator Validator
	// Maintenance gates requests; nil disables the gate.
	Maintenance maintenance.Store
	// Cancellation injects cooperative cancel checkers; nil disables them.
	Cancellation *cancellation.Broker
	// ErrorMapper translates uncoded handler errors.
	ErrorMapper ErrorMapper
}

// Pipeline serves parsed-to-serialized request lifecycles. It is built once
// at boot and is safe for concurrent use.
type Pipeline struct {
	log        *zap.Logger
	config     Config
	functions  *registry.Functions
	extensions *extension.Registry
	bus        *event.Bus
	opts       Options
}

// New creates a pipeline, sealing the extension event bus.
func New(log *zap.Logger, config Config, functions *registry.Functions, extensions *extension.Registry, opts Options) (*Pipeline, error) {
	bus, err := extensions.Bus(log)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if opts.Validator == nil {
		opts.Validator = SpecValidator{}
	}
	return &Pipeline{
		log:        log,
		config:     config.withDefaults(),
		functions:  functions,
		extensions: extensions,
		bus:        bus,
		opts:       opts,
	}, nil
}

// Handle serves one raw request document and always produces a response
// envelope; errors become error envelopes, never Go errors.
func (p *Pipeline) Handle(ctx context.Context, raw []byte) (response *envelope.Response) {
	var err error
	defer mon.Task()(&ctx)(&err)

	scope := event.NewScope(raw)
	scope.Active = p.extensions.Globals()
	scope.Deadline = time.Now().Add(p.config.Deadline)
	scope.Response.Protocol = envelope.Protocol{
		Name:    p.config.ProtocolName,
		Version: p.config.ProtocolVersion,
	}

	if err := p.bus.Fire(ctx, event.RequestReceived, scope); err != nil {
		return p.fail(ctx, scope, err)
	}

	request, err := envelope.ParseWithLimit(raw, p.config.MaxRequestSize)
	if err != nil {
		return p.fail(ctx, scope, err)
	}
	scope.Request = request
	if request.ID != "" {
		id := request.ID
		scope.Response.ID = &id
	}

	if err := p.checkProtocol(request.Protocol); err != nil {
		return p.fail(ctx, scope, err)
	}
	if err := p.bus.Fire(ctx, event.RequestParsed, scope); err != nil {
		return p.fail(ctx, scope, err)
	}

	if window, err := p.serverWindow(ctx); err != nil {
		return p.fail(ctx, scope, err)
	} else if window != nil {
		scope.Response.AddExtension(maintenance.URN.String(), window.Data())
		return p.fail(ctx, scope, codes.New(codes.ServerMaintenance, "server is under maintenance: %s", window.Reason))
	}

	fn, err := p.functions.Resolve(request.Call.Function, request.Call.Version)
	if err != nil {
		return p.fail(ctx, scope, err)
	}
	scope.Function = fn

	if window, err := p.functionWindow(ctx, fn); err != nil {
		return p.fail(ctx, scope, err)
	} else if window != nil {
		scope.Response.AddExtension(maintenance.URN.String(), window.Data())
		return p.fail(ctx, scope, codes.New(codes.FunctionMaintenance, "function %q is under maintenance: %s", fn.URN, window.Reason))
	}

	active, err := p.extensions.ActiveSet(fn, request.Extensions)
	if err != nil {
		return p.fail(ctx, scope, err)
	}
	scope.Active = active

	if err := p.bus.Fire(ctx, event.RequestValidated, scope); err != nil {
		return p.fail(ctx, scope, err)
	}
	if scope.Responded() {
		return p.finish(ctx, scope)
	}

	if violations := p.opts.Validator.Validate(ctx, fn, request.Call.Arguments); len(violations) > 0 {
		objects := make([]envelope.ErrorObject, len(violations))
		for i, violation := range violations {
			objects[i] = envelope.ErrorObject{
				Code:    string(codes.InvalidArguments),
				Message: violation.Message,
				Source:  &envelope.ErrorSource{Pointer: violation.Pointer},
			}
		}
		scope.Response.SetErrors(objects)
		return p.finish(ctx, scope)
	}

	scope.Started = time.Now()
	if err := p.bus.Fire(ctx, event.ExecutingFunction, scope); err != nil {
		return p.fail(ctx, scope, err)
	}

	result, err := p.invoke(ctx, scope, fn)
	if err != nil {
		scope.Response.SetErrors(p.errorObjects(err))
	} else {
		scope.Response.SetResult(result)
	}

	if fn.Deprecated != nil {
		scope.Response.SetMeta("deprecation", deprecationMeta(fn.Deprecated))
	}
	return p.finish(ctx, scope)
}

// checkProtocol rejects requests whose protocol major version is not
// served. Requests without a protocol member are served at the default.
func (p *Pipeline) checkProtocol(proto envelope.Protocol) error {
	if proto.Name == "" && proto.Version == "" {
		return nil
	}
	if proto.Name != "" && proto.Name != p.config.ProtocolName {
		return codes.New(codes.InvalidProtocolVersion, "unknown protocol %q", proto.Name).
			WithDetails(map[string]interface{}{
				"supported": []string{p.config.ProtocolName + "/" + p.config.ProtocolVersion},
			})
	}
	if proto.Version != "" && major(proto.Version) != major(p.config.ProtocolVersion) {
		return codes.New(codes.InvalidProtocolVersion, "protocol version %q is not served", proto.Version).
			WithDetails(map[string]interface{}{
				"supported": []string{p.config.ProtocolName + "/" + p.config.ProtocolVersion},
			})
	}
	return nil
}

func major(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

func (p *Pipeline) serverWindow(ctx context.Context) (*maintenance.Window, error) {
	if p.opts.Maintenance == nil {
		return nil, nil
	}
	return p.opts.Maintenance.ServerMaintenance(ctx)
}

func (p *Pipeline) functionWindow(ctx context.Context, fn *registry.Descriptor) (*maintenance.Window, error) {
	if p.opts.Maintenance == nil {
		return nil, nil
	}
	return p.opts.Maintenance.FunctionMaintenance(ctx, fn.URN)
}

// invoke runs the handler on its own goroutine so the request deadline is
// enforced even when the handler ignores its context.
func (p *Pipeline) invoke(ctx context.Context, scope *event.Scope, fn *registry.Descriptor) (_ envelope.Value, err error) {
	defer mon.Task()(&ctx)(&err)

	call := &registry.Call{
		Function:  fn.URN,
		Version:   fn.Version.String(),
		Arguments: scope.Request.Call.Arguments,
		Context:   scope.Request.Context,
	}

	var token string
	if options := scope.Options(tracing.URN); options != nil {
		if raw, ok := options[tracing.OptionCancellationToken].AsString(); ok && raw != "" {
			token = raw
		}
	}
	if token != "" && p.opts.Cancellation != nil {
		call.Cancel = p.opts.Cancellation.Checker(token)
		defer func() {
			if completeErr := p.opts.Cancellation.Complete(ctx, token); completeErr != nil {
				p.log.Warn("completing cancellation token failed", zap.Error(completeErr))
			}
		}()
	}

	invokeCtx, cancel := context.WithDeadline(ctx, scope.Deadline)
	defer cancel()

	type outcome struct {
		result envelope.Value
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if recovered := recover(); recovered != nil {
				p.log.Error("handler panic",
					zap.String("function", fn.URN.String()),
					zap.Any("panic", recovered))
				done <- outcome{err: codes.New(codes.InternalError, "internal error")}
			}
		}()
		result, err := fn.Handler(invokeCtx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-invokeCtx.Done():
		return envelope.Value{}, codes.New(codes.DeadlineExceeded, "deadline of %s exceeded", p.config.Deadline).
			WithDetails(map[string]interface{}{"function": fn.URN.String()})
	}
}

// finish fires the post-execution events. A fatal extension error replaces
// the response outcome but the remaining events still run so advisory
// enrichment (retry guidance, tracing) reaches error envelopes too.
func (p *Pipeline) finish(ctx context.Context, scope *event.Scope) *envelope.Response {
	if err := p.bus.Fire(ctx, event.FunctionExecuted, scope); err != nil {
		scope.Response.SetErrors(p.errorObjects(err))
		// re-fire so advisory enrichers see the replaced outcome
		if err := p.bus.Fire(ctx, event.FunctionExecuted, scope); err != nil {
			scope.Response.SetErrors(p.errorObjects(err))
		}
	}
	if err := p.bus.Fire(ctx, event.ResponseReady, scope); err != nil {
		scope.Response.SetErrors(p.errorObjects(err))
	}
	return scope.Response
}

// fail records the error as the response outcome and runs the
// post-execution events, so error envelopes still carry retry guidance and
// maintenance data.
func (p *Pipeline) fail(ctx context.Context, scope *event.Scope, err error) *envelope.Response {
	scope.Response.SetErrors(p.errorObjects(err))
	return p.finish(ctx, scope)
}

// errorObjects converts an error into wire error objects, mapping uncoded
// errors through the configured mapper and finally to INTERNAL_ERROR.
func (p *Pipeline) errorObjects(err error) []envelope.ErrorObject {
	if p.opts.ErrorMapper != nil && codes.CodeOf(err) == "" {
		if mapped := p.opts.ErrorMapper(err); mapped != nil {
			err = mapped
		}
	}

	code := codes.CodeOf(err)
	if code == "" || !code.Valid() {
		p.log.Error("uncoded handler error", zap.Error(err))
		return []envelope.ErrorObject{{
			Code:    string(codes.InternalError),
			Message: "internal error",
		}}
	}

	object := envelope.ErrorObject{
		Code:    string(code),
		Message: codes.MessageOf(err),
	}
	if details := codes.DetailsOf(err); details != nil {
		object.Details = make(map[string]envelope.Value, len(details))
		for key, value := range details {
			object.Details[key] = envelope.FromGo(value)
		}
	}
	if pointer := codes.PointerOf(err); pointer != "" {
		object.Source = &envelope.ErrorSource{Pointer: pointer}
	} else if position := codes.PositionOf(err); position != nil {
		object.Source = &envelope.ErrorSource{Position: *position}
	}
	return []envelope.ErrorObject{object}
}

func deprecationMeta(dep *registry.Deprecation) envelope.Value {
	members := map[string]envelope.Value{
		"deprecated": envelope.Bool(true),
	}
	if dep.Reason != "" {
		members["reason"] = envelope.String(dep.Reason)
	}
	if dep.Sunset != nil {
		members["sunset"] = envelope.Time(*dep.Sunset)
	}
	return envelope.Object(members)
}
