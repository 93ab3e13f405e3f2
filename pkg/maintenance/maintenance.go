// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package maintenance implements the fatal pre-execution maintenance gate
// for server-wide and per-function maintenance windows.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/zeebo/errs"

	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/pkg/urn"
)

// Error is a maintenance error class.
var Error = errs.Class("maintenance error")

// URN identifies the maintenance response extension.
var URN = urn.MustParse("urn:cline:forrst:ext:maintenance")

// Window describes one maintenance window.
type Window struct {
	Scope      string // "server" or the function urn
	Reason     string
	StartedAt  time.Time
	Until      *time.Time
	RetryAfter time.Duration
}

// Active reports whether the window covers the given instant.
func (w *Window) Active(now time.Time) bool {
	if now.Before(w.StartedAt) {
		return false
	}
	return w.Until == nil || now.Before(*w.Until)
}

// Data encodes the window as response extension data.
func (w *Window) Data() envelope.Value {
	members := map[string]envelope.Value{
		"scope":      envelope.String(w.Scope),
		"reason":     envelope.String(w.Reason),
		"started_at": envelope.Time(w.StartedAt),
		"retry_after": envelope.Object(map[string]envelope.Value{
			"value": envelope.Int(int64(w.RetryAfter / time.Minute)),
			"unit":  envelope.String("minute"),
		}),
	}
	if w.Until != nil {
		members["until"] = envelope.Time(*w.Until)
	}
	return envelope.Object(members)
}

// Store answers whether the server or a function is in maintenance.
type Store interface {
	ServerMaintenance(ctx context.Context) (*Window, error)
	FunctionMaintenance(ctx context.Context, fn urn.URN) (*Window, error)
}

// MemoryStore is an in-process Store with scheduled windows.
type MemoryStore struct {
	mu        sync.RWMutex
	server    *Window
	functions map[urn.URN]*Window

	// Now is the clock used for schedule checks; replaceable in tests.
	Now func() time.Time
}

// NewStore creates an empty in-process maintenance store.
func NewStore() *MemoryStore {
	return &MemoryStore{
		functions: make(map[urn.URN]*Window),
		Now:       time.Now,
	}
}

// SetServer schedules or clears the server-wide window.
func (s *MemoryStore) SetServer(w *Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w != nil && w.Scope == "" {
		w.Scope = "server"
	}
	s.server = w
}

// SetFunction schedules or clears a per-function window.
func (s *MemoryStore) SetFunction(fn urn.URN, w *Window) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		delete(s.functions, fn)
		return
	}
	if w.Scope == "" {
		w.Scope = fn.String()
	}
	s.functions[fn] = w
}

// ServerMaintenance implements Store.
func (s *MemoryStore) ServerMaintenance(ctx context.Context) (*Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.server != nil && s.server.Active(s.Now()) {
		return s.server, nil
	}
	return nil, nil
}

// FunctionMaintenance implements Store.
func (s *MemoryStore) FunctionMaintenance(ctx context.Context, fn urn.URN) (*Window, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.functions[fn]; ok && w.Active(s.Now()) {
		return w, nil
	}
	return nil, nil
}
