// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package event

import (
	"context"
	"sort"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"forrst.io/forrst/pkg/urn"
)

// Error is an event bus error class.
var Error = errs.Class("event error")

// Handler observes one lifecycle event of a request.
type Handler func(ctx context.Context, scope *Scope) error

// Subscription declares interest in an event. Lower priority runs first;
// equal priorities run in registration order.
type Subscription struct {
	Event    Type
	Priority int
	Handler  Handler
}

type registration struct {
	Subscription
	owner urn.URN
	fatal bool
	seq   int
}

// Bus dispatches lifecycle events synchronously to the subscriptions of the
// request's active extensions. It is built once at boot and is read-only
// while serving.
type Bus struct {
	log      *zap.Logger
	handlers map[Type][]registration
	sealed   bool
	seq      int
}

// NewBus creates an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:      log,
		handlers: make(map[Type][]registration),
	}
}

// Subscribe adds an extension's subscriptions. ErrorFatal controls whether a
// handler error replaces the response or is logged and skipped.
func (bus *Bus) Subscribe(owner urn.URN, errorFatal bool, subs []Subscription) error {
	if bus.sealed {
		return Error.New("bus is sealed; subscriptions are boot-time only")
	}
	for _, sub := range subs {
		if sub.Handler == nil {
			return Error.New("nil handler for %q on %q", owner, sub.Event)
		}
		bus.seq++
		bus.handlers[sub.Event] = append(bus.handlers[sub.Event], registration{
			Subscription: sub,
			owner:        owner,
			fatal:        errorFatal,
			seq:          bus.seq,
		})
	}
	return nil
}

// Seal sorts every handler list by (priority, registration order) and
// freezes the bus.
func (bus *Bus) Seal() {
	for _, regs := range bus.handlers {
		sort.SliceStable(regs, func(i, j int) bool {
			if regs[i].Priority != regs[j].Priority {
				return regs[i].Priority < regs[j].Priority
			}
			return regs[i].seq < regs[j].seq
		})
	}
	bus.sealed = true
}

// Fire dispatches an event to the handlers of the scope's active extensions,
// in total priority order. A fatal handler error aborts dispatch and is
// returned; advisory handler errors are logged and dispatch continues.
// Advisory handlers are skipped once the request deadline is exhausted.
func (bus *Bus) Fire(ctx context.Context, event Type, scope *Scope) error {
	scope.resetPropagation()

	for _, reg := range bus.handlers[event] {
		if !scope.IsActive(reg.owner) {
			continue
		}
		if scope.Stopped() {
			break
		}
		if !reg.fatal && scope.DeadlineExceeded() {
			bus.log.Debug("skipping advisory handler past deadline",
				zap.String("event", string(event)),
				zap.String("extension", reg.owner.String()))
			continue
		}

		if err := reg.Handler(ctx, scope); err != nil {
			if reg.fatal {
				// returned unwrapped so an extension-declared code survives
				return err
			}
			bus.log.Warn("advisory extension failed",
				zap.String("event", string(event)),
				zap.String("extension", reg.owner.String()),
				zap.Error(err))
		}
	}
	return nil
}
