// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

// Package replay implements a durable queue for requests that cannot be
// served now, with prioritized takes and a monotone terminal state machine.
package replay

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"forrst.io/forrst/pkg/codes"
	"forrst.io/forrst/pkg/envelope"
	"forrst.io/forrst/storage"
)

var (
	// Error is a replay error class.
	Error = errs.Class("replay error")

	mon = monkit.Package()
)

// DefaultTTL bounds how long a queued record waits before expiring.
const DefaultTTL = time.Hour

const keyPrefix = "forrst:replay:"

// Priority orders queued records; high drains before normal before low.
type Priority string

// The priorities.
const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// State is a replay record's lifecycle state.
type State string

// The states. Completed, failed, expired and cancelled are terminal.
const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether s never transitions again.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// Record is one queued request, serialized as JSON in the store.
type Record struct {
	ReplayID    string          `json:"replay_id"`
	QueuedAt    time.Time       `json:"queued_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Priority    Priority        `json:"priority"`
	Status      State           `json:"status"`
	Attempts    int             `json:"attempts"`
	Reason      string          `json:"reason"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Envelope    json.RawMessage `json:"original_envelope"`
}

// QueuedData encodes the record as the response payload returned to the
// caller whose request was queued.
func (r *Record) QueuedData(position int) envelope.Value {
	members := map[string]envelope.Value{
		"status":     envelope.String(string(StateQueued)),
		"replay_id":  envelope.String(r.ReplayID),
		"reason":     envelope.String(r.Reason),
		"queued_at":  envelope.Time(r.QueuedAt),
		"expires_at": envelope.Time(r.ExpiresAt),
	}
	if position > 0 {
		members["position"] = envelope.Int(int64(position))
		members["estimated_replay"] = envelope.Time(r.QueuedAt.Add(time.Duration(position) * time.Second))
	}
	return envelope.Object(members)
}

// Queue persists replay records in the shared store.
type Queue struct {
	store storage.KeyValueStore
	ttl   time.Duration

	// now is the clock for queue timestamps; replaceable in tests.
	now func() time.Time
}

// NewQueue creates a queue with the default record TTL.
func NewQueue(store storage.KeyValueStore) *Queue {
	return &Queue{store: store, ttl: DefaultTTL, now: time.Now}
}

// NewQueueWithTTL creates a queue with a custom record TTL.
func NewQueueWithTTL(store storage.KeyValueStore, ttl time.Duration) *Queue {
	return &Queue{store: store, ttl: ttl, now: time.Now}
}

func key(id string) storage.Key {
	return storage.Key(keyPrefix + id)
}

// Enqueue records a request for later execution and returns the queued
// record plus its position among queued records.
func (q *Queue) Enqueue(ctx context.Context, original json.RawMessage, reason string, priority Priority, callbackURL string) (_ *Record, position int, err error) {
	defer mon.Task()(&ctx)(&err)

	switch priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	case "":
		priority = PriorityNormal
	default:
		return nil, 0, Error.New("unknown priority %q", priority)
	}

	now := q.now().UTC()
	record := &Record{
		ReplayID:    uuid.NewString(),
		QueuedAt:    now,
		ExpiresAt:   now.Add(q.ttl),
		Priority:    priority,
		Status:      StateQueued,
		Reason:      reason,
		CallbackURL: callbackURL,
		Envelope:    original,
	}
	if err := q.put(ctx, record); err != nil {
		return nil, 0, err
	}

	queued, err := q.queued(ctx)
	if err != nil {
		return record, 0, nil
	}
	for i, other := range queued {
		if other.ReplayID == record.ReplayID {
			position = i + 1
			break
		}
	}
	return record, position, nil
}

// Take claims the highest priority queued record, marks it processing and
// increments its attempt counter. It returns nil when the queue is empty.
func (q *Queue) Take(ctx context.Context) (_ *Record, err error) {
	defer mon.Task()(&ctx)(&err)

	queued, err := q.queued(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range queued {
		old, err := json.Marshal(record)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		record.Status = StateProcessing
		record.Attempts++
		updated, err := json.Marshal(record)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		err = q.store.CompareAndSwap(ctx, key(record.ReplayID), old, updated, q.remaining(record))
		if storage.ErrValueChanged.Has(err) || storage.ErrKeyNotFound.Has(err) {
			// another worker claimed it
			continue
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}
		return record, nil
	}
	return nil, nil
}

// Complete transitions a processing record to completed.
func (q *Queue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, StateCompleted)
}

// Fail transitions a processing record to failed.
func (q *Queue) Fail(ctx context.Context, id string) error {
	return q.finish(ctx, id, StateFailed)
}

// Cancel transitions a queued record to cancelled.
func (q *Queue) Cancel(ctx context.Context, id string) (err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return terminalError(record)
	}
	record.Status = StateCancelled
	return q.put(ctx, record)
}

// Get loads a record. A TTL-evicted record reports REPLAY_NOT_FOUND; a
// record past its deadline but not yet evicted reports itself expired.
func (q *Queue) Get(ctx context.Context, id string) (_ *Record, err error) {
	defer mon.Task()(&ctx)(&err)

	raw, err := q.store.Get(ctx, key(id))
	if storage.ErrKeyNotFound.Has(err) {
		return nil, codes.New(codes.ReplayNotFound, "replay %q not found", id).
			WithDetails(map[string]interface{}{"replay_id": id})
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}

	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, Error.Wrap(err)
	}
	if record.Status == StateQueued && q.now().After(record.ExpiresAt) {
		record.Status = StateExpired
		_ = q.put(ctx, &record)
	}
	return &record, nil
}

func (q *Queue) finish(ctx context.Context, id string, terminal State) (err error) {
	defer mon.Task()(&ctx)(&err)

	record, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return terminalError(record)
	}
	record.Status = terminal
	return q.put(ctx, record)
}

func (q *Queue) put(ctx context.Context, record *Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(q.store.Put(ctx, key(record.ReplayID), raw, q.remaining(record)))
}

// remaining keeps terminal records around for the rest of their original
// window so callers can still resolve their state.
func (q *Queue) remaining(record *Record) time.Duration {
	remaining := record.ExpiresAt.Sub(q.now())
	if remaining <= 0 {
		remaining = time.Second
	}
	return remaining
}

// queued lists queued, unexpired records in drain order: priority first,
// then age.
func (q *Queue) queued(ctx context.Context) (_ []*Record, err error) {
	keys, err := q.store.List(ctx, storage.Key(keyPrefix), 0)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	now := q.now()
	var records []*Record
	for _, k := range keys {
		raw, err := q.store.Get(ctx, k)
		if err != nil {
			continue
		}
		var record Record
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		if record.Status != StateQueued || now.After(record.ExpiresAt) {
			continue
		}
		records = append(records, &record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority.rank() != records[j].Priority.rank() {
			return records[i].Priority.rank() < records[j].Priority.rank()
		}
		return records[i].QueuedAt.Before(records[j].QueuedAt)
	})
	return records, nil
}

func terminalError(record *Record) error {
	details := map[string]interface{}{"replay_id": record.ReplayID, "status": string(record.Status)}
	switch record.Status {
	case StateCompleted, StateFailed:
		return codes.New(codes.ReplayAlreadyComplete, "replay %q already finished", record.ReplayID).
			WithDetails(details)
	case StateExpired:
		return codes.New(codes.ReplayExpired, "replay %q expired", record.ReplayID).
			WithDetails(details)
	case StateCancelled:
		return codes.New(codes.ReplayCancelled, "replay %q was cancelled", record.ReplayID).
			WithDetails(details)
	}
	return Error.New("record %q is not terminal", record.ReplayID)
}
