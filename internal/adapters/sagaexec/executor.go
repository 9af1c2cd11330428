package sagaexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// Executor begins, steps, commits, and rolls back sagas (spec.md §4.7).
type Executor struct {
	store            *Store
	logger           mlog.Logger
	operationTimeout time.Duration
	pollInterval     time.Duration
	inline           bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithOperationTimeout sets the per-operation timeout used to derive the
// resource lock TTL (default operation timeout x 2, per spec.md §4.7).
func WithOperationTimeout(d time.Duration) Option {
	return func(e *Executor) { e.operationTimeout = d }
}

// WithInlineMode disables the bounded wait-and-poll loop Begin otherwise
// runs when an idempotency key matches a running saga: it returns
// ErrInProgress immediately. Intended for deterministic, single-threaded
// tests that exercise idempotent-replay semantics without sleeping.
func WithInlineMode() Option {
	return func(e *Executor) { e.inline = true }
}

func New(store *Store, logger mlog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	e := &Executor{
		store:            store,
		logger:           logger,
		operationTimeout: 30 * time.Second,
		pollInterval:     100 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// lockTTL defaults to operation timeout x 2 (spec.md §4.7).
func (e *Executor) lockTTL() time.Duration {
	return 2 * e.operationTimeout
}

// Handle is a saga in progress. Callers obtain one from Begin, acquire
// any resource locks it needs, run Step for each unit of work, then call
// Commit or Rollback.
type Handle struct {
	executor *Executor
	saga     *Saga
	replayed bool

	compensations []compensation
	locks         []string
}

type compensation struct {
	name       string
	fn         CompensateFunc
	payload    any
}

// Replayed reports whether Begin returned the recorded result of an
// already-completed saga instead of starting a new one.
func (h *Handle) Replayed() bool { return h.replayed }

// Result returns the replayed saga's persisted result. Only meaningful
// when Replayed() is true.
func (h *Handle) Result() ([]byte, error) {
	if h.saga.Result == nil {
		return nil, nil
	}

	return h.saga.Result, nil
}

// ID returns the saga's identifier.
func (h *Handle) ID() uuid.UUID { return h.saga.ID }

// Begin starts a new saga named name, or — when idempotencyKey matches a
// prior saga — returns a replayed Handle carrying its recorded result
// without re-executing (spec.md §4.7). A key matching a still-running
// saga blocks up to a bounded interval before failing with ErrInProgress,
// unless the executor was built WithInlineMode, in which case it fails
// immediately.
func (e *Executor) Begin(ctx context.Context, name, idempotencyKey string) (*Handle, error) {
	if idempotencyKey != "" {
		handle, done, err := e.checkIdempotencyKey(ctx, name, idempotencyKey)
		if err != nil || done {
			return handle, err
		}
	}

	now := time.Now().UTC()
	saga := &Saga{
		ID:             uuid.Must(uuid.NewV7()),
		Name:           name,
		Status:         StatusRunning,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.CreateSaga(ctx, saga); err != nil {
		return nil, err
	}

	return &Handle{executor: e, saga: saga}, nil
}

// checkIdempotencyKey looks up an existing saga for key. done is true
// when the caller should return immediately with (handle, err) as-is;
// false means no conflicting saga exists and Begin should proceed to
// create a new one.
func (e *Executor) checkIdempotencyKey(ctx context.Context, name, key string) (*Handle, bool, error) {
	deadline := time.Now().Add(e.operationTimeout)

	for {
		existing, err := e.store.GetSagaByIdempotencyKey(ctx, key)
		if err != nil && cerrors.KindOf(err) != cerrors.KindNotFound {
			return nil, true, err
		}

		if existing == nil {
			return nil, false, nil
		}

		switch existing.Status {
		case StatusCompleted, StatusFailed:
			return &Handle{executor: e, saga: existing, replayed: true}, true, nil
		case StatusRunning, StatusCompensating:
			if e.inline || time.Now().After(deadline) {
				return nil, true, ErrInProgress(key)
			}

			select {
			case <-ctx.Done():
				return nil, true, ctx.Err()
			case <-time.After(e.pollInterval):
			}
		default:
			return nil, true, cerrors.Fatal(fmt.Sprintf("saga %s has unknown status %q", existing.ID, existing.Status), nil)
		}
	}
}

// Lock acquires an exclusive claim on resourceKey for the lifetime of
// the saga, reclaiming an expired lock held by another saga. Call this
// before the first mutating Step (spec.md §4.7).
func (h *Handle) Lock(ctx context.Context, resourceKey string) error {
	if err := h.executor.store.AcquireLock(ctx, resourceKey, h.saga.ID.String(), h.executor.lockTTL()); err != nil {
		return err
	}

	h.locks = append(h.locks, resourceKey)

	return nil
}

// Step persists name as the next step, runs do, and on success records
// its payload for later compensation. On failure, Step automatically
// rolls back every previously-succeeded step in reverse order (spec.md
// §2: "any failure past step 3 triggers compensations in reverse") and
// returns do's error.
func (h *Handle) Step(ctx context.Context, name string, do DoFunc, compensate CompensateFunc) error {
	index := len(h.compensations)

	if err := h.executor.store.StartStep(ctx, h.saga.ID, index, name); err != nil {
		return err
	}

	payload, err := do()
	if err != nil {
		_ = h.executor.store.FinishStep(ctx, h.saga.ID, index, StepFailed, err.Error())
		h.rollback(ctx, err.Error())

		return err
	}

	if ferr := h.executor.store.FinishStep(ctx, h.saga.ID, index, StepDone, ""); ferr != nil {
		return ferr
	}

	h.compensations = append(h.compensations, compensation{name: name, fn: compensate, payload: payload})

	return nil
}

// Commit marks the saga completed, persists result, and releases its
// resource locks.
func (h *Handle) Commit(ctx context.Context, result any) error {
	if err := h.executor.store.UpdateSagaStatus(ctx, h.saga.ID, StatusCompleted, "", result); err != nil {
		return err
	}

	h.saga.Status = StatusCompleted
	h.releaseLocks(ctx)

	return nil
}

// Rollback compensates every succeeded step in reverse order and marks
// the saga failed. Call this directly for a failure the caller detects
// outside of Step (e.g. a role check after the first mutating step).
func (h *Handle) Rollback(ctx context.Context, reason string) error {
	h.rollback(ctx, reason)
	return nil
}

func (h *Handle) rollback(ctx context.Context, reason string) {
	_ = h.executor.store.UpdateSagaStatus(ctx, h.saga.ID, StatusCompensating, reason, nil)

	partial := false

	for i := len(h.compensations) - 1; i >= 0; i-- {
		c := h.compensations[i]
		if c.fn == nil {
			continue
		}

		if err := c.fn(c.payload); err != nil {
			h.executor.logger.Errorf("sagaexec: compensating step %q (saga %s) failed: %v", c.name, h.saga.ID, err)
			_ = h.executor.store.MarkStepCompensated(ctx, h.saga.ID, i, err.Error())

			partial = true

			continue
		}

		_ = h.executor.store.MarkStepCompensated(ctx, h.saga.ID, i, "")
	}

	_ = h.executor.store.UpdateSagaStatus(ctx, h.saga.ID, StatusFailed, reason, nil)
	h.saga.Status = StatusFailed

	// Per spec.md §4.7: a compensation that itself fails keeps the
	// resource lock held for operator drain instead of releasing it.
	if !partial {
		h.releaseLocks(ctx)
	}
}

func (h *Handle) releaseLocks(ctx context.Context) {
	for _, resourceKey := range h.locks {
		if err := h.executor.store.ReleaseLock(ctx, resourceKey, h.saga.ID.String()); err != nil {
			h.executor.logger.Errorf("sagaexec: releasing lock %q (saga %s) failed: %v", resourceKey, h.saga.ID, err)
		}
	}
}
