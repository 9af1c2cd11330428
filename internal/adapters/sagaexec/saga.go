// Package sagaexec implements the Saga Executor of spec.md §4.7: every
// mutating Record Manager operation runs inside a saga, persisted
// step-by-step to the Index DB so that a crash mid-operation leaves a
// durable record of what succeeded, and a failure triggers compensation
// in strict reverse order.
//
// No teacher package implements sagas (the teacher commits Postgres
// transactions directly and has no cross-step compensation concept), so
// this package is built from spec.md §4.7 directly, in the teacher's
// established style: a small port-shaped Store backed by the Index DB,
// grounded on organization.postgresql.go's per-driver placeholder and
// error-translation conventions, and
// components/transaction/internal/services/command's idempotency-key
// contract (CreateOrCheckIdempotencyKey: a deterministic internal key,
// "already in use" on a still-running claim) adapted from Redis SETNX
// to a SQL unique-key insert since this module has no Redis dependency
// on the write path.
package sagaexec

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Saga (spec.md §3 Saga invariant:
// pending -> running -> compensating -> completed|failed; once
// completed, immutable; compensating may only arise from running).
type Status string

const (
	StatusPending      Status = "pending"
	StatusRunning      Status = "running"
	StatusCompensating Status = "compensating"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// StepStatus is the lifecycle state of one Saga step.
type StepStatus string

const (
	StepPending     StepStatus = "pending"
	StepDone        StepStatus = "done"
	StepFailed      StepStatus = "failed"
	StepCompensated StepStatus = "compensated"
)

// Saga is the persisted envelope for one multi-step operation.
type Saga struct {
	ID             uuid.UUID
	Name           string
	Status         Status
	IdempotencyKey string
	Result         json.RawMessage
	Error          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Step is one persisted saga step. Payload is kept only in memory for
// the lifetime of the process that ran do_fn — a crashed process cannot
// resume a saga's compensation closures, only see the step ledger
// (spec.md §9's "Open questions" leaves saga-resume semantics
// unspecified across a process restart; this module documents the
// decision in DESIGN.md: replay is by idempotency key from a fresh
// Begin, not by resuming a persisted closure).
type Step struct {
	SagaID      uuid.UUID
	Index       int
	Name        string
	Status      StepStatus
	Compensated bool
	Error       string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// DoFunc performs one step's side effect and returns a payload that
// compensate_fn will later receive on rollback.
type DoFunc func() (any, error)

// CompensateFunc undoes a step's side effect using the payload do_fn
// returned.
type CompensateFunc func(payload any) error
