package sagaexec

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	sqrl "github.com/Masterminds/squirrel"

	"github.com/civicforge/recordengine/internal/config"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

const pgUniqueViolation = "23505"

// Store persists Saga/Step/ResourceLock rows to the Index DB. Unlike
// internal/adapters/indexdb's record repository, sagaexec keeps one
// driver-switched implementation rather than splitting into sqlite/
// postgres subpackages: every query here is a key lookup or a single-row
// upsert, not the filtered, paginated search organization.postgresql.go
// models, so squirrel's composed-predicate builder has nothing to earn
// its keep over a plain driver switch on placeholder style.
type Store struct {
	db     *sql.DB
	driver config.DBDriver
}

func NewStore(db *sql.DB, driver config.DBDriver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) builder() sqrl.StatementBuilderType {
	if s.driver == config.DBDriverPostgres {
		return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Dollar)
	}

	return sqrl.StatementBuilder.PlaceholderFormat(sqrl.Question)
}

func (s *Store) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) CreateSaga(ctx context.Context, saga *Saga) error {
	now := saga.CreatedAt

	_, err := s.builder().Insert("sagas").
		Columns("id", "idempotency_key", "name", "status", "context", "created_at", "updated_at").
		Values(saga.ID.String(), nullString(saga.IdempotencyKey), saga.Name, string(saga.Status), "{}", now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		if s.isUniqueViolation(err) {
			return cerrors.Conflict("Saga", "idempotency_key", "idempotency key already claimed")
		}

		return cerrors.Transient("inserting saga", err)
	}

	return nil
}

func (s *Store) GetSagaByIdempotencyKey(ctx context.Context, key string) (*Saga, error) {
	row := s.builder().Select("id", "name", "status", "idempotency_key", "result", "error", "created_at", "updated_at").
		From("sagas").
		Where(sqrl.Eq{"idempotency_key": key}).
		RunWith(s.db).
		QueryRowContext(ctx)

	return scanSaga(row)
}

func (s *Store) GetSaga(ctx context.Context, id uuid.UUID) (*Saga, error) {
	row := s.builder().Select("id", "name", "status", "idempotency_key", "result", "error", "created_at", "updated_at").
		From("sagas").
		Where(sqrl.Eq{"id": id.String()}).
		RunWith(s.db).
		QueryRowContext(ctx)

	return scanSaga(row)
}

func (s *Store) UpdateSagaStatus(ctx context.Context, id uuid.UUID, status Status, sagaErr string, result any) error {
	var resultJSON []byte

	if result != nil {
		var err error

		resultJSON, err = json.Marshal(result)
		if err != nil {
			return cerrors.Validation("Saga", "invalid_result", err.Error())
		}
	}

	_, err := s.builder().Update("sagas").
		Set("status", string(status)).
		Set("error", nullString(sagaErr)).
		Set("result", nullBytes(resultJSON)).
		Set("updated_at", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(sqrl.Eq{"id": id.String()}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("updating saga status", err)
	}

	return nil
}

func (s *Store) StartStep(ctx context.Context, id uuid.UUID, index int, name string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.builder().Insert("saga_steps").
		Columns("saga_id", "step_index", "name", "status", "started_at").
		Values(id.String(), index, name, string(StepPending), now).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("inserting saga step", err)
	}

	return nil
}

func (s *Store) FinishStep(ctx context.Context, id uuid.UUID, index int, status StepStatus, stepErr string) error {
	_, err := s.builder().Update("saga_steps").
		Set("status", string(status)).
		Set("error", nullString(stepErr)).
		Set("finished_at", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(sqrl.Eq{"saga_id": id.String(), "step_index": index}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("finishing saga step", err)
	}

	return nil
}

func (s *Store) MarkStepCompensated(ctx context.Context, id uuid.UUID, index int, compensateErr string) error {
	status := StepCompensated
	if compensateErr != "" {
		status = StepFailed
	}

	_, err := s.builder().Update("saga_steps").
		Set("status", string(status)).
		Set("compensated", boolValue(s.driver, compensateErr == "")).
		Set("error", nullString(compensateErr)).
		Where(sqrl.Eq{"saga_id": id.String(), "step_index": index}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("marking step compensated", err)
	}

	return nil
}

// AcquireLock claims resourceKey for holder, reclaiming an expired lock
// atomically, per spec.md §4.7: "expired locks are reclaimable by any
// saga that observes expiry and atomically swaps the holder."
func (s *Store) AcquireLock(ctx context.Context, resourceKey, holder string, ttl time.Duration) error {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	_, err := s.builder().Insert("resource_locks").
		Columns("resource_key", "holder_saga", "acquired_at", "expires_at").
		Values(resourceKey, holder, now.Format(time.RFC3339Nano), expires.Format(time.RFC3339Nano)).
		RunWith(s.db).
		ExecContext(ctx)
	if err == nil {
		return nil
	}

	if !s.isUniqueViolation(err) {
		return cerrors.Transient("acquiring resource lock", err)
	}

	res, err := s.builder().Update("resource_locks").
		Set("holder_saga", holder).
		Set("acquired_at", now.Format(time.RFC3339Nano)).
		Set("expires_at", expires.Format(time.RFC3339Nano)).
		Where(sqrl.And{
			sqrl.Eq{"resource_key": resourceKey},
			sqrl.Lt{"expires_at": now.Format(time.RFC3339Nano)},
		}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("reclaiming expired resource lock", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return cerrors.Transient("checking reclaimed lock rows", err)
	}

	if n == 0 {
		return ErrLockHeld(resourceKey)
	}

	return nil
}

// ReleaseLock drops the lock row, but only if holder still owns it —
// a lock reclaimed by a newer saga must never be released by the saga
// that lost it.
func (s *Store) ReleaseLock(ctx context.Context, resourceKey, holder string) error {
	_, err := s.builder().Delete("resource_locks").
		Where(sqrl.Eq{"resource_key": resourceKey, "holder_saga": holder}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return cerrors.Transient("releasing resource lock", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSaga(row rowScanner) (*Saga, error) {
	var (
		id, idemKey, result, sagaErr sql.NullString
		name, status, createdAt, updatedAt string
	)

	err := row.Scan(&id, &name, &status, &idemKey, &result, &sagaErr, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cerrors.NotFound("Saga", "")
	}

	if err != nil {
		return nil, cerrors.Transient("scanning saga", err)
	}

	parsedID, err := uuid.Parse(id.String)
	if err != nil {
		return nil, cerrors.Transient("parsing saga id", err)
	}

	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, cerrors.Transient("parsing saga created_at", err)
	}

	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, cerrors.Transient("parsing saga updated_at", err)
	}

	saga := &Saga{
		ID:             parsedID,
		Name:           name,
		Status:         Status(status),
		IdempotencyKey: idemKey.String,
		Error:          sagaErr.String,
		CreatedAt:      created,
		UpdatedAt:      updated,
	}

	if result.Valid && result.String != "" {
		saga.Result = json.RawMessage(result.String)
	}

	return saga, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}

	return string(b)
}

func boolValue(driver config.DBDriver, v bool) any {
	if driver == config.DBDriverPostgres {
		return v
	}

	if v {
		return 1
	}

	return 0
}
