package sagaexec

import cerrors "github.com/civicforge/recordengine/pkg/errors"

// ErrInProgress is returned by Begin when an idempotency key matches a
// still-running saga and the bounded wait elapses without it reaching a
// terminal state.
func ErrInProgress(idempotencyKey string) error {
	return cerrors.Conflict("Saga", "in_progress", "a saga with idempotency key "+idempotencyKey+" is still running")
}

// ErrLockHeld is returned when a resource lock is held by another saga
// and has not yet expired.
func ErrLockHeld(resourceKey string) error {
	return cerrors.Conflict("ResourceLock", "held", "resource "+resourceKey+" is locked by another saga")
}
