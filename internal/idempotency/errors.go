package idempotency

import "errors"

var (
	// ErrMissingKey is returned by Guard.Do when the key is empty.
	ErrMissingKey = errors.New("idempotency key missing")

	// ErrNotFound is returned by Store.Get when no live record exists.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrConflict is returned by Store.Reserve when a live record already
	// exists, and by Store.Put when a different completed record exists.
	ErrConflict = errors.New("idempotency record conflict")

	// ErrInProgress is returned when another request holds the key and did
	// not finish within the wait timeout.
	ErrInProgress = errors.New("idempotent request still in progress")

	// ErrStoreUnavailable wraps any store failure that happens before the
	// handler runs. The guarded operation is not executed.
	ErrStoreUnavailable = errors.New("idempotency store unavailable")
)
