package link

import "errors"

// Error kinds surfaced by the manager. All failures come back wrapped so
// callers classify with errors.Is and still see the underlying cause.
var (
	// ErrUninitialized means no radio handle was resolved. Unrecoverable
	// until Init succeeds.
	ErrUninitialized = errors.New("bluetooth not initialized")

	// ErrDeviceNotFound means the address does not resolve to a reachable
	// peripheral. The caller should re-pair.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrConnectTimeout means the final connect attempt ran out of time.
	// Transient; the whole operation may be retried.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrConnectFailed means every connect attempt failed. Transient; the
	// internal retry loop already attempted recovery before surfacing this.
	ErrConnectFailed = errors.New("connect failed")

	// ErrWriteFailed means an I/O fault mid-transfer. Always paired with a
	// forced session teardown so the next call starts clean.
	ErrWriteFailed = errors.New("write failed")

	// ErrNotConnected means a stricter operation was invoked without a
	// pre-existing live session to the exact target.
	ErrNotConnected = errors.New("printer not connected")

	// ErrInvalidPayload means malformed input was rejected before any
	// device I/O was attempted.
	ErrInvalidPayload = errors.New("invalid payload")
)
