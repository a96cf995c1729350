package remote

import (
	"context"
	"errors"
	"net"
)

// Error taxonomy for remote operations. Callers branch on class, not on
// backend-specific error strings.
var (
	// ErrUnavailable covers network unreachable, timeouts, and server
	// overload. Operations failing with it are queued for retry.
	ErrUnavailable = errors.New("remote: unavailable")

	// ErrPermissionDenied is terminal: surfaced to the caller, never queued.
	ErrPermissionDenied = errors.New("remote: permission denied")

	// ErrInvalidArgument is terminal: the write is malformed or violates a
	// validation rule and would fail identically on every retry.
	ErrInvalidArgument = errors.New("remote: invalid argument")

	// ErrNotFound means the target is already absent; deletes treat it as a
	// no-op.
	ErrNotFound = errors.New("remote: not found")
)

// Retryable reports whether an error is transient and worth queueing.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
