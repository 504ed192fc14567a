// Package qrsource implements the QR Source contract from spec section 4.4:
// an asynchronous acquirer that returns a QR string or a no-read indication
// by a deadline, and that honors the "no stale delivery" ordering
// guarantee between successive Acquire calls.
package qrsource

import (
	"context"
	"time"
)

// Source is triggered on demand and must produce at most one QR string, or
// report no-read, by the supplied deadline. Acquire must be cancellable via
// ctx so the supervisor can abort a pending scan (e.g. on link-down).
type Source interface {
	// Acquire blocks until a QR is available, the deadline passes, or ctx
	// is cancelled. ok is false on no-read or cancellation; err is non-nil
	// only for genuine acquisition failures (not plain no-read).
	Acquire(ctx context.Context, deadline time.Time) (qr string, ok bool, err error)
}
