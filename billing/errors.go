package billing

import (
	"errors"
	"fmt"
)

// ErrNotFound means the provider no longer has the requested record.
// Terminal for that record: a missing subscription routes to cancellation,
// a missing event makes the webhook unrecoverable.
var ErrNotFound = errors.New("billing: not found")

// TransientError wraps rate-limit, 5xx and network failures. Eligible for a
// later retry; never terminal on its own.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("billing: transient provider error (status=%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("billing: transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
