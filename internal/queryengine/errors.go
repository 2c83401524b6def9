package queryengine

import (
	"fmt"
	"time"
)

// APIError is an HTTP-level failure reported by the query engine.
type APIError struct {
	Status  int
	Message string
	// RetryAfter is the engine's advertised minimum delay on a 429 response,
	// zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("query engine returned %d: %s", e.Status, e.Message)
}

// Transient reports whether the failure class is worth retrying.
func (e *APIError) Transient() bool {
	return e.Status == 429 || e.Status >= 500
}

// TransientError wraps the last transient failure once the retry ceiling is
// exceeded. The node that hit it ends as FAILED with a transient cause.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError is a 401 that persisted after one token refresh and retry.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication with the query engine failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// DeadlineError means the engine did not reach a terminal execution state
// within the node's deadline. It is distinct from FAILED: the engine, not
// the query, did not respond in time.
type DeadlineError struct {
	Deadline time.Duration
}

func (e *DeadlineError) Error() string {
	return fmt.Sprintf("query engine did not finish within the %s node deadline", e.Deadline)
}

// ExecutionFailedError is an execution the engine itself reported as FAILED
// or CANCELLED; retrying the same request would fail the same way.
type ExecutionFailedError struct {
	ExecutionID string
	Status      string
	Message     string
}

func (e *ExecutionFailedError) Error() string {
	return fmt.Sprintf("execution %s ended %s: %s", e.ExecutionID, e.Status, e.Message)
}
