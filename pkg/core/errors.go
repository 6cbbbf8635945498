package core

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrDuplicateJobID     = errors.New("augur: job id already in use by an existing job")
	ErrJobNotFound        = errors.New("augur: job not found")
	ErrJobNotOwned        = errors.New("augur: job not owned by this worker")
	ErrJobNotRetryable    = errors.New("augur: job is not in a retryable state")
	ErrQueryTooLarge      = errors.New("augur: query exceeds size limit")
	ErrInvalidCallbackURL = errors.New("augur: callback url must be http or https")
)

// ValidationError reports a malformed submission. It is raised before any
// state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("augur: invalid %s: %s", e.Field, e.Reason)
}

// ExecutionError reports a backend process failure after the backend's own
// retries were exhausted. It carries the external command's exit status and
// captured diagnostic output.
type ExecutionError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("augur: backend execution failed (exit %d): %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("augur: backend execution failed (exit %d)", e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// DeliveryError reports a webhook delivery failure after retries were
// exhausted. Delivery failures are non-fatal: the owning job's result is
// already durably cached, so this error is logged and never affects job
// state.
type DeliveryError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("augur: webhook delivery to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// StoreError reports that the backing store is unavailable. It must
// propagate: a store outage during the pre-enqueue cache/dedup check aborts
// submission rather than proceeding as if no entry existed.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("augur: store error during %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError wraps a backing-store failure, preserving an existing
// StoreError instead of double-wrapping.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}
