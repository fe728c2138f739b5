package ranking

import (
	"errors"
	"fmt"
)

// Error codes recorded on failed PageResults.
const (
	ErrorCodeTimeout          = "timeout"
	ErrorCodeUpstreamUnstable = "upstream_unstable"
)

var (
	// ErrInvalidRequest marks malformed orchestration requests.
	ErrInvalidRequest = errors.New("invalid orchestration request")
	// ErrTimeout marks a page fetch that exceeded its deadline.
	ErrTimeout = errors.New(ErrorCodeTimeout)
	// ErrUpstreamUnstable marks a response carrying a degraded-service signature.
	ErrUpstreamUnstable = errors.New(ErrorCodeUpstreamUnstable)
	// ErrTransport marks network, status, or decode failures other than timeouts.
	ErrTransport = errors.New("transport error")
	// ErrSchedulerInternal marks a failure escaping a scheduling policy.
	ErrSchedulerInternal = errors.New("scheduler internal error")
	// ErrRunNotFound is returned by result stores for unknown run ids.
	ErrRunNotFound = errors.New("run not found")
)

// ValidationError describes which request field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidRequest, e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidRequest.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// SchedulerInternalError wraps a failure that escaped a scheduling policy.
type SchedulerInternalError struct {
	Mode  Mode
	Cause any
}

func (e *SchedulerInternalError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrSchedulerInternal, e.Mode, e.Cause)
}

// Unwrap lets errors.Is match ErrSchedulerInternal.
func (e *SchedulerInternalError) Unwrap() error {
	return ErrSchedulerInternal
}
