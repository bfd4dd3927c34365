package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrValidation marks structurally invalid input
	ErrValidation = errors.New("switchyard: validation failed")

	// ErrNotFound is returned for unknown execution, node, or cluster IDs
	ErrNotFound = errors.New("switchyard: not found")

	// ErrAlreadyInProgress is returned when a deployment for the same
	// (environment, module name) holds the serialization key
	ErrAlreadyInProgress = errors.New("switchyard: deployment already in progress")

	// ErrConflict is returned when an execution ID is reused
	ErrConflict = errors.New("switchyard: execution already exists")

	// ErrInvalidTransition is returned for moves the status graph forbids
	ErrInvalidTransition = errors.New("switchyard: invalid status transition")

	// ErrStaleUpdate is returned when an update's timestamp is not
	// monotonically newer than the stored record
	ErrStaleUpdate = errors.New("switchyard: stale update")

	// ErrTerminal is returned when mutating an execution that finished
	ErrTerminal = errors.New("switchyard: execution is terminal")

	// ErrSelfApproval is returned when an approver tries to decide
	// their own deployment
	ErrSelfApproval = errors.New("switchyard: requester cannot approve own deployment")

	// ErrApprovalResolved is returned when deciding an approval that
	// was already decided or timed out
	ErrApprovalResolved = errors.New("switchyard: approval already resolved")

	// ErrNotAwaitingApproval is returned when approving an execution
	// that has no pending gate
	ErrNotAwaitingApproval = errors.New("switchyard: execution is not awaiting approval")

	// ErrCancelled is returned from stages interrupted by a cancel request
	ErrCancelled = errors.New("switchyard: deployment cancelled")

	// ErrClosed is returned by components after Close
	ErrClosed = errors.New("switchyard: closed")
)

// FailureError carries a stable failure classification alongside the
// underlying cause. Strategies and stages return these so the pipeline
// can fill DeploymentResult.FailureKind without string matching.
type FailureError struct {
	Kind FailureKind
	Err  error
}

func (e *FailureError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Failure wraps err with a failure kind
func Failure(kind FailureKind, err error) error {
	return &FailureError{Kind: kind, Err: err}
}

// Failuref wraps a formatted message with a failure kind
func Failuref(kind FailureKind, format string, args ...interface{}) error {
	return &FailureError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the failure kind from err, walking the wrap chain.
// Errors without a classification map to FailureInternal; context and
// explicit cancellation map to FailureCancelled.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var fe *FailureError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return FailureCancelled
	case errors.Is(err, ErrValidation):
		return FailureValidation
	case errors.Is(err, ErrAlreadyInProgress), errors.Is(err, ErrConflict):
		return FailureConflict
	}
	return FailureInternal
}
