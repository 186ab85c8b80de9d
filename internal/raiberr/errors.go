// Package raiberr defines the job lifecycle plane's error taxonomy: a
// tagged Kind rather than a growing hierarchy of concrete error types,
// mirroring original_source's ServerError/AgentError enums.
package raiberr

import (
	"errors"
	"fmt"
)

// Kind tags the class of failure, per spec §7.
type Kind string

const (
	KindSignatureFailure           Kind = "signature_failure"
	KindMalformedPayload           Kind = "malformed_payload"
	KindTransientSubstrate         Kind = "transient_substrate"
	KindCloneFailure               Kind = "clone_failure"
	KindStepFailure                Kind = "step_failure"
	KindStepTimeout                Kind = "step_timeout"
	KindPipelineTimeout            Kind = "pipeline_timeout"
	KindCancellation               Kind = "cancellation"
	KindInternalInvariantViolation Kind = "internal_invariant_violation"
	KindNotFound                   Kind = "not_found"
	KindConflict                   Kind = "conflict"
	// KindCloneAuthFailure is a clone failure specifically due to bad
	// credentials or an unknown repository. Unlike KindCloneFailure
	// (transient, retried), it is not retried: retrying with the same
	// credentials against the same repo cannot succeed.
	KindCloneAuthFailure Kind = "clone_auth_failure"
)

// Error wraps a Kind, a human message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around an existing error.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is a raiberr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Retriable reports whether a failure of this kind should be retried
// per the §4.2 retry policy (transient substrate errors and the
// retriable subset of clone failures only).
func (k Kind) Retriable() bool {
	switch k {
	case KindTransientSubstrate, KindCloneFailure:
		return true
	default:
		return false
	}
	// KindCloneAuthFailure falls through to the default: it is a clone
	// failure that must NOT be retried.
}
