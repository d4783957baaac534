package domain

import (
	"errors"
	"fmt"

	types "mdocholder/internal/domain/types"
)

// Sentinel errors for session failures.
// Use with errors.Is() for checking and fmt.Errorf("%w", ...) for wrapping with context.

var (
	// ErrTransportTimeout indicates no reader connected before the deadline
	ErrTransportTimeout = errors.New("transport: timed out waiting for reader")

	// ErrTransportCancelled indicates the wait or exchange was cancelled by the caller
	ErrTransportCancelled = errors.New("transport: cancelled")

	// ErrTransportIO indicates the transport failed while sending or receiving
	ErrTransportIO = errors.New("transport: i/o failure")

	// ErrUntrustedReader indicates the reader chain does not anchor in any trust point
	ErrUntrustedReader = errors.New("reader is not trusted")

	// ErrNoMatchingCredential indicates no stored credential satisfies the request
	ErrNoMatchingCredential = errors.New("no credential matches the request")

	// ErrMalformedRequest indicates the reader's request could not be parsed
	ErrMalformedRequest = errors.New("malformed reader request")

	// ErrEncodingOverflow indicates the engagement does not fit the size limit even with one method
	ErrEncodingOverflow = errors.New("engagement encoding exceeds size limit")

	// ErrInvariantViolation indicates an illegal state transition was attempted
	ErrInvariantViolation = errors.New("internal invariant violation")

	// ErrConsentDenied indicates the user declined to share
	ErrConsentDenied = errors.New("user declined to share")

	// ErrInternal indicates key custody or response construction failed
	ErrInternal = errors.New("internal error")
)

// Store errors

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrWrongPassphrase indicates key material could not be opened
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted key material")
)

// reasonErrors is indexed by FailureReason; ReasonOf checks it in order.
var reasonErrors = [...]error{
	types.ReasonNone:                 nil,
	types.ReasonTransportTimeout:     ErrTransportTimeout,
	types.ReasonTransportCancelled:   ErrTransportCancelled,
	types.ReasonTransportIO:          ErrTransportIO,
	types.ReasonUntrustedReader:      ErrUntrustedReader,
	types.ReasonNoMatchingCredential: ErrNoMatchingCredential,
	types.ReasonMalformedRequest:     ErrMalformedRequest,
	types.ReasonEncodingOverflow:     ErrEncodingOverflow,
	types.ReasonInvariantViolation:   ErrInvariantViolation,
	types.ReasonConsentDenied:        ErrConsentDenied,
	types.ReasonInternal:             ErrInternal,
}

// Sentinel returns the sentinel error for reason, or nil for ReasonNone.
func Sentinel(reason types.FailureReason) error {
	if reason < 0 || int(reason) >= len(reasonErrors) {
		return ErrInternal
	}
	return reasonErrors[reason]
}

// ReasonOf maps err onto the failure taxonomy. Unclassified errors are internal.
func ReasonOf(err error) types.FailureReason {
	if err == nil {
		return types.ReasonNone
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Reason
	}
	for reason, sentinel := range reasonErrors {
		if sentinel != nil && errors.Is(err, sentinel) {
			return types.FailureReason(reason)
		}
	}
	return types.ReasonInternal
}

// SessionError is the error a FAILED session carries.
type SessionError struct {
	Reason types.FailureReason
	Err    error
}

// NewSessionError classifies err and wraps it.
func NewSessionError(err error) *SessionError {
	return &SessionError{Reason: ReasonOf(err), Err: err}
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return e.Reason.String()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's reason, so a SessionError built
// from an unwrapped cause still satisfies errors.Is(err, ErrX).
func (e *SessionError) Is(target error) bool {
	s := Sentinel(e.Reason)
	return s != nil && s == target
}
