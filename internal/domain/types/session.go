package types

import "time"

// SessionState is a presentment session lifecycle state.
type SessionState int

const (
	StateIdle SessionState = iota
	StateEngaging
	StateConnecting
	StateConnected
	StateProcessing
	StateCompleted
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "IDLE",
	StateEngaging:   "ENGAGING",
	StateConnecting: "CONNECTING",
	StateConnected:  "CONNECTED",
	StateProcessing: "PROCESSING",
	StateCompleted:  "COMPLETED",
	StateFailed:     "FAILED",
}

// String returns the upper-case state name.
func (s SessionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Terminal reports whether s is COMPLETED or FAILED.
func (s SessionState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureReason classifies why a session reached FAILED.
type FailureReason int

const (
	ReasonNone FailureReason = iota
	ReasonTransportTimeout
	ReasonTransportCancelled
	ReasonTransportIO
	ReasonUntrustedReader
	ReasonNoMatchingCredential
	ReasonMalformedRequest
	ReasonEncodingOverflow
	ReasonInvariantViolation
	ReasonConsentDenied
	ReasonInternal
)

var reasonNames = [...]string{
	ReasonNone:                 "none",
	ReasonTransportTimeout:     "transport-timeout",
	ReasonTransportCancelled:   "transport-cancelled",
	ReasonTransportIO:          "transport-io-error",
	ReasonUntrustedReader:      "untrusted-reader",
	ReasonNoMatchingCredential: "no-matching-credential",
	ReasonMalformedRequest:     "malformed-request",
	ReasonEncodingOverflow:     "encoding-overflow",
	ReasonInvariantViolation:   "internal-invariant-violation",
	ReasonConsentDenied:        "consent-denied",
	ReasonInternal:             "internal-error",
}

func (r FailureReason) String() string {
	if r < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// StateEvent is delivered to observers on every transition.
type StateEvent struct {
	Generation uint64
	Previous   SessionState
	State      SessionState
	Reason     FailureReason
	Err        error
	At         time.Time
}

// KeyInfo describes a device key held by the key store.
type KeyInfo struct {
	Alias     string    `json:"alias"`
	Curve     Curve     `json:"curve"`
	Usage     int       `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}
