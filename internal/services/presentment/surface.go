package presentment

import (
	"mdocholder/internal/domain"
)

// Surface is the read-only view of the session service handed to callers,
// plus the two ways to end a session. It carries no rendering concerns.
type Surface struct {
	svc *Service
}

// State returns the current state.
func (v *Surface) State() domain.SessionState {
	v.svc.mu.Lock()
	defer v.svc.mu.Unlock()
	return v.svc.state
}

// Failure returns why the session is FAILED, or ReasonNone and nil.
func (v *Surface) Failure() (domain.FailureReason, error) {
	v.svc.mu.Lock()
	defer v.svc.mu.Unlock()
	if v.svc.state != domain.StateFailed {
		return domain.ReasonNone, nil
	}
	return v.svc.reason, v.svc.failErr
}

// EngagementBytes returns the encoded engagement while the session is
// ENGAGING or CONNECTING, and nil otherwise.
func (v *Surface) EngagementBytes() []byte {
	v.svc.mu.Lock()
	defer v.svc.mu.Unlock()
	if v.svc.state != domain.StateEngaging && v.svc.state != domain.StateConnecting {
		return nil
	}
	sess := v.svc.current
	if sess == nil || sess.record == nil {
		return nil
	}
	return append([]byte(nil), sess.record.Encoded...)
}

// Response returns the DeviceResponse sent in a COMPLETED session.
func (v *Surface) Response() []byte {
	v.svc.mu.Lock()
	defer v.svc.mu.Unlock()
	if v.svc.state != domain.StateCompleted || v.svc.current == nil {
		return nil
	}
	return append([]byte(nil), v.svc.current.response...)
}

// Reader returns the trust point the current reader anchored in, once
// trust validation has succeeded.
func (v *Surface) Reader() (domain.TrustPoint, bool) {
	v.svc.mu.Lock()
	defer v.svc.mu.Unlock()
	if v.svc.current == nil || v.svc.current.reader.Certificate == nil {
		return domain.TrustPoint{}, false
	}
	return v.svc.current.reader, true
}

// RegisterStateEvent registers ch to receive every state transition, in
// order. Delivery blocks until ch accepts, so observers must drain it.
func (v *Surface) RegisterStateEvent(ch chan<- domain.StateEvent) error {
	return v.svc.events.register(ch)
}

// UnregisterStateEvent stops delivery to ch.
func (v *Surface) UnregisterStateEvent(ch chan<- domain.StateEvent) error {
	v.svc.events.unregister(ch)
	return nil
}

// Cancel abandons the active session.
func (v *Surface) Cancel() { v.svc.Cancel() }

// Reset returns to IDLE from any state.
func (v *Surface) Reset() { v.svc.Reset() }
