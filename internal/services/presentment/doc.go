// Package presentment runs the holder side of a proximity presentment.
//
// A Service moves one session at a time through
//
//	IDLE -> ENGAGING -> CONNECTING -> CONNECTED -> PROCESSING -> COMPLETED | FAILED
//
// and back to IDLE on Reset. Start generates the engagement and begins
// advertising; a worker goroutine then waits for the reader, decrypts its
// request, authenticates the reader against the trust store, selects and
// discloses credentials, and waits for the reader to end the session.
//
// The reader is authenticated before the credential provider is consulted.
// An untrusted reader always ends in FAILED with ReasonUntrustedReader, and
// nothing is sent to it except a session termination status.
//
// Callers observe the session through a Surface: polling accessors plus
// channel registration for state events, delivered in transition order by
// one dispatcher goroutine.
package presentment
