// Package reader is a minimal mdoc reader used by the reader command and by
// end-to-end tests of the holder.
//
// A Client decodes a scanned engagement, dials the first method it can,
// sends a SessionEstablishment carrying a (optionally reader-signed)
// DeviceRequest and verifies the issuer and device authentication of every
// returned document before ending the session with status 20.
package reader
