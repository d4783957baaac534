// Package message implements the CBOR messages exchanged with a reader once
// a transport is up.
//
// Contents
//
//   - SessionEstablishment / SessionData framing and the QR-handover
//     SessionTranscript
//   - DeviceRequest parsing, including the reader authentication COSE_Sign1
//     and its x5chain, and building (for test readers)
//   - DeviceResponse / Document structures
//   - Issuer data: IssuerSignedItem, Mobile Security Object, issuerAuth
//   - Device authentication: detached COSE_Sign1 deviceSignature or
//     COSE_Mac0 deviceMac keyed from ECDH with the reader's ephemeral key
//
// All encodings are deterministic (core deterministic CBOR, RFC 8949 §4.2).
// Parse failures on reader input wrap domain.ErrMalformedRequest; a bad
// reader signature wraps domain.ErrUntrustedReader.
package message
