// Package engagement generates and parses device engagements.
//
// A device engagement is the CBOR map a holder shows as a QR code:
//
//	{0: "1.0", 1: [1, #6.24(COSE_Key)], 2: [[type, version, options]...], 1000: nonce}
//
// Each advertised connection method is its own retrieval entry, so Decode
// returns the methods in the order they were generated. The ephemeral key is
// fresh for every Generate call and never reused across sessions.
package engagement
