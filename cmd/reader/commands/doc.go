// Package commands implements the reader CLI, a test mdoc reader for
// exercising mdocholder on a local network.
//
// Commands
//
//	reader keys [--out DIR]
//	    Create a reader root and a reader authentication leaf. Trust the
//	    root on the holder with `mdocholder trust add DIR/reader_root.pem`.
//
//	reader request [--keys DIR] [--issuer-root FILE] [--doctype T] [--element NS/ID ...] <mdoc:URI>
//	    Answer a displayed engagement: connect, send a signed request and
//	    print the verified claims.
//
// Behaviour
//
//   - Only websocket engagements can be dialed from a separate process.
//   - Without --keys the request carries no reader authentication, which a
//     holder always refuses.
//   - Without --issuer-root the document signer chain is not anchored; the
//     issuer signature and device authentication are still checked.
package commands
