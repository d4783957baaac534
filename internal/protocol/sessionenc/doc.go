// Package sessionenc implements session encryption between holder and reader.
//
// Both sides derive SKDevice and SKReader with HKDF-SHA256 from the ECDH
// secret of the holder's engagement key and the reader's ephemeral key,
// salted with SHA-256 of SessionTranscriptBytes. Messages are sealed with
// AES-256-GCM; the 12-byte nonce is an 8-byte sender identifier followed by
// a big-endian message counter starting at 1.
//
// Concurrency: Session is NOT safe for concurrent use. The presentment
// worker owns it for the life of one exchange.
package sessionenc
