// Package store provides file-based persistence for the holder's credentials
// and device keys.
//
// It contains concrete implementations of the domain storage interfaces,
// serialising records as JSON under the configured home directory. Writes go
// through a temp file and an atomic rename. All methods are concurrency-safe
// via internal locking.
//
// The package includes stores for:
//   - Credentials (DocumentFileStore), one file per document
//   - Device keys (KeyFileStore), sealed with a passphrase-derived key
//     (scrypt + XChaCha20-Poly1305) and bound to their alias
package store
