// Package crypto exposes the primitives consumed by the presentment engine.
//
// Contents
//
//   - EC key pair generation on P-256/P-384/P-521 (Provider.GenerateKeyPair)
//   - ECDSA verification of raw r||s COSE signatures (Provider.Verify) and a
//     go-cose Verifier adapter backed by the provider (NewCOSEVerifier)
//   - COSE_Key encoding and decoding of EC2 public keys (EncodeCOSEKey,
//     DecodeCOSEKey)
//   - ECDH with best-effort wiping of the shared secret (ECDH, Wipe)
//   - Short certificate and key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// Ephemeral engagement keys are *ecdh.PrivateKey values; device keys live in
// the key store and are only reached through crypto.Signer. Callers should
// treat returned shared secrets as sensitive and Wipe them after use.
package crypto
