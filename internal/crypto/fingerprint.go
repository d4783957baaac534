package crypto

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
)

// Fingerprint returns a short hex fingerprint of b.
//
// It hashes with SHA-256 and truncates to 10 bytes (20 hex chars).
func Fingerprint(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:10])
}

// CertFingerprint fingerprints the DER encoding of cert.
func CertFingerprint(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	return Fingerprint(cert.Raw)
}
