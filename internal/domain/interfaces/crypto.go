package interfaces

import (
	"crypto"
	"crypto/ecdh"

	domaintypes "mdocholder/internal/domain/types"
)

// CryptoProvider supplies the primitives the engine consumes.
type CryptoProvider interface {
	// GenerateKeyPair returns a fresh key pair on curve.
	GenerateKeyPair(curve domaintypes.Curve) (*ecdh.PrivateKey, error)
	// Verify checks a raw (r||s) signature of message under pub.
	Verify(pub crypto.PublicKey, alg domaintypes.SignatureAlgorithm, message, signature []byte) error
}
