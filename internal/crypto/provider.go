package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"
	"math/big"
	"runtime"

	"mdocholder/internal/domain"
)

var (
	ErrUnsupportedCurve     = errors.New("unsupported curve")
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
	ErrBadSignature         = errors.New("signature verification failed")
)

// Provider is the default crypto provider. Rand defaults to crypto/rand.
type Provider struct {
	Rand io.Reader
}

// NewProvider returns a Provider using crypto/rand.
func NewProvider() *Provider { return &Provider{Rand: rand.Reader} }

// GenerateKeyPair returns a fresh EC key pair on curve.
func (p *Provider) GenerateKeyPair(curve domain.Curve) (*ecdh.PrivateKey, error) {
	c, err := ECDHCurve(curve)
	if err != nil {
		return nil, err
	}
	r := p.Rand
	if r == nil {
		r = rand.Reader
	}
	return c.GenerateKey(r)
}

// Verify checks a raw r||s ECDSA signature over message.
func (p *Provider) Verify(pub crypto.PublicKey, alg domain.SignatureAlgorithm, message, signature []byte) error {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("verify: public key type %T: %w", pub, ErrUnsupportedAlgorithm)
	}
	digest, err := digestFor(alg, message)
	if err != nil {
		return err
	}
	n := (key.Curve.Params().BitSize + 7) / 8
	if len(signature) != 2*n {
		return fmt.Errorf("verify: signature length %d: %w", len(signature), ErrBadSignature)
	}
	r := new(big.Int).SetBytes(signature[:n])
	s := new(big.Int).SetBytes(signature[n:])
	if !ecdsa.Verify(key, digest, r, s) {
		return ErrBadSignature
	}
	return nil
}

// AlgorithmFor returns the ES* algorithm matching the key's curve.
func AlgorithmFor(pub crypto.PublicKey) (domain.SignatureAlgorithm, error) {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return 0, fmt.Errorf("public key type %T: %w", pub, ErrUnsupportedAlgorithm)
	}
	switch key.Curve {
	case elliptic.P256():
		return domain.AlgES256, nil
	case elliptic.P384():
		return domain.AlgES384, nil
	case elliptic.P521():
		return domain.AlgES512, nil
	}
	return 0, ErrUnsupportedCurve
}

// ECDHCurve maps a curve name to its crypto/ecdh implementation.
func ECDHCurve(curve domain.Curve) (ecdh.Curve, error) {
	switch curve {
	case domain.CurveP256:
		return ecdh.P256(), nil
	case domain.CurveP384:
		return ecdh.P384(), nil
	case domain.CurveP521:
		return ecdh.P521(), nil
	}
	return nil, fmt.Errorf("%q: %w", curve, ErrUnsupportedCurve)
}

// ECDH computes the shared secret between priv and peer.
func ECDH(priv *ecdh.PrivateKey, peer *ecdh.PublicKey) ([]byte, error) {
	if priv == nil || peer == nil {
		return nil, errors.New("ecdh: missing key")
	}
	if priv.Curve() != peer.Curve() {
		return nil, fmt.Errorf("ecdh: %w", ErrUnsupportedCurve)
	}
	return priv.ECDH(peer)
}

// Wipe zeroes the provided buffer. This is best-effort and aims to
// reduce the chance of the compiler eliding the write.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

func digestFor(alg domain.SignatureAlgorithm, message []byte) ([]byte, error) {
	switch alg {
	case domain.AlgES256:
		sum := sha256.Sum256(message)
		return sum[:], nil
	case domain.AlgES384:
		sum := sha512.Sum384(message)
		return sum[:], nil
	case domain.AlgES512:
		sum := sha512.Sum512(message)
		return sum[:], nil
	}
	return nil, fmt.Errorf("algorithm %d: %w", alg, ErrUnsupportedAlgorithm)
}

var _ domain.CryptoProvider = (*Provider)(nil)
