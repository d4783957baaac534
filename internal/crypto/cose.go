package crypto

import (
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"mdocholder/internal/domain"
)

// COSE key parameters (RFC 9052 / RFC 9053).
const (
	coseKtyEC2  = 2
	coseCrvP256 = 1
	coseCrvP384 = 2
	coseCrvP521 = 3
)

// coseKey is an EC2 COSE_Key holding a public point.
type coseKey struct {
	Kty int    `cbor:"1,keyasint"`
	Crv int    `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

var coseEncMode, _ = cbor.CoreDetEncOptions().EncMode()

// EncodeCOSEKey encodes pub as an EC2 COSE_Key.
func EncodeCOSEKey(pub *ecdh.PublicKey) ([]byte, error) {
	if pub == nil {
		return nil, errors.New("cose key: nil public key")
	}
	var crv int
	switch pub.Curve() {
	case ecdh.P256():
		crv = coseCrvP256
	case ecdh.P384():
		crv = coseCrvP384
	case ecdh.P521():
		crv = coseCrvP521
	default:
		return nil, fmt.Errorf("cose key: %w", ErrUnsupportedCurve)
	}
	raw := pub.Bytes() // 0x04 || X || Y
	n := (len(raw) - 1) / 2
	return coseEncMode.Marshal(coseKey{
		Kty: coseKtyEC2,
		Crv: crv,
		X:   raw[1 : 1+n],
		Y:   raw[1+n:],
	})
}

// DecodeCOSEKey parses an EC2 COSE_Key into an ECDH public key.
func DecodeCOSEKey(b []byte) (*ecdh.PublicKey, error) {
	var k coseKey
	if err := cbor.Unmarshal(b, &k); err != nil {
		return nil, fmt.Errorf("cose key: %w", err)
	}
	if k.Kty != coseKtyEC2 {
		return nil, fmt.Errorf("cose key: kty %d not supported", k.Kty)
	}
	var curve ecdh.Curve
	switch k.Crv {
	case coseCrvP256:
		curve = ecdh.P256()
	case coseCrvP384:
		curve = ecdh.P384()
	case coseCrvP521:
		curve = ecdh.P521()
	default:
		return nil, fmt.Errorf("cose key: crv %d: %w", k.Crv, ErrUnsupportedCurve)
	}
	raw := make([]byte, 0, 1+len(k.X)+len(k.Y))
	raw = append(raw, 0x04)
	raw = append(raw, k.X...)
	raw = append(raw, k.Y...)
	return curve.NewPublicKey(raw)
}

// ECDSAPublicKey converts an ECDH public key on a NIST curve to ECDSA form.
func ECDSAPublicKey(pub *ecdh.PublicKey) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch pub.Curve() {
	case ecdh.P256():
		curve = elliptic.P256()
	case ecdh.P384():
		curve = elliptic.P384()
	case ecdh.P521():
		curve = elliptic.P521()
	default:
		return nil, ErrUnsupportedCurve
	}
	raw := pub.Bytes()
	n := (len(raw) - 1) / 2
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(raw[1 : 1+n]),
		Y:     new(big.Int).SetBytes(raw[1+n:]),
	}, nil
}

// coseVerifier adapts a CryptoProvider to the go-cose Verifier interface.
type coseVerifier struct {
	provider domain.CryptoProvider
	alg      cose.Algorithm
	pub      crypto.PublicKey
}

// NewCOSEVerifier returns a go-cose Verifier that delegates to provider.
func NewCOSEVerifier(provider domain.CryptoProvider, alg cose.Algorithm, pub crypto.PublicKey) (cose.Verifier, error) {
	switch alg {
	case cose.AlgorithmES256, cose.AlgorithmES384, cose.AlgorithmES512:
	default:
		return nil, fmt.Errorf("cose alg %v: %w", alg, ErrUnsupportedAlgorithm)
	}
	return &coseVerifier{provider: provider, alg: alg, pub: pub}, nil
}

func (v *coseVerifier) Algorithm() cose.Algorithm { return v.alg }

func (v *coseVerifier) Verify(content, signature []byte) error {
	if err := v.provider.Verify(v.pub, domain.SignatureAlgorithm(v.alg), content, signature); err != nil {
		return fmt.Errorf("%w: %v", cose.ErrVerification, err)
	}
	return nil
}

// COSEAlgorithm maps a domain algorithm to its go-cose value.
func COSEAlgorithm(alg domain.SignatureAlgorithm) cose.Algorithm { return cose.Algorithm(alg) }
