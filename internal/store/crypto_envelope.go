package store

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

// The current supported version of the sealed key format stored on disk.
const envelopeVersion = 1

// KDFParams are the scrypt cost parameters used when sealing new keys.
type KDFParams struct {
	N int
	R int
	P int
}

// DefaultKDFParams returns interactive-login strength parameters.
func DefaultKDFParams() KDFParams { return KDFParams{N: 1 << 15, R: 8, P: 1} }

// envelope is the on-disk JSON structure holding a sealed secret and the
// parameters needed to open it.
type envelope struct {
	V      int    `json:"v"`
	Salt   []byte `json:"salt"`
	N      int    `json:"scrypt_N"`
	R      int    `json:"scrypt_r"`
	P      int    `json:"scrypt_p"`
	Nonce  []byte `json:"nonce"`
	Cipher []byte `json:"cipher"`
}

// seal derives a key from passphrase and encrypts raw, binding aad.
func seal(passphrase string, raw, aad []byte, kdf KDFParams) (envelope, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return envelope{}, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt[:], kdf.N, kdf.R, kdf.P, chacha20poly1305.KeySize)
	if err != nil {
		return envelope{}, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return envelope{}, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return envelope{}, err
	}
	return envelope{
		V:      envelopeVersion,
		Salt:   salt[:],
		N:      kdf.N,
		R:      kdf.R,
		P:      kdf.P,
		Nonce:  nonce,
		Cipher: aead.Seal(nil, nonce, raw, aad),
	}, nil
}

// open reverses seal. A wrong passphrase, tampered ciphertext or a changed
// aad all yield domain.ErrWrongPassphrase.
func open(passphrase string, env envelope, aad []byte) ([]byte, error) {
	if env.V > envelopeVersion {
		return nil, fmt.Errorf("unsupported key envelope version %d", env.V)
	}
	key, err := scrypt.Key([]byte(passphrase), env.Salt, env.N, env.R, env.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, domain.ErrWrongPassphrase
	}
	pt, err := aead.Open(nil, env.Nonce, env.Cipher, aad)
	if err != nil {
		return nil, domain.ErrWrongPassphrase
	}
	return pt, nil
}
