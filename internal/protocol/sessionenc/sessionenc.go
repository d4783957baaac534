package sessionenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"

	"mdocholder/internal/crypto"
)

const (
	keySize   = 32
	nonceSize = 12
)

var (
	ErrDecrypt          = errors.New("session decryption failed")
	ErrCounterExhausted = errors.New("session message counter exhausted")
	errNoKey            = errors.New("session keys wiped")
)

// Role selects which derived key is used for sending.
type Role int

const (
	RoleDevice Role = iota
	RoleReader
)

// Identifiers prefixed to the message counter in the nonce.
var (
	readerIdentifier = [8]byte{0, 0, 0, 0, 0, 0, 0, 0}
	deviceIdentifier = [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
)

// Session is one side of an encrypted presentment session.
type Session struct {
	sendKey, recvKey []byte
	sendID, recvID   [8]byte
	sendCtr, recvCtr uint32
}

// New derives SKDevice and SKReader from ECDH(priv, peer) with a salt of
// SHA-256(transcriptBytes), and returns the session for role.
func New(role Role, priv *ecdh.PrivateKey, peer *ecdh.PublicKey, transcriptBytes []byte) (*Session, error) {
	shared, err := crypto.ECDH(priv, peer)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(shared)

	salt := sha256.Sum256(transcriptBytes)
	skDevice, err := derive(shared, salt[:], "SKDevice")
	if err != nil {
		return nil, err
	}
	skReader, err := derive(shared, salt[:], "SKReader")
	if err != nil {
		return nil, err
	}

	s := &Session{sendCtr: 1, recvCtr: 1}
	switch role {
	case RoleDevice:
		s.sendKey, s.recvKey = skDevice, skReader
		s.sendID, s.recvID = deviceIdentifier, readerIdentifier
	case RoleReader:
		s.sendKey, s.recvKey = skReader, skDevice
		s.sendID, s.recvID = readerIdentifier, deviceIdentifier
	default:
		return nil, errors.New("unknown session role")
	}
	return s, nil
}

// Encrypt seals plaintext under the next send counter.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if s.sendKey == nil {
		return nil, errNoKey
	}
	if s.sendCtr == math.MaxUint32 {
		return nil, ErrCounterExhausted
	}
	aead, err := newAEAD(s.sendKey)
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce(s.sendID, s.sendCtr), plaintext, nil)
	s.sendCtr++
	return ct, nil
}

// Decrypt opens ciphertext under the next expected receive counter.
// Messages must arrive in order; a failed open does not advance the counter.
func (s *Session) Decrypt(ciphertext []byte) ([]byte, error) {
	if s.recvKey == nil {
		return nil, errNoKey
	}
	if s.recvCtr == math.MaxUint32 {
		return nil, ErrCounterExhausted
	}
	aead, err := newAEAD(s.recvKey)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce(s.recvID, s.recvCtr), ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	s.recvCtr++
	return pt, nil
}

// Wipe zeroes the session keys. The session is unusable afterwards.
func (s *Session) Wipe() {
	crypto.Wipe(s.sendKey)
	crypto.Wipe(s.recvKey)
	s.sendKey, s.recvKey = nil, nil
}

func derive(secret, salt []byte, info string) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func nonce(id [8]byte, ctr uint32) []byte {
	n := make([]byte, nonceSize)
	copy(n, id[:])
	binary.BigEndian.PutUint32(n[8:], ctr)
	return n
}
