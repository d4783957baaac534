package store

import (
	"context"
	gocrypto "crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

const keysDir = "keys"

// keyRecord is the on-disk form of a device key.
type keyRecord struct {
	Info   domain.KeyInfo `json:"info"`
	Public []byte         `json:"public"` // PKIX DER
	Sealed envelope       `json:"sealed"`
}

// KeyFileStore holds device private keys sealed under a passphrase.
//
// Private keys are only ever opened for the duration of a single signing or
// key agreement operation. Usage counters are persisted alongside the key
// and updated under the write lock.
type KeyFileStore struct {
	dir        string
	passphrase string
	kdf        KDFParams
	mu         sync.RWMutex
}

// NewKeyFileStore returns a key store rooted at home.
func NewKeyFileStore(home, passphrase string, kdf KDFParams) *KeyFileStore {
	if kdf.N == 0 {
		kdf = DefaultKDFParams()
	}
	return &KeyFileStore{
		dir:        filepath.Join(home, keysDir),
		passphrase: passphrase,
		kdf:        kdf,
	}
}

// CreateKey generates and seals a new device key.
func (s *KeyFileStore) CreateKey(ctx context.Context, curve domain.Curve) (domain.KeyInfo, gocrypto.PublicKey, error) {
	if err := ctx.Err(); err != nil {
		return domain.KeyInfo{}, nil, err
	}
	var c elliptic.Curve
	switch curve {
	case domain.CurveP256:
		c = elliptic.P256()
	case domain.CurveP384:
		c = elliptic.P384()
	case domain.CurveP521:
		c = elliptic.P521()
	default:
		return domain.KeyInfo{}, nil, fmt.Errorf("create key: %q: %w", curve, crypto.ErrUnsupportedCurve)
	}
	priv, err := ecdsa.GenerateKey(c, rand.Reader)
	if err != nil {
		return domain.KeyInfo{}, nil, err
	}
	der, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return domain.KeyInfo{}, nil, err
	}
	defer crypto.Wipe(der)

	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return domain.KeyInfo{}, nil, err
	}

	info := domain.KeyInfo{
		Alias:     "key-" + uuid.NewString(),
		Curve:     curve,
		CreatedAt: time.Now().UTC(),
	}
	sealed, err := seal(s.passphrase, der, []byte(info.Alias), s.kdf)
	if err != nil {
		return domain.KeyInfo{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return domain.KeyInfo{}, nil, err
	}
	path, err := recordPath(s.dir, info.Alias)
	if err != nil {
		return domain.KeyInfo{}, nil, err
	}
	if err := writeJSON(path, keyRecord{Info: info, Public: pub, Sealed: sealed}, 0o600); err != nil {
		return domain.KeyInfo{}, nil, err
	}
	return info, &priv.PublicKey, nil
}

// KeyInfo returns metadata for alias.
func (s *KeyFileStore) KeyInfo(ctx context.Context, alias string) (domain.KeyInfo, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.KeyInfo{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, found, err := s.load(alias)
	if err != nil || !found {
		return domain.KeyInfo{}, false, err
	}
	return rec.Info, true, nil
}

// Signer returns a crypto.Signer for alias. The private key is opened on
// every Sign call and wiped afterwards.
func (s *KeyFileStore) Signer(ctx context.Context, alias string) (gocrypto.Signer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	rec, found, err := s.load(alias)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("key %s: %w", alias, domain.ErrNotFound)
	}
	pub, err := x509.ParsePKIXPublicKey(rec.Public)
	if err != nil {
		return nil, err
	}
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key %s: unexpected public key type %T", alias, pub)
	}
	return &sealedSigner{store: s, alias: alias, pub: ecPub}, nil
}

// SharedSecret performs ECDH between the device key and peer.
func (s *KeyFileStore) SharedSecret(ctx context.Context, alias string, peer *ecdh.PublicKey) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := s.openPrivate(alias)
	if err != nil {
		return nil, err
	}
	ecdhPriv, err := priv.ECDH()
	if err != nil {
		return nil, err
	}
	return crypto.ECDH(ecdhPriv, peer)
}

// IncrementUsage bumps the usage counter of alias and returns the new value.
func (s *KeyFileStore) IncrementUsage(ctx context.Context, alias string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, found, err := s.load(alias)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("key %s: %w", alias, domain.ErrNotFound)
	}
	rec.Info.Usage++
	path, err := recordPath(s.dir, alias)
	if err != nil {
		return 0, err
	}
	if err := writeJSON(path, rec, 0o600); err != nil {
		return 0, err
	}
	return rec.Info.Usage, nil
}

// load reads the record for alias; callers hold s.mu.
func (s *KeyFileStore) load(alias string) (keyRecord, bool, error) {
	path, err := recordPath(s.dir, alias)
	if err != nil {
		return keyRecord{}, false, err
	}
	var rec keyRecord
	found, err := readJSON(path, &rec)
	return rec, found, err
}

func (s *KeyFileStore) openPrivate(alias string) (*ecdsa.PrivateKey, error) {
	s.mu.RLock()
	rec, found, err := s.load(alias)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("key %s: %w", alias, domain.ErrNotFound)
	}
	der, err := open(s.passphrase, rec.Sealed, []byte(alias))
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(der)
	return x509.ParseECPrivateKey(der)
}

// sealedSigner signs with a key that stays sealed between calls.
type sealedSigner struct {
	store *KeyFileStore
	alias string
	pub   *ecdsa.PublicKey
}

func (k *sealedSigner) Public() gocrypto.PublicKey { return k.pub }

func (k *sealedSigner) Sign(r io.Reader, digest []byte, opts gocrypto.SignerOpts) ([]byte, error) {
	priv, err := k.store.openPrivate(k.alias)
	if err != nil {
		return nil, err
	}
	if !priv.PublicKey.Equal(k.pub) {
		return nil, errors.New("sealed key does not match its public key")
	}
	return priv.Sign(r, digest, opts)
}

var _ domain.KeyStore = (*KeyFileStore)(nil)
