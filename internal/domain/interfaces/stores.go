package interfaces

import (
	"context"
	"crypto"
	"crypto/ecdh"
	"crypto/x509"

	domaintypes "mdocholder/internal/domain/types"
)

// DocumentStore persists credentials.
type DocumentStore interface {
	ListDocuments(ctx context.Context) ([]domaintypes.Credential, error)
	GetDocument(ctx context.Context, id domaintypes.DocumentID) (domaintypes.Credential, bool, error)
	SaveDocument(ctx context.Context, doc domaintypes.Credential) error
	DeleteDocument(ctx context.Context, id domaintypes.DocumentID) error
}

// KeyStore keeps device private keys sealed at rest.
type KeyStore interface {
	CreateKey(ctx context.Context, curve domaintypes.Curve) (domaintypes.KeyInfo, crypto.PublicKey, error)
	Signer(ctx context.Context, alias string) (crypto.Signer, error)
	SharedSecret(ctx context.Context, alias string, peer *ecdh.PublicKey) ([]byte, error)
	IncrementUsage(ctx context.Context, alias string) (int, error)
	KeyInfo(ctx context.Context, alias string) (domaintypes.KeyInfo, bool, error)
}

// TrustStore holds reader trust points and validates reader chains.
type TrustStore interface {
	AddTrustPoint(point domaintypes.TrustPoint) error
	TrustPoints() []domaintypes.TrustPoint
	// ValidateChain returns the anchoring trust point or an error wrapping
	// ErrUntrustedReader. chain is leaf first.
	ValidateChain(chain []*x509.Certificate) (domaintypes.TrustPoint, error)
}
