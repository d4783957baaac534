package documents

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
	"mdocholder/internal/protocol/message"
)

var logger = log.New("mdocholder/documents")

// Display names of the seeded sample document.
const (
	SampleDisplayName     = "Erika's Driving License"
	SampleTypeDisplayName = "Utopia Driving License"
)

const defaultValidity = 365 * 24 * time.Hour

var ErrNoValues = errors.New("documents: no claim values")

// Issuer signs Mobile Security Objects.
type Issuer struct {
	Key   crypto.Signer
	Chain []*x509.Certificate
	// Root is the IACA certificate the chain ends under.
	Root *x509.Certificate
}

// NewTestIssuer creates a throwaway IACA root and document signer, both on
// P-256, valid from now for validity.
func NewTestIssuer(now time.Time, validity time.Duration) (*Issuer, error) {
	iaca, err := pki.NewRoot(pki.Template{
		CommonName: "Test IACA Key",
		Country:    "UT",
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.Add(validity),
	})
	if err != nil {
		return nil, fmt.Errorf("iaca: %w", err)
	}
	ds, err := pki.Issue(pki.Template{
		CommonName: "Test DS Key",
		Country:    "UT",
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.Add(validity),
	}, iaca)
	if err != nil {
		return nil, fmt.Errorf("document signer: %w", err)
	}
	return &Issuer{Key: ds.Key, Chain: []*x509.Certificate{ds.Certificate}, Root: iaca.Certificate}, nil
}

// CreateRequest describes a new credential.
type CreateRequest struct {
	DocType         domain.DocType
	DisplayName     string
	TypeDisplayName string
	Values          map[domain.Namespace]map[domain.ElementID]any
	// AuthModes defaults to both signature and key agreement.
	AuthModes []domain.AuthMode
	Curve     domain.Curve
	Validity  time.Duration
}

// Service creates and lists the holder's credentials.
type Service struct {
	docs     domain.DocumentStore
	keys     domain.KeyStore
	registry *doctype.Registry
	now      func() time.Time
}

// New returns a document service over the given stores.
func New(docs domain.DocumentStore, keys domain.KeyStore, registry *doctype.Registry) *Service {
	return &Service{docs: docs, keys: keys, registry: registry, now: time.Now}
}

// List returns every stored credential.
func (s *Service) List(ctx context.Context) ([]domain.Credential, error) {
	return s.docs.ListDocuments(ctx)
}

// Create provisions a credential.
//
// Steps:
//  1. Create a device key in the key store; its private half never leaves
//     the store.
//  2. Have issuer sign an MSO over every value, bound to the device key.
//  3. Persist the credential with its encoded IssuerSignedItems.
func (s *Service) Create(ctx context.Context, req CreateRequest, issuer *Issuer) (domain.Credential, error) {
	if len(req.Values) == 0 {
		return domain.Credential{}, ErrNoValues
	}
	if issuer == nil {
		return domain.Credential{}, errors.New("documents: issuer required")
	}
	curve := req.Curve
	if curve == "" {
		curve = domain.CurveP256
	}
	modes := req.AuthModes
	if len(modes) == 0 {
		modes = []domain.AuthMode{domain.AuthSignature, domain.AuthKeyAgreement}
	}
	validity := req.Validity
	if validity <= 0 {
		validity = defaultValidity
	}

	info, devicePub, err := s.keys.CreateKey(ctx, curve)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("device key: %w", err)
	}

	now := s.now()
	issued, err := message.Issue(message.IssueRequest{
		DocType:    req.DocType,
		Values:     req.Values,
		DeviceKey:  devicePub,
		SignedAt:   now,
		ValidFrom:  now,
		ValidUntil: now.Add(validity),
	}, issuer.Key, issuer.Chain)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("issue %s: %w", req.DocType, err)
	}

	typeName := req.TypeDisplayName
	if typeName == "" && s.registry != nil {
		if dt, ok := s.registry.Lookup(req.DocType); ok {
			typeName = dt.DisplayName
		}
	}
	cred := domain.Credential{
		ID:              domain.DocumentID(uuid.NewString()),
		DocType:         req.DocType,
		DisplayName:     req.DisplayName,
		TypeDisplayName: typeName,
		KeyAlias:        info.Alias,
		AuthModes:       modes,
		Namespaces:      issued.Namespaces,
		IssuerAuth:      issued.IssuerAuth,
		CreatedAt:       now,
	}
	if err := s.docs.SaveDocument(ctx, cred); err != nil {
		return domain.Credential{}, err
	}
	logger.Infof("created document %s (%s)", cred.ID, cred.DocType)
	return cred, nil
}

// SeedSample provisions the sample driving licence, signed by a throwaway
// issuer, when the store is empty. It reports whether a document was created.
func (s *Service) SeedSample(ctx context.Context) (bool, error) {
	return s.SeedSampleWith(ctx, nil)
}

// SeedSampleWith is SeedSample with a caller-supplied issuer, so the caller
// can keep the IACA root for readers to anchor the document signer in. A
// nil issuer gets a fresh test issuer.
func (s *Service) SeedSampleWith(ctx context.Context, issuer *Issuer) (bool, error) {
	existing, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 {
		logger.Debugf("store holds %d document(s); not seeding", len(existing))
		return false, nil
	}

	if issuer == nil {
		if issuer, err = NewTestIssuer(s.now(), defaultValidity); err != nil {
			return false, err
		}
	}
	mdl := doctype.DrivingLicense()
	if _, err := s.Create(ctx, CreateRequest{
		DocType:         mdl.DocType,
		DisplayName:     SampleDisplayName,
		TypeDisplayName: SampleTypeDisplayName,
		Values:          mdl.SampleValues(),
	}, issuer); err != nil {
		return false, fmt.Errorf("seed sample: %w", err)
	}
	return true, nil
}

var _ domain.DocumentService = (*Service)(nil)
