package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ErrNoCertificates is returned when PEM input holds no CERTIFICATE block.
var ErrNoCertificates = errors.New("no certificates found in PEM input")

// Template describes a certificate to issue.
type Template struct {
	CommonName   string
	Organization string
	Country      string
	NotBefore    time.Time
	NotAfter     time.Time
	IsCA         bool
	// PathLen applies to CA certificates only; zero leaves it unset.
	PathLen int
	Curve   elliptic.Curve
}

func (t Template) withDefaults() Template {
	if t.NotBefore.IsZero() {
		t.NotBefore = time.Now().Add(-time.Hour)
	}
	if t.NotAfter.IsZero() {
		t.NotAfter = t.NotBefore.Add(365 * 24 * time.Hour)
	}
	if t.Curve == nil {
		t.Curve = elliptic.P256()
	}
	return t
}

// Issued is a certificate with its private key.
type Issued struct {
	Certificate *x509.Certificate
	Key         *ecdsa.PrivateKey
}

// NewRoot issues a self-signed CA certificate.
func NewRoot(t Template) (*Issued, error) {
	t = t.withDefaults()
	t.IsCA = true
	key, err := ecdsa.GenerateKey(t.Curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return issue(t, key, nil, key)
}

// Issue signs a certificate for a fresh key under parent.
func Issue(t Template, parent *Issued) (*Issued, error) {
	if parent == nil || parent.Certificate == nil || parent.Key == nil {
		return nil, errors.New("pki: parent certificate and key required")
	}
	t = t.withDefaults()
	key, err := ecdsa.GenerateKey(t.Curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	return issue(t, key, parent.Certificate, parent.Key)
}

// IssueFor signs a certificate binding an existing public key under parent,
// e.g. a device key held by the key store.
func IssueFor(t Template, pub crypto.PublicKey, parent *Issued) (*x509.Certificate, error) {
	if parent == nil || parent.Certificate == nil || parent.Key == nil {
		return nil, errors.New("pki: parent certificate and key required")
	}
	t = t.withDefaults()
	der, err := x509.CreateCertificate(rand.Reader, template(t), parent.Certificate, pub, parent.Key)
	if err != nil {
		return nil, fmt.Errorf("pki: create certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

func issue(t Template, key *ecdsa.PrivateKey, parent *x509.Certificate, signer crypto.Signer) (*Issued, error) {
	tmpl := template(t)
	if parent == nil {
		parent = tmpl
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("pki: create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("pki: parse certificate: %w", err)
	}
	return &Issued{Certificate: cert, Key: key}, nil
}

func template(t Template) *x509.Certificate {
	serial, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 120))
	subject := pkix.Name{CommonName: t.CommonName}
	if t.Organization != "" {
		subject.Organization = []string{t.Organization}
	}
	if t.Country != "" {
		subject.Country = []string{t.Country}
	}
	c := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               subject,
		NotBefore:             t.NotBefore,
		NotAfter:              t.NotAfter,
		BasicConstraintsValid: true,
		IsCA:                  t.IsCA,
		KeyUsage:              x509.KeyUsageDigitalSignature,
	}
	if t.IsCA {
		c.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		if t.PathLen > 0 {
			c.MaxPathLen = t.PathLen
		}
	}
	return c
}

// EncodeCertificatesPEM encodes certs as concatenated PEM blocks.
func EncodeCertificatesPEM(certs ...*x509.Certificate) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	return out
}

// ParseCertificatesPEM parses every CERTIFICATE block in b.
func ParseCertificatesPEM(b []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("pki: parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificates
	}
	return certs, nil
}

// EncodeKeyPEM encodes key as an "EC PRIVATE KEY" PEM block.
func EncodeKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

// ParseKeyPEM parses the first EC PRIVATE KEY block in b.
func ParseKeyPEM(b []byte) (*ecdsa.PrivateKey, error) {
	for {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			return nil, errors.New("pki: no EC PRIVATE KEY block")
		}
		if block.Type == "EC PRIVATE KEY" {
			return x509.ParseECPrivateKey(block.Bytes)
		}
	}
}
