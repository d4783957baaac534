package types

import "crypto/x509"

// TrustPoint is a reader root the holder trusts.
type TrustPoint struct {
	Certificate *x509.Certificate
	DisplayName string
	DisplayIcon []byte
}

// Name returns the display name, falling back to the certificate subject.
func (tp TrustPoint) Name() string {
	if tp.DisplayName != "" {
		return tp.DisplayName
	}
	if tp.Certificate != nil {
		return tp.Certificate.Subject.CommonName
	}
	return ""
}

// TrustPolicy configures chain validation.
type TrustPolicy struct {
	// CheckValidity rejects certificates outside their validity period.
	CheckValidity bool `yaml:"check_validity"`
	// MaxChainLength bounds the reader chain, trust point excluded.
	MaxChainLength int `yaml:"max_chain_length"`
}

// DefaultTrustPolicy returns the policy used when none is configured.
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{CheckValidity: true, MaxChainLength: 8}
}
