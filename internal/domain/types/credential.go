package types

import (
	"crypto/ecdh"
	"crypto/x509"
	"time"
)

// AuthMode is how the holder authenticates a disclosed document.
type AuthMode string

const (
	// AuthSignature signs DeviceAuthentication with the device key (COSE_Sign1).
	AuthSignature AuthMode = "signature"
	// AuthKeyAgreement MACs DeviceAuthentication with a key agreed with the reader (COSE_Mac0).
	AuthKeyAgreement AuthMode = "key-agreement"
)

// Credential is a stored mdoc. The session only ever reads it.
//
// Namespaces holds the encoded IssuerSignedItem of every element, keyed by
// namespace and element identifier. IssuerAuth is the issuer's COSE_Sign1
// over the Mobile Security Object.
type Credential struct {
	ID              DocumentID                         `json:"id"`
	DocType         DocType                            `json:"doc_type"`
	DisplayName     string                             `json:"display_name"`
	TypeDisplayName string                             `json:"type_display_name"`
	KeyAlias        string                             `json:"key_alias"`
	AuthModes       []AuthMode                         `json:"auth_modes"`
	Namespaces      map[Namespace]map[ElementID][]byte `json:"namespaces"`
	IssuerAuth      []byte                             `json:"issuer_auth"`
	CreatedAt       time.Time                          `json:"created_at"`
}

// Supports reports whether the credential can authenticate with mode.
func (c Credential) Supports(mode AuthMode) bool {
	for _, m := range c.AuthModes {
		if m == mode {
			return true
		}
	}
	return false
}

// Has reports whether the credential carries the given element.
func (c Credential) Has(ns Namespace, el ElementID) bool {
	elems, ok := c.Namespaces[ns]
	if !ok {
		return false
	}
	_, ok = elems[el]
	return ok
}

// DocRequest is one document requested by a reader.
//
// Items maps namespace and element to the reader's intent-to-retain flag.
// ReaderChain is the reader-auth x5chain, leaf first; it is empty when the
// request carried no reader authentication.
type DocRequest struct {
	DocType           DocType
	Items             map[Namespace]map[ElementID]bool
	ItemsRequestBytes []byte
	ReaderChain       []*x509.Certificate
}

// ElementCount returns the number of requested elements.
func (r DocRequest) ElementCount() int {
	n := 0
	for _, elems := range r.Items {
		n += len(elems)
	}
	return n
}

// ReaderRequest is a parsed DeviceRequest bound to its session.
type ReaderRequest struct {
	Version     string
	DocRequests []DocRequest
	Binding     SessionBinding
}

// SessionBinding carries the session values device authentication is bound to.
//
// Transcript is the encoded SessionTranscript array.
type SessionBinding struct {
	Transcript []byte
	ReaderKey  *ecdh.PublicKey
}

// DisclosurePlan lists exactly which claims of a credential will be released.
type DisclosurePlan struct {
	DocType    DocType
	Claims     map[Namespace][]ElementID
	Mode       AuthMode
	ClaimNames []string
}

// ClaimCount returns the number of claims in the plan.
func (p DisclosurePlan) ClaimCount() int {
	n := 0
	for _, elems := range p.Claims {
		n += len(elems)
	}
	return n
}

// Candidate pairs a credential with the plan for disclosing it.
type Candidate struct {
	Credential Credential
	Plan       DisclosurePlan
}
