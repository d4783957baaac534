package message

import (
	"bytes"
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

const (
	msoVersion      = "1.0"
	digestAlgorithm = "SHA-256"
)

// IssuerSignedItem is one issuer-signed data element.
type IssuerSignedItem struct {
	DigestID          uint   `cbor:"digestID"`
	Random            []byte `cbor:"random"`
	ElementIdentifier string `cbor:"elementIdentifier"`
	ElementValue      any    `cbor:"elementValue"`
}

// MobileSecurityObject is the issuer-signed digest list of a document.
type MobileSecurityObject struct {
	Version         string                     `cbor:"version"`
	DigestAlgorithm string                     `cbor:"digestAlgorithm"`
	ValueDigests    map[string]map[uint][]byte `cbor:"valueDigests"`
	DeviceKeyInfo   DeviceKeyInfo              `cbor:"deviceKeyInfo"`
	DocType         string                     `cbor:"docType"`
	ValidityInfo    ValidityInfo               `cbor:"validityInfo"`
}

// DeviceKeyInfo holds the COSE_Key of the device key.
type DeviceKeyInfo struct {
	DeviceKey cbor.RawMessage `cbor:"deviceKey"`
}

// ValidityInfo bounds when the MSO may be relied upon.
type ValidityInfo struct {
	Signed     time.Time `cbor:"signed"`
	ValidFrom  time.Time `cbor:"validFrom"`
	ValidUntil time.Time `cbor:"validUntil"`
}

// IssueRequest describes a document to issue.
type IssueRequest struct {
	DocType    domain.DocType
	Values     map[domain.Namespace]map[domain.ElementID]any
	DeviceKey  gocrypto.PublicKey
	SignedAt   time.Time
	ValidFrom  time.Time
	ValidUntil time.Time
}

// Issued is the issuer-signed part of a new credential.
type Issued struct {
	Namespaces map[domain.Namespace]map[domain.ElementID][]byte
	IssuerAuth []byte
}

// Issue builds IssuerSignedItems for every value and signs the MSO with
// the document signer key. dsChain is the DS certificate chain, leaf first.
func Issue(req IssueRequest, dsKey gocrypto.Signer, dsChain []*x509.Certificate) (*Issued, error) {
	ecPub, ok := req.DeviceKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("issue: device key type %T", req.DeviceKey)
	}
	ecdhPub, err := ecPub.ECDH()
	if err != nil {
		return nil, err
	}
	deviceKey, err := crypto.EncodeCOSEKey(ecdhPub)
	if err != nil {
		return nil, err
	}

	out := &Issued{Namespaces: make(map[domain.Namespace]map[domain.ElementID][]byte)}
	mso := MobileSecurityObject{
		Version:         msoVersion,
		DigestAlgorithm: digestAlgorithm,
		ValueDigests:    make(map[string]map[uint][]byte),
		DeviceKeyInfo:   DeviceKeyInfo{DeviceKey: deviceKey},
		DocType:         string(req.DocType),
		ValidityInfo: ValidityInfo{
			Signed:     req.SignedAt.UTC().Truncate(time.Second),
			ValidFrom:  req.ValidFrom.UTC().Truncate(time.Second),
			ValidUntil: req.ValidUntil.UTC().Truncate(time.Second),
		},
	}

	var digestID uint
	for _, ns := range sortedNamespaces(req.Values) {
		elems := req.Values[ns]
		ids := make([]string, 0, len(elems))
		for id := range elems {
			ids = append(ids, string(id))
		}
		sort.Strings(ids)

		out.Namespaces[ns] = make(map[domain.ElementID][]byte, len(ids))
		mso.ValueDigests[string(ns)] = make(map[uint][]byte, len(ids))
		for _, id := range ids {
			random := make([]byte, 16)
			if _, err := rand.Read(random); err != nil {
				return nil, err
			}
			item, err := Marshal(IssuerSignedItem{
				DigestID:          digestID,
				Random:            random,
				ElementIdentifier: id,
				ElementValue:      elems[domain.ElementID(id)],
			})
			if err != nil {
				return nil, fmt.Errorf("issue %s/%s: %w", ns, id, err)
			}
			digest, err := itemDigest(item)
			if err != nil {
				return nil, err
			}
			out.Namespaces[ns][domain.ElementID(id)] = item
			mso.ValueDigests[string(ns)][digestID] = digest
			digestID++
		}
	}

	msoBytes, err := Embed(mso)
	if err != nil {
		return nil, err
	}
	payload, err := msoBytes.MarshalCBOR()
	if err != nil {
		return nil, err
	}
	out.IssuerAuth, err = signAttached(dsKey, payload, dsChain)
	if err != nil {
		return nil, fmt.Errorf("issuer auth: %w", err)
	}
	return out, nil
}

// itemDigest hashes #6.24(bstr .cbor IssuerSignedItem).
func itemDigest(item []byte) ([]byte, error) {
	tagged, err := Tag24(item)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(tagged)
	return sum[:], nil
}

func signAttached(key gocrypto.Signer, payload []byte, chain []*x509.Certificate) ([]byte, error) {
	domAlg, err := crypto.AlgorithmFor(key.Public())
	if err != nil {
		return nil, err
	}
	alg := crypto.COSEAlgorithm(domAlg)
	signer, err := cose.NewSigner(alg, key)
	if err != nil {
		return nil, err
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected:   cose.ProtectedHeader{cose.HeaderLabelAlgorithm: alg},
			Unprotected: cose.UnprotectedHeader{cose.HeaderLabelX5Chain: x5chainValue(chain)},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	untagged := cose.UntaggedSign1Message(msg)
	return untagged.MarshalCBOR()
}

// VerifiedIssuerAuth is the outcome of checking an issuerAuth structure.
type VerifiedIssuerAuth struct {
	MSO     MobileSecurityObject
	DSChain []*x509.Certificate
}

// VerifyIssuerAuth checks the DS signature over the MSO and returns it.
// Anchoring the DS chain in an IACA is left to the caller.
func VerifyIssuerAuth(provider domain.CryptoProvider, issuerAuth []byte) (*VerifiedIssuerAuth, error) {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(issuerAuth); err != nil {
		return nil, fmt.Errorf("issuerAuth: %w", err)
	}
	chain, err := X5Chain(msg.Headers)
	if err != nil {
		return nil, fmt.Errorf("issuerAuth: %w", err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return nil, err
	}
	verifier, err := crypto.NewCOSEVerifier(provider, alg, chain[0].PublicKey)
	if err != nil {
		return nil, err
	}
	signed := cose.Sign1Message(msg)
	if err := signed.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("issuerAuth signature: %w", err)
	}
	var embedded TaggedBytes
	if err := Unmarshal(msg.Payload, &embedded); err != nil {
		return nil, fmt.Errorf("issuerAuth payload: %w", err)
	}
	var mso MobileSecurityObject
	if err := Unmarshal(embedded, &mso); err != nil {
		return nil, fmt.Errorf("mso: %w", err)
	}
	return &VerifiedIssuerAuth{MSO: mso, DSChain: chain}, nil
}

// CheckItem verifies that item is covered by the MSO digests for ns and
// returns the decoded item.
func (v *VerifiedIssuerAuth) CheckItem(ns string, item []byte) (IssuerSignedItem, error) {
	var it IssuerSignedItem
	if err := Unmarshal(item, &it); err != nil {
		return IssuerSignedItem{}, err
	}
	want, ok := v.MSO.ValueDigests[ns][it.DigestID]
	if !ok {
		return IssuerSignedItem{}, fmt.Errorf("no digest for %s/%s", ns, it.ElementIdentifier)
	}
	got, err := itemDigest(item)
	if err != nil {
		return IssuerSignedItem{}, err
	}
	if !bytes.Equal(want, got) {
		return IssuerSignedItem{}, errors.New("digest mismatch for " + ns + "/" + it.ElementIdentifier)
	}
	return it, nil
}

func sortedNamespaces[V any](m map[domain.Namespace]V) []domain.Namespace {
	out := make([]domain.Namespace, 0, len(m))
	for ns := range m {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
