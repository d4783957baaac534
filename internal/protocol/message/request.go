package message

import (
	gocrypto "crypto"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

// DeviceRequestVersion is the only request version understood.
const DeviceRequestVersion = "1.0"

// DeviceRequest is the reader's request for documents.
type DeviceRequest struct {
	Version     string       `cbor:"version"`
	DocRequests []DocRequest `cbor:"docRequests"`
}

// DocRequest requests one document, optionally authenticated by the reader.
type DocRequest struct {
	ItemsRequest TaggedBytes     `cbor:"itemsRequest"`
	ReaderAuth   cbor.RawMessage `cbor:"readerAuth,omitempty"`
}

// ItemsRequest lists the requested elements with their intent-to-retain flags.
type ItemsRequest struct {
	DocType     string                     `cbor:"docType"`
	NameSpaces  map[string]map[string]bool `cbor:"nameSpaces"`
	RequestInfo map[string]any             `cbor:"requestInfo,omitempty"`
}

// ReaderAuthenticationBytes returns the detached payload of readerAuth.
func ReaderAuthenticationBytes(transcript, itemsRequest []byte) ([]byte, error) {
	return embeddedArray("ReaderAuthentication", transcript, TaggedBytes(itemsRequest))
}

// ParseDeviceRequest decodes a DeviceRequest bound to the session transcript.
//
// Reader authentication is decoded but not verified here; each returned
// DocRequest carries its x5chain so the caller can verify the signature and
// then anchor the chain.
func ParseDeviceRequest(b, transcript []byte) (*domain.ReaderRequest, []ReaderAuth, error) {
	var dr DeviceRequest
	if err := Unmarshal(b, &dr); err != nil {
		return nil, nil, fmt.Errorf("%w: device request: %v", domain.ErrMalformedRequest, err)
	}
	if dr.Version != DeviceRequestVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %q", domain.ErrMalformedRequest, dr.Version)
	}
	if len(dr.DocRequests) == 0 {
		return nil, nil, fmt.Errorf("%w: no document requests", domain.ErrMalformedRequest)
	}

	req := &domain.ReaderRequest{Version: dr.Version}
	auths := make([]ReaderAuth, 0, len(dr.DocRequests))
	for i, d := range dr.DocRequests {
		var items ItemsRequest
		if err := Unmarshal(d.ItemsRequest, &items); err != nil {
			return nil, nil, fmt.Errorf("%w: docRequests[%d]: %v", domain.ErrMalformedRequest, i, err)
		}
		if items.DocType == "" || len(items.NameSpaces) == 0 {
			return nil, nil, fmt.Errorf("%w: docRequests[%d]: empty items request", domain.ErrMalformedRequest, i)
		}
		docReq := domain.DocRequest{
			DocType:           domain.DocType(items.DocType),
			Items:             make(map[domain.Namespace]map[domain.ElementID]bool, len(items.NameSpaces)),
			ItemsRequestBytes: append([]byte(nil), d.ItemsRequest...),
		}
		for ns, elems := range items.NameSpaces {
			m := make(map[domain.ElementID]bool, len(elems))
			for el, retain := range elems {
				m[domain.ElementID(el)] = retain
			}
			docReq.Items[domain.Namespace(ns)] = m
		}

		auth := ReaderAuth{transcript: transcript, itemsRequest: docReq.ItemsRequestBytes}
		if len(d.ReaderAuth) > 0 {
			var msg cose.UntaggedSign1Message
			if err := msg.UnmarshalCBOR(d.ReaderAuth); err != nil {
				return nil, nil, fmt.Errorf("%w: docRequests[%d] readerAuth: %v", domain.ErrMalformedRequest, i, err)
			}
			chain, err := X5Chain(msg.Headers)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: docRequests[%d] readerAuth: %v", domain.ErrMalformedRequest, i, err)
			}
			auth.msg = &msg
			docReq.ReaderChain = chain
		}
		req.DocRequests = append(req.DocRequests, docReq)
		auths = append(auths, auth)
	}
	return req, auths, nil
}

// ReaderAuth is the reader authentication of one DocRequest.
type ReaderAuth struct {
	msg          *cose.UntaggedSign1Message
	transcript   []byte
	itemsRequest []byte
}

// Present reports whether the DocRequest carried reader authentication.
func (a ReaderAuth) Present() bool { return a.msg != nil }

// Verify checks the reader signature with the leaf of chain.
func (a ReaderAuth) Verify(provider domain.CryptoProvider, chain []*x509.Certificate) error {
	if a.msg == nil || len(chain) == 0 {
		return fmt.Errorf("%w: no reader authentication", domain.ErrUntrustedReader)
	}
	alg, err := a.msg.Headers.Protected.Algorithm()
	if err != nil {
		return fmt.Errorf("%w: readerAuth algorithm: %v", domain.ErrMalformedRequest, err)
	}
	verifier, err := crypto.NewCOSEVerifier(provider, alg, chain[0].PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUntrustedReader, err)
	}
	payload, err := ReaderAuthenticationBytes(a.transcript, a.itemsRequest)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternal, err)
	}
	msg := cose.Sign1Message(*a.msg)
	msg.Payload = payload
	if err := msg.Verify(nil, verifier); err != nil {
		return fmt.Errorf("%w: reader signature: %v", domain.ErrUntrustedReader, err)
	}
	return nil
}

// X5Chain extracts the x5chain header, accepting a single certificate or
// an array of them.
func X5Chain(h cose.Headers) ([]*x509.Certificate, error) {
	raw, ok := h.Unprotected[cose.HeaderLabelX5Chain]
	if !ok {
		raw, ok = h.Protected[cose.HeaderLabelX5Chain]
	}
	if !ok {
		return nil, errors.New("missing x5chain")
	}
	var ders [][]byte
	switch v := raw.(type) {
	case []byte:
		ders = [][]byte{v}
	case [][]byte:
		ders = v
	case []any:
		for _, item := range v {
			b, ok := item.([]byte)
			if !ok {
				return nil, fmt.Errorf("x5chain element of type %T", item)
			}
			ders = append(ders, b)
		}
	default:
		return nil, fmt.Errorf("x5chain of type %T", raw)
	}
	if len(ders) == 0 {
		return nil, errors.New("empty x5chain")
	}
	certs := make([]*x509.Certificate, 0, len(ders))
	for _, der := range ders {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("x5chain certificate: %w", err)
		}
		certs = append(certs, c)
	}
	return certs, nil
}

// x5chainValue encodes certs the way x5chain is written: one bstr for a
// single certificate, an array otherwise.
func x5chainValue(certs []*x509.Certificate) any {
	if len(certs) == 1 {
		return certs[0].Raw
	}
	ders := make([][]byte, len(certs))
	for i, c := range certs {
		ders[i] = c.Raw
	}
	return ders
}

// ReaderDocRequest is what a reader asks for in one document.
type ReaderDocRequest struct {
	DocType    domain.DocType
	NameSpaces map[domain.Namespace]map[domain.ElementID]bool
}

// BuildDeviceRequest encodes a DeviceRequest, signing each DocRequest with
// readerKey when it is non-nil. chain is the reader chain, leaf first.
func BuildDeviceRequest(
	docs []ReaderDocRequest,
	transcript []byte,
	readerKey gocrypto.Signer,
	chain []*x509.Certificate,
) ([]byte, error) {
	dr := DeviceRequest{Version: DeviceRequestVersion}
	for _, d := range docs {
		items := ItemsRequest{DocType: string(d.DocType), NameSpaces: map[string]map[string]bool{}}
		for ns, elems := range d.NameSpaces {
			m := make(map[string]bool, len(elems))
			for el, retain := range elems {
				m[string(el)] = retain
			}
			items.NameSpaces[string(ns)] = m
		}
		itemsBytes, err := Embed(items)
		if err != nil {
			return nil, err
		}
		docReq := DocRequest{ItemsRequest: itemsBytes}
		if readerKey != nil {
			payload, err := ReaderAuthenticationBytes(transcript, itemsBytes)
			if err != nil {
				return nil, err
			}
			auth, err := signDetached(readerKey, payload, chain)
			if err != nil {
				return nil, fmt.Errorf("reader auth: %w", err)
			}
			docReq.ReaderAuth = auth
		}
		dr.DocRequests = append(dr.DocRequests, docReq)
	}
	return Marshal(dr)
}

// signDetached produces an untagged COSE_Sign1 with a detached payload.
func signDetached(key gocrypto.Signer, payload []byte, chain []*x509.Certificate) ([]byte, error) {
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
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: payload,
	}
	if len(chain) > 0 {
		msg.Headers.Unprotected[cose.HeaderLabelX5Chain] = x5chainValue(chain)
	}
	if err := msg.Sign(rand.Reader, nil, signer); err != nil {
		return nil, err
	}
	msg.Payload = nil
	untagged := cose.UntaggedSign1Message(msg)
	return untagged.MarshalCBOR()
}
