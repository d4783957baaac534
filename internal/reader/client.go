package reader

import (
	"context"
	gocrypto "crypto"
	"crypto/ecdh"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/protocol/sessionenc"
	"mdocholder/internal/transport"
)

var logger = log.New("mdocholder/reader")

var (
	ErrNoUsableMethod = errors.New("reader: engagement offers no method this reader can dial")
	ErrUnverified     = errors.New("reader: response failed verification")
)

// TerminatedError is returned when the holder ended the session with a
// status instead of a response.
type TerminatedError struct {
	Status uint
}

func (e *TerminatedError) Error() string {
	return fmt.Sprintf("reader: holder ended the session with status %d", e.Status)
}

// Dialer opens a transport to a holder for one connection method.
type Dialer interface {
	Dial(ctx context.Context, method domain.ConnectionMethod) (domain.TransportHandle, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, method domain.ConnectionMethod) (domain.TransportHandle, error)

func (f DialerFunc) Dial(ctx context.Context, m domain.ConnectionMethod) (domain.TransportHandle, error) {
	return f(ctx, m)
}

// NewDialer dials websocket methods over the network and loopback methods
// through lb, which may be nil when no in-process holder exists.
func NewDialer(lb *transport.Loopback) Dialer {
	return DialerFunc(func(ctx context.Context, m domain.ConnectionMethod) (domain.TransportHandle, error) {
		switch {
		case m.Kind == domain.MethodWebsocket:
			return transport.DialWebsocket(ctx, m.Address)
		case m.Kind == domain.MethodLoopback && lb != nil:
			return lb.Dial(ctx, m.Address)
		}
		return nil, fmt.Errorf("%w: %s", ErrNoUsableMethod, m.Kind)
	})
}

// Client is a minimal mdoc reader: it answers an engagement with a signed
// request and verifies what comes back.
type Client struct {
	provider domain.CryptoProvider
	dialer   Dialer
	key      gocrypto.Signer
	chain    []*x509.Certificate
	issuers  *x509.CertPool
	now      func() time.Time

	dialWindow time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithReaderAuth signs every DocRequest with key; chain is leaf first.
func WithReaderAuth(key gocrypto.Signer, chain []*x509.Certificate) Option {
	return func(c *Client) {
		c.key = key
		c.chain = chain
	}
}

// WithIssuerRoots requires every document signer chain to anchor in roots.
func WithIssuerRoots(roots ...*x509.Certificate) Option {
	return func(c *Client) {
		if c.issuers == nil {
			c.issuers = x509.NewCertPool()
		}
		for _, r := range roots {
			c.issuers.AddCert(r)
		}
	}
}

// WithDialWindow bounds how long dialing is retried while the holder
// starts listening. Zero dials once.
func WithDialWindow(d time.Duration) Option {
	return func(c *Client) { c.dialWindow = d }
}

// WithClock sets the time used for issuer chain validation.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New returns a Client.
func New(provider domain.CryptoProvider, dialer Dialer, opts ...Option) *Client {
	c := &Client{provider: provider, dialer: dialer, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Document is one verified document of a response.
type Document struct {
	DocType domain.DocType
	Claims  map[domain.Namespace]map[domain.ElementID]any
	Mode    domain.AuthMode
	Signer  *x509.Certificate
}

// Result is a verified DeviceResponse.
type Result struct {
	Status    uint
	Documents []Document
}

// Request performs one retrieval against the engagement in encoded.
func (c *Client) Request(ctx context.Context, encoded []byte, docs []message.ReaderDocRequest) (*Result, error) {
	eng, err := engagement.Decode(encoded)
	if err != nil {
		return nil, err
	}

	h, err := c.dial(ctx, eng.Methods)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	eReader, err := c.provider.GenerateKeyPair(curveOf(eng.DeviceKey))
	if err != nil {
		return nil, err
	}
	eReaderKey, err := crypto.EncodeCOSEKey(eReader.PublicKey())
	if err != nil {
		return nil, err
	}
	transcript, err := message.SessionTranscript(encoded, eReaderKey)
	if err != nil {
		return nil, err
	}
	tb, err := message.TranscriptBytes(transcript)
	if err != nil {
		return nil, err
	}
	enc, err := sessionenc.New(sessionenc.RoleReader, eReader, eng.DeviceKey, tb)
	if err != nil {
		return nil, err
	}
	defer enc.Wipe()

	req, err := message.BuildDeviceRequest(docs, transcript, c.key, c.chain)
	if err != nil {
		return nil, fmt.Errorf("device request: %w", err)
	}
	ct, err := enc.Encrypt(req)
	if err != nil {
		return nil, err
	}
	out, err := message.Marshal(message.SessionEstablishment{EReaderKey: eReaderKey, Data: ct})
	if err != nil {
		return nil, err
	}
	if err := h.Send(ctx, out); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	in, err := h.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("receive response: %w", err)
	}
	sd, err := message.ParseSessionData(in)
	if err != nil {
		return nil, err
	}
	if sd.Data == nil {
		return nil, &TerminatedError{Status: *sd.Status}
	}
	plain, err := enc.Decrypt(sd.Data)
	if err != nil {
		return nil, err
	}

	res, verr := c.verify(plain, transcript, eReader)

	end, err := message.Marshal(message.NewStatus(message.StatusSessionTermination))
	if err == nil {
		if err := h.Send(ctx, end); err != nil {
			logger.Debugf("session termination not delivered: %v", err)
		}
	}
	return res, verr
}

// curveOf names the curve of pub so the reader key can match it.
func curveOf(pub *ecdh.PublicKey) domain.Curve {
	switch pub.Curve() {
	case ecdh.P384():
		return domain.CurveP384
	case ecdh.P521():
		return domain.CurveP521
	}
	return domain.CurveP256
}

func (c *Client) dial(ctx context.Context, methods []domain.ConnectionMethod) (domain.TransportHandle, error) {
	var lastErr error = ErrNoUsableMethod
	for _, m := range methods {
		var h domain.TransportHandle
		op := func() error {
			var err error
			h, err = c.dialer.Dial(ctx, m)
			if errors.Is(err, ErrNoUsableMethod) {
				return backoff.Permanent(err)
			}
			return err
		}
		var b backoff.BackOff = &backoff.StopBackOff{}
		if c.dialWindow > 0 {
			eb := backoff.NewExponentialBackOff()
			eb.InitialInterval = 20 * time.Millisecond
			eb.MaxElapsedTime = c.dialWindow
			b = eb
		}
		err := backoff.Retry(op, backoff.WithContext(b, ctx))
		if err == nil {
			logger.Debugf("connected via %s", m.Kind)
			return h, nil
		}
		logger.Debugf("dial %s: %v", m.Kind, err)
		lastErr = err
	}
	return nil, lastErr
}

// verify checks issuer and device authentication of every document.
func (c *Client) verify(plain, transcript []byte, eReader *ecdh.PrivateKey) (*Result, error) {
	resp, docs, err := message.ParseDeviceResponse(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverified, err)
	}
	res := &Result{Status: resp.Status}
	for i, d := range docs {
		doc, err := c.verifyDocument(d, transcript, eReader)
		if err != nil {
			return nil, fmt.Errorf("%w: documents[%d]: %v", ErrUnverified, i, err)
		}
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

func (c *Client) verifyDocument(d message.Document, transcript []byte, eReader *ecdh.PrivateKey) (Document, error) {
	v, err := message.VerifyIssuerAuth(c.provider, d.IssuerSigned.IssuerAuth)
	if err != nil {
		return Document{}, err
	}
	if v.MSO.DocType != d.DocType {
		return Document{}, fmt.Errorf("docType %q does not match MSO %q", d.DocType, v.MSO.DocType)
	}
	if c.issuers != nil {
		inter := x509.NewCertPool()
		for _, cert := range v.DSChain[1:] {
			inter.AddCert(cert)
		}
		if _, err := v.DSChain[0].Verify(x509.VerifyOptions{
			Roots:         c.issuers,
			Intermediates: inter,
			CurrentTime:   c.now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		}); err != nil {
			return Document{}, fmt.Errorf("document signer: %w", err)
		}
	}

	out := Document{
		DocType: domain.DocType(d.DocType),
		Claims:  make(map[domain.Namespace]map[domain.ElementID]any, len(d.IssuerSigned.NameSpaces)),
		Signer:  v.DSChain[0],
	}
	for ns, items := range d.IssuerSigned.NameSpaces {
		values := make(map[domain.ElementID]any, len(items))
		for _, raw := range items {
			it, err := v.CheckItem(ns, raw)
			if err != nil {
				return Document{}, err
			}
			values[domain.ElementID(it.ElementIdentifier)] = it.ElementValue
		}
		out.Claims[domain.Namespace(ns)] = values
	}

	deviceKey, err := crypto.DecodeCOSEKey(v.MSO.DeviceKeyInfo.DeviceKey)
	if err != nil {
		return Document{}, fmt.Errorf("device key: %w", err)
	}
	payload, err := message.DeviceAuthenticationBytes(transcript, out.DocType, d.DeviceSigned.NameSpaces)
	if err != nil {
		return Document{}, err
	}
	auth := d.DeviceSigned.DeviceAuth
	switch {
	case len(auth.DeviceSignature) > 0:
		out.Mode = domain.AuthSignature
		err = message.VerifyDeviceSignature(c.provider, deviceKey, auth.DeviceSignature, payload)
	case len(auth.DeviceMac) > 0:
		out.Mode = domain.AuthKeyAgreement
		var secret, key []byte
		if secret, err = crypto.ECDH(eReader, deviceKey); err != nil {
			break
		}
		defer crypto.Wipe(secret)
		if key, err = message.DeriveEMacKey(secret, transcript); err != nil {
			break
		}
		err = message.VerifyDeviceMac(key, auth.DeviceMac, payload)
	default:
		err = errors.New("no device authentication")
	}
	if err != nil {
		return Document{}, fmt.Errorf("device auth: %w", err)
	}
	return out, nil
}
