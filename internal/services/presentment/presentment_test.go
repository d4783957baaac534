package presentment_test

import (
	"context"
	"crypto/x509"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/pki"
	"mdocholder/internal/protocol/engagement"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/reader"
	"mdocholder/internal/services/credential"
	"mdocholder/internal/services/documents"
	"mdocholder/internal/services/presentment"
	"mdocholder/internal/store"
	"mdocholder/internal/transport"
	"mdocholder/internal/trust"
)

const (
	docTypeA domain.DocType   = "org.example.a"
	docTypeB domain.DocType   = "org.example.b"
	docTypeC domain.DocType   = "org.example.c"
	ns       domain.Namespace = "org.example"
)

var loopbackMethod = domain.ConnectionMethod{Kind: domain.MethodLoopback, Address: "holder"}

// ---- stubs ----

type stubPending struct{ m domain.ConnectionMethod }

func (p stubPending) Method() domain.ConnectionMethod { return p.m }

type stubNegotiator struct {
	handles   chan domain.TransportHandle
	withdrawn atomic.Int32
}

func newStubNegotiator() *stubNegotiator {
	return &stubNegotiator{handles: make(chan domain.TransportHandle, 1)}
}

func (n *stubNegotiator) Advertise(_ context.Context, m domain.ConnectionMethod) (domain.PendingConnection, error) {
	return stubPending{m}, nil
}

func (n *stubNegotiator) WaitForConnection(ctx context.Context, _ domain.PendingConnection, timeout time.Duration) (domain.TransportHandle, error) {
	select {
	case h := <-n.handles:
		return h, nil
	case <-ctx.Done():
		return nil, domain.ErrTransportCancelled
	case <-time.After(timeout):
		return nil, domain.ErrTransportTimeout
	}
}

func (n *stubNegotiator) Withdraw(domain.PendingConnection) error {
	n.withdrawn.Add(1)
	return nil
}

// stubHandle never delivers a message; Receive blocks until it is closed.
type stubHandle struct {
	closes atomic.Int32
	once   sync.Once
	done   chan struct{}
}

func newStubHandle() *stubHandle { return &stubHandle{done: make(chan struct{})} }

func (h *stubHandle) Send(context.Context, []byte) error { return nil }

func (h *stubHandle) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-h.done:
		return nil, errors.New("stub handle closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *stubHandle) Close() error {
	h.closes.Add(1)
	h.once.Do(func() { close(h.done) })
	return nil
}

type countingProvider struct {
	domain.CredentialProvider
	calls atomic.Int32
}

func (p *countingProvider) CandidatesFor(ctx context.Context, req *domain.ReaderRequest, tp domain.TrustPoint) ([]domain.Candidate, error) {
	p.calls.Add(1)
	if p.CredentialProvider == nil {
		return nil, domain.ErrNoMatchingCredential
	}
	return p.CredentialProvider.CandidatesFor(ctx, req, tp)
}

type consentFunc func(domain.ConsentRequest) bool

func (f consentFunc) Confirm(_ context.Context, req domain.ConsentRequest) (bool, error) {
	return f(req), nil
}

// recorder collects state events.
type recorder struct {
	mu     sync.Mutex
	ch     chan domain.StateEvent
	events []domain.StateEvent
}

func record(t *testing.T, s *presentment.Surface) *recorder {
	t.Helper()
	r := &recorder{ch: make(chan domain.StateEvent)}
	require.NoError(t, s.RegisterStateEvent(r.ch))
	go func() {
		for ev := range r.ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

func (r *recorder) states() []domain.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.SessionState, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.State
	}
	return out
}

func waitState(t *testing.T, s *presentment.Surface, want domain.SessionState) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want },
		5*time.Second, 5*time.Millisecond, "state %s, want %s", s.State(), want)
}

// ---- fixtures ----

type holder struct {
	svc     *presentment.Service
	lb      *transport.Loopback
	creds   *countingProvider
	issuer  *documents.Issuer
	trusted *pki.Issued
}

type holderOptions struct {
	docTypes []domain.DocType
	modes    []domain.AuthMode
	consent  domain.ConsentPrompt
}

func newHolder(t *testing.T, o holderOptions) *holder {
	t.Helper()
	ctx := context.Background()
	provider := crypto.NewProvider()
	home := t.TempDir()
	docs := store.NewDocumentFileStore(home)
	keys := store.NewKeyFileStore(home, "pass", store.KDFParams{N: 1 << 10, R: 8, P: 1})
	ds := documents.New(docs, keys, nil)

	issuer, err := documents.NewTestIssuer(time.Now(), time.Hour)
	require.NoError(t, err)
	for _, dt := range o.docTypes {
		_, err := ds.Create(ctx, documents.CreateRequest{
			DocType: dt,
			Values: map[domain.Namespace]map[domain.ElementID]any{
				ns: {"a": "alpha of " + string(dt), "b": "beta"},
			},
			AuthModes: o.modes,
		}, issuer)
		require.NoError(t, err)
	}

	root, err := pki.NewRoot(pki.Template{CommonName: "Test Reader Root"})
	require.NoError(t, err)
	ts := trust.NewStore(domain.DefaultTrustPolicy())
	require.NoError(t, ts.AddTrustPoint(domain.TrustPoint{Certificate: root.Certificate, DisplayName: "Test Readers"}))

	lb := transport.NewLoopback()
	h := &holder{
		lb:      lb,
		creds:   &countingProvider{CredentialProvider: credential.New(docs, keys, nil)},
		issuer:  issuer,
		trusted: root,
	}
	h.svc = presentment.New(presentment.Deps{
		Engagements: engagement.NewGenerator(provider),
		Negotiator:  transport.NewNegotiator(lb),
		Trust:       ts,
		Credentials: h.creds,
		Crypto:      provider,
		Consent:     o.consent,
	}, presentment.Config{
		AppName:           "test wallet",
		Methods:           []domain.ConnectionMethod{loopbackMethod},
		ConnectionTimeout: 5 * time.Second,
		ExchangeTimeout:   5 * time.Second,
	})
	t.Cleanup(h.svc.Close)
	return h
}

func readerUnder(t *testing.T, h *holder, root *pki.Issued) *reader.Client {
	t.Helper()
	leaf, err := pki.Issue(pki.Template{CommonName: "Test Reader"}, root)
	require.NoError(t, err)
	return reader.New(crypto.NewProvider(), reader.NewDialer(h.lb),
		reader.WithReaderAuth(leaf.Key, []*x509.Certificate{leaf.Certificate}),
		reader.WithIssuerRoots(h.issuer.Root),
		reader.WithDialWindow(time.Second))
}

func ask(docType domain.DocType, elems ...domain.ElementID) message.ReaderDocRequest {
	items := map[domain.ElementID]bool{}
	for _, e := range elems {
		items[e] = false
	}
	return message.ReaderDocRequest{
		DocType:    docType,
		NameSpaces: map[domain.Namespace]map[domain.ElementID]bool{ns: items},
	}
}

func stubService(t *testing.T, neg *stubNegotiator, cfg presentment.Config) (*presentment.Service, *countingProvider) {
	t.Helper()
	provider := crypto.NewProvider()
	creds := &countingProvider{}
	if cfg.Methods == nil {
		cfg.Methods = []domain.ConnectionMethod{loopbackMethod}
	}
	svc := presentment.New(presentment.Deps{
		Engagements: engagement.NewGenerator(provider),
		Negotiator:  neg,
		Trust:       trust.NewStore(domain.DefaultTrustPolicy()),
		Credentials: creds,
		Crypto:      provider,
	}, cfg)
	t.Cleanup(svc.Close)
	return svc, creds
}

// ---- tests ----

func TestPresentment_DisclosesOnlyRequestedDocument(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA, docTypeB}})
	surface := h.svc.Surface()
	rec := record(t, surface)

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, eng.Encoded, surface.EngagementBytes())

	res, err := readerUnder(t, h, h.trusted).Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	doc := res.Documents[0]
	require.Equal(t, docTypeA, doc.DocType)
	require.Equal(t, map[domain.Namespace]map[domain.ElementID]any{ns: {"a": "alpha of org.example.a"}}, doc.Claims)
	require.Equal(t, domain.AuthSignature, doc.Mode)

	waitState(t, surface, domain.StateCompleted)
	require.Nil(t, surface.EngagementBytes())
	_, docs, err := message.ParseDeviceResponse(surface.Response())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	tp, ok := surface.Reader()
	require.True(t, ok)
	require.Equal(t, "Test Readers", tp.Name())

	require.Eventually(t, func() bool { return len(rec.states()) == 5 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []domain.SessionState{
		domain.StateEngaging,
		domain.StateConnecting,
		domain.StateConnected,
		domain.StateProcessing,
		domain.StateCompleted,
	}, rec.states())
}

func TestPresentment_KeyAgreementDocument(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{
		docTypes: []domain.DocType{docTypeA},
		modes:    []domain.AuthMode{domain.AuthKeyAgreement},
	})

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	res, err := readerUnder(t, h, h.trusted).Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a", "b")})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, domain.AuthKeyAgreement, res.Documents[0].Mode)
	waitState(t, h.svc.Surface(), domain.StateCompleted)
}

func TestPresentment_NoMatchingCredential(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA, docTypeB}})
	surface := h.svc.Surface()

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = readerUnder(t, h, h.trusted).Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeC, "a")})
	var term *reader.TerminatedError
	require.ErrorAs(t, err, &term)
	require.Equal(t, message.StatusSessionTermination, term.Status)

	waitState(t, surface, domain.StateFailed)
	reason, ferr := surface.Failure()
	require.Equal(t, domain.ReasonNoMatchingCredential, reason)
	require.ErrorIs(t, ferr, domain.ErrNoMatchingCredential)
	require.Nil(t, surface.Response())
}

func TestPresentment_UntrustedReaderNeverReachesCredentials(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA}})
	surface := h.svc.Surface()

	stranger, err := pki.NewRoot(pki.Template{CommonName: "Unknown Reader Root"})
	require.NoError(t, err)

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = readerUnder(t, h, stranger).Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	var term *reader.TerminatedError
	require.ErrorAs(t, err, &term)

	waitState(t, surface, domain.StateFailed)
	reason, _ := surface.Failure()
	require.Equal(t, domain.ReasonUntrustedReader, reason)
	require.Zero(t, h.creds.calls.Load())
	_, ok := surface.Reader()
	require.False(t, ok)
}

func TestPresentment_UnsignedRequestIsUntrusted(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA}})

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	anon := reader.New(crypto.NewProvider(), reader.NewDialer(h.lb), reader.WithDialWindow(time.Second))
	_, err = anon.Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	require.Error(t, err)

	waitState(t, h.svc.Surface(), domain.StateFailed)
	reason, _ := h.svc.Surface().Failure()
	require.Equal(t, domain.ReasonUntrustedReader, reason)
	require.Zero(t, h.creds.calls.Load())
}

func TestPresentment_ConsentDenied(t *testing.T) {
	ctx := context.Background()
	var seen domain.ConsentRequest
	h := newHolder(t, holderOptions{
		docTypes: []domain.DocType{docTypeA},
		consent: consentFunc(func(req domain.ConsentRequest) bool {
			seen = req
			return false
		}),
	})

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = readerUnder(t, h, h.trusted).Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	require.Error(t, err)

	waitState(t, h.svc.Surface(), domain.StateFailed)
	reason, _ := h.svc.Surface().Failure()
	require.Equal(t, domain.ReasonConsentDenied, reason)
	require.Equal(t, "test wallet", seen.AppName)
	require.Len(t, seen.Candidates, 1)
	require.Equal(t, "Test Readers", seen.Reader.Name())
}

func TestPresentment_RestartAfterTerminalState(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA}})
	client := readerUnder(t, h, h.trusted)

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = client.Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeC, "a")})
	require.Error(t, err)
	waitState(t, h.svc.Surface(), domain.StateFailed)

	eng2, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = client.Request(ctx, eng2.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	require.NoError(t, err)
	waitState(t, h.svc.Surface(), domain.StateCompleted)
}

func TestStart_FreshEngagementKeyEachTime(t *testing.T) {
	neg := newStubNegotiator()
	svc, _ := stubService(t, neg, presentment.Config{})

	first, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	second, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)

	require.False(t, first.EphemeralKey.Equal(second.EphemeralKey))
	require.NotEqual(t, first.Encoded, second.Encoded)
	require.Equal(t, second.Encoded, svc.Surface().EngagementBytes())
}

func TestStart_ReplacesSessionAndClosesHandleOnce(t *testing.T) {
	neg := newStubNegotiator()
	svc, _ := stubService(t, neg, presentment.Config{})
	surface := svc.Surface()

	_, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	h := newStubHandle()
	neg.handles <- h
	waitState(t, surface, domain.StateConnected)

	_, err = svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.StateConnecting, surface.State())
	require.Equal(t, int32(1), h.closes.Load())

	svc.Reset()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), h.closes.Load())
	require.Equal(t, domain.StateIdle, surface.State())
}

func TestStart_StrictRefusesWhileActive(t *testing.T) {
	neg := newStubNegotiator()
	svc, _ := stubService(t, neg, presentment.Config{StrictStart: true})

	_, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), presentment.StartOptions{})
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.Equal(t, domain.ReasonInvariantViolation, domain.ReasonOf(err))
	require.Equal(t, domain.StateConnecting, svc.Surface().State())

	svc.Reset()
	_, err = svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
}

func TestCancel_DuringConnecting(t *testing.T) {
	neg := newStubNegotiator()
	svc, creds := stubService(t, neg, presentment.Config{})
	surface := svc.Surface()
	rec := record(t, surface)

	_, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	require.Equal(t, domain.StateConnecting, surface.State())

	surface.Cancel()
	require.Equal(t, domain.StateIdle, surface.State())
	require.GreaterOrEqual(t, neg.withdrawn.Load(), int32(1))
	require.Nil(t, surface.EngagementBytes())

	// The worker's late cancellation error must not move the idle service.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, domain.StateIdle, surface.State())
	require.Zero(t, creds.calls.Load())

	require.Eventually(t, func() bool { return len(rec.states()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []domain.SessionState{domain.StateEngaging, domain.StateConnecting, domain.StateIdle}, rec.states())
}

func TestStart_ConnectionTimeout(t *testing.T) {
	neg := newStubNegotiator()
	svc, _ := stubService(t, neg, presentment.Config{})

	_, err := svc.Start(context.Background(), presentment.StartOptions{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	waitState(t, svc.Surface(), domain.StateFailed)
	reason, ferr := svc.Surface().Failure()
	require.Equal(t, domain.ReasonTransportTimeout, reason)
	require.ErrorIs(t, ferr, domain.ErrTransportTimeout)
	require.GreaterOrEqual(t, neg.withdrawn.Load(), int32(1))
}

func TestStart_EngagementOverflow(t *testing.T) {
	neg := newStubNegotiator()
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	svc, _ := stubService(t, neg, presentment.Config{Methods: []domain.ConnectionMethod{
		{Kind: domain.MethodWebsocket, Address: "ws://" + string(long)},
	}})

	_, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.ErrorIs(t, err, domain.ErrEncodingOverflow)
	reason, _ := svc.Surface().Failure()
	require.Equal(t, domain.ReasonEncodingOverflow, reason)

	svc.Reset()
	require.Equal(t, domain.StateIdle, svc.Surface().State())
}

func TestSurface_DuplicateObserver(t *testing.T) {
	svc, _ := stubService(t, newStubNegotiator(), presentment.Config{})
	ch := make(chan domain.StateEvent, 8)
	require.NoError(t, svc.Surface().RegisterStateEvent(ch))
	require.ErrorIs(t, svc.Surface().RegisterStateEvent(ch), presentment.ErrObserverRegistered)
	require.NoError(t, svc.Surface().UnregisterStateEvent(ch))
	require.NoError(t, svc.Surface().RegisterStateEvent(ch))
}

func TestSurface_UnregisterReleasesBlockedDelivery(t *testing.T) {
	svc, _ := stubService(t, newStubNegotiator(), presentment.Config{})
	surface := svc.Surface()

	// Registered first and never drained: delivery to it blocks.
	abandoned := make(chan domain.StateEvent)
	require.NoError(t, surface.RegisterStateEvent(abandoned))
	rec := record(t, surface)

	_, err := svc.Start(context.Background(), presentment.StartOptions{})
	require.NoError(t, err)
	require.NoError(t, surface.UnregisterStateEvent(abandoned))
	svc.Reset()

	require.Eventually(t, func() bool { return len(rec.states()) == 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []domain.SessionState{domain.StateEngaging, domain.StateConnecting, domain.StateIdle}, rec.states())
}

func TestPresentment_MergesRequestsForSameDocType(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA}})
	surface := h.svc.Surface()

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	res, err := readerUnder(t, h, h.trusted).Request(ctx, eng.Encoded, []message.ReaderDocRequest{
		ask(docTypeA, "a"),
		ask(docTypeA, "b"),
	})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, map[domain.Namespace]map[domain.ElementID]any{
		ns: {"a": "alpha of org.example.a", "b": "beta"},
	}, res.Documents[0].Claims)
	waitState(t, surface, domain.StateCompleted)
}

func TestPresentment_SameStoreUnheldClaim(t *testing.T) {
	ctx := context.Background()
	h := newHolder(t, holderOptions{docTypes: []domain.DocType{docTypeA}})
	surface := h.svc.Surface()
	client := readerUnder(t, h, h.trusted)

	eng, err := h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	res, err := client.Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "a")})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	require.Equal(t, map[domain.Namespace]map[domain.ElementID]any{ns: {"a": "alpha of org.example.a"}},
		res.Documents[0].Claims)
	waitState(t, surface, domain.StateCompleted)

	eng, err = h.svc.Start(ctx, presentment.StartOptions{})
	require.NoError(t, err)
	_, err = client.Request(ctx, eng.Encoded, []message.ReaderDocRequest{ask(docTypeA, "c")})
	var term *reader.TerminatedError
	require.ErrorAs(t, err, &term)

	waitState(t, surface, domain.StateFailed)
	reason, ferr := surface.Failure()
	require.Equal(t, domain.ReasonNoMatchingCredential, reason)
	require.ErrorIs(t, ferr, domain.ErrNoMatchingCredential)
	require.Nil(t, surface.Response())
}
