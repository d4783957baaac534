package presentment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/protocol/sessionenc"
)

// notifyTimeout bounds the best-effort status sent to a reader on failure.
const notifyTimeout = 2 * time.Second

// run drives sess from CONNECTING to a terminal state.
func (s *Service) run(ctx context.Context, sess *session, timeout time.Duration) {
	s.mu.Lock()
	rec, pending := sess.record, sess.pending
	s.mu.Unlock()
	if rec == nil {
		return
	}

	h, err := s.deps.Negotiator.WaitForConnection(ctx, pending, timeout)
	if err != nil {
		_ = s.fail(sess, err)
		return
	}
	if !s.advance(sess, domain.StateConnected, func() { sess.handle = h }) {
		// Superseded while the reader was connecting; nobody else owns h.
		_ = h.Close()
		return
	}

	enc, err := s.establish(ctx, sess, h, rec)
	if err != nil {
		_ = s.fail(sess, err)
		return
	}
	defer enc.Wipe()

	s.mu.Lock()
	req := sess.request
	s.mu.Unlock()
	resp, err := s.process(ctx, sess, req)
	if err != nil {
		s.notify(h, message.StatusSessionTermination)
		_ = s.fail(sess, err)
		return
	}

	ct, err := enc.Encrypt(resp)
	if err != nil {
		s.notify(h, message.StatusSessionTermination)
		_ = s.fail(sess, fmt.Errorf("%w: encrypt response: %v", domain.ErrInternal, err))
		return
	}
	out, err := message.Marshal(message.SessionData{Data: ct})
	if err != nil {
		_ = s.fail(sess, fmt.Errorf("%w: encode session data: %v", domain.ErrInternal, err))
		return
	}
	if err := h.Send(ctx, out); err != nil {
		_ = s.fail(sess, fmt.Errorf("%w: send response: %v", domain.ErrTransportIO, err))
		return
	}
	s.mu.Lock()
	if s.current == sess {
		sess.response = resp
	}
	s.mu.Unlock()

	if err := s.awaitAck(ctx, h); err != nil {
		_ = s.fail(sess, err)
		return
	}
	s.complete(sess)
}

// establish receives SessionEstablishment, derives the session keys and
// parses the reader's DeviceRequest. CONNECTED -> PROCESSING on success.
func (s *Service) establish(
	ctx context.Context,
	sess *session,
	h domain.TransportHandle,
	rec *domain.EngagementRecord,
) (*sessionenc.Session, error) {
	msg, err := s.receive(ctx, h)
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: reader closed before sending a request", domain.ErrTransportIO)
	}
	if err != nil {
		return nil, err
	}
	se, readerKey, err := message.ParseSessionEstablishment(msg)
	if err != nil {
		s.notify(h, message.StatusCBORDecodingError)
		return nil, err
	}

	transcript, err := message.SessionTranscript(rec.Encoded, se.EReaderKey)
	if err != nil {
		return nil, fmt.Errorf("%w: session transcript: %v", domain.ErrInternal, err)
	}
	tb, err := message.TranscriptBytes(transcript)
	if err != nil {
		return nil, fmt.Errorf("%w: session transcript: %v", domain.ErrInternal, err)
	}
	enc, err := sessionenc.New(sessionenc.RoleDevice, rec.EphemeralKey, readerKey, tb)
	if err != nil {
		s.notify(h, message.StatusSessionEncryptionError)
		return nil, fmt.Errorf("%w: session keys: %v", domain.ErrMalformedRequest, err)
	}
	plain, err := enc.Decrypt(se.Data)
	if err != nil {
		enc.Wipe()
		s.notify(h, message.StatusSessionEncryptionError)
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, err)
	}
	req, auths, err := message.ParseDeviceRequest(plain, transcript)
	if err != nil {
		enc.Wipe()
		s.notify(h, message.StatusCBORDecodingError)
		return nil, err
	}
	req.Binding = domain.SessionBinding{Transcript: transcript, ReaderKey: readerKey}

	if !s.advance(sess, domain.StateProcessing, func() { sess.request = req }) {
		enc.Wipe()
		return nil, fmt.Errorf("%w: session superseded", domain.ErrTransportCancelled)
	}
	reader, err := s.authenticateReader(req, auths)
	if err != nil {
		enc.Wipe()
		s.notify(h, message.StatusSessionTermination)
		return nil, err
	}
	s.mu.Lock()
	sess.reader = reader
	s.mu.Unlock()
	return enc, nil
}

// authenticateReader verifies every reader signature and anchors the chain
// in the trust store. Nothing about stored credentials is consulted before
// it succeeds.
func (s *Service) authenticateReader(req *domain.ReaderRequest, auths []message.ReaderAuth) (domain.TrustPoint, error) {
	var anchor domain.TrustPoint
	for i, dr := range req.DocRequests {
		if i >= len(auths) || !auths[i].Present() {
			return domain.TrustPoint{}, fmt.Errorf("%w: docRequests[%d] carries no reader authentication",
				domain.ErrUntrustedReader, i)
		}
		if err := auths[i].Verify(s.deps.Crypto, dr.ReaderChain); err != nil {
			return domain.TrustPoint{}, err
		}
		tp, err := s.deps.Trust.ValidateChain(dr.ReaderChain)
		if err != nil {
			return domain.TrustPoint{}, err
		}
		if i == 0 {
			anchor = tp
		}
	}
	logger.Infof("reader %q trusted via %q", req.DocRequests[0].ReaderChain[0].Subject.CommonName, anchor.Name())
	return anchor, nil
}

// process selects credentials, asks for consent and builds the response.
func (s *Service) process(ctx context.Context, sess *session, req *domain.ReaderRequest) ([]byte, error) {
	s.mu.Lock()
	reader := sess.reader
	s.mu.Unlock()

	cands, err := s.deps.Credentials.CandidatesFor(ctx, req, reader)
	if err != nil {
		return nil, err
	}
	chosen := bestPerDocType(cands)
	if len(chosen) == 0 {
		return nil, domain.ErrNoMatchingCredential
	}

	if s.deps.Consent != nil {
		ok, err := s.deps.Consent.Confirm(ctx, domain.ConsentRequest{
			AppName:    s.cfg.AppName,
			Reader:     reader,
			Candidates: chosen,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrTransportCancelled, err)
			}
			return nil, fmt.Errorf("%w: consent prompt: %v", domain.ErrInternal, err)
		}
		if !ok {
			return nil, domain.ErrConsentDenied
		}
	}

	docs := make([][]byte, 0, len(chosen))
	for _, c := range chosen {
		doc, err := s.deps.Credentials.Disclose(ctx, c, req.Binding)
		if err != nil {
			if domain.ReasonOf(err) != domain.ReasonInternal {
				err = fmt.Errorf("%w: %v", domain.ErrInternal, err)
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	resp, err := message.BuildDeviceResponse(docs)
	if err != nil {
		return nil, fmt.Errorf("%w: device response: %v", domain.ErrInternal, err)
	}
	return resp, nil
}

// bestPerDocType keeps the first, and therefore preferred, candidate for
// each requested doc type. Later requests for the same doc type are folded
// into that candidate's plan when they match the same credential; items
// only another credential could serve are not disclosed.
func bestPerDocType(cands []domain.Candidate) []domain.Candidate {
	index := make(map[domain.DocType]int, len(cands))
	out := make([]domain.Candidate, 0, len(cands))
	for _, c := range cands {
		i, seen := index[c.Plan.DocType]
		if !seen {
			index[c.Plan.DocType] = len(out)
			out = append(out, clonePlan(c))
			continue
		}
		if c.Credential.ID == out[i].Credential.ID {
			mergePlan(&out[i].Plan, c.Plan)
			continue
		}
		if missing := missingClaims(out[i].Plan, c.Plan); missing > 0 {
			logger.Infof("%d item(s) of %s only held by %s, not disclosed", missing, c.Plan.DocType, c.Credential.ID)
		}
	}
	return out
}

func clonePlan(c domain.Candidate) domain.Candidate {
	claims := make(map[domain.Namespace][]domain.ElementID, len(c.Plan.Claims))
	for ns, elems := range c.Plan.Claims {
		claims[ns] = append([]domain.ElementID(nil), elems...)
	}
	c.Plan.Claims = claims
	c.Plan.ClaimNames = append([]string(nil), c.Plan.ClaimNames...)
	return c
}

// mergePlan adds the claims of extra that dst lacks.
func mergePlan(dst *domain.DisclosurePlan, extra domain.DisclosurePlan) {
	k := 0
	for _, ns := range sortedNamespaces(extra.Claims) {
		for _, el := range extra.Claims[ns] {
			if !planHas(*dst, ns, el) {
				dst.Claims[ns] = append(dst.Claims[ns], el)
				if k < len(extra.ClaimNames) {
					dst.ClaimNames = append(dst.ClaimNames, extra.ClaimNames[k])
				}
			}
			k++
		}
	}
}

func missingClaims(have, want domain.DisclosurePlan) int {
	n := 0
	for ns, elems := range want.Claims {
		for _, el := range elems {
			if !planHas(have, ns, el) {
				n++
			}
		}
	}
	return n
}

func planHas(p domain.DisclosurePlan, ns domain.Namespace, el domain.ElementID) bool {
	for _, e := range p.Claims[ns] {
		if e == el {
			return true
		}
	}
	return false
}

func sortedNamespaces(m map[domain.Namespace][]domain.ElementID) []domain.Namespace {
	out := make([]domain.Namespace, 0, len(m))
	for ns := range m {
		out = append(out, ns)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// awaitAck waits for the reader to end the session with status 20 or by
// closing the transport.
func (s *Service) awaitAck(ctx context.Context, h domain.TransportHandle) error {
	for {
		msg, err := s.receive(ctx, h)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		sd, err := message.ParseSessionData(msg)
		if err != nil {
			return err
		}
		if sd.Terminates() {
			return nil
		}
		if sd.Status != nil {
			logger.Debugf("reader status %d", *sd.Status)
		}
		if sd.Data != nil {
			// One request per session; further requests end it.
			logger.Infof("reader sent a further request; terminating session")
			s.notify(h, message.StatusSessionTermination)
			return nil
		}
	}
}

// receive reads one message within the exchange timeout. A clean close is
// returned as io.EOF; other failures are classified as transport errors.
func (s *Service) receive(ctx context.Context, h domain.TransportHandle) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.ExchangeTimeout)
	defer cancel()
	msg, err := h.Receive(rctx)
	switch {
	case err == nil:
		return msg, nil
	case errors.Is(err, io.EOF):
		return nil, io.EOF
	case ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportCancelled, err)
	case rctx.Err() != nil:
		return nil, fmt.Errorf("%w: reader silent for %s", domain.ErrTransportTimeout, s.cfg.ExchangeTimeout)
	}
	return nil, fmt.Errorf("%w: receive: %v", domain.ErrTransportIO, err)
}

// notify sends a bare status to the reader, ignoring failures.
func (s *Service) notify(h domain.TransportHandle, status uint) {
	b, err := message.Marshal(message.NewStatus(status))
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := h.Send(ctx, b); err != nil {
		logger.Debugf("status %d not delivered: %v", status, err)
	}
}
