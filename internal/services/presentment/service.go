package presentment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/domain"
)

var logger = log.New("mdocholder/presentment")

// Defaults applied by New when Config leaves a field zero.
const (
	DefaultConnectionTimeout = 2 * time.Minute
	DefaultExchangeTimeout   = time.Minute
)

// Config tunes the session service.
type Config struct {
	// AppName is shown in consent prompts.
	AppName string
	// Methods are advertised in this order when Start is given none; the
	// first one the negotiator accepts is the one actually listened on.
	Methods []domain.ConnectionMethod
	// ConnectionTimeout bounds the wait for a reader to connect.
	ConnectionTimeout time.Duration
	// ExchangeTimeout bounds each wait for a reader message once connected.
	ExchangeTimeout time.Duration
	// StrictStart makes Start fail with ErrInvariantViolation while a
	// session is active instead of resetting it.
	StrictStart bool
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Engagements domain.EngagementGenerator
	Negotiator  domain.TransportNegotiator
	Trust       domain.TrustStore
	Credentials domain.CredentialProvider
	Crypto      domain.CryptoProvider
	// Consent may be nil, in which case every disclosure is approved.
	Consent domain.ConsentPrompt
}

// session is one run from ENGAGING to a terminal state.
type session struct {
	gen      uint64
	record   *domain.EngagementRecord
	pending  domain.PendingConnection
	handle   domain.TransportHandle
	request  *domain.ReaderRequest
	reader   domain.TrustPoint
	response []byte
	cancel   context.CancelFunc
	released bool
}

// Service is the presentment session state machine. At most one session
// is outside IDLE at any time.
//
// Transitions are serialized by mu. Every run carries a generation; a
// worker whose session has been superseded can no longer transition, and
// any handle it obtains afterwards is closed by the worker itself.
type Service struct {
	deps Deps
	cfg  Config

	startMu sync.Mutex // serializes Start calls end to end

	mu      sync.Mutex
	gen     uint64
	state   domain.SessionState
	reason  domain.FailureReason
	failErr error
	current *session

	events *dispatcher
	now    func() time.Time
}

// New returns an idle Service.
func New(deps Deps, cfg Config) *Service {
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = DefaultExchangeTimeout
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		state:  domain.StateIdle,
		events: newDispatcher(),
		now:    time.Now,
	}
}

// allowed lists the legal forward transitions. Reset to IDLE is legal from
// every state and handled separately.
var allowed = map[domain.SessionState][]domain.SessionState{
	domain.StateIdle:       {domain.StateEngaging},
	domain.StateEngaging:   {domain.StateConnecting, domain.StateFailed},
	domain.StateConnecting: {domain.StateConnected, domain.StateFailed},
	domain.StateConnected:  {domain.StateProcessing, domain.StateFailed},
	domain.StateProcessing: {domain.StateCompleted, domain.StateFailed},
}

func legal(from, to domain.SessionState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StartOptions overrides Config for one session.
type StartOptions struct {
	Methods []domain.ConnectionMethod
	Timeout time.Duration
}

// Start begins a new presentment and returns its engagement for display.
//
// Steps:
//  1. If a session is active, reset it (or refuse, with StrictStart).
//  2. IDLE -> ENGAGING: generate a fresh engagement.
//  3. ENGAGING -> CONNECTING: advertise the first method the negotiator
//     accepts and hand the wait to a worker goroutine.
//
// A failure in either step leaves the service in FAILED and is returned.
// The rest of the session is reported through state events.
func (s *Service) Start(ctx context.Context, opts StartOptions) (*domain.EngagementRecord, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state != domain.StateIdle {
		if s.cfg.StrictStart {
			state := s.state
			s.mu.Unlock()
			err := domain.NewSessionError(fmt.Errorf("%w: start while %s", domain.ErrInvariantViolation, state))
			logger.Warnf("%v", err)
			return nil, err
		}
		logger.Infof("start while %s; resetting the active session", s.state)
		cleanup := s.resetLocked()
		s.mu.Unlock()
		cleanup()
		s.mu.Lock()
	}

	s.gen++
	sess := &session{gen: s.gen}
	s.current = sess
	s.transitionLocked(sess, domain.StateEngaging, nil)
	s.mu.Unlock()

	methods := opts.Methods
	if len(methods) == 0 {
		methods = s.cfg.Methods
	}
	rec, err := s.deps.Engagements.Generate(methods, domain.RoleHolder)
	if err != nil {
		if !errors.Is(err, domain.ErrEncodingOverflow) {
			err = fmt.Errorf("%w: engagement: %v", domain.ErrInternal, err)
		}
		return nil, s.fail(sess, err)
	}

	var (
		pending domain.PendingConnection
		lastErr error
	)
	for _, m := range rec.Methods {
		p, err := s.deps.Negotiator.Advertise(ctx, m)
		if err == nil {
			pending = p
			break
		}
		logger.Debugf("advertise %s: %v", m.Kind, err)
		lastErr = err
	}
	if pending == nil {
		if !errors.Is(lastErr, domain.ErrTransportIO) {
			lastErr = fmt.Errorf("%w: %v", domain.ErrTransportIO, lastErr)
		}
		return nil, s.fail(sess, lastErr)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = s.cfg.ConnectionTimeout
	}
	wctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.current != sess {
		s.mu.Unlock()
		cancel()
		_ = s.deps.Negotiator.Withdraw(pending)
		return nil, domain.NewSessionError(fmt.Errorf("%w: session reset during start", domain.ErrTransportCancelled))
	}
	sess.record = rec
	sess.pending = pending
	sess.cancel = cancel
	s.transitionLocked(sess, domain.StateConnecting, nil)
	s.mu.Unlock()

	go s.run(wctx, sess, timeout)
	return rec, nil
}

// Reset returns the service to IDLE from any state. It withdraws any
// advertisement, closes any handle and stops the worker. It never fails.
func (s *Service) Reset() {
	s.mu.Lock()
	cleanup := s.resetLocked()
	s.mu.Unlock()
	cleanup()
}

// Cancel abandons the active session, typically because the user left the
// engagement screen. It has the same effect as Reset.
func (s *Service) Cancel() {
	logger.Debugf("session cancelled by caller")
	s.Reset()
}

// Close resets the service and stops event delivery.
func (s *Service) Close() {
	s.Reset()
	s.events.close()
}

// resetLocked detaches the current session and returns the teardown to run
// once mu is released.
func (s *Service) resetLocked() func() {
	sess := s.current
	s.current = nil
	cleanup := func() {}
	if sess != nil {
		if sess.cancel != nil {
			sess.cancel()
		}
		cleanup = s.releaseLocked(sess)
	}
	if s.state != domain.StateIdle {
		prev := s.state
		s.state, s.reason, s.failErr = domain.StateIdle, domain.ReasonNone, nil
		s.emitLocked(sess, prev, nil)
	}
	return cleanup
}

// releaseLocked marks sess released and returns its teardown. The teardown
// is non-nil only the first time, so a handle is closed exactly once.
func (s *Service) releaseLocked(sess *session) func() {
	if sess.released {
		return func() {}
	}
	sess.released = true
	pending, handle := sess.pending, sess.handle
	sess.record = nil
	return func() {
		if pending != nil {
			if err := s.deps.Negotiator.Withdraw(pending); err != nil {
				logger.Debugf("withdraw: %v", err)
			}
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				logger.Debugf("close transport: %v", err)
			}
		}
	}
}

// transitionLocked moves sess to next if it is still current and the move
// is legal. Illegal moves are refused and logged.
func (s *Service) transitionLocked(sess *session, next domain.SessionState, err error) bool {
	if s.current != sess {
		return false
	}
	if !legal(s.state, next) {
		logger.Errorf("%v: %s -> %s refused", domain.ErrInvariantViolation, s.state, next)
		return false
	}
	prev := s.state
	s.state = next
	if next == domain.StateFailed {
		s.reason, s.failErr = domain.ReasonOf(err), err
	}
	s.emitLocked(sess, prev, err)
	logger.Debugf("session %d: %s -> %s", sess.gen, prev, next)
	return true
}

func (s *Service) emitLocked(sess *session, prev domain.SessionState, err error) {
	var gen uint64
	if sess != nil {
		gen = sess.gen
	}
	s.events.publish(domain.StateEvent{
		Generation: gen,
		Previous:   prev,
		State:      s.state,
		Reason:     s.reason,
		Err:        err,
		At:         s.now(),
	})
}

// advance performs a forward transition for the worker.
func (s *Service) advance(sess *session, next domain.SessionState, update func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != sess {
		return false
	}
	if update != nil {
		update()
	}
	return s.transitionLocked(sess, next, nil)
}

// fail moves sess to FAILED with err classified, releases its resources
// and returns the SessionError. It is a no-op for a superseded session.
func (s *Service) fail(sess *session, err error) error {
	serr := domain.NewSessionError(err)
	s.mu.Lock()
	cleanup := func() {}
	if s.transitionLocked(sess, domain.StateFailed, serr) {
		logger.Warnf("session %d failed: %v", sess.gen, serr)
		cleanup = s.releaseLocked(sess)
	}
	s.mu.Unlock()
	cleanup()
	return serr
}

func (s *Service) complete(sess *session) {
	s.mu.Lock()
	cleanup := func() {}
	if s.transitionLocked(sess, domain.StateCompleted, nil) {
		logger.Infof("session %d completed", sess.gen)
		cleanup = s.releaseLocked(sess)
	}
	s.mu.Unlock()
	cleanup()
}

// Surface returns the caller-facing view of the service.
func (s *Service) Surface() *Surface { return &Surface{svc: s} }
