package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hyperledger/aries-framework-go/component/log"

	"mdocholder/internal/domain"
)

var logger = log.New("mdocholder/transport")

var (
	// ErrNoFactory is returned by Advertise for a method kind no registered
	// factory serves.
	ErrNoFactory = errors.New("transport: no factory for connection method")
	// ErrForeignPending is returned for a PendingConnection this negotiator
	// did not create.
	ErrForeignPending = errors.New("transport: pending connection from another negotiator")
	// ErrListenerClosed is returned by Accept after the advertisement was
	// withdrawn.
	ErrListenerClosed = errors.New("transport: listener closed")
	// ErrEndpointInUse is returned when a loopback name already listens.
	ErrEndpointInUse = errors.New("transport: endpoint already listening")
	// ErrEndpointUnknown is returned when dialing a name nobody listens on.
	ErrEndpointUnknown = errors.New("transport: no listener at endpoint")
)

// Listener is an open advertisement for one connection method.
type Listener interface {
	// Method returns the method as actually bound, e.g. with the real port.
	Method() domain.ConnectionMethod
	// Accept blocks until a reader connects or ctx ends.
	Accept(ctx context.Context) (domain.TransportHandle, error)
	// Close stops advertising. Handles already accepted stay open.
	Close() error
}

// Factory opens listeners for the method kinds it serves.
type Factory interface {
	Kinds() []domain.MethodKind
	Listen(ctx context.Context, method domain.ConnectionMethod) (Listener, error)
}

// Negotiator advertises at most one connection method at a time and hands
// out the first connection that arrives on it. It is safe for concurrent use.
type Negotiator struct {
	mu        sync.Mutex
	factories map[domain.MethodKind]Factory
	current   *pending
	now       func() time.Time
}

// NewNegotiator returns a Negotiator serving the kinds of all factories.
// A later factory overrides an earlier one for a shared kind.
func NewNegotiator(factories ...Factory) *Negotiator {
	n := &Negotiator{factories: make(map[domain.MethodKind]Factory), now: time.Now}
	for _, f := range factories {
		n.Register(f)
	}
	return n
}

// Register adds f for every kind it serves.
func (n *Negotiator) Register(f Factory) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range f.Kinds() {
		n.factories[k] = f
	}
}

// Supports reports whether a factory is registered for kind.
func (n *Negotiator) Supports(kind domain.MethodKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.factories[kind]
	return ok
}

type pending struct {
	owner    *Negotiator
	listener Listener
	once     sync.Once
	closed   chan struct{}
	err      error
}

func (p *pending) Method() domain.ConnectionMethod { return p.listener.Method() }

func (p *pending) withdraw() error {
	p.once.Do(func() {
		close(p.closed)
		p.err = p.listener.Close()
	})
	return p.err
}

func (p *pending) withdrawn() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// Advertise opens a listening posture for method without blocking on a
// reader. Any advertisement still pending is withdrawn first.
func (n *Negotiator) Advertise(ctx context.Context, method domain.ConnectionMethod) (domain.PendingConnection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	f, ok := n.factories[method.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFactory, method.Kind)
	}
	if n.current != nil {
		logger.Debugf("withdrawing previous advertisement on %s", n.current.Method().Kind)
		if err := n.current.withdraw(); err != nil {
			logger.Warnf("withdraw previous advertisement: %v", err)
		}
		n.current = nil
	}

	l, err := f.Listen(ctx, method)
	if err != nil {
		return nil, fmt.Errorf("%w: listen %s: %v", domain.ErrTransportIO, method.Kind, err)
	}
	p := &pending{owner: n, listener: l, closed: make(chan struct{})}
	n.current = p
	logger.Infof("advertising %s %s", method.Kind, l.Method().Address)
	return p, nil
}

// WaitForConnection blocks until a reader connects on pc, ctx is cancelled
// or timeout elapses. The advertisement is withdrawn on every outcome.
//
// A non-positive timeout, or a ctx whose deadline has already passed, fails
// with ErrTransportTimeout without accepting anything.
func (n *Negotiator) WaitForConnection(
	ctx context.Context,
	pc domain.PendingConnection,
	timeout time.Duration,
) (domain.TransportHandle, error) {
	p, ok := pc.(*pending)
	if !ok || p.owner != n {
		return nil, ErrForeignPending
	}
	defer func() { _ = n.Withdraw(p) }()

	if timeout <= 0 {
		return nil, fmt.Errorf("%w: no time to wait", domain.ErrTransportTimeout)
	}
	if dl, ok := ctx.Deadline(); ok && !dl.After(n.now()) {
		return nil, fmt.Errorf("%w: deadline already passed", domain.ErrTransportTimeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(ctx, err)
	}
	if p.withdrawn() {
		return nil, fmt.Errorf("%w: advertisement withdrawn", domain.ErrTransportCancelled)
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	wctx, stop := mergeDone(wctx, p.closed)
	defer stop()

	h, err := p.listener.Accept(wctx)
	if err != nil {
		switch {
		case p.withdrawn():
			return nil, fmt.Errorf("%w: advertisement withdrawn", domain.ErrTransportCancelled)
		case ctx.Err() != nil:
			return nil, classify(ctx, ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: no reader within %s", domain.ErrTransportTimeout, timeout)
		}
		return nil, fmt.Errorf("%w: accept: %v", domain.ErrTransportIO, err)
	}
	logger.Infof("reader connected over %s", p.Method().Kind)
	return h, nil
}

// Withdraw stops the advertisement behind pc. It is idempotent.
func (n *Negotiator) Withdraw(pc domain.PendingConnection) error {
	p, ok := pc.(*pending)
	if !ok || p.owner != n {
		return ErrForeignPending
	}
	n.mu.Lock()
	if n.current == p {
		n.current = nil
	}
	n.mu.Unlock()
	return p.withdraw()
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransportTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrTransportCancelled, context.Cause(ctx))
}

// mergeDone returns a context that is also cancelled when done closes.
func mergeDone(ctx context.Context, done <-chan struct{}) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

var _ domain.TransportNegotiator = (*Negotiator)(nil)
