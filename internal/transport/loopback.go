package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"mdocholder/internal/domain"
)

const pipeDepth = 16

// Loopback is an in-process transport. Holders listen on a name and readers
// in the same process dial it.
type Loopback struct {
	mu        sync.Mutex
	endpoints map[string]*loopbackListener
}

// NewLoopback returns an empty loopback registry.
func NewLoopback() *Loopback {
	return &Loopback{endpoints: make(map[string]*loopbackListener)}
}

func (l *Loopback) Kinds() []domain.MethodKind { return []domain.MethodKind{domain.MethodLoopback} }

// Listen registers method.Address as an endpoint.
func (l *Loopback) Listen(_ context.Context, method domain.ConnectionMethod) (Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.endpoints[method.Address]; ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointInUse, method.Address)
	}
	ll := &loopbackListener{
		owner:  l,
		method: method,
		conns:  make(chan domain.TransportHandle, 1),
		done:   make(chan struct{}),
	}
	l.endpoints[method.Address] = ll
	return ll, nil
}

// Dial connects to the endpoint named address and returns the reader end.
func (l *Loopback) Dial(_ context.Context, address string) (domain.TransportHandle, error) {
	l.mu.Lock()
	ll, ok := l.endpoints[address]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEndpointUnknown, address)
	}
	holder, reader := newPipe()
	select {
	case ll.conns <- holder:
		return reader, nil
	case <-ll.done:
		return nil, ErrListenerClosed
	default:
		return nil, fmt.Errorf("transport: endpoint %q busy", address)
	}
}

type loopbackListener struct {
	owner  *Loopback
	method domain.ConnectionMethod
	conns  chan domain.TransportHandle
	done   chan struct{}
	once   sync.Once
}

func (ll *loopbackListener) Method() domain.ConnectionMethod { return ll.method }

func (ll *loopbackListener) Accept(ctx context.Context) (domain.TransportHandle, error) {
	select {
	case h := <-ll.conns:
		return h, nil
	case <-ll.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ll *loopbackListener) Close() error {
	ll.once.Do(func() {
		ll.owner.mu.Lock()
		if ll.owner.endpoints[ll.method.Address] == ll {
			delete(ll.owner.endpoints, ll.method.Address)
		}
		ll.owner.mu.Unlock()
		close(ll.done)
		// Dials that raced the close are dropped.
		select {
		case h := <-ll.conns:
			_ = h.Close()
		default:
		}
	})
	return nil
}

// pipeEnd is one side of an in-memory message pipe.
type pipeEnd struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
	peer   *pipeEnd
}

func newPipe() (*pipeEnd, *pipeEnd) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	a := &pipeEnd{in: ba, out: ab, closed: make(chan struct{})}
	b := &pipeEnd{in: ab, out: ba, closed: make(chan struct{})}
	a.peer, b.peer = b, a
	return a, b
}

func (p *pipeEnd) Send(ctx context.Context, msg []byte) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	case <-p.peer.closed:
		return io.ErrClosedPipe
	default:
	}
	cp := append([]byte(nil), msg...)
	select {
	case p.out <- cp:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	case <-p.peer.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns io.EOF once the peer closed and every message it sent
// has been read.
func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case m := <-p.in:
		return m, nil
	case <-p.closed:
		return nil, io.ErrClosedPipe
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.peer.closed:
		select {
		case m := <-p.in:
			return m, nil
		default:
			return nil, io.EOF
		}
	}
}

func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

var (
	_ Factory                = (*Loopback)(nil)
	_ domain.TransportHandle = (*pipeEnd)(nil)
)
