package transport_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdocholder/internal/domain"
	"mdocholder/internal/transport"
)

func loopbackMethod(name string) domain.ConnectionMethod {
	return domain.ConnectionMethod{Kind: domain.MethodLoopback, Address: name}
}

// countingFactory wraps loopback listeners and counts Close calls.
type countingFactory struct {
	inner  *transport.Loopback
	closes atomic.Int32
}

func (f *countingFactory) Kinds() []domain.MethodKind { return f.inner.Kinds() }

func (f *countingFactory) Listen(ctx context.Context, m domain.ConnectionMethod) (transport.Listener, error) {
	l, err := f.inner.Listen(ctx, m)
	if err != nil {
		return nil, err
	}
	return &countingListener{Listener: l, closes: &f.closes}, nil
}

type countingListener struct {
	transport.Listener
	closes *atomic.Int32
}

func (l *countingListener) Close() error {
	l.closes.Add(1)
	return l.Listener.Close()
}

func TestWaitForConnection_ZeroTimeoutNeverConnects(t *testing.T) {
	lb := transport.NewLoopback()
	f := &countingFactory{inner: lb}
	n := transport.NewNegotiator(f)

	p, err := n.Advertise(context.Background(), loopbackMethod("zero"))
	require.NoError(t, err)

	h, err := n.WaitForConnection(context.Background(), p, 0)
	require.ErrorIs(t, err, domain.ErrTransportTimeout)
	require.Nil(t, h)
	require.EqualValues(t, 1, f.closes.Load())

	_, err = lb.Dial(context.Background(), "zero")
	require.ErrorIs(t, err, transport.ErrEndpointUnknown)
}

func TestWaitForConnection_ExpiredDeadline(t *testing.T) {
	n := transport.NewNegotiator(transport.NewLoopback())
	p, err := n.Advertise(context.Background(), loopbackMethod("expired"))
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = n.WaitForConnection(ctx, p, time.Minute)
	require.ErrorIs(t, err, domain.ErrTransportTimeout)
}

func TestWaitForConnection_Timeout(t *testing.T) {
	n := transport.NewNegotiator(transport.NewLoopback())
	p, err := n.Advertise(context.Background(), loopbackMethod("slow"))
	require.NoError(t, err)

	_, err = n.WaitForConnection(context.Background(), p, 20*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTransportTimeout)
}

func TestWaitForConnection_Cancelled(t *testing.T) {
	f := &countingFactory{inner: transport.NewLoopback()}
	n := transport.NewNegotiator(f)
	p, err := n.Advertise(context.Background(), loopbackMethod("cancel"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = n.WaitForConnection(ctx, p, time.Minute)
	require.ErrorIs(t, err, domain.ErrTransportCancelled)
	require.EqualValues(t, 1, f.closes.Load())
}

func TestWaitForConnection_WithdrawInterruptsWait(t *testing.T) {
	n := transport.NewNegotiator(transport.NewLoopback())
	p, err := n.Advertise(context.Background(), loopbackMethod("withdraw"))
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, n.Withdraw(p))
	}()
	_, err = n.WaitForConnection(context.Background(), p, time.Minute)
	require.ErrorIs(t, err, domain.ErrTransportCancelled)
}

func TestWithdraw_Idempotent(t *testing.T) {
	f := &countingFactory{inner: transport.NewLoopback()}
	n := transport.NewNegotiator(f)
	p, err := n.Advertise(context.Background(), loopbackMethod("idem"))
	require.NoError(t, err)

	require.NoError(t, n.Withdraw(p))
	require.NoError(t, n.Withdraw(p))
	require.EqualValues(t, 1, f.closes.Load())

	_, err = n.WaitForConnection(context.Background(), p, time.Second)
	require.ErrorIs(t, err, domain.ErrTransportCancelled)
}

func TestAdvertise_ReplacesPending(t *testing.T) {
	f := &countingFactory{inner: transport.NewLoopback()}
	n := transport.NewNegotiator(f)

	first, err := n.Advertise(context.Background(), loopbackMethod("one"))
	require.NoError(t, err)
	_, err = n.Advertise(context.Background(), loopbackMethod("two"))
	require.NoError(t, err)
	require.EqualValues(t, 1, f.closes.Load())

	_, err = n.WaitForConnection(context.Background(), first, time.Second)
	require.ErrorIs(t, err, domain.ErrTransportCancelled)
}

func TestAdvertise_UnknownKind(t *testing.T) {
	n := transport.NewNegotiator(transport.NewLoopback())
	require.False(t, n.Supports(domain.MethodWebsocket))
	_, err := n.Advertise(context.Background(), domain.ConnectionMethod{Kind: domain.MethodWebsocket})
	require.ErrorIs(t, err, transport.ErrNoFactory)
}

// exchange runs a request/response round trip and a reader-side close.
// Writes and the close run concurrently with the peer's reads, since stream
// transports block until the other side reads.
func exchange(t *testing.T, holder, reader domain.TransportHandle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	async := func(f func() error) <-chan error {
		ch := make(chan error, 1)
		go func() { ch <- f() }()
		return ch
	}

	sent := async(func() error { return reader.Send(ctx, []byte("request")) })
	got, err := holder.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "request", string(got))
	require.NoError(t, <-sent)

	sent = async(func() error { return holder.Send(ctx, []byte("response")) })
	got, err = reader.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "response", string(got))
	require.NoError(t, <-sent)

	closed := async(reader.Close)
	_, err = holder.Receive(ctx)
	require.ErrorIs(t, err, io.EOF)
	<-closed
	_ = holder.Close()
}

func TestLoopback_Exchange(t *testing.T) {
	lb := transport.NewLoopback()
	n := transport.NewNegotiator(lb)
	p, err := n.Advertise(context.Background(), loopbackMethod("demo"))
	require.NoError(t, err)

	readerCh := make(chan domain.TransportHandle, 1)
	go func() {
		h, err := lb.Dial(context.Background(), "demo")
		assert.NoError(t, err)
		readerCh <- h
	}()

	holder, err := n.WaitForConnection(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	exchange(t, holder, <-readerCh)

	// Connected means no longer discoverable.
	_, err = lb.Dial(context.Background(), "demo")
	require.ErrorIs(t, err, transport.ErrEndpointUnknown)
}

func TestLoopback_DuplicateEndpoint(t *testing.T) {
	lb := transport.NewLoopback()
	_, err := lb.Listen(context.Background(), loopbackMethod("dup"))
	require.NoError(t, err)
	_, err = lb.Listen(context.Background(), loopbackMethod("dup"))
	require.ErrorIs(t, err, transport.ErrEndpointInUse)
}

func TestWebsocket_Exchange(t *testing.T) {
	n := transport.NewNegotiator(transport.NewWebsocket())
	p, err := n.Advertise(context.Background(),
		domain.ConnectionMethod{Kind: domain.MethodWebsocket, Address: "ws://127.0.0.1:0/mdoc"})
	require.NoError(t, err)
	addr := p.Method().Address
	require.NotContains(t, addr, ":0/")

	readerCh := make(chan domain.TransportHandle, 1)
	go func() {
		h, err := transport.DialWebsocket(context.Background(), addr)
		assert.NoError(t, err)
		readerCh <- h
	}()

	holder, err := n.WaitForConnection(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	reader := <-readerCh
	require.NotNil(t, reader)
	exchange(t, holder, reader)
}

// pipeRadio hands out one end of a net.Pipe once Connect is called.
type pipeRadio struct {
	links chan net.Conn
	stops atomic.Int32
}

func (r *pipeRadio) Open(_ context.Context, _ domain.MethodKind, _ uuid.UUID) (transport.RadioLink, error) {
	return &pipeLink{radio: r}, nil
}

func (r *pipeRadio) Connect() net.Conn {
	a, b := net.Pipe()
	r.links <- a
	return b
}

type pipeLink struct{ radio *pipeRadio }

func (l *pipeLink) Accept(ctx context.Context) (io.ReadWriteCloser, error) {
	select {
	case c := <-l.radio.links:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *pipeLink) Stop() error {
	l.radio.stops.Add(1)
	return nil
}

func TestBLE_Exchange(t *testing.T) {
	radio := &pipeRadio{links: make(chan net.Conn, 1)}
	n := transport.NewNegotiator(transport.NewBLE(radio))
	require.True(t, n.Supports(domain.MethodBLEPeripheralServer))

	p, err := n.Advertise(context.Background(), domain.ConnectionMethod{
		Kind:        domain.MethodBLEPeripheralServer,
		ServiceUUID: uuid.New(),
	})
	require.NoError(t, err)

	readerConn := radio.Connect()
	holder, err := n.WaitForConnection(context.Background(), p, 5*time.Second)
	require.NoError(t, err)
	require.EqualValues(t, 1, radio.stops.Load())

	exchange(t, holder, transport.NewStreamHandle(readerConn))
}

func TestBLE_RequiresServiceUUID(t *testing.T) {
	n := transport.NewNegotiator(transport.NewBLE(&pipeRadio{}))
	_, err := n.Advertise(context.Background(), domain.ConnectionMethod{Kind: domain.MethodBLECentralClient})
	require.ErrorIs(t, err, domain.ErrTransportIO)
}

func TestStreamHandle_ReceiveHonoursContext(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	h := transport.NewStreamHandle(a)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Receive(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}
