package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"mdocholder/internal/domain"
)

const (
	webSocketScheme = "ws"
	// maxMessageSize bounds a single session message; device responses
	// carrying a portrait run to tens of kilobytes.
	maxMessageSize = 1 << 20
)

// Websocket serves the holder side of the local-network websocket transport.
type Websocket struct{}

// NewWebsocket returns the websocket transport factory.
func NewWebsocket() *Websocket { return &Websocket{} }

func (w *Websocket) Kinds() []domain.MethodKind { return []domain.MethodKind{domain.MethodWebsocket} }

// Listen binds the host and port of method.Address and serves its path.
// A port of 0 is replaced by the bound port in the returned Method.
func (w *Websocket) Listen(_ context.Context, method domain.ConnectionMethod) (Listener, error) {
	u, err := url.Parse(method.Address)
	if err != nil {
		return nil, fmt.Errorf("websocket address: %w", err)
	}
	if u.Scheme != webSocketScheme || u.Host == "" {
		return nil, fmt.Errorf("websocket address %q: want ws://host:port/path", method.Address)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return nil, err
	}
	if u.Port() == "0" {
		u.Host = ln.Addr().String()
		method.Address = u.String()
	}

	wl := &wsListener{
		method: method,
		conns:  make(chan domain.TransportHandle, 1),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, wl.serve)
	wl.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := wl.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("websocket listener on %s failed: %v", ln.Addr(), err)
			wl.errs <- err
		}
	}()
	return wl, nil
}

type wsListener struct {
	method domain.ConnectionMethod
	server *http.Server

	mu      sync.Mutex
	claimed bool

	conns chan domain.TransportHandle
	errs  chan error
	done  chan struct{}
	once  sync.Once
}

func (wl *wsListener) Method() domain.ConnectionMethod { return wl.method }

// serve upgrades the first request only and then holds the handler until
// the session closes the connection.
func (wl *wsListener) serve(w http.ResponseWriter, r *http.Request) {
	wl.mu.Lock()
	if wl.claimed {
		wl.mu.Unlock()
		http.Error(w, "session in progress", http.StatusServiceUnavailable)
		return
	}
	wl.claimed = true
	wl.mu.Unlock()

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Errorf("failed to upgrade the connection: %v", err)
		wl.mu.Lock()
		wl.claimed = false
		wl.mu.Unlock()
		return
	}
	h := newWSHandle(c)
	select {
	case wl.conns <- h:
	case <-wl.done:
		_ = h.Close()
		return
	}
	<-h.done
}

func (wl *wsListener) Accept(ctx context.Context) (domain.TransportHandle, error) {
	select {
	case h := <-wl.conns:
		return h, nil
	case err := <-wl.errs:
		return nil, err
	case <-wl.done:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (wl *wsListener) Close() error {
	var err error
	wl.once.Do(func() {
		close(wl.done)
		err = wl.server.Close()
		select {
		case h := <-wl.conns:
			_ = h.Close()
		default:
		}
	})
	return err
}

// DialWebsocket connects to a holder's websocket endpoint as a reader.
func DialWebsocket(ctx context.Context, address string) (domain.TransportHandle, error) {
	if address == "" {
		return nil, errors.New("url is mandatory")
	}
	c, _, err := websocket.Dial(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket client: %w", err)
	}
	return newWSHandle(c), nil
}

type wsHandle struct {
	conn *websocket.Conn
	once sync.Once
	done chan struct{}
}

func newWSHandle(c *websocket.Conn) *wsHandle {
	c.SetReadLimit(maxMessageSize)
	return &wsHandle{conn: c, done: make(chan struct{})}
}

func (h *wsHandle) Send(ctx context.Context, msg []byte) error {
	if err := h.conn.Write(ctx, websocket.MessageBinary, msg); err != nil {
		return fmt.Errorf("websocket write message: %w", err)
	}
	return nil
}

func (h *wsHandle) Receive(ctx context.Context) ([]byte, error) {
	typ, b, err := h.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("websocket read message: %w", err)
	}
	if typ != websocket.MessageBinary {
		return nil, errors.New("message type is not binary message")
	}
	return b, nil
}

func (h *wsHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.conn.Close(websocket.StatusNormalClosure, "session closed")
		close(h.done)
		if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			err = nil
		}
	})
	return err
}

var (
	_ Factory                = (*Websocket)(nil)
	_ domain.TransportHandle = (*wsHandle)(nil)
)
