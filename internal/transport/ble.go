package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"mdocholder/internal/domain"
)

// Radio is the platform binding for Bluetooth Low Energy.
//
// For MethodBLEPeripheralServer the radio advertises service and waits for a
// central to connect; for MethodBLECentralClient it scans for a reader
// advertising service and connects to it. Either way the result is a
// connection-oriented channel carrying an ordered byte stream.
type Radio interface {
	Open(ctx context.Context, kind domain.MethodKind, service uuid.UUID) (RadioLink, error)
}

// RadioLink is an active BLE advertisement or scan.
type RadioLink interface {
	// Accept returns the stream once the link-layer handshake completes.
	Accept(ctx context.Context) (io.ReadWriteCloser, error)
	// Stop ends advertising or scanning.
	Stop() error
}

// BLE adapts a Radio to the negotiator.
type BLE struct {
	radio Radio
}

// NewBLE returns a BLE factory backed by radio.
func NewBLE(radio Radio) *BLE { return &BLE{radio: radio} }

func (b *BLE) Kinds() []domain.MethodKind {
	return []domain.MethodKind{domain.MethodBLECentralClient, domain.MethodBLEPeripheralServer}
}

func (b *BLE) Listen(ctx context.Context, method domain.ConnectionMethod) (Listener, error) {
	if method.ServiceUUID == uuid.Nil {
		return nil, errors.New("ble: service uuid required")
	}
	link, err := b.radio.Open(ctx, method.Kind, method.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble %s: %w", method.Kind, err)
	}
	return &bleListener{method: method, link: link}, nil
}

type bleListener struct {
	method domain.ConnectionMethod
	link   RadioLink
	once   sync.Once
	err    error
}

func (l *bleListener) Method() domain.ConnectionMethod { return l.method }

func (l *bleListener) Accept(ctx context.Context) (domain.TransportHandle, error) {
	rwc, err := l.link.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return NewStreamHandle(rwc), nil
}

func (l *bleListener) Close() error {
	l.once.Do(func() { l.err = l.link.Stop() })
	return l.err
}

// streamHandle frames messages over a byte stream with a 4-byte big-endian
// length prefix.
type streamHandle struct {
	rwc  io.ReadWriteCloser
	wmu  sync.Mutex
	rmu  sync.Mutex
	once sync.Once
	err  error
}

// NewStreamHandle wraps an ordered byte stream as a TransportHandle.
func NewStreamHandle(rwc io.ReadWriteCloser) domain.TransportHandle {
	return &streamHandle{rwc: rwc}
}

func (s *streamHandle) Send(ctx context.Context, msg []byte) error {
	if len(msg) > maxMessageSize {
		return fmt.Errorf("stream: message of %d bytes exceeds limit", len(msg))
	}
	frame := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(frame, uint32(len(msg)))
	copy(frame[4:], msg)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.withContext(ctx, func() error {
		_, err := s.rwc.Write(frame)
		return err
	})
}

func (s *streamHandle) Receive(ctx context.Context) ([]byte, error) {
	s.rmu.Lock()
	defer s.rmu.Unlock()
	var msg []byte
	err := s.withContext(ctx, func() error {
		var hdr [4]byte
		if _, err := io.ReadFull(s.rwc, hdr[:]); err != nil {
			return err
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n > maxMessageSize {
			return fmt.Errorf("stream: frame of %d bytes exceeds limit", n)
		}
		msg = make([]byte, n)
		_, err := io.ReadFull(s.rwc, msg)
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return err
	})
	return msg, err
}

// withContext runs op and closes the stream if ctx ends first, since the
// underlying stream has no deadlines.
func (s *streamHandle) withContext(ctx context.Context, op func() error) error {
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = s.Close()
		<-done
		return ctx.Err()
	}
}

func (s *streamHandle) Close() error {
	s.once.Do(func() { s.err = s.rwc.Close() })
	return s.err
}

var (
	_ Factory                = (*BLE)(nil)
	_ domain.TransportHandle = (*streamHandle)(nil)
)
