package interfaces

import (
	"context"
	"time"

	domaintypes "mdocholder/internal/domain/types"
)

// TransportHandle is an established byte stream to a reader.
// Receive returns io.EOF once the reader closed the stream cleanly.
type TransportHandle interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// PendingConnection refers to an advertisement in progress.
type PendingConnection interface {
	Method() domaintypes.ConnectionMethod
}

// TransportNegotiator advertises connection methods and hands out the
// first connection that arrives.
type TransportNegotiator interface {
	Advertise(ctx context.Context, method domaintypes.ConnectionMethod) (PendingConnection, error)
	WaitForConnection(ctx context.Context, pending PendingConnection, timeout time.Duration) (TransportHandle, error)
	Withdraw(pending PendingConnection) error
}
