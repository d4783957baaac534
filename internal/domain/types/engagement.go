package types

import (
	"crypto/ecdh"
	"time"

	"github.com/google/uuid"
)

// MethodKind tags a ConnectionMethod variant.
type MethodKind string

const (
	// MethodBLECentralClient: the holder scans as a BLE central and the reader serves.
	MethodBLECentralClient MethodKind = "ble-central-client"
	// MethodBLEPeripheralServer: the holder advertises as a BLE peripheral.
	MethodBLEPeripheralServer MethodKind = "ble-peripheral-server"
	// MethodWebsocket: local-network websocket served by the holder.
	MethodWebsocket MethodKind = "websocket"
	// MethodLoopback: in-process pipe, used by demos and tests.
	MethodLoopback MethodKind = "loopback"
)

// IsBLE reports whether k is one of the BLE variants.
func (k MethodKind) IsBLE() bool {
	return k == MethodBLECentralClient || k == MethodBLEPeripheralServer
}

// ConnectionMethod describes one way a reader can reach the holder.
//
// ServiceUUID is meaningful for BLE kinds only; Address holds the websocket
// URL or the loopback endpoint name.
type ConnectionMethod struct {
	Kind        MethodKind
	ServiceUUID uuid.UUID
	Address     string
}

// Key returns a comparable identity for duplicate detection.
func (m ConnectionMethod) Key() string {
	if m.Kind.IsBLE() {
		return string(m.Kind) + "|" + m.ServiceUUID.String()
	}
	return string(m.Kind) + "|" + m.Address
}

// Role is the party generating an engagement.
type Role int

const (
	RoleHolder Role = iota
	RoleReader
)

// EngagementRecord is the holder's engagement for one session attempt.
//
// It is immutable after creation and dropped when the session ends or resets.
type EngagementRecord struct {
	EphemeralKey *ecdh.PrivateKey
	Methods      []ConnectionMethod
	Nonce        []byte
	Encoded      []byte
	CreatedAt    time.Time
}
