package engagement

import (
	"crypto/ecdh"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/message"
)

// Version is the DeviceEngagement version this package writes.
const Version = "1.0"

// cipherSuite1 is the only security cipher suite identifier defined.
const cipherSuite1 = 1

// Retrieval method type identifiers.
const (
	typeBLE       uint = 2
	typeWebsocket uint = 100
	typeLoopback  uint = 101
)

const methodVersion uint = 1

var ErrMalformedEngagement = errors.New("malformed device engagement")

type deviceEngagement struct {
	Version  string        `cbor:"0,keyasint"`
	Security security      `cbor:"1,keyasint"`
	Methods  []methodEntry `cbor:"2,keyasint,omitempty"`
	Nonce    []byte        `cbor:"1000,keyasint,omitempty"`
}

type security struct {
	_           struct{} `cbor:",toarray"`
	CipherSuite int
	DeviceKey   message.TaggedBytes
}

type methodEntry struct {
	_       struct{} `cbor:",toarray"`
	Type    uint
	Version uint
	Options cbor.RawMessage
}

type bleOptions struct {
	Peripheral     bool   `cbor:"0,keyasint"`
	Central        bool   `cbor:"1,keyasint"`
	PeripheralUUID []byte `cbor:"10,keyasint,omitempty"`
	CentralUUID    []byte `cbor:"11,keyasint,omitempty"`
}

type addressOptions struct {
	Address string `cbor:"0,keyasint"`
}

// Engagement is a decoded DeviceEngagement as seen by a reader.
type Engagement struct {
	Version string
	// DeviceKey is the holder's ephemeral public key.
	DeviceKey *ecdh.PublicKey
	Methods   []domain.ConnectionMethod
	Nonce     []byte
}

// Encode serializes the engagement for the given key and methods.
func Encode(pub *ecdh.PublicKey, methods []domain.ConnectionMethod, nonce []byte) ([]byte, error) {
	key, err := crypto.EncodeCOSEKey(pub)
	if err != nil {
		return nil, err
	}
	entries := make([]methodEntry, 0, len(methods))
	for _, m := range methods {
		e, err := encodeMethod(m)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return message.Marshal(deviceEngagement{
		Version:  Version,
		Security: security{CipherSuite: cipherSuite1, DeviceKey: key},
		Methods:  entries,
		Nonce:    nonce,
	})
}

func encodeMethod(m domain.ConnectionMethod) (methodEntry, error) {
	var (
		typ  uint
		opts any
	)
	switch m.Kind {
	case domain.MethodBLEPeripheralServer:
		typ = typeBLE
		opts = bleOptions{Peripheral: true, PeripheralUUID: uuidBytes(m.ServiceUUID)}
	case domain.MethodBLECentralClient:
		typ = typeBLE
		opts = bleOptions{Central: true, CentralUUID: uuidBytes(m.ServiceUUID)}
	case domain.MethodWebsocket:
		typ = typeWebsocket
		opts = addressOptions{Address: m.Address}
	case domain.MethodLoopback:
		typ = typeLoopback
		opts = addressOptions{Address: m.Address}
	default:
		return methodEntry{}, fmt.Errorf("engagement: unknown method kind %q", m.Kind)
	}
	raw, err := message.Marshal(opts)
	if err != nil {
		return methodEntry{}, err
	}
	return methodEntry{Type: typ, Version: methodVersion, Options: raw}, nil
}

func uuidBytes(id uuid.UUID) []byte {
	b := id
	return b[:]
}

// Decode parses an encoded DeviceEngagement. It needs no session context.
func Decode(b []byte) (*Engagement, error) {
	var de deviceEngagement
	if err := message.Unmarshal(b, &de); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEngagement, err)
	}
	if de.Version == "" {
		return nil, fmt.Errorf("%w: missing version", ErrMalformedEngagement)
	}
	if de.Security.CipherSuite != cipherSuite1 {
		return nil, fmt.Errorf("%w: cipher suite %d", ErrMalformedEngagement, de.Security.CipherSuite)
	}
	key, err := crypto.DecodeCOSEKey(de.Security.DeviceKey)
	if err != nil {
		return nil, fmt.Errorf("%w: device key: %v", ErrMalformedEngagement, err)
	}

	e := &Engagement{Version: de.Version, DeviceKey: key, Nonce: de.Nonce}
	for i, entry := range de.Methods {
		m, err := decodeMethod(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: method %d: %v", ErrMalformedEngagement, i, err)
		}
		e.Methods = append(e.Methods, m)
	}
	return e, nil
}

func decodeMethod(entry methodEntry) (domain.ConnectionMethod, error) {
	switch entry.Type {
	case typeBLE:
		var o bleOptions
		if err := message.Unmarshal(entry.Options, &o); err != nil {
			return domain.ConnectionMethod{}, err
		}
		switch {
		case o.Peripheral && !o.Central:
			id, err := uuid.FromBytes(o.PeripheralUUID)
			if err != nil {
				return domain.ConnectionMethod{}, err
			}
			return domain.ConnectionMethod{Kind: domain.MethodBLEPeripheralServer, ServiceUUID: id}, nil
		case o.Central && !o.Peripheral:
			id, err := uuid.FromBytes(o.CentralUUID)
			if err != nil {
				return domain.ConnectionMethod{}, err
			}
			return domain.ConnectionMethod{Kind: domain.MethodBLECentralClient, ServiceUUID: id}, nil
		}
		return domain.ConnectionMethod{}, errors.New("ble entry must select exactly one mode")
	case typeWebsocket, typeLoopback:
		var o addressOptions
		if err := message.Unmarshal(entry.Options, &o); err != nil {
			return domain.ConnectionMethod{}, err
		}
		kind := domain.MethodWebsocket
		if entry.Type == typeLoopback {
			kind = domain.MethodLoopback
		}
		return domain.ConnectionMethod{Kind: kind, Address: o.Address}, nil
	}
	return domain.ConnectionMethod{}, fmt.Errorf("unknown method type %d", entry.Type)
}
