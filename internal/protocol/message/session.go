package message

import (
	"crypto/ecdh"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

// SessionData status codes.
const (
	StatusSessionEncryptionError uint = 10
	StatusCBORDecodingError      uint = 11
	StatusSessionTermination     uint = 20
)

// SessionEstablishment is the reader's first message.
type SessionEstablishment struct {
	EReaderKey TaggedBytes `cbor:"eReaderKey"`
	Data       []byte      `cbor:"data"`
}

// SessionData carries encrypted payloads and/or a status after establishment.
type SessionData struct {
	Data   []byte `cbor:"data,omitempty"`
	Status *uint  `cbor:"status,omitempty"`
}

// Terminates reports whether the message ends the session.
func (s SessionData) Terminates() bool {
	return s.Status != nil && *s.Status == StatusSessionTermination
}

// NewStatus returns a SessionData holding only status.
func NewStatus(status uint) SessionData {
	return SessionData{Status: &status}
}

// ParseSessionEstablishment decodes b and the reader's ephemeral key.
func ParseSessionEstablishment(b []byte) (SessionEstablishment, *ecdh.PublicKey, error) {
	if len(b) == 0 {
		return SessionEstablishment{}, nil, fmt.Errorf("%w: %v", domain.ErrMalformedRequest, errEmpty)
	}
	var se SessionEstablishment
	if err := Unmarshal(b, &se); err != nil {
		return SessionEstablishment{}, nil, fmt.Errorf("%w: session establishment: %v", domain.ErrMalformedRequest, err)
	}
	if len(se.EReaderKey) == 0 || len(se.Data) == 0 {
		return SessionEstablishment{}, nil, fmt.Errorf("%w: session establishment missing fields", domain.ErrMalformedRequest)
	}
	key, err := crypto.DecodeCOSEKey(se.EReaderKey)
	if err != nil {
		return SessionEstablishment{}, nil, fmt.Errorf("%w: eReaderKey: %v", domain.ErrMalformedRequest, err)
	}
	return se, key, nil
}

// ParseSessionData decodes b.
func ParseSessionData(b []byte) (SessionData, error) {
	var sd SessionData
	if err := Unmarshal(b, &sd); err != nil {
		return SessionData{}, fmt.Errorf("%w: session data: %v", domain.ErrMalformedRequest, err)
	}
	if sd.Data == nil && sd.Status == nil {
		return SessionData{}, fmt.Errorf("%w: empty session data", domain.ErrMalformedRequest)
	}
	return sd, nil
}

// SessionTranscript encodes [DeviceEngagementBytes, EReaderKeyBytes, null]
// for QR handover. Both inputs are the inner encodings.
func SessionTranscript(deviceEngagement, eReaderKey []byte) ([]byte, error) {
	return Marshal([]any{
		TaggedBytes(deviceEngagement),
		TaggedBytes(eReaderKey),
		nil,
	})
}

// TranscriptBytes returns SessionTranscriptBytes, the tag-24 wrapping of an
// encoded transcript that key derivation salts are computed over.
func TranscriptBytes(transcript []byte) ([]byte, error) {
	return Tag24(transcript)
}

// embeddedArray builds #6.24(bstr .cbor [context, transcript, rest...]),
// the shape shared by ReaderAuthentication and DeviceAuthentication.
func embeddedArray(context string, transcript []byte, rest ...any) ([]byte, error) {
	items := make([]any, 0, 2+len(rest))
	items = append(items, context, cbor.RawMessage(transcript))
	items = append(items, rest...)
	inner, err := Marshal(items)
	if err != nil {
		return nil, err
	}
	return Tag24(inner)
}
