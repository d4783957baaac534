package message

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339
	opts.TimeTag = cbor.EncTagRequired
	var err error
	if encMode, err = opts.EncMode(); err != nil {
		panic(err)
	}
	if decMode, err = (cbor.DecOptions{MaxNestedLevels: 32}).DecMode(); err != nil {
		panic(err)
	}
}

// Marshal encodes v with deterministic CBOR encoding.
func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// tagEncodedCBOR is the tag for "encoded CBOR data item" (RFC 8949 §3.4.5.1).
const tagEncodedCBOR = 24

// TaggedBytes is an embedded CBOR item: #6.24(bstr .cbor T).
// The slice holds the inner encoding, without the tag.
type TaggedBytes []byte

// MarshalCBOR implements cbor.Marshaler.
func (t TaggedBytes) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(cbor.Tag{Number: tagEncodedCBOR, Content: []byte(t)})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (t *TaggedBytes) UnmarshalCBOR(data []byte) error {
	var raw cbor.RawTag
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Number != tagEncodedCBOR {
		return fmt.Errorf("expected tag 24, got %d", raw.Number)
	}
	var content []byte
	if err := decMode.Unmarshal(raw.Content, &content); err != nil {
		return err
	}
	*t = content
	return nil
}

// Embed encodes v and wraps the result as TaggedBytes.
func Embed(v any) (TaggedBytes, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	return TaggedBytes(b), nil
}

// Tag24 returns the full encoding of #6.24(bstr .cbor inner).
func Tag24(inner []byte) ([]byte, error) {
	return TaggedBytes(inner).MarshalCBOR()
}

var errEmpty = errors.New("empty message")
