package message

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"mdocholder/internal/domain"
)

// DeviceResponse status codes.
const (
	ResponseOK           uint = 0
	ResponseGeneralError uint = 10
	ResponseCBORError    uint = 11
)

// DeviceResponseVersion is the version written into responses.
const DeviceResponseVersion = "1.0"

// DeviceResponse is the holder's answer to a DeviceRequest.
type DeviceResponse struct {
	Version   string            `cbor:"version"`
	Documents []cbor.RawMessage `cbor:"documents,omitempty"`
	Status    uint              `cbor:"status"`
}

// Document is one disclosed mdoc.
type Document struct {
	DocType      string       `cbor:"docType"`
	IssuerSigned IssuerSigned `cbor:"issuerSigned"`
	DeviceSigned DeviceSigned `cbor:"deviceSigned"`
}

// IssuerSigned carries the disclosed items and the issuer's MSO signature.
type IssuerSigned struct {
	NameSpaces map[string][]TaggedBytes `cbor:"nameSpaces,omitempty"`
	IssuerAuth cbor.RawMessage          `cbor:"issuerAuth"`
}

// DeviceSigned carries device-signed elements and device authentication.
type DeviceSigned struct {
	NameSpaces TaggedBytes `cbor:"nameSpaces"`
	DeviceAuth DeviceAuth  `cbor:"deviceAuth"`
}

// DeviceAuth holds exactly one of deviceSignature or deviceMac.
type DeviceAuth struct {
	DeviceSignature cbor.RawMessage `cbor:"deviceSignature,omitempty"`
	DeviceMac       cbor.RawMessage `cbor:"deviceMac,omitempty"`
}

// EmptyDeviceNameSpaces is the encoding of an empty DeviceNameSpaces map.
var EmptyDeviceNameSpaces = []byte{0xa0}

// BuildDeviceResponse wraps already-encoded documents.
func BuildDeviceResponse(documents [][]byte) ([]byte, error) {
	resp := DeviceResponse{Version: DeviceResponseVersion, Status: ResponseOK}
	for _, d := range documents {
		resp.Documents = append(resp.Documents, cbor.RawMessage(d))
	}
	return Marshal(resp)
}

// ParseDeviceResponse decodes a DeviceResponse and its documents.
func ParseDeviceResponse(b []byte) (DeviceResponse, []Document, error) {
	var resp DeviceResponse
	if err := Unmarshal(b, &resp); err != nil {
		return DeviceResponse{}, nil, fmt.Errorf("device response: %w", err)
	}
	docs := make([]Document, 0, len(resp.Documents))
	for i, raw := range resp.Documents {
		var d Document
		if err := Unmarshal(raw, &d); err != nil {
			return DeviceResponse{}, nil, fmt.Errorf("documents[%d]: %w", i, err)
		}
		docs = append(docs, d)
	}
	return resp, docs, nil
}

// DisclosedClaims lists the element identifiers a document discloses,
// by namespace, without verifying them.
func (d Document) DisclosedClaims() (map[domain.Namespace][]domain.ElementID, error) {
	out := make(map[domain.Namespace][]domain.ElementID, len(d.IssuerSigned.NameSpaces))
	for ns, items := range d.IssuerSigned.NameSpaces {
		for _, raw := range items {
			var it IssuerSignedItem
			if err := Unmarshal(raw, &it); err != nil {
				return nil, err
			}
			out[domain.Namespace(ns)] = append(out[domain.Namespace(ns)], domain.ElementID(it.ElementIdentifier))
		}
	}
	return out, nil
}
