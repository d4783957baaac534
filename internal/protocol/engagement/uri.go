package engagement

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// URIScheme prefixes the QR payload.
const URIScheme = "mdoc:"

// URI returns the QR code payload for encoded engagement bytes.
func URI(encoded []byte) string {
	return URIScheme + base64.RawURLEncoding.EncodeToString(encoded)
}

// ParseURI extracts engagement bytes from a scanned QR payload.
func ParseURI(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(URIScheme) || !strings.EqualFold(s[:len(URIScheme)], URIScheme) {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrMalformedEngagement, URIScheme)
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s[len(URIScheme):], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEngagement, err)
	}
	return b, nil
}
