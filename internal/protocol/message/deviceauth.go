package message

import (
	gocrypto "crypto"
	"crypto/ecdh"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/veraison/go-cose"
	"golang.org/x/crypto/hkdf"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

// coseAlgHMAC256 is "HMAC 256/256" (RFC 9053).
const coseAlgHMAC256 = 5

// DeviceAuthenticationBytes returns the payload device authentication
// covers. deviceNameSpaces is the inner encoding of DeviceNameSpaces.
func DeviceAuthenticationBytes(transcript []byte, docType domain.DocType, deviceNameSpaces []byte) ([]byte, error) {
	return embeddedArray("DeviceAuthentication", transcript, string(docType), TaggedBytes(deviceNameSpaces))
}

// SignDeviceAuth produces a detached deviceSignature.
func SignDeviceAuth(key gocrypto.Signer, payload []byte) ([]byte, error) {
	return signDetached(key, payload, nil)
}

// DeriveEMacKey derives the device MAC key from an ECDH secret between the
// device key and the reader's ephemeral key.
func DeriveEMacKey(sharedSecret, transcript []byte) ([]byte, error) {
	tb, err := TranscriptBytes(transcript)
	if err != nil {
		return nil, err
	}
	salt := sha256.Sum256(tb)
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, salt[:], []byte("EMacKey")), key); err != nil {
		return nil, err
	}
	return key, nil
}

// mac0 is an untagged COSE_Mac0 with a detached payload.
type mac0 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]any
	Payload     []byte
	Tag         []byte
}

func mac0ToBeMACed(protected, payload []byte) ([]byte, error) {
	return Marshal([]any{"MAC0", protected, []byte{}, payload})
}

// MacDeviceAuth produces a detached deviceMac keyed with eMacKey.
func MacDeviceAuth(eMacKey, payload []byte) ([]byte, error) {
	protected, err := Marshal(map[int]any{1: coseAlgHMAC256})
	if err != nil {
		return nil, err
	}
	tbm, err := mac0ToBeMACed(protected, payload)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, eMacKey)
	h.Write(tbm)
	return Marshal(mac0{Protected: protected, Unprotected: map[int]any{}, Tag: h.Sum(nil)})
}

// VerifyDeviceMac checks a deviceMac against payload.
func VerifyDeviceMac(eMacKey, deviceMac, payload []byte) error {
	var m mac0
	if err := Unmarshal(deviceMac, &m); err != nil {
		return fmt.Errorf("deviceMac: %w", err)
	}
	var hdr map[int]any
	if err := Unmarshal(m.Protected, &hdr); err != nil {
		return fmt.Errorf("deviceMac protected header: %w", err)
	}
	if alg, _ := hdr[1].(uint64); alg != coseAlgHMAC256 {
		return fmt.Errorf("deviceMac: unsupported alg %v", hdr[1])
	}
	tbm, err := mac0ToBeMACed(m.Protected, payload)
	if err != nil {
		return err
	}
	h := hmac.New(sha256.New, eMacKey)
	h.Write(tbm)
	if !hmac.Equal(h.Sum(nil), m.Tag) {
		return errors.New("deviceMac: tag mismatch")
	}
	return nil
}

// VerifyDeviceSignature checks a detached deviceSignature with the device
// key from the MSO.
func VerifyDeviceSignature(provider domain.CryptoProvider, deviceKey *ecdh.PublicKey, deviceSignature, payload []byte) error {
	var msg cose.UntaggedSign1Message
	if err := msg.UnmarshalCBOR(deviceSignature); err != nil {
		return fmt.Errorf("deviceSignature: %w", err)
	}
	alg, err := msg.Headers.Protected.Algorithm()
	if err != nil {
		return err
	}
	pub, err := crypto.ECDSAPublicKey(deviceKey)
	if err != nil {
		return err
	}
	verifier, err := crypto.NewCOSEVerifier(provider, alg, pub)
	if err != nil {
		return err
	}
	signed := cose.Sign1Message(msg)
	signed.Payload = payload
	return signed.Verify(nil, verifier)
}
