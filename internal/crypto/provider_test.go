package crypto_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
)

func rawSign(t *testing.T, key *ecdsa.PrivateKey, msg []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out
}

func TestGenerateKeyPair_FreshKeys(t *testing.T) {
	p := crypto.NewProvider()

	a, err := p.GenerateKeyPair(domain.CurveP256)
	require.NoError(t, err)
	b, err := p.GenerateKeyPair(domain.CurveP256)
	require.NoError(t, err)
	require.NotEqual(t, a.PublicKey().Bytes(), b.PublicKey().Bytes())

	_, err = p.GenerateKeyPair("secp256k1")
	require.ErrorIs(t, err, crypto.ErrUnsupportedCurve)
}

func TestVerify_RawSignature(t *testing.T) {
	p := crypto.NewProvider()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	msg := []byte("ReaderAuthentication")
	sig := rawSign(t, key, msg)

	require.NoError(t, p.Verify(&key.PublicKey, domain.AlgES256, msg, sig))
	require.ErrorIs(t, p.Verify(&key.PublicKey, domain.AlgES256, []byte("other"), sig), crypto.ErrBadSignature)
	require.ErrorIs(t, p.Verify(&key.PublicKey, domain.AlgES256, msg, sig[:10]), crypto.ErrBadSignature)
}

func TestCOSEVerifier_DelegatesToProvider(t *testing.T) {
	p := crypto.NewProvider()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	v, err := crypto.NewCOSEVerifier(p, cose.AlgorithmES256, &key.PublicKey)
	require.NoError(t, err)
	require.Equal(t, cose.AlgorithmES256, v.Algorithm())

	msg := []byte("payload")
	require.NoError(t, v.Verify(msg, rawSign(t, key, msg)))
	require.ErrorIs(t, v.Verify([]byte("tampered"), rawSign(t, key, msg)), cose.ErrVerification)

	_, err = crypto.NewCOSEVerifier(p, cose.AlgorithmEdDSA, &key.PublicKey)
	require.Error(t, err)
}

func TestCOSEKey_RoundTrip(t *testing.T) {
	p := crypto.NewProvider()
	for _, curve := range []domain.Curve{domain.CurveP256, domain.CurveP384, domain.CurveP521} {
		priv, err := p.GenerateKeyPair(curve)
		require.NoError(t, err)

		enc, err := crypto.EncodeCOSEKey(priv.PublicKey())
		require.NoError(t, err)
		got, err := crypto.DecodeCOSEKey(enc)
		require.NoError(t, err)
		require.True(t, got.Equal(priv.PublicKey()), "curve %s", curve)

		ec, err := crypto.ECDSAPublicKey(got)
		require.NoError(t, err)
		alg, err := crypto.AlgorithmFor(ec)
		require.NoError(t, err)
		require.NotZero(t, alg)
	}
}

func TestECDH_Agrees(t *testing.T) {
	p := crypto.NewProvider()
	a, err := p.GenerateKeyPair(domain.CurveP256)
	require.NoError(t, err)
	b, err := p.GenerateKeyPair(domain.CurveP256)
	require.NoError(t, err)

	ab, err := crypto.ECDH(a, b.PublicKey())
	require.NoError(t, err)
	ba, err := crypto.ECDH(b, a.PublicKey())
	require.NoError(t, err)
	require.Equal(t, ab, ba)

	crypto.Wipe(ab)
	require.Equal(t, make([]byte, len(ab)), ab)
}
