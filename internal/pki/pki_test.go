package pki_test

import (
	"crypto/elliptic"
	"testing"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/pki"
)

func TestRootAndLeaf_ChainVerifies(t *testing.T) {
	root, err := pki.NewRoot(pki.Template{CommonName: "Reader Root", Curve: elliptic.P384()})
	require.NoError(t, err)
	require.True(t, root.Certificate.IsCA)

	leaf, err := pki.Issue(pki.Template{CommonName: "Reader"}, root)
	require.NoError(t, err)
	require.False(t, leaf.Certificate.IsCA)
	require.NoError(t, leaf.Certificate.CheckSignatureFrom(root.Certificate))
}

func TestPEM_RoundTrip(t *testing.T) {
	root, err := pki.NewRoot(pki.Template{CommonName: "IACA"})
	require.NoError(t, err)
	leaf, err := pki.Issue(pki.Template{CommonName: "DS"}, root)
	require.NoError(t, err)

	certs, err := pki.ParseCertificatesPEM(pki.EncodeCertificatesPEM(leaf.Certificate, root.Certificate))
	require.NoError(t, err)
	require.Len(t, certs, 2)
	require.Equal(t, leaf.Certificate.Raw, certs[0].Raw)

	keyPEM, err := pki.EncodeKeyPEM(leaf.Key)
	require.NoError(t, err)
	key, err := pki.ParseKeyPEM(keyPEM)
	require.NoError(t, err)
	require.True(t, key.Equal(leaf.Key))

	_, err = pki.ParseCertificatesPEM([]byte("not pem"))
	require.ErrorIs(t, err, pki.ErrNoCertificates)
}
