package store_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mdocholder/internal/crypto"
	"mdocholder/internal/domain"
	"mdocholder/internal/store"
)

// Cheap scrypt parameters keep the tests fast.
var testKDF = store.KDFParams{N: 1 << 10, R: 8, P: 1}

func TestDocuments_SaveListGetDelete(t *testing.T) {
	ctx := context.Background()
	var docs domain.DocumentStore = store.NewDocumentFileStore(t.TempDir())

	list, err := docs.ListDocuments(ctx)
	require.NoError(t, err)
	require.Empty(t, list)

	now := time.Now().UTC()
	second := domain.Credential{ID: "doc-b", DocType: "t", CreatedAt: now.Add(time.Second)}
	first := domain.Credential{
		ID:         "doc-a",
		DocType:    "t",
		CreatedAt:  now,
		Namespaces: map[domain.Namespace]map[domain.ElementID][]byte{"ns": {"a": {1, 2}}},
	}
	require.NoError(t, docs.SaveDocument(ctx, second))
	require.NoError(t, docs.SaveDocument(ctx, first))

	list, err = docs.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, domain.DocumentID("doc-a"), list[0].ID)
	require.True(t, list[0].Has("ns", "a"))

	got, ok, err := docs.GetDocument(ctx, "doc-b")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.ID, got.ID)

	require.NoError(t, docs.DeleteDocument(ctx, "doc-b"))
	require.ErrorIs(t, docs.DeleteDocument(ctx, "doc-b"), domain.ErrNotFound)

	_, ok, err = docs.GetDocument(ctx, "doc-b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDocuments_RejectsPathEscape(t *testing.T) {
	docs := store.NewDocumentFileStore(t.TempDir())
	err := docs.SaveDocument(context.Background(), domain.Credential{ID: "../escape"})
	require.Error(t, err)
}

func TestKeys_SignAndVerify(t *testing.T) {
	ctx := context.Background()
	keys := store.NewKeyFileStore(t.TempDir(), "pass", testKDF)

	info, pub, err := keys.CreateKey(ctx, domain.CurveP256)
	require.NoError(t, err)
	require.NotEmpty(t, info.Alias)

	signer, err := keys.Signer(ctx, info.Alias)
	require.NoError(t, err)
	require.True(t, signer.Public().(*ecdsa.PublicKey).Equal(pub))

	digest := sha256.Sum256([]byte("DeviceAuthentication"))
	sig, err := signer.Sign(rand.Reader, digest[:], nil)
	require.NoError(t, err)
	require.True(t, ecdsa.VerifyASN1(pub.(*ecdsa.PublicKey), digest[:], sig))
}

func TestKeys_WrongPassphrase(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()
	info, _, err := store.NewKeyFileStore(home, "correct", testKDF).CreateKey(ctx, domain.CurveP256)
	require.NoError(t, err)

	signer, err := store.NewKeyFileStore(home, "wrong", testKDF).Signer(ctx, info.Alias)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("x"))
	_, err = signer.Sign(rand.Reader, digest[:], nil)
	require.ErrorIs(t, err, domain.ErrWrongPassphrase)
}

func TestKeys_SharedSecretMatchesPeer(t *testing.T) {
	ctx := context.Background()
	keys := store.NewKeyFileStore(t.TempDir(), "pass", testKDF)
	info, pub, err := keys.CreateKey(ctx, domain.CurveP256)
	require.NoError(t, err)

	peer, err := crypto.NewProvider().GenerateKeyPair(domain.CurveP256)
	require.NoError(t, err)

	ours, err := keys.SharedSecret(ctx, info.Alias, peer.PublicKey())
	require.NoError(t, err)

	devicePub, err := pub.(*ecdsa.PublicKey).ECDH()
	require.NoError(t, err)
	theirs, err := crypto.ECDH(peer, devicePub)
	require.NoError(t, err)
	require.Equal(t, theirs, ours)
}

func TestKeys_UsageCounterSerialized(t *testing.T) {
	ctx := context.Background()
	keys := store.NewKeyFileStore(t.TempDir(), "pass", testKDF)
	info, _, err := keys.CreateKey(ctx, domain.CurveP256)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := keys.IncrementUsage(ctx, info.Alias)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, ok, err := keys.KeyInfo(ctx, info.Alias)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 10, got.Usage)
}

func TestKeys_UnknownAlias(t *testing.T) {
	keys := store.NewKeyFileStore(t.TempDir(), "pass", testKDF)
	_, err := keys.Signer(context.Background(), "key-missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
