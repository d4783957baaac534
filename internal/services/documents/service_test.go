package documents_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/crypto"
	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
	"mdocholder/internal/protocol/message"
	"mdocholder/internal/services/documents"
	"mdocholder/internal/store"
)

func newService(t *testing.T) *documents.Service {
	t.Helper()
	home := t.TempDir()
	return documents.New(
		store.NewDocumentFileStore(home),
		store.NewKeyFileStore(home, "pass", store.KDFParams{N: 1 << 10, R: 8, P: 1}),
		doctype.DefaultRegistry(),
	)
}

func TestSeedSample_OnlyOnEmptyStore(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	created, err := svc.SeedSample(ctx)
	require.NoError(t, err)
	require.True(t, created)

	created, err = svc.SeedSample(ctx)
	require.NoError(t, err)
	require.False(t, created)

	docs, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	d := docs[0]
	require.Equal(t, documents.SampleDisplayName, d.DisplayName)
	require.Equal(t, documents.SampleTypeDisplayName, d.TypeDisplayName)
	require.Equal(t, doctype.MDLDocType, d.DocType)
	require.True(t, d.Has(doctype.MDLNamespace, "family_name"))
	require.True(t, d.Supports(domain.AuthSignature))
	require.True(t, d.Supports(domain.AuthKeyAgreement))

	v, err := message.VerifyIssuerAuth(crypto.NewProvider(), d.IssuerAuth)
	require.NoError(t, err)
	require.Equal(t, "Test DS Key", v.DSChain[0].Subject.CommonName)
	item, err := v.CheckItem(string(doctype.MDLNamespace), d.Namespaces[doctype.MDLNamespace]["family_name"])
	require.NoError(t, err)
	require.Equal(t, "Mustermann", item.ElementValue)
}

func TestCreate_CustomDocument(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	issuer, err := documents.NewTestIssuer(time.Now(), time.Hour)
	require.NoError(t, err)

	cred, err := svc.Create(ctx, documents.CreateRequest{
		DocType:     "org.example.membership",
		DisplayName: "Club card",
		Values:      map[domain.Namespace]map[domain.ElementID]any{"org.example": {"member_id": "42"}},
		AuthModes:   []domain.AuthMode{domain.AuthKeyAgreement},
	}, issuer)
	require.NoError(t, err)
	require.NotEmpty(t, cred.ID)
	require.NotEmpty(t, cred.KeyAlias)
	require.False(t, cred.Supports(domain.AuthSignature))

	require.NoError(t, issuer.Chain[0].CheckSignatureFrom(issuer.Root))

	_, err = svc.Create(ctx, documents.CreateRequest{DocType: "x"}, issuer)
	require.ErrorIs(t, err, documents.ErrNoValues)
}
