package presentment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/domain"
)

func candidate(id domain.DocumentID, dt domain.DocType, elems ...domain.ElementID) domain.Candidate {
	names := make([]string, len(elems))
	for i, el := range elems {
		names[i] = string(el)
	}
	return domain.Candidate{
		Credential: domain.Credential{ID: id, DocType: dt},
		Plan: domain.DisclosurePlan{
			DocType:    dt,
			Claims:     map[domain.Namespace][]domain.ElementID{"ns": elems},
			Mode:       domain.AuthSignature,
			ClaimNames: names,
		},
	}
}

func TestBestPerDocType(t *testing.T) {
	first := candidate("doc-1", "dt.a", "a")
	cands := []domain.Candidate{
		first,
		candidate("doc-2", "dt.a", "a"),
		candidate("doc-1", "dt.a", "a", "b"),
		candidate("doc-2", "dt.a", "z"),
		candidate("doc-3", "dt.b", "x"),
	}

	got := bestPerDocType(cands)
	require.Len(t, got, 2)
	require.Equal(t, domain.DocumentID("doc-1"), got[0].Credential.ID)
	require.Equal(t, []domain.ElementID{"a", "b"}, got[0].Plan.Claims["ns"])
	require.Equal(t, []string{"a", "b"}, got[0].Plan.ClaimNames)
	require.Equal(t, domain.DocumentID("doc-3"), got[1].Credential.ID)

	// The input plan is left untouched.
	require.Equal(t, []domain.ElementID{"a"}, first.Plan.Claims["ns"])
}
