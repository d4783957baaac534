package commands

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/doctype"
	"mdocholder/internal/domain"
)

func TestParseElements(t *testing.T) {
	req, err := parseElements(doctype.MDLDocType, []string{
		"family_name",
		"org.iso.18013.5.1/age_over_18",
		"org.iso.18013.5.1.aamva/DHS_compliance",
	})
	require.NoError(t, err)
	require.Equal(t, doctype.MDLDocType, req.DocType)
	require.Equal(t, map[domain.Namespace]map[domain.ElementID]bool{
		doctype.MDLNamespace:      {"family_name": false, "age_over_18": false},
		"org.iso.18013.5.1.aamva": {"DHS_compliance": false},
	}, req.NameSpaces)

	for _, bad := range [][]string{nil, {"/x"}, {"ns/"}} {
		_, err := parseElements(doctype.MDLDocType, bad)
		require.Error(t, err, bad)
	}
}
