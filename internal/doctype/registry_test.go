package doctype_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdocholder/internal/doctype"
)

func TestRegistry_ClaimName(t *testing.T) {
	r := doctype.DefaultRegistry()

	require.Equal(t, "Family Name", r.ClaimName(doctype.MDLDocType, doctype.MDLNamespace, "family_name"))
	require.Equal(t, "custom_claim", r.ClaimName(doctype.MDLDocType, doctype.MDLNamespace, "custom_claim"))
	require.Equal(t, "x", r.ClaimName("unknown.type", "ns", "x"))
	require.Equal(t, []string{string(doctype.MDLDocType)}, func() []string {
		var out []string
		for _, d := range r.DocTypes() {
			out = append(out, string(d))
		}
		return out
	}())
}

func TestDrivingLicense_SampleValuesSkipElementsWithoutSample(t *testing.T) {
	values := doctype.DrivingLicense().SampleValues()
	ns := values[doctype.MDLNamespace]

	require.Equal(t, "Erika", ns["given_name"])
	_, ok := ns["portrait"]
	require.False(t, ok)
}
