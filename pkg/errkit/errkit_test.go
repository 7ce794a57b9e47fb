package errkit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectCanonicalError_Deterministic(t *testing.T) {
	a := SchemaViolation("claim.b", "missing_required")
	b := SchemaViolation("claim.a", "type_mismatch")
	c := SchemaViolation("claim.a", "enum_violation")

	got1 := SelectCanonicalError([]*Error{a, b, c})
	got2 := SelectCanonicalError([]*Error{c, a, b})
	require.Equal(t, got1, got2)
	require.Equal(t, "claim.a", got1.Path)
	require.Equal(t, "enum_violation", got1.Code)
}

func TestSelectCanonicalError_Empty(t *testing.T) {
	require.Nil(t, SelectCanonicalError(nil))
}

func TestError_Message(t *testing.T) {
	e := New(KindNoEvidence, "observations empty")
	require.Contains(t, e.Error(), "no_evidence")
}
