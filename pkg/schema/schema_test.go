package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/errkit"
)

var floodSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"water_level_m": map[string]interface{}{
			"type":    "number",
			"minimum": 0,
		},
		"severity": map[string]interface{}{
			"type": "string",
			"enum": []interface{}{"low", "moderate", "high"},
		},
	},
	"required":             []interface{}{"water_level_m", "severity"},
	"additionalProperties": false,
}

func newCompiled(t *testing.T) *Validator {
	t.Helper()
	v := NewValidator()
	require.NoError(t, v.Compile("earth.flood.v1", floodSchema))
	return v
}

func TestValidate_Passes(t *testing.T) {
	v := newCompiled(t)
	violations, err := v.Validate("earth.flood.v1", map[string]interface{}{
		"water_level_m": 1.2,
		"severity":      "moderate",
	})
	require.NoError(t, err)
	require.Nil(t, violations)
}

func TestValidate_MissingRequired(t *testing.T) {
	v := newCompiled(t)
	violations, err := v.Validate("earth.flood.v1", map[string]interface{}{
		"water_level_m": 1.2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	first := FirstViolation(violations)
	require.NotNil(t, first)
	require.Equal(t, "missing_required", first.Code)
}

func TestValidate_EnumViolation(t *testing.T) {
	v := newCompiled(t)
	violations, err := v.Validate("earth.flood.v1", map[string]interface{}{
		"water_level_m": 1.2,
		"severity":      "catastrophic",
	})
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	found := false
	for _, violation := range violations {
		if violation.Code == "enum_violation" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidate_TypeMismatch(t *testing.T) {
	v := newCompiled(t)
	violations, err := v.Validate("earth.flood.v1", map[string]interface{}{
		"water_level_m": "not-a-number",
		"severity":      "moderate",
	})
	require.NoError(t, err)
	require.NotEmpty(t, violations)
}

func TestValidate_UnknownClaimType(t *testing.T) {
	v := NewValidator()
	_, err := v.Validate("nonexistent.v1", map[string]interface{}{})
	require.Error(t, err)
}

func TestFirstViolation_Deterministic(t *testing.T) {
	v := newCompiled(t)
	violations, err := v.Validate("earth.flood.v1", map[string]interface{}{})
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	first1 := FirstViolation(violations)

	reversed := make([]*errkit.Error, len(violations))
	for i, violation := range violations {
		reversed[len(violations)-1-i] = violation
	}
	first2 := FirstViolation(reversed)
	require.Equal(t, first1, first2)
}
