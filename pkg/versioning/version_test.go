package versioning

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_Basic(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	require.Equal(t, 1, v.Major)
	require.Equal(t, 2, v.Minor)
	require.Equal(t, 3, v.Patch)
	require.Equal(t, "1.2.3", v.String())
}

func TestParse_PrereleaseAndBuild(t *testing.T) {
	v, err := Parse("v2.0.0-rc.1+build.42")
	require.NoError(t, err)
	require.Equal(t, "rc.1", v.Prerelease)
	require.Equal(t, "build.42", v.Build)
	require.Equal(t, "2.0.0-rc.1+build.42", v.String())
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "1", "1.2", "a.b.c", "1.2.3.4"} {
		_, err := Parse(s)
		require.Error(t, err, s)
	}
}

func TestCompare_Precedence(t *testing.T) {
	mustParse := func(s string) Version {
		v, err := Parse(s)
		require.NoError(t, err)
		return *v
	}

	require.Equal(t, -1, mustParse("1.0.0").Compare(mustParse("2.0.0")))
	require.Equal(t, 1, mustParse("1.1.0").Compare(mustParse("1.0.9")))
	require.Equal(t, 0, mustParse("1.2.3").Compare(mustParse("1.2.3")))
	// Pre-release sorts below the release it precedes.
	require.Equal(t, -1, mustParse("1.0.0-rc.1").Compare(mustParse("1.0.0")))
	require.Equal(t, 1, mustParse("1.0.0").Compare(mustParse("1.0.0-rc.1")))
}

func TestIsCompatible_SameMajor(t *testing.T) {
	v1, err := Parse("1.4.0")
	require.NoError(t, err)
	v2, err := Parse("1.9.9")
	require.NoError(t, err)
	v3, err := Parse("2.0.0")
	require.NoError(t, err)

	require.True(t, v1.IsCompatible(*v2))
	require.False(t, v1.IsCompatible(*v3))
}

func TestIncrement(t *testing.T) {
	v, err := Parse("1.2.3")
	require.NoError(t, err)
	require.Equal(t, "2.0.0", v.IncrementMajor().String())
	require.Equal(t, "1.3.0", v.IncrementMinor().String())
	require.Equal(t, "1.2.4", v.IncrementPatch().String())
}
