package truthkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndString(t *testing.T) {
	k, err := Build(TruthKey{
		Domain: "earth", Topic: "flood", SpatialSystem: "h3", SpatialID: "8a2a1072b59ffff",
		ZIndex: "r8", TimeBucket: "2026-01-07T12:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, "earth:flood:h3:8a2a1072b59ffff:r8:2026-01-07T12:00Z", k.String())
}

func TestRoundTrip(t *testing.T) {
	k, err := Build(TruthKey{
		Domain: "ocean", Topic: "vessel_detection", SpatialSystem: "h3", SpatialID: "abc123",
		ZIndex: "r6", TimeBucket: "2026-01-07T00:00Z",
	})
	require.NoError(t, err)
	parsed, err := Parse(k.String())
	require.NoError(t, err)
	require.Equal(t, k, parsed)
}

func TestBuild_LowercasesSegments(t *testing.T) {
	k, err := Build(TruthKey{
		Domain: "Earth", Topic: "Flood", SpatialSystem: "H3", SpatialID: "ABC",
		ZIndex: "R8", TimeBucket: "2026-01-07T12:00Z",
	})
	require.NoError(t, err)
	require.Equal(t, "earth", k.Domain)
}

func TestBuild_RejectsBadSegment(t *testing.T) {
	_, err := Build(TruthKey{
		Domain: "earth!", Topic: "flood", SpatialSystem: "h3", SpatialID: "abc",
		ZIndex: "r8", TimeBucket: "2026-01-07T12:00Z",
	})
	require.Error(t, err)
}

func TestBuild_RejectsBadBucket(t *testing.T) {
	_, err := Build(TruthKey{
		Domain: "earth", Topic: "flood", SpatialSystem: "h3", SpatialID: "abc",
		ZIndex: "r8", TimeBucket: "not-a-bucket",
	})
	require.Error(t, err)
}

func TestParse_WrongSegmentCount(t *testing.T) {
	_, err := Parse("a:b:c")
	require.Error(t, err)
}
