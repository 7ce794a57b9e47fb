package confidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCompute_WeightedSum(t *testing.T) {
	in := Input{
		Components: []Component{
			{Name: "ai_confidence", Weight: 0.6, Value: 0.9},
			{Name: "agreement_ratio", Weight: 0.4, Value: 1.0},
		},
		CompileTime:      time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		LatestEvidenceAt: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		ObservationCount: 5,
		LowEvidenceFloor: 2,
	}
	conf, breakdown := Compute(in)
	require.InDelta(t, 0.94, conf, 1e-9)
	require.Equal(t, 0.0, breakdown.TimeDecayModifier)
	require.Equal(t, 0.0, breakdown.LowEvidenceModifier)
}

func TestCompute_ClampsToUnitRange(t *testing.T) {
	in := Input{
		Components: []Component{{Name: "x", Weight: 2.0, Value: 1.0}},
		CompileTime:      time.Now().UTC(),
		LatestEvidenceAt: time.Now().UTC(),
	}
	conf, _ := Compute(in)
	require.Equal(t, 1.0, conf)
}

func TestCompute_LowEvidencePenaltyApplies(t *testing.T) {
	in := Input{
		Components: []Component{{Name: "x", Weight: 1.0, Value: 0.8}},
		CompileTime:        time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		LatestEvidenceAt:    time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		ObservationCount:    1,
		LowEvidenceFloor:    2,
		LowEvidencePenalty:  0.2,
	}
	conf, breakdown := Compute(in)
	require.InDelta(t, 0.6, conf, 1e-9)
	require.Equal(t, -0.2, breakdown.LowEvidenceModifier)
}

func TestCompute_TimeDecayReducesConfidenceForStaleEvidence(t *testing.T) {
	compileTime := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	latest := compileTime.Add(-24 * time.Hour)
	in := Input{
		Components:       []Component{{Name: "x", Weight: 1.0, Value: 1.0}},
		HalfLife:         24 * time.Hour,
		CompileTime:      compileTime,
		LatestEvidenceAt: latest,
	}
	conf, breakdown := Compute(in)
	require.InDelta(t, 0.5, conf, 1e-9)
	require.Less(t, breakdown.TimeDecayModifier, 0.0)
}

func TestCompute_ZeroHalfLifeMeansNoDecay(t *testing.T) {
	compileTime := time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC)
	latest := compileTime.Add(-1000 * time.Hour)
	in := Input{
		Components:       []Component{{Name: "x", Weight: 1.0, Value: 1.0}},
		CompileTime:      compileTime,
		LatestEvidenceAt: latest,
	}
	conf, _ := Compute(in)
	require.Equal(t, 1.0, conf)
}

func TestSortedComponentNames(t *testing.T) {
	b := Breakdown{Components: map[string]float64{"z": 1, "a": 2, "m": 3}}
	require.Equal(t, []string{"a", "m", "z"}, SortedComponentNames(b))
}
