package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/claimtype"
	"github.com/truthmesh/core/pkg/consensus"
	"github.com/truthmesh/core/pkg/errkit"
	"github.com/truthmesh/core/pkg/merkle"
	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/signing"
	"github.com/truthmesh/core/pkg/trustsnapshot"
)

func floodClaimType() claimtype.ClaimType {
	ct := claimtype.ClaimType{
		ID:          "earth.flood.v1",
		RiskProfile: claimtype.RiskMonitor,
		Evidence:    claimtype.EvidenceRequirement{MinObservations: 1},
		Consensus: claimtype.ConsensusModel{
			Name:                "weighted_threshold",
			RoleWeights:         map[string]float64{"silver": 3, "expert": 7},
			FinalizeThreshold:   10,
			RejectThreshold:     -10,
			ThetaMin:            0,
			DisagreementThresh:  0.3,
			AIAutovalidateConf:  0.82,
			HumanQuorumRequired: 0,
		},
		Confidence: claimtype.ConfidenceModel{
			Components: []claimtype.ConfidenceComponent{
				{Name: "ai_confidence", Weight: 0.6},
				{Name: "multi_source_bonus", Weight: 0.2},
				{Name: "evidence_density", Weight: 0.2},
			},
			HalfLifeISO:        "PT4H",
			LowEvidencePenalty: 0.1,
			LowEvidenceFloor:   2,
		},
		ClaimDerivation: claimtype.ClaimDerivation{
			Strategy: "weighted_median",
			Fields:   []string{"water_level_cm"},
		},
		OutputSchema: map[string]interface{}{
			"type":     "object",
			"required": []interface{}{"water_level_cm"},
			"properties": map[string]interface{}{
				"water_level_cm": map[string]interface{}{"type": "number"},
			},
		},
	}
	return ct
}

func criticalClaimType() claimtype.ClaimType {
	ct := floodClaimType()
	ct.ID = "earth.dam_breach.v1"
	ct.RiskProfile = claimtype.RiskCritical
	ct.Consensus.RoleWeights = map[string]float64{"authority": 10}
	ct.Consensus.HumanQuorumRequired = 2
	ct.Consensus.FinalizeThreshold = 5
	ct.Consensus.RejectThreshold = -5
	ct.Consensus.AIAutovalidateConf = 0
	ct.ClaimDerivation = claimtype.ClaimDerivation{Strategy: "majority", Fields: []string{"status"}}
	ct.OutputSchema = map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"status"},
		"properties": map[string]interface{}{
			"status": map[string]interface{}{"type": "string"},
		},
	}
	return ct
}

func obs(id, reporterID, standingClass string, trustScore float64, payload map[string]interface{}, reportedAt time.Time) observation.Observation {
	return observation.Observation{
		ID:         id,
		ClaimType:  "earth.flood.v1",
		ReportedAt: reportedAt,
		ReporterID: reporterID,
		ReporterContext: observation.ReporterContext{
			StandingClass: standingClass,
			TrustScore:    trustScore,
		},
		Location: map[string]interface{}{"h3": "8a2a1072b59ffff"},
		Payload:  payload,
		Evidence: []observation.EvidenceRef{{URI: "s3://bucket/" + id, SHA256: "ab" + id}},
	}
}

func baseInput() Input {
	compileTime := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	reportTime := compileTime.Add(-10 * time.Minute)
	return Input{
		ClaimType:  floodClaimType(),
		TruthKeyID: "earth:flood:h3:8a2a1072b59ffff:0:2026-01-07T12:00Z",
		Observations: []observation.Observation{
			obs("o1", "silver-1", "silver", 450, map[string]interface{}{"water_level_cm": 120.0, "ai_confidence": 0.9}, reportTime),
			obs("o2", "expert-1", "expert", 800, map[string]interface{}{"water_level_cm": 125.0, "ai_confidence": 0.88}, reportTime),
		},
		TrustSnapshot:   trustsnapshot.TrustSnapshot{},
		PolicyVersion:   "v1.0",
		CompilerVersion: "1.0.0",
		CompileTime:     compileTime,
		WindowOpen:      false,
		Signer:          mustSigner(),
	}
}

func mustSigner() signing.Signer {
	s, err := signing.NewEd25519Signer("test-key-1")
	if err != nil {
		panic(err)
	}
	return s
}

func TestCompileTruthState_DeterministicOutput(t *testing.T) {
	in := baseInput()
	a, err := CompileTruthState(in)
	require.Nil(t, err)
	b, err2 := CompileTruthState(in)
	require.Nil(t, err2)
	require.Equal(t, a.Security.StateHash, b.Security.StateHash)
	require.Equal(t, a.Security.SemanticHash, b.Security.SemanticHash)
}

func TestCompileTruthState_SemanticHashStableAcrossCompilerVersion(t *testing.T) {
	in := baseInput()
	a, err := CompileTruthState(in)
	require.Nil(t, err)

	in2 := baseInput()
	in2.CompilerVersion = "1.0.1"
	in2.CompileTime = in.CompileTime.Add(5 * time.Minute)
	b, err2 := CompileTruthState(in2)
	require.Nil(t, err2)

	require.Equal(t, a.Security.SemanticHash, b.Security.SemanticHash)
	require.NotEqual(t, a.Security.StateHash, b.Security.StateHash)
}

func TestCompileTruthState_EvidenceRootBindsEvidence(t *testing.T) {
	in := baseInput()
	ts, err := CompileTruthState(in)
	require.Nil(t, err)

	require.Equal(t, merkle.Root(ts.EvidenceRefs), ts.EvidenceRoot)

	// Each evidence ref is provable against the root carried by the
	// signed state.
	tree := merkle.Build(ts.EvidenceRefs)
	for _, ref := range ts.EvidenceRefs {
		proof, ok := tree.Prove(ref)
		require.True(t, ok)
		require.True(t, merkle.Verify(proof, ts.EvidenceRoot))
	}

	// Tampering with the root invalidates the state hash.
	tampered := *ts
	tampered.EvidenceRoot = merkle.Root([]string{"ffff"})
	newHash, herr := StateHash(tampered)
	require.NoError(t, herr)
	require.NotEqual(t, ts.Security.StateHash, newHash)
}

func TestCompileTruthState_TamperInvalidatesHash(t *testing.T) {
	in := baseInput()
	ts, err := CompileTruthState(in)
	require.Nil(t, err)

	tampered := *ts
	tampered.Confidence = tampered.Confidence + 0.01
	newHash, herr := StateHash(tampered)
	require.NoError(t, herr)
	require.NotEqual(t, ts.Security.StateHash, newHash)
}

func TestCompileTruthState_NoEvidenceRejected(t *testing.T) {
	in := baseInput()
	in.Observations = nil
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindNoEvidence, err.Kind)
}

func TestCompileTruthState_UnsupportedSpatialSystemRejected(t *testing.T) {
	in := baseInput()
	in.TruthKeyID = "earth:flood:unknownsys:8a2a1072b59ffff:0:2026-01-07T12:00Z"
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindSpatialSystemUnsupported, err.Kind)
}

func TestCompileTruthState_ClaimBoundToObservations(t *testing.T) {
	in := baseInput()
	ts, err := CompileTruthState(in)
	require.Nil(t, err)
	require.Contains(t, ts.Claim, "water_level_cm")
	level, ok := ts.Claim["water_level_cm"].(float64)
	require.True(t, ok)
	require.GreaterOrEqual(t, level, 120.0)
	require.LessOrEqual(t, level, 125.0)
}

// A monitor-lane claim whose weighted score falls short of
// finalize_threshold still finalizes VERIFIED_TRUE when the average
// ai_confidence of its observations is at or above the contract's
// ai_autovalidate_confidence and the score leans true.
func TestCompileTruthState_MonitorLaneAIAutovalidation(t *testing.T) {
	in := baseInput()
	compileTime := in.CompileTime
	in.Observations = []observation.Observation{
		obs("o1", "silver-1", "silver", 450, map[string]interface{}{"water_level_cm": 120.0, "ai_confidence": 0.95}, compileTime.Add(-5*time.Minute)),
		obs("o2", "expert-1", "expert", 800, map[string]interface{}{"water_level_cm": 122.0, "ai_confidence": 0.9}, compileTime.Add(-5*time.Minute)),
	}
	// role_weights {silver:3, expert:7}; giving each reporter an effective
	// power near 1 via an explicit TrustSnapshot keeps the raw weighted
	// score (3*1 + 7*1 = 10) below finalize_threshold, so VERIFIED_TRUE can
	// only be reached through the autovalidation path.
	in.TrustSnapshot = trustsnapshot.TrustSnapshot{
		AgentTrusts: map[string]trustsnapshot.AgentTrust{
			"silver-1": {AgentID: "silver-1", Standing: 450, EffectivePower: 1.0},
			"expert-1": {AgentID: "expert-1", Standing: 800, EffectivePower: 1.0},
		},
	}
	in.ClaimType.Consensus.FinalizeThreshold = 50

	ts, err := CompileTruthState(in)
	require.Nil(t, err)
	require.Equal(t, "VERIFIED_TRUE", string(ts.Status))
	require.Equal(t, "AI_AUTOVALIDATION", ts.VerificationBasis)
	require.Contains(t, ts.TransparencyFlags, "AI_AUTOVALIDATED")
	require.NotNil(t, ts.AIConfidence)
}

// TestCompileTruthState_CriticalLaneInsufficientHumanQuorum grounds a
// critical-lane claim that clears finalize_threshold by score alone but
// lacks the contract's required human ratify count: it must land in
// PENDING_HUMAN_REVIEW, not VERIFIED_TRUE, and must not be signed.
func TestCompileTruthState_CriticalLaneInsufficientHumanQuorum(t *testing.T) {
	compileTime := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	ct := criticalClaimType()
	in := Input{
		ClaimType:  ct,
		TruthKeyID: "earth:dam_breach:h3:8a2a1072b59ffff:0:2026-01-07T12:00Z",
		Observations: []observation.Observation{
			obs("o1", "authority-1", "authority", 900, map[string]interface{}{"status": "breach"}, compileTime.Add(-time.Minute)),
		},
		ExtraVotes: []consensus.Vote{
			{AgentID: "validator-1", Role: "authority", IsHuman: true, Value: consensus.VoteRatify},
		},
		TrustSnapshot: trustsnapshot.TrustSnapshot{
			AgentTrusts: map[string]trustsnapshot.AgentTrust{
				"authority-1": {AgentID: "authority-1", Standing: 900, EffectivePower: 1.0},
			},
		},
		PolicyVersion:   "v1.0",
		CompilerVersion: "1.0.0",
		CompileTime:     compileTime,
		Signer:          mustSigner(),
	}
	ts, err := CompileTruthState(in)
	require.Nil(t, err)
	require.Equal(t, "PENDING_HUMAN_REVIEW", string(ts.Status))
	require.Nil(t, ts.Security)
}

// TestCompileTruthState_ContradictionForcesUndecided grounds scenario S3:
// two observations whose ai_confidence values diverge past
// disagreement_threshold must flag CONTRADICTION_DETECTED and force an
// UNDECIDED, unsigned status regardless of the raw consensus score.
func TestCompileTruthState_ContradictionForcesUndecided(t *testing.T) {
	in := baseInput()
	compileTime := in.CompileTime
	in.Observations = []observation.Observation{
		obs("o1", "silver-1", "silver", 450, map[string]interface{}{"water_level_cm": 120.0, "ai_confidence": 0.95}, compileTime.Add(-time.Minute)),
		obs("o2", "expert-1", "expert", 800, map[string]interface{}{"water_level_cm": 121.0, "ai_confidence": 0.2}, compileTime.Add(-time.Minute)),
	}
	ts, err := CompileTruthState(in)
	require.Nil(t, err)
	require.Equal(t, "UNDECIDED", string(ts.Status))
	require.Contains(t, ts.TransparencyFlags, "CONTRADICTION_DETECTED")
	require.Nil(t, ts.Security)
}

func TestCompileTruthState_TrustSnapshotHashMismatchRejected(t *testing.T) {
	in := baseInput()
	in.TrustSnapshot.SnapshotHash = "deadbeef"
	in.ExpectedTrustSnapshotHash = "not-the-real-hash"
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindTrustSnapshotHashMismatch, err.Kind)
}

func TestCompileTruthState_ContractHashMismatchRejected(t *testing.T) {
	in := baseInput()
	in.ExpectedContractHash = "not-the-real-hash"
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindContractHashMismatch, err.Kind)
}

func TestCompileTruthState_SchemaViolationRejected(t *testing.T) {
	in := baseInput()
	in.ClaimType.ClaimDerivation = claimtype.ClaimDerivation{Strategy: "majority", Fields: []string{"water_level_cm"}}
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindSchemaViolation, err.Kind)
}

func TestCompileTruthState_NaiveCompileTimeRejected(t *testing.T) {
	in := baseInput()
	in.CompileTime = time.Time{}
	ts, err := CompileTruthState(in)
	require.Nil(t, ts)
	require.NotNil(t, err)
	require.Equal(t, errkit.KindNaiveDatetime, err.Kind)
}

func TestCompileTruthState_UnsignedWhenWindowOpen(t *testing.T) {
	in := baseInput()
	in.WindowOpen = true
	ts, err := CompileTruthState(in)
	require.Nil(t, err)
	require.True(t, ts.Status == "LEANING_TRUE" || ts.Status == "LEANING_FALSE" || ts.Status == "INCONCLUSIVE")
	require.Nil(t, ts.Security)
}
