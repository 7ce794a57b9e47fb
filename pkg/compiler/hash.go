package compiler

import (
	"github.com/truthmesh/core/pkg/canonicalize"
	"github.com/truthmesh/core/pkg/temporal"
	"github.com/truthmesh/core/pkg/truthstate"
)

// projectTruthState builds the canonical map projection of a TruthState,
// hand-built field by field rather than round-tripped through
// encoding/json, mirroring observation.CanonicalForm's idiom so every
// field's presence is explicit and auditable. security is never part of
// either hash: it is produced from state_hash, so including it would be
// circular.
func projectTruthState(ts truthstate.TruthState) map[string]interface{} {
	var aiConfidence interface{}
	if ts.AIConfidence != nil {
		aiConfidence = *ts.AIConfidence
	}
	return map[string]interface{}{
		"truth_key":            ts.TruthKey,
		"claim_type":           ts.ClaimType,
		"claim_type_hash":      ts.ClaimTypeHash,
		"status":               string(ts.Status),
		"verification_basis":   ts.VerificationBasis,
		"claim":                ts.Claim,
		"ai_confidence":        aiConfidence,
		"confidence":           ts.Confidence,
		"confidence_breakdown": projectBreakdown(ts.ConfidenceBreakdown),
		"transparency_flags":   toGenericStrings(ts.TransparencyFlags),
		"compile_inputs":       projectCompileInputs(ts.CompileInputs, true),
		"evidence_refs":        toGenericStrings(ts.EvidenceRefs),
		"evidence_root":        ts.EvidenceRoot,
		"observation_ids":      toGenericStrings(ts.ObservationIDs),
	}
}

func projectBreakdown(b truthstate.ConfidenceBreakdown) map[string]interface{} {
	components := make(map[string]interface{}, len(b.Components))
	for k, v := range b.Components {
		components[k] = v
	}
	return map[string]interface{}{
		"components":            components,
		"time_decay_modifier":   b.TimeDecayModifier,
		"low_evidence_modifier": b.LowEvidenceModifier,
	}
}

// projectCompileInputs builds compile_inputs' canonical projection.
// withTiming controls whether compile_time and compiler_version are
// included: state_hash includes them (the full reproduction envelope is
// bound into the state), semantic_hash omits them from compile_inputs.
// Fields computed from compile_time elsewhere in the state still enter
// semantic_hash: when the contract declares a confidence half_life, the
// time-decay modifier, and with it confidence, changes with compile_time.
func projectCompileInputs(ci truthstate.CompileInputs, withTiming bool) map[string]interface{} {
	m := map[string]interface{}{
		"observation_ids":     toGenericStrings(ci.ObservationIDs),
		"claim_type_id":       ci.ClaimTypeID,
		"claim_type_hash":     ci.ClaimTypeHash,
		"policy_version":      ci.PolicyVersion,
		"trust_snapshot_hash": ci.TrustSnapshotHash,
	}
	if withTiming {
		m["compiler_version"] = ci.CompilerVersion
		m["compile_time"] = temporal.FormatInstant(ci.CompileTime)
	}
	if ci.SignedAtOverride != nil {
		m["signed_at_override"] = temporal.FormatInstant(*ci.SignedAtOverride)
	}
	return m
}

// SemanticHash hashes the claim-bearing content of a TruthState: the
// verdict itself, independent of when or with which compiler build it was
// produced. Two TruthStates with identical semantic_hash represent the
// same verified fact.
func SemanticHash(ts truthstate.TruthState) (string, error) {
	proj := projectTruthState(ts)
	proj["compile_inputs"] = projectCompileInputs(ts.CompileInputs, false)
	return canonicalize.CanonicalHash(proj)
}

// StateHash hashes the full TruthState body including compile_time and
// compiler_version, excluding only security. This is the value the
// signature binds: any byte of the signed
// content changing must invalidate the signature.
func StateHash(ts truthstate.TruthState) (string, error) {
	proj := projectTruthState(ts)
	return canonicalize.CanonicalHash(proj)
}
