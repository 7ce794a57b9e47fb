package compiler

import (
	"time"

	"github.com/truthmesh/core/pkg/claimderive"
	"github.com/truthmesh/core/pkg/confidence"
	"github.com/truthmesh/core/pkg/consensus"
	"github.com/truthmesh/core/pkg/errkit"
	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/temporal"
	"github.com/truthmesh/core/pkg/truthstate"
)

// buildVotes folds every Observation into an implicit RATIFY ballot under
// its reporter's standing class role, matching scenario S1's
// role_weights keyed by standing class ("silver", "expert") exactly, then
// appends any explicit ExtraVotes (validator/authority ballots derived
// upstream from VALIDATION_VOTE signals). It also builds the per-agent
// power lookup the consensus engine's admissibility filter needs.
func buildVotes(in Input) ([]consensus.Vote, map[string]consensus.AgentPower) {
	power := make(map[string]consensus.AgentPower, len(in.TrustSnapshot.AgentTrusts))
	for agentID, at := range in.TrustSnapshot.AgentTrusts {
		power[agentID] = consensus.AgentPower{Standing: at.Standing, EffectivePower: at.EffectivePower}
	}

	votes := make([]consensus.Vote, 0, len(in.Observations)+len(in.ExtraVotes))
	for _, o := range in.Observations {
		role := o.ReporterContext.StandingClass
		votes = append(votes, consensus.Vote{
			AgentID:     o.ReporterID,
			Role:        role,
			IsHuman:     role == "human",
			IsAuthority: role == "authority",
			Value:       consensus.VoteRatify,
		})
		if _, ok := power[o.ReporterID]; !ok {
			power[o.ReporterID] = consensus.AgentPower{
				Standing:       o.ReporterContext.TrustScore,
				EffectivePower: o.ReporterContext.TrustScore,
			}
		}
	}
	votes = append(votes, in.ExtraVotes...)
	return votes, power
}

// consensusModel translates a ClaimType's consensus configuration into
// pkg/consensus.Model, which resolves θ_min as
// max(policy, claim_type, probe_override). Only the claim type's
// theta_min is supplied: Input carries the policy version string but not
// the policy bundle, so ThetaMinPolicy is zero, and this build has no
// probe object distinct from the claim type, so ThetaMinProbeOverride is
// zero too.
func consensusModel(in Input) consensus.Model {
	cm := in.ClaimType.Consensus
	return consensus.Model{
		RoleWeights:           cm.RoleWeights,
		FinalizeThreshold:     cm.FinalizeThreshold,
		RejectThreshold:       cm.RejectThreshold,
		ThetaMinPolicy:        0,
		ThetaMinClaimType:     cm.ThetaMin,
		ThetaMinProbeOverride: 0,
		HumanQuorumRequired:   cm.HumanQuorumRequired,
		Critical:              in.ClaimType.RiskProfile == "critical",
	}
}

// resolveStatus maps a consensus.Result onto the TruthState status
// machine, accounting for an open validation window:
// LEANING_TRUE/LEANING_FALSE are compiler output only
// while the window remains open, never as a persisted terminal status.
func resolveStatus(in Input, result consensus.Result) (status truthstate.Status, intermediate bool) {
	switch result.Status {
	case consensus.StatusVerifiedTrue:
		if in.WindowOpen {
			return truthstate.StatusLeaningTrue, true
		}
		return truthstate.StatusVerifiedTrue, false
	case consensus.StatusVerifiedFalse:
		if in.WindowOpen {
			return truthstate.StatusLeaningFalse, true
		}
		return truthstate.StatusVerifiedFalse, false
	case consensus.StatusPendingHumanReview:
		return truthstate.StatusPendingHumanReview, true
	default:
		return truthstate.StatusInconclusive, false
	}
}

// applyAIAutovalidation implements scenario S1's monitor-lane rule: a
// claim whose weighted score leans true but misses finalize_threshold
// still finalizes as VERIFIED_TRUE when the average ai_confidence over
// the observations that carry one meets the contract's
// ai_autovalidate_confidence; observations without one are left out of
// the average. Returns the ai_confidence to embed (nil if
// no observation carries one) and whether autovalidation fired.
func applyAIAutovalidation(in Input, result *consensus.Result) (*float64, bool) {
	avg, ok := averageAIConfidence(in.Observations)
	if !ok {
		return nil, false
	}
	v := avg
	if in.ClaimType.RiskProfile != "monitor" {
		return &v, false
	}
	if result.Status == consensus.StatusVerifiedTrue || result.Status == consensus.StatusVerifiedFalse {
		return &v, false
	}
	threshold := in.ClaimType.Consensus.AIAutovalidateConf
	if threshold <= 0 || avg < threshold || result.Score <= 0 {
		return &v, false
	}
	result.Status = consensus.StatusVerifiedTrue
	result.VerificationBasis = consensus.BasisAIAutovalidation
	return &v, true
}

// averageAIConfidence averages the ai_confidence payload field across
// observations that carry one; returns (0, false) when none do.
func averageAIConfidence(obs []observation.Observation) (float64, bool) {
	var sum float64
	var n int
	for _, o := range obs {
		if v, ok := floatField(o.Payload, "ai_confidence"); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// transparencyFlags derives the closed set of audit flags:
// CONTRADICTION_DETECTED here; LOW_COMPOSITE_CONFIDENCE is
// appended by the caller once the final confidence score is known.
func transparencyFlags(in Input, result consensus.Result) []string {
	var flags []string
	if disagreementExceeds(in) {
		flags = append(flags, "CONTRADICTION_DETECTED")
	}
	return flags
}

// disagreementExceeds implements scenario S3: two observations on the same
// truth key whose ai_confidence values diverge by more than the contract's
// disagreement_threshold signal a contradiction.
func disagreementExceeds(in Input) bool {
	threshold := in.ClaimType.Consensus.DisagreementThresh
	if threshold <= 0 {
		return false
	}
	var values []float64
	for _, o := range in.Observations {
		if v, ok := floatField(o.Payload, "ai_confidence"); ok {
			values = append(values, v)
		}
	}
	if len(values) < 2 {
		return false
	}
	min, max := values[0], values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return max-min > threshold
}

func floatField(m map[string]interface{}, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// deriveClaim runs the claim-derivation strategy declared by the claim
// type's ClaimDerivation.Strategy over the submitted observations.
// The compiler never accepts an externally supplied claim
// payload — this is the only place TruthState.claim is produced.
func deriveClaim(in Input) (map[string]interface{}, *errkit.Error) {
	claim := make(map[string]interface{})
	strategy := in.ClaimType.ClaimDerivation.Strategy

	switch strategy {
	case "weighted_median":
		for _, field := range in.ClaimType.ClaimDerivation.Fields {
			var values []claimderive.WeightedValue
			for _, o := range in.Observations {
				v, ok := floatField(o.Payload, field)
				if !ok {
					continue
				}
				values = append(values, claimderive.WeightedValue{Value: v, Weight: effectivePowerOf(in, o.ReporterID)})
			}
			if len(values) == 0 {
				continue
			}
			median, err := claimderive.WeightedMedian(values)
			if err != nil {
				return nil, errkit.New(errkit.KindContractMissing, "compiler: derive "+field+": "+err.Error())
			}
			claim[field] = median
		}
	case "majority":
		for _, field := range in.ClaimType.ClaimDerivation.Fields {
			var votes []claimderive.WeightedVote
			for _, o := range in.Observations {
				v, ok := o.Payload[field].(string)
				if !ok {
					continue
				}
				votes = append(votes, claimderive.WeightedVote{Value: v, Weight: effectivePowerOf(in, o.ReporterID)})
			}
			if len(votes) == 0 {
				continue
			}
			winner, err := claimderive.Majority(votes)
			if err != nil {
				return nil, errkit.New(errkit.KindContractMissing, "compiler: derive "+field+": "+err.Error())
			}
			claim[field] = winner
		}
	case "evidence_union":
		var sets [][]string
		for _, o := range in.Observations {
			var refs []string
			for _, e := range o.Evidence {
				refs = append(refs, e.SHA256)
			}
			sets = append(sets, refs)
		}
		claim["evidence_refs"] = toGenericStrings(claimderive.EvidenceUnion(sets))
	default:
		return nil, errkit.New(errkit.KindContractMissing, "compiler: unknown claim_derivation strategy "+strategy)
	}

	return claim, nil
}

func effectivePowerOf(in Input, agentID string) float64 {
	if at, ok := in.TrustSnapshot.AgentTrusts[agentID]; ok {
		return at.EffectivePower
	}
	return 1
}

// computeConfidence runs the confidence engine over the
// claim type's declared components. Multi-source bonus and evidence
// density use simple, documented proxies (presence of >1 observation;
// fraction of observations carrying evidence); a contract that needs a
// different shape declares its own component name and this falls back to
// a zero-value component (undeclared components carry zero weight).
func computeConfidence(in Input, votes []consensus.Vote) (float64, confidence.Breakdown) {
	cm := in.ClaimType.Confidence
	var components []confidence.Component

	avg, hasAI := averageAIConfidence(in.Observations)
	for _, c := range cm.Components {
		switch c.Name {
		case "ai_confidence":
			if hasAI {
				components = append(components, confidence.Component{Name: c.Name, Weight: c.Weight, Value: avg})
			}
		case "multi_source_bonus":
			bonus := 0.0
			if len(in.Observations) > 1 {
				bonus = 1.0
			}
			components = append(components, confidence.Component{Name: c.Name, Weight: c.Weight, Value: bonus})
		case "evidence_density":
			components = append(components, confidence.Component{Name: c.Name, Weight: c.Weight, Value: evidenceDensity(in.Observations)})
		case "agreement_ratio":
			components = append(components, confidence.Component{Name: c.Name, Weight: c.Weight, Value: agreementRatio(votes)})
		default:
			components = append(components, confidence.Component{Name: c.Name, Weight: c.Weight, Value: 0})
		}
	}

	halfLife, _ := temporal.ParseDuration(cm.HalfLifeISO)
	latest := latestEvidenceTime(in.Observations)
	if latest.IsZero() {
		latest = in.CompileTime
	}

	conf, breakdown := confidence.Compute(confidence.Input{
		Components:         components,
		HalfLife:           halfLife,
		LatestEvidenceAt:   latest,
		CompileTime:        in.CompileTime,
		ObservationCount:   len(in.Observations),
		LowEvidenceFloor:   cm.LowEvidenceFloor,
		LowEvidencePenalty: cm.LowEvidencePenalty,
	})
	return conf, breakdown
}

// evidenceDensity is the fraction of observations that carry at least one
// evidence reference.
func evidenceDensity(obs []observation.Observation) float64 {
	if len(obs) == 0 {
		return 0
	}
	withEvidence := 0
	for _, o := range obs {
		if len(o.Evidence) > 0 {
			withEvidence++
		}
	}
	return float64(withEvidence) / float64(len(obs))
}

func agreementRatio(votes []consensus.Vote) float64 {
	if len(votes) == 0 {
		return 0
	}
	ratify := 0
	for _, v := range votes {
		if v.Value == consensus.VoteRatify {
			ratify++
		}
	}
	return float64(ratify) / float64(len(votes))
}

// latestEvidenceTime returns the most recent ReportedAt across
// observations, or the zero time if there are none.
func latestEvidenceTime(obs []observation.Observation) time.Time {
	var latest time.Time
	for _, o := range obs {
		if o.ReportedAt.After(latest) {
			latest = o.ReportedAt
		}
	}
	return latest
}
