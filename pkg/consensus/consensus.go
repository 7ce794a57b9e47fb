// Package consensus implements the weighted-threshold consensus engine:
// admissibility-filtered, weighted vote aggregation with authority
// override and critical-lane human-quorum gating. Votes below the
// resolved standing floor are recorded but excluded before scoring.
package consensus

import (
	"sort"
)

// VoteValue is the closed set of ballot values a signal may carry.
type VoteValue string

const (
	VoteRatify    VoteValue = "RATIFY"
	VoteReject    VoteValue = "REJECT"
	VoteAbstain   VoteValue = "ABSTAIN"
	VoteChallenge VoteValue = "CHALLENGE"
	VoteOverride  VoteValue = "OVERRIDE"
)

// voteValues maps ballot values to their score contribution multiplier.
// OVERRIDE is contract-defined and handled separately by
// the authority-override short-circuit, never folded into the sum.
var voteValues = map[VoteValue]float64{
	VoteRatify:    1,
	VoteReject:    -1,
	VoteAbstain:   0,
	VoteChallenge: 0,
}

// Status is the consensus engine's candidate or final outcome.
type Status string

const (
	StatusVerifiedTrue        Status = "VERIFIED_TRUE"
	StatusVerifiedFalse       Status = "VERIFIED_FALSE"
	StatusInconclusive        Status = "INCONCLUSIVE"
	StatusPendingHumanReview  Status = "PENDING_HUMAN_REVIEW"
)

// VerificationBasis records how a status was reached.
type VerificationBasis string

const (
	BasisThreshold        VerificationBasis = "THRESHOLD"
	BasisAuthorityOverride VerificationBasis = "AUTHORITY_OVERRIDE"
	BasisHumanQuorum      VerificationBasis = "HUMAN_QUORUM"
	// BasisAIAutovalidation is set by the compiler's monitor-lane AI
	// auto-verify rule, never by Decide itself.
	BasisAIAutovalidation VerificationBasis = "AI_AUTOVALIDATION"
)

// AgentPower is the slice of a TrustSnapshot a vote needs: the agent's
// context-scoped standing (admissibility) and effective power (weight).
type AgentPower struct {
	Standing       float64
	EffectivePower float64
}

// Vote is one admissible-or-not ballot cast by an agent.
type Vote struct {
	AgentID    string
	Role       string // must match a key in Model.RoleWeights
	IsHuman    bool
	IsAuthority bool
	Value      VoteValue
	Confidence *float64
}

// Model is the subset of a ClaimType's consensus configuration this
// engine consumes.
type Model struct {
	RoleWeights         map[string]float64
	FinalizeThreshold   float64
	RejectThreshold     float64
	ThetaMinPolicy      float64
	ThetaMinClaimType   float64
	ThetaMinProbeOverride float64
	HumanQuorumRequired int
	Critical            bool // claim_type.risk_profile == "critical"
}

// ResolvedThetaMin implements θ_min_resolved = max(policy, claim_type,
// probe override).
func (m Model) ResolvedThetaMin() float64 {
	t := m.ThetaMinPolicy
	if m.ThetaMinClaimType > t {
		t = m.ThetaMinClaimType
	}
	if m.ThetaMinProbeOverride > t {
		t = m.ThetaMinProbeOverride
	}
	return t
}

// Result is the consensus engine's decision.
type Result struct {
	Status           Status
	VerificationBasis VerificationBasis
	Score            float64
	AdmittedAgentIDs  []string
	ExcludedAgentIDs  []string
}

// Decide runs the admissibility filter, authority override check, score
// aggregation, threshold decision, and critical-lane human-quorum gate,
// in that order.
func Decide(model Model, votes []Vote, power map[string]AgentPower) Result {
	thetaMin := model.ResolvedThetaMin()

	var admitted, excluded []string
	var score float64
	humanRatify := 0
	var override *Vote

	for i, v := range votes {
		p := power[v.AgentID]
		if p.Standing < thetaMin {
			excluded = append(excluded, v.AgentID)
			continue
		}
		admitted = append(admitted, v.AgentID)

		if v.Value == VoteOverride && v.IsAuthority {
			// First authority override wins; later ones are recorded as
			// admitted but do not change the outcome.
			if override == nil {
				ov := votes[i]
				override = &ov
			}
			continue
		}

		weight := model.RoleWeights[v.Role] * p.EffectivePower
		score += weight * voteValues[v.Value]

		if v.IsHuman && v.Value == VoteRatify {
			humanRatify++
		}
	}

	sort.Strings(admitted)
	sort.Strings(excluded)

	if override != nil {
		return Result{
			Status:            StatusVerifiedTrue,
			VerificationBasis: BasisAuthorityOverride,
			Score:             score,
			AdmittedAgentIDs:  admitted,
			ExcludedAgentIDs:  excluded,
		}
	}

	status := decideThreshold(model, score)

	if status == StatusVerifiedTrue && model.Critical && humanRatify < model.HumanQuorumRequired {
		status = StatusPendingHumanReview
	}

	basis := BasisThreshold
	if status == StatusPendingHumanReview {
		basis = BasisHumanQuorum
	}

	return Result{
		Status:            status,
		VerificationBasis: basis,
		Score:             score,
		AdmittedAgentIDs:  admitted,
		ExcludedAgentIDs:  excluded,
	}
}

// decideThreshold applies the score thresholds with a conservative
// tie-break: a score that is simultaneously at or below the reject
// threshold and at or above the finalize threshold (possible only when a
// contract misconfigures finalize_threshold <= reject_threshold) never
// finalizes.
func decideThreshold(model Model, score float64) Status {
	passTrue := score >= model.FinalizeThreshold
	passFalse := score <= model.RejectThreshold
	switch {
	case passTrue && passFalse:
		return StatusInconclusive
	case passTrue:
		return StatusVerifiedTrue
	case passFalse:
		return StatusVerifiedFalse
	default:
		return StatusInconclusive
	}
}
