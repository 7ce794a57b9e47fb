// Package trustsnapshot implements the trust computer: it takes reducer
// standings for a context and produces a frozen, hash-identified
// TrustSnapshot the truth compiler consumes. The vouch-graph traversal
// lives in graph.go.
package trustsnapshot

import (
	"sort"
	"strings"
	"time"

	"github.com/truthmesh/core/pkg/canonicalize"
	"github.com/truthmesh/core/pkg/policy"
	"github.com/truthmesh/core/pkg/trustreducer"
)

// ContextModifiers records the multiplicative factors folded into
// effective_power, stored for audit.
type ContextModifiers struct {
	DomainAffinity float64 `json:"domain_affinity"`
	NetworkPosition float64 `json:"network_position"`
	RecentActivity  float64 `json:"recent_activity"`
	AbuseFlags      []string `json:"abuse_flags"`
}

// AgentTrust is one agent's entry in a TrustSnapshot.
type AgentTrust struct {
	AgentID          string           `json:"agent_id"`
	EffectivePower   float64          `json:"effective_power"`
	Standing         float64          `json:"standing"`
	DerivedClass     string           `json:"derived_class"`
	Flags            []string         `json:"flags"`
	ContextModifiers ContextModifiers `json:"context_modifiers"`
}

// TrustSnapshot is the frozen, hash-identified map of effective powers the
// compiler consumes. Immutable once constructed by Compute.
type TrustSnapshot struct {
	SnapshotID   string                `json:"snapshot_id"`
	SnapshotTime time.Time             `json:"snapshot_time"`
	AgentTrusts  map[string]AgentTrust `json:"agent_trusts"`
	SnapshotHash string                `json:"snapshot_hash"`
}

// EffectivePower returns the effective power of agentID, or 0 if the
// snapshot carries no entry for it (an agent below every consensus role's
// admissibility threshold is still looked up safely).
func (t TrustSnapshot) EffectivePower(agentID string) float64 {
	if at, ok := t.AgentTrusts[agentID]; ok {
		return at.EffectivePower
	}
	return 0
}

// Standing returns the standing of agentID carried in the snapshot, or 0.
func (t TrustSnapshot) Standing(agentID string) float64 {
	if at, ok := t.AgentTrusts[agentID]; ok {
		return at.Standing
	}
	return 0
}

// ActivityLevel summarizes an agent's recent signal activity, feeding the
// [0.9, 1.1] recent-activity multiplier.
type ActivityLevel struct {
	RecentSignalCount int
	ExpectedCount     int // baseline for this agent's role/class
}

// multiplier maps a signal count ratio into [0.9, 1.1], linear around
// the expected baseline.
func (a ActivityLevel) multiplier() float64 {
	if a.ExpectedCount <= 0 {
		return 1.0
	}
	ratio := float64(a.RecentSignalCount) / float64(a.ExpectedCount)
	m := 0.9 + 0.2*clamp01(ratio/2)
	return m
}

func clamp01(x float64) float64 {
	switch {
	case x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// Input carries everything Compute needs for one context: standings,
// the relationship graph, activity levels, grounding relief (isolation
// attenuation earned by recent agreement with a calibrated sensor or
// authority), and explicit isolation flags.
type Input struct {
	ClaimType        string
	SnapshotTime     time.Time
	AgentIDs         []string
	Standings        map[string]trustreducer.Standing
	Policy           policy.Policy
	Graph            *Graph
	Activity         map[string]ActivityLevel
	GroundingRelief  map[string]bool
	IsolationFlagged map[string]bool // ISOLATION_FLAG signals seen for this agent
}

// Compute assembles a frozen TrustSnapshot for the given context in
// four steps: standing lookup, contextual modifiers, effective power,
// and snapshot hash.
func Compute(in Input) (TrustSnapshot, error) {
	highStandingThreshold := in.Policy.Phases.Theta2
	agentTrusts := make(map[string]AgentTrust, len(in.AgentIDs))

	for _, agentID := range in.AgentIDs {
		st, ok := in.Standings[agentID]
		standing := in.Policy.InitialStanding
		if ok {
			standing = st.Value
		}

		domainAffinity := 1.0
		if ok {
			if aff, has := st.DomainAffinity(in.ClaimType); has {
				domainAffinity = aff
			}
		}

		networkPosition := 1.0
		if in.Graph != nil {
			networkPosition = networkBonus(in.Graph, agentID, func(id string) float64 {
				if s, ok := in.Standings[id]; ok {
					return s.Value
				}
				return in.Policy.InitialStanding
			}, highStandingThreshold)
		}

		isolationPenalty := 1.0
		var flags []string
		if in.Graph != nil {
			internal, external := in.Graph.CollabCounts(agentID)
			isolationIndex := float64(internal) / float64(internal+external+1)
			penalty := 1 - isolationIndex
			if in.GroundingRelief[agentID] {
				relief := in.Policy.GroundingRelief
				penalty = penalty + (1-penalty)*relief
				if penalty > 1 {
					penalty = 1
				}
			}
			if penalty < 1 {
				isolationPenalty = penalty
			}
			if isolationIndex > 0.8 {
				flags = append(flags, "isolation_flag")
			}
		}
		if in.IsolationFlagged[agentID] {
			if !contains(flags, "isolation_flag") {
				flags = append(flags, "isolation_flag")
			}
		}

		recentActivity := 1.0
		if act, ok := in.Activity[agentID]; ok {
			recentActivity = act.multiplier()
		}

		weight := in.Policy.WeightForPhase(standing)
		effectivePower := weight * domainAffinity * networkPosition * isolationPenalty * recentActivity
		effectivePower = canonicalize.QuantizeHalfToEven(effectivePower, 6)

		sort.Strings(flags)

		agentTrusts[agentID] = AgentTrust{
			AgentID:        agentID,
			EffectivePower: effectivePower,
			Standing:       canonicalize.QuantizeHalfToEven(standing, 6),
			DerivedClass:   string(in.Policy.PhaseOf(standing)),
			Flags:          flags,
			ContextModifiers: ContextModifiers{
				DomainAffinity:  canonicalize.QuantizeHalfToEven(domainAffinity, 6),
				NetworkPosition: canonicalize.QuantizeHalfToEven(networkPosition, 6),
				RecentActivity:  canonicalize.QuantizeHalfToEven(recentActivity, 6),
				AbuseFlags:      flags,
			},
		}
	}

	hash, err := hashAgentTrusts(agentTrusts)
	if err != nil {
		return TrustSnapshot{}, err
	}

	snapshot := TrustSnapshot{
		SnapshotTime: in.SnapshotTime,
		AgentTrusts:  agentTrusts,
		SnapshotHash: hash,
	}
	snapshot.SnapshotID = hash
	return snapshot, nil
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// hashAgentTrusts computes the canonical projection hash: each
// entry canonicalized (floats already quantized to 6 decimals, flags
// sorted, class lowercased), entries sorted by agent id.
func hashAgentTrusts(agentTrusts map[string]AgentTrust) (string, error) {
	ids := make([]string, 0, len(agentTrusts))
	for id := range agentTrusts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	projection := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		at := agentTrusts[id]
		projection = append(projection, map[string]interface{}{
			"agent_id":        at.AgentID,
			"effective_power": at.EffectivePower,
			"standing":        at.Standing,
			"derived_class":   strings.ToLower(at.DerivedClass),
			"flags":           toGenericSlice(at.Flags),
		})
	}
	return canonicalize.CanonicalHash(projection)
}

func toGenericSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

