// Package confidence computes the composite confidence score: a
// contract-declared weighted sum of components plus time-decay and
// low-evidence modifiers, clamped to [0, 1] and quantized to 6 decimals.
package confidence

import (
	"math"
	"sort"
	"time"

	"github.com/truthmesh/core/pkg/canonicalize"
)

// Component is one named, weighted input to the confidence score.
// Components the contract does not declare carry zero weight.
type Component struct {
	Name   string
	Weight float64
	Value  float64
}

// Input bundles everything the confidence engine needs for one compile.
type Input struct {
	Components       []Component
	HalfLife         time.Duration
	LatestEvidenceAt time.Time
	CompileTime      time.Time
	ObservationCount int
	LowEvidenceFloor int
	LowEvidencePenalty float64
}

// Breakdown records every input and the final output for audit.
type Breakdown struct {
	Components       map[string]float64 `json:"components"`
	TimeDecayModifier float64            `json:"time_decay_modifier"`
	LowEvidenceModifier float64          `json:"low_evidence_modifier"`
	Confidence        float64            `json:"confidence"`
}

// Compute folds weighted components plus modifiers into a single
// confidence score in [0,1], quantized to 6 decimals.
func Compute(in Input) (float64, Breakdown) {
	componentMap := make(map[string]float64, len(in.Components))
	var sum float64
	for _, c := range in.Components {
		sum += c.Weight * c.Value
		componentMap[c.Name] = c.Weight * c.Value
	}

	decay := timeDecayModifier(in.HalfLife, in.LatestEvidenceAt, in.CompileTime)
	lowEv := lowEvidenceModifier(in.ObservationCount, in.LowEvidenceFloor, in.LowEvidencePenalty)

	raw := sum + decay + lowEv
	confidence := clamp(raw, 0.0, 1.0)
	confidence = canonicalize.QuantizeHalfToEven(confidence, 6)

	return confidence, Breakdown{
		Components:         componentMap,
		TimeDecayModifier:  canonicalize.QuantizeHalfToEven(decay, 6),
		LowEvidenceModifier: canonicalize.QuantizeHalfToEven(lowEv, 6),
		Confidence:         confidence,
	}
}

// timeDecayModifier applies exponential decay based on how many
// half-lives have elapsed between the latest evidence time and the
// compile time: modifier = -(1 - 0.5^elapsed_half_lives), i.e. 0 at zero
// elapsed time, approaching -1 as evidence ages indefinitely.
func timeDecayModifier(halfLife time.Duration, latestEvidenceAt, compileTime time.Time) float64 {
	if halfLife <= 0 {
		return 0
	}
	elapsed := compileTime.Sub(latestEvidenceAt).Seconds()
	if elapsed <= 0 {
		return 0
	}
	halfLives := elapsed / halfLife.Seconds()
	return -(1 - math.Pow(0.5, halfLives))
}

// lowEvidenceModifier applies a flat penalty when the observation count
// is below the contract's declared floor.
func lowEvidenceModifier(count, floor int, penalty float64) float64 {
	if count < floor {
		return -penalty
	}
	return 0
}

func clamp(x, lo, hi float64) float64 {
	switch {
	case x < lo:
		return lo
	case x > hi:
		return hi
	default:
		return x
	}
}

// SortedComponentNames returns the component names of a Breakdown sorted
// for deterministic canonicalization.
func SortedComponentNames(b Breakdown) []string {
	names := make([]string, 0, len(b.Components))
	for name := range b.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
