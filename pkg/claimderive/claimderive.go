// Package claimderive derives the structured claim payload from
// observations: weighted median for numeric fields, majority with a
// canonical-bytes tiebreak for enumerated fields, and evidence-count
// union. The compiler never accepts an externally provided claim
// payload — this package is the only place a claim payload is produced.
package claimderive

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/truthmesh/core/pkg/canonicalize"
)

// WeightedValue is one observed numeric value plus the reporting agent's
// effective power.
type WeightedValue struct {
	Value  float64
	Weight float64
}

// WeightedMedian computes the weighted median of a numeric field across
// observations: values sorted ascending, the first value whose cumulative
// weight reaches half the total weight wins.
func WeightedMedian(values []WeightedValue) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("claimderive: weighted median over zero values")
	}
	sorted := make([]WeightedValue, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	var total float64
	for _, v := range sorted {
		total += v.Weight
	}
	if total <= 0 {
		return sorted[len(sorted)/2].Value, nil
	}

	half := total / 2
	var cumulative float64
	for _, v := range sorted {
		cumulative += v.Weight
		if cumulative >= half {
			return v.Value, nil
		}
	}
	return sorted[len(sorted)-1].Value, nil
}

// WeightedVote is one observed enumerated value plus the reporting
// agent's effective power, for Majority.
type WeightedVote struct {
	Value  string
	Weight float64
}

// Majority picks the enumerated value with the highest total weight,
// breaking exact ties by the canonical byte ordering of the candidate
// values themselves (never agent id, never submission order).
func Majority(votes []WeightedVote) (string, error) {
	if len(votes) == 0 {
		return "", fmt.Errorf("claimderive: majority over zero votes")
	}
	totals := make(map[string]float64)
	for _, v := range votes {
		totals[v.Value] += v.Weight
	}

	var candidates []string
	for v := range totals {
		candidates = append(candidates, v)
	}
	sort.Strings(candidates)

	best := candidates[0]
	bestWeight := totals[best]
	for _, c := range candidates[1:] {
		if totals[c] > bestWeight {
			best, bestWeight = c, totals[c]
		} else if totals[c] == bestWeight {
			if canonicalLess(c, best) {
				best = c
			}
		}
	}
	return best, nil
}

// canonicalLess orders two candidate strings by their canonical byte
// form, so majority ties resolve identically everywhere.
func canonicalLess(a, b string) bool {
	ca, errA := canonicalize.Canonicalize(a)
	cb, errB := canonicalize.Canonicalize(b)
	if errA != nil || errB != nil {
		return a < b
	}
	return bytes.Compare(ca, cb) < 0
}

// EvidenceUnion returns the deduplicated, sorted union of evidence-ref
// hashes observed across a field's contributing observations.
func EvidenceUnion(evidenceSets [][]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range evidenceSets {
		for _, e := range set {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}
