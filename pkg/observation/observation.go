// Package observation implements Observation and EvidenceRef:
// immutable, content-hashed field reports that feed the Truth Compiler.
package observation

import (
	"fmt"
	"sort"
	"time"

	"github.com/truthmesh/core/pkg/canonicalize"
	"github.com/truthmesh/core/pkg/errkit"
)

// EvidenceRef identifies a piece of supporting evidence by its content
// hash; the URI is a non-canonical locator and never part of identity.
type EvidenceRef struct {
	URI         string     `json:"uri"`
	SHA256      string     `json:"sha256"`
	MimeType    string     `json:"mime_type,omitempty"`
	CaptureTime *time.Time `json:"capture_time,omitempty"`
}

// ReporterContext captures the reporting agent's standing at submission
// time, embedded for audit but never authoritative for later trust
// computation.
type ReporterContext struct {
	StandingClass string  `json:"standing_class"`
	TrustScore    float64 `json:"trust_score"`
}

// Observation is a stable-id, immutable field report: a claim-type-scoped
// payload plus supporting evidence, submitted by a reporter at a point in
// time.
type Observation struct {
	ID              string           `json:"id"`
	ClaimType       string           `json:"claim_type"`
	ReportedAt      time.Time        `json:"reported_at"`
	ReporterID      string           `json:"reporter_id"`
	ReporterContext ReporterContext  `json:"reporter_context"`
	Location        map[string]interface{} `json:"location"`
	Payload         map[string]interface{} `json:"payload"`
	Evidence        []EvidenceRef    `json:"evidence"`
}

// Validate enforces the structural invariants required before an
// Observation may be hashed or submitted. Naive-datetime rejection happens
// earlier, at string-parse time (pkg/temporal.ParseInstant), since a Go
// time.Time always carries a location; here we only guard against a
// missing reported_at.
func (o Observation) Validate() *errkit.Error {
	if o.ReportedAt.IsZero() {
		return errkit.New(errkit.KindNaiveDatetime, "observation.reported_at is zero")
	}
	return nil
}

// sortedEvidence returns a copy of o.Evidence sorted by sha256; the
// evidence list is a set, so its canonical order is by content hash.
func (o Observation) sortedEvidence() []EvidenceRef {
	out := make([]EvidenceRef, len(o.Evidence))
	copy(out, o.Evidence)
	sort.Slice(out, func(i, j int) bool { return out[i].SHA256 < out[j].SHA256 })
	return out
}

// CanonicalForm returns the canonical projection of the observation used
// for hashing: all fields present, with the evidence list sorted by
// sha256 so the hash is independent of submission order.
func (o Observation) CanonicalForm() map[string]interface{} {
	return map[string]interface{}{
		"id":               o.ID,
		"claim_type":       o.ClaimType,
		"reported_at":      o.ReportedAt,
		"reporter_id":      o.ReporterID,
		"reporter_context": map[string]interface{}{
			"standing_class": o.ReporterContext.StandingClass,
			"trust_score":    o.ReporterContext.TrustScore,
		},
		"location": o.Location,
		"payload":  o.Payload,
		"evidence": evidenceToGeneric(o.sortedEvidence()),
	}
}

func evidenceToGeneric(refs []EvidenceRef) []interface{} {
	out := make([]interface{}, len(refs))
	for i, r := range refs {
		m := map[string]interface{}{
			"uri":    r.URI,
			"sha256": r.SHA256,
		}
		if r.MimeType != "" {
			m["mime_type"] = r.MimeType
		}
		if r.CaptureTime != nil {
			m["capture_time"] = *r.CaptureTime
		}
		out[i] = m
	}
	return out
}

// Hash returns the canonical content hash of the observation.
func (o Observation) Hash() (string, error) {
	b, err := canonicalize.Canonicalize(o.CanonicalForm())
	if err != nil {
		return "", fmt.Errorf("observation: canonicalize: %w", err)
	}
	return canonicalize.CanonicalHashBytes(b), nil
}

// SortedEvidenceRefs returns the sha256 hashes of a set of evidence
// references, sorted, for embedding in a TruthState's evidence_refs field.
func SortedEvidenceRefs(obs []Observation) []string {
	seen := make(map[string]bool)
	var hashes []string
	for _, o := range obs {
		for _, e := range o.Evidence {
			if !seen[e.SHA256] {
				seen[e.SHA256] = true
				hashes = append(hashes, e.SHA256)
			}
		}
	}
	sort.Strings(hashes)
	return hashes
}

// SortedObservationIDs returns the ids of a set of observations, sorted,
// for embedding in a TruthState's observation_ids field.
func SortedObservationIDs(obs []Observation) []string {
	ids := make([]string, len(obs))
	for i, o := range obs {
		ids[i] = o.ID
	}
	sort.Strings(ids)
	return ids
}
