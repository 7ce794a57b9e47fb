// Package truthstate defines TruthState: the signed, deterministic
// verdict about a TruthKey that the Truth Compiler produces and the
// medallion layers persist. It is a plain data
// type with no behavior of its own beyond the canonical projections the
// compiler needs to compute semantic_hash and state_hash — kept separate
// from pkg/compiler so pkg/medallion can depend on the type without
// depending on the orchestration logic that produces it.
package truthstate

import "time"

// Status is the closed set of TruthState.status values.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusLeaningTrue         Status = "LEANING_TRUE"
	StatusLeaningFalse        Status = "LEANING_FALSE"
	StatusUndecided           Status = "UNDECIDED"
	StatusPendingHumanReview  Status = "PENDING_HUMAN_REVIEW"
	StatusVerifiedTrue        Status = "VERIFIED_TRUE"
	StatusVerifiedFalse       Status = "VERIFIED_FALSE"
	StatusInconclusive        Status = "INCONCLUSIVE"
	StatusExpired             Status = "EXPIRED"
)

// TerminalStatuses is the closed set of statuses that must be signed;
// everything else is an intermediate status and must never be persisted
// as terminal.
var TerminalStatuses = map[Status]bool{
	StatusVerifiedTrue:  true,
	StatusVerifiedFalse: true,
	StatusInconclusive:  true,
	StatusExpired:       true,
}

// CompileInputs is the reproduction envelope embedded in every
// TruthState: exactly the inputs needed to re-run compile_truth_state
// and reproduce the same output.
type CompileInputs struct {
	ObservationIDs     []string  `json:"observation_ids"`
	ClaimTypeID        string    `json:"claim_type_id"`
	ClaimTypeHash      string    `json:"claim_type_hash"`
	PolicyVersion      string    `json:"policy_version"`
	CompilerVersion    string    `json:"compiler_version"`
	TrustSnapshotHash  string    `json:"trust_snapshot_hash"`
	CompileTime        time.Time `json:"compile_time"`
	SignedAtOverride   *time.Time `json:"signed_at_override,omitempty"`
}

// Security carries the content-bound signature over state_hash.
type Security struct {
	SemanticHash  string    `json:"semantic_hash"`
	StateHash     string    `json:"state_hash"`
	Signature     string    `json:"signature"`
	SigningMethod string    `json:"signing_method"`
	KeyID         string    `json:"key_id"`
	SignedAt      time.Time `json:"signed_at"`
}

// ConfidenceBreakdown mirrors pkg/confidence.Breakdown in JSON-stable
// form for embedding in a TruthState.
type ConfidenceBreakdown struct {
	Components          map[string]float64 `json:"components"`
	TimeDecayModifier    float64            `json:"time_decay_modifier"`
	LowEvidenceModifier  float64            `json:"low_evidence_modifier"`
}

// TruthState is the signed, deterministic verdict about a TruthKey.
// `Security` is nil until the compiler signs the assembled state; every
// hash the compiler computes is over a projection of this struct with
// `Security` (and, for semantic_hash, CompileTime/CompilerVersion in
// CompileInputs) elided.
type TruthState struct {
	TruthKey           string                 `json:"truth_key"`
	ClaimType          string                 `json:"claim_type"`
	ClaimTypeHash      string                 `json:"claim_type_hash"`
	Status             Status                 `json:"status"`
	VerificationBasis  string                 `json:"verification_basis"`
	Claim              map[string]interface{} `json:"claim"`
	AIConfidence       *float64               `json:"ai_confidence,omitempty"`
	Confidence         float64                `json:"confidence"`
	ConfidenceBreakdown ConfidenceBreakdown   `json:"confidence_breakdown"`
	TransparencyFlags  []string               `json:"transparency_flags"`
	CompileInputs      CompileInputs          `json:"compile_inputs"`
	EvidenceRefs       []string               `json:"evidence_refs"`
	// EvidenceRoot is the Merkle root over EvidenceRefs (see pkg/merkle);
	// "" when the state carries no evidence. It is part of both hashes,
	// so a proof verified against it is transitively bound to the
	// signature.
	EvidenceRoot       string                 `json:"evidence_root"`
	ObservationIDs     []string               `json:"observation_ids"`
	Security           *Security              `json:"security,omitempty"`
}

// IsTerminal reports whether Status is one of the four statuses that
// must be signed.
func (t TruthState) IsTerminal() bool {
	return TerminalStatuses[t.Status]
}
