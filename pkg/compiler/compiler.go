// Package compiler implements the truth compiler: a pure function from
// (claim_type, truth_key, observations, trust_snapshot, policy_version,
// compiler_version, compile_time) to a signed TruthState, orchestrating
// canonicalization, admissibility, consensus, confidence, claim
// derivation, schema validation, assembly, hashing, and signing.
// semantic_hash and state_hash are both computed by canonicalizing a
// TruthState projection with specific fields elided.
//
// No wall-clock, no randomness, no network, filesystem, or database
// access anywhere in this package — every input is explicit.
package compiler

import (
	"sort"

	"github.com/truthmesh/core/pkg/claimtype"
	"github.com/truthmesh/core/pkg/consensus"
	"github.com/truthmesh/core/pkg/errkit"
	"github.com/truthmesh/core/pkg/merkle"
	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/schema"
	"github.com/truthmesh/core/pkg/signing"
	"github.com/truthmesh/core/pkg/truthkey"
	"github.com/truthmesh/core/pkg/truthstate"
	"github.com/truthmesh/core/pkg/trustsnapshot"

	"time"
)

// knownSpatialSystems is the closed set of spatial_system values this
// compiler build supports resolving truth keys against. A truth key whose
// spatial_system is outside this set cannot be compiled by this build
// and fails with spatial_system_unsupported.
var knownSpatialSystems = map[string]bool{
	"h3":      true,
	"geohash": true,
	"meta":    true,
}

// Input bundles every explicit parameter CompileTruthState consumes.
// Every Observation is folded into a RATIFY vote under its reporter's
// standing-class role; ExtraVotes carries VALIDATION_VOTE-derived
// ballots (validator/authority roles) that are not themselves
// Observations — REJECT/CHALLENGE/OVERRIDE ballots and the human
// validator quorum. Validator
// lets an orchestrator reuse one compiled *schema.Validator across calls;
// when nil the compiler compiles the contract's output_schema once for
// this call only (still pure: no I/O, no wall clock).
type Input struct {
	ClaimType       claimtype.ClaimType
	TruthKeyID      string
	Observations    []observation.Observation
	ExtraVotes      []consensus.Vote
	TrustSnapshot   trustsnapshot.TrustSnapshot
	PolicyVersion   string
	CompilerVersion string
	CompileTime     time.Time
	WindowOpen      bool // true if the validation window has not yet closed
	Signer          signing.Signer
	Validator       *schema.Validator

	ExpectedContractHash      string // optional: verified against ClaimType.Hash()
	ExpectedTrustSnapshotHash string // optional: verified against TrustSnapshot.SnapshotHash
	SignedAtOverride          *time.Time
}

// CompileTruthState runs the full compile pipeline and returns
// a TruthState. It never mutates its inputs and never partially commits:
// any failure returns a nil state and a single typed error.
func CompileTruthState(in Input) (*truthstate.TruthState, *errkit.Error) {
	if err := normalize(in); err != nil {
		return nil, err
	}

	contractHash, err := in.ClaimType.Hash()
	if err != nil {
		return nil, errkit.New(errkit.KindNonCanonicalInput, "compiler: hash claim type: "+err.Error())
	}
	if in.ExpectedContractHash != "" && in.ExpectedContractHash != contractHash {
		return nil, errkit.New(errkit.KindContractHashMismatch, "compiler: claim type hash does not match expected hash")
	}
	if in.ExpectedTrustSnapshotHash != "" && in.ExpectedTrustSnapshotHash != in.TrustSnapshot.SnapshotHash {
		return nil, errkit.New(errkit.KindTrustSnapshotHashMismatch, "compiler: trust snapshot hash does not match expected hash")
	}

	key, kerr := truthkey.Parse(in.TruthKeyID)
	if kerr != nil {
		return nil, errkit.New(errkit.KindTruthKeyInvalid, "compiler: "+kerr.Error())
	}
	if !knownSpatialSystems[key.SpatialSystem] {
		return nil, errkit.New(errkit.KindSpatialSystemUnsupported, "compiler: unsupported spatial_system "+key.SpatialSystem)
	}

	if err := checkEvidenceRequirement(in); err != nil {
		return nil, err
	}

	votes, power := buildVotes(in)
	model := consensusModel(in)
	result := consensus.Decide(model, votes, power)

	flags := transparencyFlags(in, result)

	aiConf, autovalidated := applyAIAutovalidation(in, &result)
	if autovalidated {
		flags = append(flags, "AI_AUTOVALIDATED")
	}

	status, intermediate := resolveStatus(in, result)
	if contradicted(flags) {
		status = truthstate.StatusUndecided
		intermediate = true
	}

	claim, derr := deriveClaim(in)
	if derr != nil {
		return nil, derr
	}

	validator := in.Validator
	if validator == nil {
		validator = schema.NewValidator()
		if err := validator.Compile(in.ClaimType.ID, in.ClaimType.OutputSchema); err != nil {
			return nil, errkit.New(errkit.KindNonCanonicalInput, "compiler: compile schema: "+err.Error())
		}
	}
	violations, verr := validator.Validate(in.ClaimType.ID, claim)
	if verr != nil {
		return nil, errkit.New(errkit.KindNonCanonicalInput, "compiler: validate schema: "+verr.Error())
	}
	if first := schema.FirstViolation(violations); first != nil {
		return nil, first
	}

	confScore, breakdown := computeConfidence(in, votes)
	if confidenceIndicatesContradiction(in, flags) {
		confScore = clampConfidence(confScore)
	}
	if threshold := in.ClaimType.Consensus.AIAutovalidateConf; threshold > 0 && confScore < threshold {
		flags = append(flags, "LOW_COMPOSITE_CONFIDENCE")
	}

	evidenceRefs := observation.SortedEvidenceRefs(in.Observations)
	observationIDs := observation.SortedObservationIDs(in.Observations)
	sort.Strings(flags)

	ts := truthstate.TruthState{
		TruthKey:          key.String(),
		ClaimType:         in.ClaimType.ID,
		ClaimTypeHash:     contractHash,
		Status:            status,
		VerificationBasis: string(result.VerificationBasis),
		Claim:             claim,
		AIConfidence:      aiConf,
		Confidence:        confScore,
		ConfidenceBreakdown: truthstate.ConfidenceBreakdown{
			Components:          breakdown.Components,
			TimeDecayModifier:   breakdown.TimeDecayModifier,
			LowEvidenceModifier: breakdown.LowEvidenceModifier,
		},
		TransparencyFlags: flags,
		CompileInputs: truthstate.CompileInputs{
			ObservationIDs:    observationIDs,
			ClaimTypeID:       in.ClaimType.ID,
			ClaimTypeHash:     contractHash,
			PolicyVersion:     in.PolicyVersion,
			CompilerVersion:   in.CompilerVersion,
			TrustSnapshotHash: in.TrustSnapshot.SnapshotHash,
			CompileTime:       in.CompileTime,
			SignedAtOverride:  in.SignedAtOverride,
		},
		EvidenceRefs:   evidenceRefs,
		EvidenceRoot:   merkle.Root(evidenceRefs),
		ObservationIDs: observationIDs,
	}

	semanticHash, hErr := SemanticHash(ts)
	if hErr != nil {
		return nil, errkit.New(errkit.KindNonCanonicalInput, "compiler: semantic hash: "+hErr.Error())
	}
	stateHash, hErr := StateHash(ts)
	if hErr != nil {
		return nil, errkit.New(errkit.KindNonCanonicalInput, "compiler: state hash: "+hErr.Error())
	}

	if !intermediate && ts.IsTerminal() {
		signedAt := in.CompileTime
		if in.SignedAtOverride != nil {
			signedAt = *in.SignedAtOverride
		}
		sec, serr := sign(in.Signer, stateHash, signedAt)
		if serr != nil {
			return nil, serr
		}
		sec.SemanticHash = semanticHash
		ts.Security = sec
	}

	return &ts, nil
}

// normalize verifies UTC inputs and rejects naive
// datetimes. Evidence-list sorting and canonicalization of strings happen
// downstream, inside observation.CanonicalForm and the canonicalizer
// itself, rather than being duplicated here.
func normalize(in Input) *errkit.Error {
	if in.CompileTime.IsZero() || in.CompileTime.Location() == nil {
		return errkit.New(errkit.KindNaiveDatetime, "compiler: compile_time is zero or naive")
	}
	for _, o := range in.Observations {
		if verr := o.Validate(); verr != nil {
			return verr
		}
	}
	return nil
}

func checkEvidenceRequirement(in Input) *errkit.Error {
	req := in.ClaimType.Evidence
	if len(in.Observations) == 0 && (req.MinObservations > 0 || req.RequireEvidence) {
		return errkit.New(errkit.KindNoEvidence, "compiler: no observations submitted, contract requires evidence")
	}
	if req.MinObservations > 0 && len(in.Observations) < req.MinObservations {
		return errkit.New(errkit.KindNoEvidence, "compiler: fewer observations than contract requires")
	}
	if req.RequireEvidence {
		any := false
		for _, o := range in.Observations {
			if len(o.Evidence) > 0 {
				any = true
				break
			}
		}
		if !any {
			return errkit.New(errkit.KindNoEvidence, "compiler: contract requires evidence, none attached")
		}
	}
	return nil
}

func contradicted(flags []string) bool {
	for _, f := range flags {
		if f == "CONTRADICTION_DETECTED" {
			return true
		}
	}
	return false
}

func confidenceIndicatesContradiction(in Input, flags []string) bool {
	return contradicted(flags)
}

func clampConfidence(c float64) float64 {
	if c > 0.5 {
		return 0.5
	}
	return c
}

func sign(signer signing.Signer, stateHash string, signedAt time.Time) (*truthstate.Security, *errkit.Error) {
	if signer == nil {
		return nil, errkit.New(errkit.KindSigningUnavailable, "compiler: no signer configured")
	}
	sigHex, err := signer.Sign([]byte(stateHash))
	if err != nil {
		return nil, errkit.New(errkit.KindSigningRefused, "compiler: sign: "+err.Error())
	}
	return &truthstate.Security{
		StateHash:     stateHash,
		Signature:     sigHex,
		SigningMethod: string(signer.Method()),
		KeyID:         signer.KeyID(),
		SignedAt:      signedAt,
	}, nil
}

func toGenericStrings(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
