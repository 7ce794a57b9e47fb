// Package signal implements the immutable Signal envelope and append-only
// Signal Log: the sole input to trust evolution. Every signal is totally
// ordered by (time, signal_id), never updated or deleted once appended.
package signal

import (
	"time"

	"github.com/truthmesh/core/pkg/canonicalize"
	"github.com/truthmesh/core/pkg/errkit"
)

// Type is the closed set of signal_type values this build ships. The
// set is treated as closed so downstream switches stay exhaustive;
// adding a variant is a major-version event.
type Type string

const (
	TypeObservationSubmitted Type = "OBSERVATION_SUBMITTED"
	TypeValidationVote       Type = "VALIDATION_VOTE"
	TypeTruthVerified        Type = "TRUTH_VERIFIED"
	TypeVouch                Type = "VOUCH"
	TypeMemberOf             Type = "MEMBER_OF"
	TypeWindowOpened         Type = "WINDOW_OPENED"
	TypeWindowClosed         Type = "WINDOW_CLOSED"
	TypeWindowExtended       Type = "WINDOW_EXTENDED"
	TypeWindowAborted        Type = "WINDOW_ABORTED"
	TypeIsolationFlag        Type = "ISOLATION_FLAG"
)

// KnownTypes reports whether t is a signal_type this build recognizes.
// Unknown types are not rejected by the store (forward compatibility per
// forward compatibility) but callers that must switch exhaustively use this to branch
// to a no-op path.
func KnownTypes(t Type) bool {
	switch t {
	case TypeObservationSubmitted, TypeValidationVote, TypeTruthVerified,
		TypeVouch, TypeMemberOf, TypeWindowOpened, TypeWindowClosed,
		TypeWindowExtended, TypeWindowAborted, TypeIsolationFlag:
		return true
	default:
		return false
	}
}

// Signal is the immutable event envelope. SignalID is the
// canonical hash of every other field; it is computed by Seal, never
// supplied by the caller.
type Signal struct {
	SignalID      string                 `json:"signal_id"`
	SignalType    Type                   `json:"signal_type"`
	Time          time.Time              `json:"time"`
	AgentID       string                 `json:"agent_id"`
	ObjectID      string                 `json:"object_id"`
	Context       map[string]interface{} `json:"context,omitempty"`
	Payload       map[string]interface{} `json:"payload"`
	PolicyVersion string                 `json:"policy_version"`
	Signature     string                 `json:"signature,omitempty"`
}

// canonicalForm returns the canonical projection used for SignalID, which
// covers every field except signal_id itself: the id is the canonical
// hash of the envelope minus the id.
func (s Signal) canonicalForm() map[string]interface{} {
	m := map[string]interface{}{
		"signal_type":    string(s.SignalType),
		"time":           s.Time,
		"agent_id":       s.AgentID,
		"object_id":      s.ObjectID,
		"payload":        s.Payload,
		"policy_version": s.PolicyVersion,
	}
	if s.Context != nil {
		m["context"] = s.Context
	}
	if s.Signature != "" {
		m["signature"] = s.Signature
	}
	return m
}

// Seal computes and sets SignalID from the envelope's canonical form. It
// returns the sealed signal; callers must not mutate any field afterward
// (the log enforces immutability but does not deep-copy defensively).
func Seal(s Signal) (Signal, error) {
	if s.Time.IsZero() {
		return Signal{}, errkit.New(errkit.KindNaiveDatetime, "signal.time is zero")
	}
	h, err := canonicalize.CanonicalHash(s.canonicalForm())
	if err != nil {
		return Signal{}, errkit.New(errkit.KindNonCanonicalInput, "signal: "+err.Error())
	}
	s.SignalID = h
	return s, nil
}

// Less implements the authoritative total order: signals sort by
// (time, signal_id); the log's append order carries no meaning.
func Less(a, b Signal) bool {
	if !a.Time.Equal(b.Time) {
		return a.Time.Before(b.Time)
	}
	return a.SignalID < b.SignalID
}

// Ballot is the closed set of VALIDATION_VOTE ballot values, mirrored from
// pkg/consensus.VoteValue so signal payloads and the consensus engine agree
// on the same closed set without an import cycle.
type Ballot string

const (
	BallotRatify    Ballot = "RATIFY"
	BallotReject    Ballot = "REJECT"
	BallotAbstain   Ballot = "ABSTAIN"
	BallotChallenge Ballot = "CHALLENGE"
	BallotOverride  Ballot = "OVERRIDE"
)
