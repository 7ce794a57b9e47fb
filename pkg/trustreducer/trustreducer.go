// Package trustreducer implements the trust reducer: a pure
// (signals, policy, as_of_time) -> standings replay function. Standing
// is never persisted as ground truth; every standing value is a
// projection of the signal log under a policy, recomputed by Reduce.
package trustreducer

import (
	"math"
	"sort"
	"time"

	"github.com/truthmesh/core/pkg/errkit"
	"github.com/truthmesh/core/pkg/policy"
	"github.com/truthmesh/core/pkg/signal"
	"github.com/truthmesh/core/pkg/temporal"
)

// Standing is one agent's global scalar trust value plus the bookkeeping
// the reducer needs to apply decay lazily at query time.
type Standing struct {
	AgentID        string
	Value          float64
	LastSignalTime time.Time
	LastOutcomeFor map[string]outcomeTally // claim_type -> correct/total, for domain affinity
}

type outcomeTally struct {
	Correct int
	Total   int
}

// Outcome is the closed set of TRUTH_VERIFIED attribution outcomes this
// reducer recognizes in a signal's payload.
type Outcome string

const (
	OutcomeCorrect Outcome = "correct"
	OutcomeWrong   Outcome = "wrong"
)

// Options bounds a single Reduce call: replay may be capped by an
// optional max signal count, and exceeding the cap yields a typed
// error, not a partial result.
type Options struct {
	MaxSignals int // 0 = unbounded
}

// pendingVote defers a VALIDATION_VOTE's delta until its parent
// TRUTH_VERIFIED signal arrives.
type pendingVote struct {
	agentID   string
	confident bool
}

// Reduce replays signals in canonical (time, signal_id) order up to
// asOfTime and returns the standing of every agent mentioned, a pure
// function of (signals, policy, asOfTime) with no hidden state.
func Reduce(signals []signal.Signal, p policy.Policy, asOfTime time.Time, opts Options) (map[string]Standing, error) {
	sorted := make([]signal.Signal, len(signals))
	copy(sorted, signals)
	sort.Slice(sorted, func(i, j int) bool { return signal.Less(sorted[i], sorted[j]) })

	standings := make(map[string]Standing)
	// pendingVotesByObject accumulates VALIDATION_VOTE signals until the
	// TRUTH_VERIFIED signal for the same object_id (truth_key) arrives.
	pendingVotesByObject := make(map[string][]pendingVote)

	count := 0
	for _, s := range sorted {
		if s.Time.After(asOfTime) {
			break
		}
		count++
		if opts.MaxSignals > 0 && count > opts.MaxSignals {
			return nil, errkit.New(errkit.KindSignalStoreExhausted, "trustreducer: replay exceeded max signal count")
		}

		if !signal.KnownTypes(s.SignalType) {
			// Forward-compatible no-op: record nothing, but
			// do not fail replay so a future policy can reinterpret history.
			continue
		}

		switch s.SignalType {
		case signal.TypeValidationVote:
			confident := voteIsConfident(s)
			pendingVotesByObject[s.ObjectID] = append(pendingVotesByObject[s.ObjectID], pendingVote{
				agentID:   s.AgentID,
				confident: confident,
			})

		case signal.TypeTruthVerified:
			applyTruthVerified(standings, p, s)
			for _, pv := range pendingVotesByObject[s.ObjectID] {
				applyVoteOutcome(standings, p, pv, s, asOfAgentTime(s))
			}
			delete(pendingVotesByObject, s.ObjectID)

		case signal.TypeObservationSubmitted, signal.TypeVouch, signal.TypeMemberOf,
			signal.TypeWindowOpened, signal.TypeWindowClosed, signal.TypeWindowExtended,
			signal.TypeWindowAborted, signal.TypeIsolationFlag:
			touch(standings, p, s.AgentID, s.Time)
		}
	}

	applyDecay(standings, p, asOfTime)
	return standings, nil
}

func asOfAgentTime(s signal.Signal) time.Time { return s.Time }

// voteIsConfident reads an optional confidence value out of a
// VALIDATION_VOTE's payload, defaulting to "not confident" (0.5 threshold)
// when absent.
func voteIsConfident(s signal.Signal) bool {
	raw, ok := s.Payload["confidence"]
	if !ok {
		return false
	}
	conf, ok := raw.(float64)
	if !ok {
		return false
	}
	return conf >= 0.5
}

func voteValue(s signal.Signal) signal.Ballot {
	raw, _ := s.Payload["value"].(string)
	return signal.Ballot(raw)
}

// outcomeOf reads the TRUTH_VERIFIED payload's outcome classification:
// which status the verified truth state reached, used to decide whether a
// contributing observation/vote was correct or wrong.
func outcomeOf(s signal.Signal) (status string, magnitude, accuracyFactor, confidenceModifier float64) {
	status, _ = s.Payload["status"].(string)
	magnitude = floatOr(s.Payload["magnitude"], 1.0)
	accuracyFactor = floatOr(s.Payload["accuracy_factor"], 1.0)
	confidenceModifier = floatOr(s.Payload["confidence_modifier"], 1.0)
	return
}

func floatOr(v interface{}, def float64) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return def
}

// contributors reads the TRUTH_VERIFIED payload's contributor attribution:
// agent_id -> "correct"|"wrong".
func contributors(s signal.Signal) map[string]Outcome {
	out := make(map[string]Outcome)
	raw, ok := s.Payload["contributors"].(map[string]interface{})
	if !ok {
		return out
	}
	for agentID, v := range raw {
		if str, ok := v.(string); ok {
			out[agentID] = Outcome(str)
		}
	}
	return out
}

func ensure(standings map[string]Standing, p policy.Policy, agentID string) Standing {
	st, ok := standings[agentID]
	if !ok {
		st = Standing{AgentID: agentID, Value: p.InitialStanding, LastOutcomeFor: make(map[string]outcomeTally)}
	}
	return st
}

func touch(standings map[string]Standing, p policy.Policy, agentID string, t time.Time) {
	if agentID == "" {
		return
	}
	st := ensure(standings, p, agentID)
	st.LastSignalTime = t
	standings[agentID] = st
}

// applyTruthVerified attributes outcomes to every agent the TRUTH_VERIFIED
// signal names as a contributor, applying Delta = outcome * magnitude *
// accuracy_factor * confidence_modifier through the policy's nonlinear
// bounded update.
func applyTruthVerified(standings map[string]Standing, p policy.Policy, s signal.Signal) {
	_, magnitude, accuracyFactor, confidenceModifier := outcomeOf(s)
	claimType, _ := s.Payload["claim_type"].(string)

	for agentID, outcome := range contributors(s) {
		st := ensure(standings, p, agentID)

		var gain float64
		switch outcome {
		case OutcomeCorrect:
			gain = p.Deltas.ObservationCorrect
		case OutcomeWrong:
			gain = p.Deltas.ObservationWrong
		default:
			continue
		}

		delta := gain * magnitude * accuracyFactor * confidenceModifier
		st.Value = p.ApplyDelta(st.Value, delta)
		st.LastSignalTime = s.Time

		if claimType != "" {
			tally := st.LastOutcomeFor[claimType]
			tally.Total++
			if outcome == OutcomeCorrect {
				tally.Correct++
			}
			st.LastOutcomeFor[claimType] = tally
		}

		standings[agentID] = st
	}
}

// applyVoteOutcome applies the deferred VALIDATION_VOTE delta once its
// parent TRUTH_VERIFIED has arrived: vote_correct/vote_wrong, with a
// reckless-confidence multiplier when the voter was confident and wrong,
// and a calibrated-confidence bonus when accurate at low confidence.
func applyVoteOutcome(standings map[string]Standing, p policy.Policy, pv pendingVote, verified signal.Signal, at time.Time) {
	outcome, ok := contributors(verified)[pv.agentID]
	if !ok {
		return
	}

	st := ensure(standings, p, pv.agentID)
	var delta float64
	switch {
	case outcome == OutcomeCorrect && pv.confident:
		delta = p.Deltas.VoteCorrect
	case outcome == OutcomeCorrect && !pv.confident:
		delta = p.Deltas.VoteCorrect + p.Deltas.CalibratedConfidence
	case outcome == OutcomeWrong && pv.confident:
		delta = p.Deltas.VoteWrong * p.Deltas.RecklessConfidence
	default: // wrong and not confident
		delta = p.Deltas.VoteWrong
	}

	st.Value = p.ApplyDelta(st.Value, delta)
	st.LastSignalTime = at
	standings[pv.agentID] = st
}

// applyDecay applies lazy exponential decay toward initial_standing for
// every agent whose last signal predates asOfTime:
// standing <- standing + (initial - standing) * (1 - 0.5^(dt/half_life)).
func applyDecay(standings map[string]Standing, p policy.Policy, asOfTime time.Time) {
	halfLife, err := durationOf(p.HalfLifeISO)
	if err != nil || halfLife <= 0 {
		return
	}
	for id, st := range standings {
		if st.LastSignalTime.IsZero() {
			continue
		}
		dt := asOfTime.Sub(st.LastSignalTime).Seconds()
		if dt <= 0 {
			continue
		}
		halfLives := dt / halfLife.Seconds()
		decayFrac := 1 - math.Pow(0.5, halfLives)
		st.Value = st.Value + (p.InitialStanding-st.Value)*decayFrac
		standings[id] = st
	}
}

func durationOf(iso string) (time.Duration, error) {
	return temporal.ParseDuration(iso)
}

// GetStanding answers get_standing(agent_id,
// as_of). It replays the full signal log and returns the named agent's
// standing, defaulting to the policy's initial_standing for an agent the
// log never mentions.
func GetStanding(signals []signal.Signal, p policy.Policy, agentID string, asOfTime time.Time) (float64, error) {
	standings, err := Reduce(signals, p, asOfTime, Options{})
	if err != nil {
		return 0, err
	}
	if st, ok := standings[agentID]; ok {
		return st.Value, nil
	}
	return p.InitialStanding, nil
}

// DomainAffinity returns the ratio of correct outcomes attributed to an
// agent within claimType to its total outcomes there, feeding the
// domain-affinity modifier of the trust computer. A claim type the agent
// has no recorded outcomes in returns (0, false).
func (s Standing) DomainAffinity(claimType string) (float64, bool) {
	tally, ok := s.LastOutcomeFor[claimType]
	if !ok || tally.Total == 0 {
		return 0, false
	}
	return float64(tally.Correct) / float64(tally.Total), true
}
