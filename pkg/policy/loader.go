// Package policy implements the versioned trust parameter bundle:
// gain/penalty coefficients, the nonlinear bounded standing update,
// decay half-life, phase thresholds and weight mapping, θ_min, and the
// archetype linter that must pass before a policy may be activated.
// The linter's four checks are CEL expressions held in this package and
// evaluated over the simulated standing trajectories.
package policy

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/truthmesh/core/pkg/canonicalize"
)

// Deltas is the closed set of gain/penalty coefficients this
// implementation recognizes.
type Deltas struct {
	ObservationCorrect   float64 `yaml:"observation_correct" json:"observation_correct"`
	ObservationWrong     float64 `yaml:"observation_wrong" json:"observation_wrong"`
	VoteCorrect          float64 `yaml:"vote_correct" json:"vote_correct"`
	VoteWrong            float64 `yaml:"vote_wrong" json:"vote_wrong"`
	RecklessConfidence   float64 `yaml:"reckless_confidence" json:"reckless_confidence"`     // multiplier, confident-and-wrong
	CalibratedConfidence float64 `yaml:"calibrated_confidence" json:"calibrated_confidence"` // bonus, accurate low-confidence
}

// PhaseThresholds gives the two boundaries between dormant/active/dominant.
type PhaseThresholds struct {
	Theta1 float64 `yaml:"theta1" json:"theta1"`
	Theta2 float64 `yaml:"theta2" json:"theta2"`
}

// Phase is the closed set of standing phases.
type Phase string

const (
	PhaseDormant  Phase = "dormant"
	PhaseActive   Phase = "active"
	PhaseDominant Phase = "dominant"
)

// Policy is the versioned parameter bundle consumed by the trust reducer
// and trust computer. It is itself an agent ("policy:<version>") for
// standing-bookkeeping purposes, but carries no standing of its own.
type Policy struct {
	Version         string          `yaml:"version" json:"version"`
	ParentVersion   string          `yaml:"parent_version,omitempty" json:"parent_version,omitempty"`
	InitialStanding float64         `yaml:"initial_standing" json:"initial_standing"`
	MinStanding     float64         `yaml:"min_standing" json:"min_standing"`
	MaxStanding     float64         `yaml:"max_standing" json:"max_standing"`
	ThetaMin        float64         `yaml:"theta_min" json:"theta_min"`
	Deltas          Deltas          `yaml:"deltas" json:"deltas"`
	BoundedK        float64         `yaml:"bounded_k" json:"bounded_k"`
	HalfLifeISO     string          `yaml:"half_life" json:"half_life"`
	Phases          PhaseThresholds `yaml:"phases" json:"phases"`
	IsolationPenalty float64        `yaml:"isolation_penalty" json:"isolation_penalty"`
	GroundingRelief float64         `yaml:"grounding_relief" json:"grounding_relief"`

	// PolicyHash is the canonical hash over the bundle body, computed once
	// at load time.
	PolicyHash string `yaml:"-" json:"policy_hash"`
}

// Hash computes the canonical hash of the policy body.
func (p Policy) Hash() (string, error) {
	p.PolicyHash = ""
	b, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("policy: marshal: %w", err)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return "", fmt.Errorf("policy: remarshal: %w", err)
	}
	return canonicalize.CanonicalHash(m)
}

// Bounded implements bounded(x) = 500 + 500*tanh((x-500)/K), the
// nonlinear compression toward the [0,1000] standing range.
func (p Policy) Bounded(x float64) float64 {
	k := p.BoundedK
	if k == 0 {
		k = 500
	}
	return 500 + 500*math.Tanh((x-500)/k)
}

// ApplyDelta folds a signed delta into a standing through the bounded
// nonlinear update, then clamps to [min_standing, max_standing].
func (p Policy) ApplyDelta(standing, delta float64) float64 {
	bounded := p.Bounded(standing + delta)
	return clamp(bounded, p.MinStanding, p.MaxStanding)
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

// PhaseOf classifies a standing into dormant/active/dominant using the
// policy's phase thresholds.
func (p Policy) PhaseOf(standing float64) Phase {
	switch {
	case standing < p.Phases.Theta1:
		return PhaseDormant
	case standing < p.Phases.Theta2:
		return PhaseActive
	default:
		return PhaseDominant
	}
}

// WeightForPhase maps standing to consensus weight by phase:
// w = 0.1*s below theta1, w = s in [theta1,theta2), w = theta2 + 0.3*(s-theta2)
// above theta2.
func (p Policy) WeightForPhase(standing float64) float64 {
	switch p.PhaseOf(standing) {
	case PhaseDormant:
		return 0.1 * standing
	case PhaseActive:
		return standing
	default:
		return p.Phases.Theta2 + 0.3*(standing-p.Phases.Theta2)
	}
}

// ResolveThetaMin enforces the constitutional rule that downstream
// actors may only tighten theta_min, never loosen it below this
// policy's baseline.
func (p Policy) ResolveThetaMin(downstream ...float64) float64 {
	resolved := p.ThetaMin
	for _, d := range downstream {
		if d > resolved {
			resolved = d
		}
	}
	return resolved
}

// Loader loads and caches Policy bundles from a directory of YAML
// files, by version.
type Loader struct {
	mu        sync.RWMutex
	dir       string
	byVersion map[string]Policy
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, byVersion: make(map[string]Policy)}
}

// LoadAll loads every *.yaml/*.yml policy bundle in the configured
// directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("policy: read dir %s: %w", l.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := l.LoadFile(filepath.Join(l.dir, e.Name())); err != nil {
			return fmt.Errorf("policy: load %s: %w", e.Name(), err)
		}
	}
	return nil
}

// LoadFile loads a single policy bundle and caches it by version,
// running the archetype linter before activation.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if p.Version == "" {
		return fmt.Errorf("policy: %s missing version", path)
	}

	if report := LintArchetypes(p); !report.Passed() {
		return fmt.Errorf("policy: %s failed archetype linter: %s", p.Version, report.Summary())
	}

	hash, err := p.Hash()
	if err != nil {
		return fmt.Errorf("policy: hash %s: %w", p.Version, err)
	}
	p.PolicyHash = hash

	l.mu.Lock()
	l.byVersion[p.Version] = p
	l.mu.Unlock()
	return nil
}

// Load returns a previously loaded Policy by version.
func (l *Loader) Load(version string) (Policy, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.byVersion[version]
	return p, ok
}

// ArchetypeReport is the outcome of running the four canonical
// agent-behavior archetypes through a policy's update rule.
type ArchetypeReport struct {
	HonestValidatorTrendsUp   bool
	SpammerStaysFlat          bool
	RecklessGuesserTrendsDown bool
	ConcentrationAlert        bool
}

// Passed reports whether the policy may be activated: the three
// trajectory checks must hold, and the malicious-monolith simulation must
// raise the concentration alert (a policy under which a monolith's
// standing stays unremarkable is failing to detect concentration, not
// passing).
func (r ArchetypeReport) Passed() bool {
	return r.HonestValidatorTrendsUp &&
		r.SpammerStaysFlat &&
		r.RecklessGuesserTrendsDown &&
		r.ConcentrationAlert
}

// Summary renders a one-line human-readable diagnosis.
func (r ArchetypeReport) Summary() string {
	return fmt.Sprintf(
		"honest_up=%v spammer_flat=%v reckless_down=%v concentration_alert=%v",
		r.HonestValidatorTrendsUp, r.SpammerStaysFlat,
		r.RecklessGuesserTrendsDown, r.ConcentrationAlert,
	)
}

// archetypeRules expresses the four checks as CEL expressions over the
// simulated trajectories: the rules are data, not Go control flow.
var archetypeRules = map[string]string{
	"honest_up":           "end > start",
	"spammer_flat":        "(end - start <= tolerance) && (start - end <= tolerance)",
	"reckless_down":       "end < start",
	"concentration_alert": "end > concentrationCeiling",
}

// LintArchetypes simulates the four canonical archetypes (honest
// validator trends up; spammer stays flat; reckless guesser trends
// down; malicious monolith raises a concentration alert) across 50
// rounds of a policy's update rule, then evaluates each CEL rule over
// the simulated trajectory.
func LintArchetypes(p Policy) ArchetypeReport {
	const rounds = 50
	start := p.InitialStanding

	honestEnd := simulate(p, start, rounds, p.Deltas.ObservationCorrect)
	// A spammer's observations never reach TRUTH_VERIFIED, so the reducer
	// applies no deltas at all; decay pulls toward initial_standing, which
	// is where the spammer already sits.
	spammerEnd := start
	recklessEnd := simulate(p, start, rounds, -math.Abs(p.Deltas.ObservationWrong)*math.Max(p.Deltas.RecklessConfidence, 1))
	monolithEnd := simulate(p, start, rounds, math.Abs(p.Deltas.ObservationCorrect)*5)

	env, err := cel.NewEnv(
		cel.Variable("start", cel.DoubleType),
		cel.Variable("end", cel.DoubleType),
		cel.Variable("tolerance", cel.DoubleType),
		cel.Variable("concentrationCeiling", cel.DoubleType),
	)
	if err != nil {
		// Fall back to a direct comparison if the CEL environment cannot
		// be constructed; the archetype semantics still hold.
		return ArchetypeReport{
			HonestValidatorTrendsUp:   honestEnd > start,
			SpammerStaysFlat:          math.Abs(spammerEnd-start) <= 1e-6,
			RecklessGuesserTrendsDown: recklessEnd < start,
			ConcentrationAlert:        monolithEnd > p.MaxStanding*0.95,
		}
	}

	return ArchetypeReport{
		HonestValidatorTrendsUp:   evalArchetype(env, archetypeRules["honest_up"], start, honestEnd, 0, 0),
		SpammerStaysFlat:          evalArchetype(env, archetypeRules["spammer_flat"], start, spammerEnd, 1e-6, 0),
		RecklessGuesserTrendsDown: evalArchetype(env, archetypeRules["reckless_down"], start, recklessEnd, 0, 0),
		ConcentrationAlert:        evalArchetype(env, archetypeRules["concentration_alert"], start, monolithEnd, 0, p.MaxStanding*0.95),
	}
}

func evalArchetype(env *cel.Env, expr string, start, end, tolerance, ceiling float64) bool {
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return false
	}
	prg, err := env.Program(ast)
	if err != nil {
		return false
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"start": start, "end": end,
		"tolerance": tolerance, "concentrationCeiling": ceiling,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}

func simulate(p Policy, standing float64, rounds int, deltaPerRound float64) float64 {
	s := standing
	for i := 0; i < rounds; i++ {
		s = p.ApplyDelta(s, deltaPerRound)
	}
	return s
}
