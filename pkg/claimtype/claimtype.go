// Package claimtype implements the immutable ClaimType contract of
// truth-key formation rules, risk profile, evidence
// requirements, consensus/confidence models, output schema, temporal
// decay, and dispute thresholds. Contracts are authored as YAML; the
// Loader caches them by id and stores each contract's canonical hash on
// the loaded ClaimType. The vMAJOR id segment is parsed with
// github.com/Masterminds/semver/v3.
package claimtype

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/truthmesh/core/pkg/canonicalize"
)

// RiskProfile is the closed set of claim-type risk lanes.
type RiskProfile string

const (
	RiskMonitor  RiskProfile = "monitor"
	RiskCritical RiskProfile = "critical"
)

// EvidenceRequirement describes the minimum evidence a claim type demands.
type EvidenceRequirement struct {
	MinObservations int  `yaml:"min_observations" json:"min_observations"`
	RequireEvidence bool `yaml:"require_evidence" json:"require_evidence"`
}

// ConsensusModel configures the weighted-threshold consensus engine
// into verdict candidates.
type ConsensusModel struct {
	Name                string             `yaml:"name" json:"name"` // "weighted_threshold"
	RoleWeights         map[string]float64 `yaml:"role_weights" json:"role_weights"`
	FinalizeThreshold   float64            `yaml:"finalize_threshold" json:"finalize_threshold"`
	RejectThreshold     float64            `yaml:"reject_threshold" json:"reject_threshold"`
	ThetaMin            float64            `yaml:"theta_min" json:"theta_min"`
	DisagreementThresh  float64            `yaml:"disagreement_threshold" json:"disagreement_threshold"`
	AIAutovalidateConf  float64            `yaml:"ai_autovalidate_confidence" json:"ai_autovalidate_confidence"`
	HumanQuorumRequired int                `yaml:"human_quorum_required" json:"human_quorum_required"`
}

// ConfidenceComponent is one weighted term of the confidence score
// of the composite score.
type ConfidenceComponent struct {
	Name   string  `yaml:"name" json:"name"`
	Weight float64 `yaml:"weight" json:"weight"`
}

// ConfidenceModel configures the confidence engine.
type ConfidenceModel struct {
	Components        []ConfidenceComponent `yaml:"components" json:"components"`
	HalfLifeISO       string                `yaml:"half_life" json:"half_life"`
	LowEvidencePenalty float64              `yaml:"low_evidence_penalty" json:"low_evidence_penalty"`
	LowEvidenceFloor   int                  `yaml:"low_evidence_floor" json:"low_evidence_floor"`
}

// ClaimDerivation configures how TruthState.claim is derived from
// observations.
type ClaimDerivation struct {
	Strategy string   `yaml:"strategy" json:"strategy"` // "weighted_median" | "majority" | "evidence_union"
	Fields   []string `yaml:"fields" json:"fields"`
}

// TruthKeyFormation configures how a contract derives a TruthKey from an
// observation.
type TruthKeyFormation struct {
	SpatialSystem  string `yaml:"spatial_system" json:"spatial_system"`
	Resolution     string `yaml:"resolution" json:"resolution"`
	ZIndex         string `yaml:"z_index" json:"z_index"`
	BucketDuration string `yaml:"bucket_duration" json:"bucket_duration"` // ISO-8601
	IDStrategy     string `yaml:"id_strategy" json:"id_strategy"`
}

// ClaimType is the immutable contract governing verification, scoring,
// and output shape for a class of claims. Once released it is never
// mutated; new versions supersede via a new vMAJOR id.
type ClaimType struct {
	ID                  string              `yaml:"id" json:"id"` // "namespace.name.vMAJOR"
	Namespace           string              `yaml:"-" json:"namespace"`
	Name                string              `yaml:"-" json:"name"`
	Major               uint64              `yaml:"-" json:"major"`
	RiskProfile         RiskProfile         `yaml:"risk_profile" json:"risk_profile"`
	TruthKeyFormation   TruthKeyFormation   `yaml:"truth_key_formation" json:"truth_key_formation"`
	Evidence            EvidenceRequirement `yaml:"evidence" json:"evidence"`
	Consensus           ConsensusModel      `yaml:"consensus" json:"consensus"`
	Confidence          ConfidenceModel     `yaml:"confidence" json:"confidence"`
	ClaimDerivation     ClaimDerivation     `yaml:"claim_derivation" json:"claim_derivation"`
	OutputSchema        map[string]interface{} `yaml:"output_schema" json:"output_schema"`
	AILadderRoutingHint string              `yaml:"ai_ladder_routing_hint,omitempty" json:"ai_ladder_routing_hint,omitempty"`
	DisputeThreshold    float64             `yaml:"dispute_threshold" json:"dispute_threshold"`

	// ContractHash is the canonical hash over the full contract body,
	// computed once at load time and never recomputed (immutability).
	ContractHash string `yaml:"-" json:"contract_hash"`
}

// Hash computes the canonical hash over the contract body (excluding the
// cached ContractHash field itself).
func (c ClaimType) Hash() (string, error) {
	c.ContractHash = ""
	generic, err := toMap(c)
	if err != nil {
		return "", err
	}
	return canonicalize.CanonicalHash(generic)
}

func toMap(c ClaimType) (map[string]interface{}, error) {
	// Round-trip through YAML (honoring the yaml tags) to get a plain map
	// for canonical hashing; pkg/canonicalize does the same for structs
	// through encoding/json.
	raw, err := yamlRemarshal(c)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func yamlRemarshal(c ClaimType) (map[string]interface{}, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("claimtype: marshal: %w", err)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("claimtype: remarshal: %w", err)
	}
	return m, nil
}

// ParseID splits "namespace.name.vMAJOR" into its components and
// validates the version segment with semver.
func ParseID(id string) (namespace, name string, major uint64, err error) {
	segs := splitLast2(id)
	if len(segs) != 3 {
		return "", "", 0, fmt.Errorf("claimtype: invalid id %q, want namespace.name.vMAJOR", id)
	}
	v, err := semver.NewVersion(segs[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("claimtype: invalid version segment %q: %w", segs[2], err)
	}
	return segs[0], segs[1], v.Major(), nil
}

func splitLast2(id string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			parts = append(parts, id[start:i])
			start = i + 1
		}
	}
	parts = append(parts, id[start:])
	if len(parts) < 3 {
		return parts
	}
	// Collapse any extra dots in the namespace back together so
	// "earth.flood.detailed.v1" still yields a 3-element split.
	namespace := parts[0]
	for _, p := range parts[1 : len(parts)-2] {
		namespace += "." + p
	}
	return []string{namespace, parts[len(parts)-2], parts[len(parts)-1]}
}

// Loader loads and caches ClaimType contracts from a directory of YAML
// files, by id, in the same LoadAll/LoadFile shape as policy.Loader.
type Loader struct {
	mu   sync.RWMutex
	dir  string
	byID map[string]ClaimType
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, byID: make(map[string]ClaimType)}
}

// LoadAll loads every *.yaml/*.yml contract file in the configured
// directory.
func (l *Loader) LoadAll() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("claimtype: read dir %s: %w", l.dir, err)
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
			return fmt.Errorf("claimtype: load %s: %w", e.Name(), err)
		}
	}
	return nil
}

// LoadFile loads a single contract file and caches it by id. The contract
// hash is computed here and stored in ContractHash; it is not part of the
// cache key, so a later file with the same id replaces the earlier entry.
func (l *Loader) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("claimtype: read %s: %w", path, err)
	}
	var ct ClaimType
	if err := yaml.Unmarshal(data, &ct); err != nil {
		return fmt.Errorf("claimtype: parse %s: %w", path, err)
	}
	ns, name, major, err := ParseID(ct.ID)
	if err != nil {
		return err
	}
	ct.Namespace, ct.Name, ct.Major = ns, name, major

	hash, err := ct.Hash()
	if err != nil {
		return fmt.Errorf("claimtype: hash %s: %w", ct.ID, err)
	}
	ct.ContractHash = hash

	l.mu.Lock()
	l.byID[ct.ID] = ct
	l.mu.Unlock()
	return nil
}

// Load returns a previously loaded ClaimType by id.
func (l *Loader) Load(id string) (ClaimType, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ct, ok := l.byID[id]
	return ct, ok
}
