// Package medallion implements the Bronze/Silver/Gold persistence
// model: Bronze holds raw observations and evidence, Silver holds every
// signed TruthState ever produced (append-only, keyed by
// (truth_key, compile_time)), and Gold projects Silver down to the
// latest TruthState per truth_key, ties broken on state_hash.
package medallion

import (
	"fmt"
	"sort"
	"sync"

	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/truthstate"
)

// Bronze is the append-only store of raw observations and their evidence.
// Observations are never mutated or deleted once admitted.
type Bronze interface {
	Put(o observation.Observation) error
	Get(id string) (observation.Observation, bool)
	All() []observation.Observation
}

// Silver is the append-only store of every signed TruthState ever
// produced. Invariant: at most one TruthState may exist per
// (truth_key, compile_time) pair — a second compile at the same instant
// is a caller bug, not a Silver-layer concern to silently absorb.
type Silver interface {
	Append(ts truthstate.TruthState) error
	Get(truthKey string, compileTime string) (truthstate.TruthState, bool)
	History(truthKey string) []truthstate.TruthState
}

// Gold is the latest-by-compile_time projection of Silver, one entry per
// truth_key. Ties at the same compile_time break on state_hash,
// lexicographically largest wins, for a total deterministic order.
type Gold interface {
	Latest(truthKey string) (truthstate.TruthState, bool)
	All() []truthstate.TruthState
}

// MemoryBronze is an in-process Bronze layer backed by a map, suitable
// for tests and single-process deployments.
type MemoryBronze struct {
	mu   sync.RWMutex
	byID map[string]observation.Observation
}

func NewMemoryBronze() *MemoryBronze {
	return &MemoryBronze{byID: make(map[string]observation.Observation)}
}

func (b *MemoryBronze) Put(o observation.Observation) error {
	if o.ID == "" {
		return fmt.Errorf("medallion: observation has empty id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.byID[o.ID]; ok {
		eh, err1 := existing.Hash()
		nh, err2 := o.Hash()
		if err1 == nil && err2 == nil && eh != nh {
			return fmt.Errorf("medallion: observation %s already exists with a different hash", o.ID)
		}
		return nil
	}
	b.byID[o.ID] = o
	return nil
}

func (b *MemoryBronze) Get(id string) (observation.Observation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.byID[id]
	return o, ok
}

func (b *MemoryBronze) All() []observation.Observation {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]observation.Observation, 0, len(b.byID))
	for _, o := range b.byID {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type silverKey struct {
	truthKey    string
	compileTime string
}

// MemorySilver is an in-process, append-only Silver layer.
type MemorySilver struct {
	mu      sync.RWMutex
	entries map[silverKey]truthstate.TruthState
	byKey   map[string][]silverKey
}

func NewMemorySilver() *MemorySilver {
	return &MemorySilver{
		entries: make(map[silverKey]truthstate.TruthState),
		byKey:   make(map[string][]silverKey),
	}
}

// Append adds a signed TruthState to Silver. The caller must have already
// signed the state; Append only enforces the one-per-(truth_key,
// compile_time) invariant and never mutates an existing entry.
func (s *MemorySilver) Append(ts truthstate.TruthState) error {
	if ts.Security == nil {
		return fmt.Errorf("medallion: refusing to persist unsigned truth state for %s", ts.TruthKey)
	}
	ct := ts.CompileInputs.CompileTime.UTC().Format("2006-01-02T15:04:05.000000Z")
	key := silverKey{truthKey: ts.TruthKey, compileTime: ct}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[key]; ok {
		if existing.Security.StateHash != ts.Security.StateHash {
			return fmt.Errorf("medallion: silver already has a different truth state for %s at %s", ts.TruthKey, ct)
		}
		return nil
	}
	s.entries[key] = ts
	s.byKey[ts.TruthKey] = append(s.byKey[ts.TruthKey], key)
	return nil
}

func (s *MemorySilver) Get(truthKey, compileTime string) (truthstate.TruthState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.entries[silverKey{truthKey: truthKey, compileTime: compileTime}]
	return ts, ok
}

func (s *MemorySilver) History(truthKey string) []truthstate.TruthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := append([]silverKey(nil), s.byKey[truthKey]...)
	sort.Slice(keys, func(i, j int) bool { return keys[i].compileTime < keys[j].compileTime })
	out := make([]truthstate.TruthState, len(keys))
	for i, k := range keys {
		out[i] = s.entries[k]
	}
	return out
}

// MemoryGold is an in-process Gold projection maintained incrementally as
// Silver entries arrive: Store.Persist folds each appended state in via
// Observe. Observe is the only way Gold is updated; it is not rebuilt
// from an existing Silver layer.
type MemoryGold struct {
	mu     sync.RWMutex
	latest map[string]truthstate.TruthState
}

func NewMemoryGold() *MemoryGold {
	return &MemoryGold{latest: make(map[string]truthstate.TruthState)}
}

// Observe updates Gold's latest-for-truth_key projection with ts,
// applying the (compile_time, state_hash) tiebreak rule. Call this once
// per Silver.Append to keep Gold current incrementally.
func (g *MemoryGold) Observe(ts truthstate.TruthState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cur, ok := g.latest[ts.TruthKey]
	if !ok || isNewer(ts, cur) {
		g.latest[ts.TruthKey] = ts
	}
}

func isNewer(candidate, current truthstate.TruthState) bool {
	ct, cc := candidate.CompileInputs.CompileTime, current.CompileInputs.CompileTime
	if ct.After(cc) {
		return true
	}
	if ct.Before(cc) {
		return false
	}
	ch, cur := "", ""
	if candidate.Security != nil {
		ch = candidate.Security.StateHash
	}
	if current.Security != nil {
		cur = current.Security.StateHash
	}
	return ch > cur
}

func (g *MemoryGold) Latest(truthKey string) (truthstate.TruthState, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ts, ok := g.latest[truthKey]
	return ts, ok
}

func (g *MemoryGold) All() []truthstate.TruthState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]truthstate.TruthState, 0, len(g.latest))
	for _, ts := range g.latest {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TruthKey < out[j].TruthKey })
	return out
}

// Store bundles the three layers behind the single entry point most
// callers need: persist a freshly-compiled TruthState to Silver and
// refresh Gold in one call.
type Store struct {
	Bronze Bronze
	Silver Silver
	Gold   *MemoryGold
}

// NewMemoryStore wires in-memory Bronze/Silver/Gold layers together.
func NewMemoryStore() *Store {
	return &Store{
		Bronze: NewMemoryBronze(),
		Silver: NewMemorySilver(),
		Gold:   NewMemoryGold(),
	}
}

// Persist appends ts to Silver and, on success, folds it into Gold.
func (s *Store) Persist(ts truthstate.TruthState) error {
	if err := s.Silver.Append(ts); err != nil {
		return err
	}
	s.Gold.Observe(ts)
	return nil
}
