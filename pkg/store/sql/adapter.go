package sqlstore

import (
	"context"

	"github.com/truthmesh/core/pkg/medallion"
	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/truthstate"
)

// Bind adapts the store to the medallion interfaces under a caller-owned
// context, so orchestrators wired against medallion.Bronze/Silver/Gold
// can swap the in-memory layers for this backend without code changes.
// Errors the interface signatures cannot carry (Gold/Bronze lookups
// return bool, not error) degrade to a miss.
func (s *Store) Bind(ctx context.Context) (medallion.Bronze, medallion.Silver, medallion.Gold) {
	return &bronzeAdapter{ctx: ctx, s: s}, &silverAdapter{ctx: ctx, s: s}, &goldAdapter{ctx: ctx, s: s}
}

type bronzeAdapter struct {
	ctx context.Context
	s   *Store
}

func (b *bronzeAdapter) Put(o observation.Observation) error {
	return b.s.PutObservation(b.ctx, o)
}

func (b *bronzeAdapter) Get(id string) (observation.Observation, bool) {
	o, err := b.s.GetObservation(b.ctx, id)
	return o, err == nil
}

func (b *bronzeAdapter) All() []observation.Observation {
	out, err := b.s.AllObservations(b.ctx)
	if err != nil {
		return nil
	}
	return out
}

type silverAdapter struct {
	ctx context.Context
	s   *Store
}

func (a *silverAdapter) Append(ts truthstate.TruthState) error {
	return a.s.AppendState(a.ctx, ts)
}

func (a *silverAdapter) Get(truthKey, compileTime string) (truthstate.TruthState, bool) {
	ts, err := a.s.GetState(a.ctx, truthKey, compileTime)
	return ts, err == nil
}

func (a *silverAdapter) History(truthKey string) []truthstate.TruthState {
	out, err := a.s.History(a.ctx, truthKey)
	if err != nil {
		return nil
	}
	return out
}

type goldAdapter struct {
	ctx context.Context
	s   *Store
}

func (g *goldAdapter) Latest(truthKey string) (truthstate.TruthState, bool) {
	ts, err := g.s.Latest(g.ctx, truthKey)
	return ts, err == nil
}

func (g *goldAdapter) All() []truthstate.TruthState {
	rows, err := g.s.db.QueryContext(g.ctx, `SELECT DISTINCT truth_key FROM truth_states ORDER BY truth_key`)
	if err != nil {
		return nil
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil
		}
		keys = append(keys, k)
	}
	if rows.Err() != nil {
		return nil
	}

	var out []truthstate.TruthState
	for _, k := range keys {
		if ts, ok := g.Latest(k); ok {
			out = append(out, ts)
		}
	}
	return out
}
