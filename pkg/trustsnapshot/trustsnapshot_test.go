package trustsnapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/policy"
	"github.com/truthmesh/core/pkg/trustreducer"
)

func basePolicy() policy.Policy {
	return policy.Policy{
		Version:         "v1.0",
		InitialStanding: 500,
		MinStanding:     0,
		MaxStanding:     1000,
		BoundedK:        500,
		GroundingRelief: 0.5,
		Phases:          policy.PhaseThresholds{Theta1: 300, Theta2: 700},
	}
}

func TestCompute_DeterministicHash(t *testing.T) {
	p := basePolicy()
	standings := map[string]trustreducer.Standing{
		"agent-1": {AgentID: "agent-1", Value: 800},
		"agent-2": {AgentID: "agent-2", Value: 200},
	}
	in := Input{
		ClaimType:    "earth.flood.v1",
		SnapshotTime: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		AgentIDs:     []string{"agent-1", "agent-2"},
		Standings:    standings,
		Policy:       p,
	}
	a, err := Compute(in)
	require.NoError(t, err)
	b, err := Compute(in)
	require.NoError(t, err)
	require.Equal(t, a.SnapshotHash, b.SnapshotHash)
}

func TestCompute_PolicyChangeYieldsDifferentHash(t *testing.T) {
	p1 := basePolicy()
	p2 := basePolicy()
	p2.Phases.Theta2 = 600

	standings := map[string]trustreducer.Standing{"agent-1": {AgentID: "agent-1", Value: 800}}
	in1 := Input{SnapshotTime: time.Now().UTC(), AgentIDs: []string{"agent-1"}, Standings: standings, Policy: p1}
	in2 := Input{SnapshotTime: in1.SnapshotTime, AgentIDs: []string{"agent-1"}, Standings: standings, Policy: p2}

	a, err := Compute(in1)
	require.NoError(t, err)
	b, err := Compute(in2)
	require.NoError(t, err)
	require.NotEqual(t, a.SnapshotHash, b.SnapshotHash)
}

func TestCompute_NewAgentDefaultsToInitialStanding(t *testing.T) {
	p := basePolicy()
	in := Input{
		SnapshotTime: time.Now().UTC(),
		AgentIDs:     []string{"agent-unknown"},
		Standings:    nil,
		Policy:       p,
	}
	snap, err := Compute(in)
	require.NoError(t, err)
	require.Equal(t, p.InitialStanding, snap.Standing("agent-unknown"))
}

func TestCompute_IsolationPenaltyLowersEffectivePower(t *testing.T) {
	p := basePolicy()
	standings := map[string]trustreducer.Standing{
		"isolated": {AgentID: "isolated", Value: 800},
		"open":     {AgentID: "open", Value: 800},
	}
	var edges []Edge
	for i := 0; i < 10; i++ {
		edges = append(edges, Edge{Source: "isolated", Type: EdgeCollabInternal, Target: "ring-member"})
	}
	edges = append(edges, Edge{Source: "open", Type: EdgeCollabExternal, Target: "outsider"})
	edges = append(edges, Edge{Source: "open", Type: EdgeCollabInternal, Target: "colleague"})
	graph := NewGraph(edges)

	in := Input{
		SnapshotTime: time.Now().UTC(),
		AgentIDs:     []string{"isolated", "open"},
		Standings:    standings,
		Policy:       p,
		Graph:        graph,
	}
	snap, err := Compute(in)
	require.NoError(t, err)
	require.Less(t, snap.EffectivePower("isolated"), snap.EffectivePower("open"))
	require.Contains(t, snap.AgentTrusts["isolated"].Flags, "isolation_flag")
}

func TestCompute_NetworkBonusCappedAt1_1x(t *testing.T) {
	p := basePolicy()
	standings := map[string]trustreducer.Standing{
		"target": {AgentID: "target", Value: 500},
	}
	var edges []Edge
	for i := 0; i < 5; i++ {
		voucher := string(rune('a' + i))
		standings[voucher] = trustreducer.Standing{AgentID: voucher, Value: 900}
		edges = append(edges, Edge{Source: voucher, Type: EdgeVouch, Target: "target"})
	}
	graph := NewGraph(edges)

	in := Input{SnapshotTime: time.Now().UTC(), AgentIDs: []string{"target"}, Standings: standings, Policy: p, Graph: graph}
	snap, err := Compute(in)
	require.NoError(t, err)
	require.LessOrEqual(t, snap.AgentTrusts["target"].ContextModifiers.NetworkPosition, 1.1)
}

func TestCompute_CycleSafeVouchTraversal(t *testing.T) {
	p := basePolicy()
	standings := map[string]trustreducer.Standing{
		"a": {AgentID: "a", Value: 900},
		"b": {AgentID: "b", Value: 900},
	}
	graph := NewGraph([]Edge{
		{Source: "a", Type: EdgeVouch, Target: "b"},
		{Source: "b", Type: EdgeVouch, Target: "a"},
	})
	in := Input{SnapshotTime: time.Now().UTC(), AgentIDs: []string{"a", "b"}, Standings: standings, Policy: p, Graph: graph}

	done := make(chan struct{})
	go func() {
		_, err := Compute(in)
		require.NoError(t, err)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Compute did not terminate on a cyclic vouch graph")
	}
}

func TestEffectivePower_UnknownAgentReturnsZero(t *testing.T) {
	var snap TrustSnapshot
	require.Equal(t, float64(0), snap.EffectivePower("nobody"))
}
