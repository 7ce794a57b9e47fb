package trustsnapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/signal"
)

func sealedSignal(t *testing.T, s signal.Signal) signal.Signal {
	t.Helper()
	out, err := signal.Seal(s)
	require.NoError(t, err)
	return out
}

func TestDeriveContext_VouchesBecomeEdges(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	signals := []signal.Signal{
		sealedSignal(t, signal.Signal{
			SignalType: signal.TypeVouch,
			Time:       at.Add(-time.Hour),
			AgentID:    "agent-a",
			ObjectID:   "agent-b",
			Payload:    map[string]interface{}{},
		}),
	}

	graph, _, _, _ := DeriveContext(signals, at)
	vouches := graph.InboundVouches("agent-b")
	require.Len(t, vouches, 1)
	require.Equal(t, "agent-a", vouches[0].Source)

	internal, external := graph.CollabCounts("agent-a")
	require.Equal(t, 1, internal)
	require.Equal(t, 0, external)
}

func TestDeriveContext_ExternalCollabFromPayload(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	signals := []signal.Signal{
		sealedSignal(t, signal.Signal{
			SignalType: signal.TypeVouch,
			Time:       at.Add(-time.Hour),
			AgentID:    "agent-a",
			ObjectID:   "agent-z",
			Payload:    map[string]interface{}{"external": true},
		}),
	}

	graph, _, _, _ := DeriveContext(signals, at)
	internal, external := graph.CollabCounts("agent-a")
	require.Equal(t, 0, internal)
	require.Equal(t, 1, external)
}

func TestDeriveContext_IgnoresSignalsAfterSnapshotTime(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	signals := []signal.Signal{
		sealedSignal(t, signal.Signal{
			SignalType: signal.TypeVouch,
			Time:       at.Add(time.Minute), // late arrival
			AgentID:    "agent-a",
			ObjectID:   "agent-b",
			Payload:    map[string]interface{}{},
		}),
	}

	graph, activity, _, _ := DeriveContext(signals, at)
	require.Empty(t, graph.InboundVouches("agent-b"))
	require.Empty(t, activity)
}

func TestDeriveContext_SquadMembershipIsInternalCollab(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	var signals []signal.Signal
	for _, agent := range []string{"ring-1", "ring-2", "ring-3"} {
		signals = append(signals, sealedSignal(t, signal.Signal{
			SignalType: signal.TypeMemberOf,
			Time:       at.Add(-2 * time.Hour),
			AgentID:    agent,
			ObjectID:   "squad-x",
			Payload:    map[string]interface{}{},
		}))
	}

	graph, _, _, _ := DeriveContext(signals, at)
	internal, external := graph.CollabCounts("ring-1")
	require.Equal(t, 2, internal)
	require.Equal(t, 0, external)
}

func TestDeriveContext_IsolationFlagAndGrounding(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	signals := []signal.Signal{
		sealedSignal(t, signal.Signal{
			SignalType: signal.TypeIsolationFlag,
			Time:       at.Add(-time.Hour),
			AgentID:    "policy:v1.0",
			ObjectID:   "ring-1",
			Payload:    map[string]interface{}{},
		}),
		sealedSignal(t, signal.Signal{
			SignalType: signal.TypeTruthVerified,
			Time:       at.Add(-time.Hour),
			AgentID:    "compiler",
			ObjectID:   "earth:flood:h3:abc:0:2026-01-07T11:00Z",
			Payload: map[string]interface{}{
				"grounded_by": "sensor:gauge-17",
				"contributors": []interface{}{
					map[string]interface{}{"agent_id": "agent-a", "outcome": "correct"},
				},
			},
		}),
	}

	_, _, grounding, isolated := DeriveContext(signals, at)
	require.True(t, isolated["ring-1"])
	require.True(t, grounding["agent-a"])
	require.False(t, grounding["ring-1"])
}

// A ring that only vouches internally ends up isolation-penalized once
// its derived graph flows into Compute, while an agent with external
// collaboration does not.
func TestDeriveContext_FeedsIsolationPenaltyIntoCompute(t *testing.T) {
	at := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	ring := []string{"ring-1", "ring-2", "ring-3", "ring-4"}
	var signals []signal.Signal
	for i, a := range ring {
		b := ring[(i+1)%len(ring)]
		signals = append(signals, sealedSignal(t, signal.Signal{
			SignalType: signal.TypeVouch,
			Time:       at.Add(-time.Hour),
			AgentID:    a,
			ObjectID:   b,
			Payload:    map[string]interface{}{},
		}))
	}
	signals = append(signals, sealedSignal(t, signal.Signal{
		SignalType: signal.TypeVouch,
		Time:       at.Add(-time.Hour),
		AgentID:    "honest-1",
		ObjectID:   "sensor:gauge-17",
		Payload:    map[string]interface{}{"external": true},
	}))

	graph, activity, grounding, isolated := DeriveContext(signals, at)
	snap, err := Compute(Input{
		ClaimType:        "earth.flood.v1",
		SnapshotTime:     at,
		AgentIDs:         append(append([]string{}, ring...), "honest-1"),
		Policy:           basePolicy(),
		Graph:            graph,
		Activity:         activity,
		GroundingRelief:  grounding,
		IsolationFlagged: isolated,
	})
	require.NoError(t, err)

	require.Less(t,
		snap.EffectivePower("ring-1"),
		snap.EffectivePower("honest-1"),
		"internal-only vouching must cost effective power")
}
