package snapcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/policy"
	"github.com/truthmesh/core/pkg/trustsnapshot"
)

func snapshotInput() trustsnapshot.Input {
	return trustsnapshot.Input{
		ClaimType:    "earth.flood.v1",
		SnapshotTime: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		AgentIDs:     []string{"agent-1", "agent-2"},
		Policy: policy.Policy{
			Version:         "v1.0",
			InitialStanding: 500,
			MinStanding:     0,
			MaxStanding:     1000,
			Phases:          policy.PhaseThresholds{Theta1: 300, Theta2: 700},
		},
	}
}

func TestKey_DeterministicPerContext(t *testing.T) {
	c := New("127.0.0.1:1", "", 0, time.Minute)
	defer func() { _ = c.Close() }()

	in := snapshotInput()
	k1 := c.key(in.ClaimType, in.AgentIDs, in.SnapshotTime)
	k2 := c.key(in.ClaimType, in.AgentIDs, in.SnapshotTime)
	require.Equal(t, k1, k2)

	k3 := c.key(in.ClaimType, in.AgentIDs, in.SnapshotTime.Add(time.Hour))
	require.NotEqual(t, k1, k3)
}

// With no Redis listening, every Get is a miss and every Put fails
// silently; ComputeCached must still return exactly what a direct
// Compute returns. This is the cache-only guarantee: Redis being down
// can cost latency, never correctness.
func TestComputeCached_FallsThroughWhenRedisUnavailable(t *testing.T) {
	c := New("127.0.0.1:1", "", 0, time.Minute)
	defer func() { _ = c.Close() }()

	in := snapshotInput()
	got, err := c.ComputeCached(context.Background(), in)
	require.NoError(t, err)

	want, err := trustsnapshot.Compute(in)
	require.NoError(t, err)
	require.Equal(t, want.SnapshotHash, got.SnapshotHash)
	require.Equal(t, want.AgentTrusts, got.AgentTrusts)
}

func TestGet_MissWhenRedisUnavailable(t *testing.T) {
	c := New("127.0.0.1:1", "", 0, time.Minute)
	defer func() { _ = c.Close() }()

	in := snapshotInput()
	_, ok := c.Get(context.Background(), in.ClaimType, in.AgentIDs, in.SnapshotTime)
	require.False(t, ok)
}
