package medallion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/truthstate"
)

func sampleObs(id string) observation.Observation {
	return observation.Observation{
		ID:         id,
		ClaimType:  "earth.flood.v1",
		ReportedAt: time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC),
		ReporterID: "agent-1",
		Payload:    map[string]interface{}{"water_level_m": 1.2},
	}
}

func sampleState(truthKey string, compileTime time.Time, stateHash string) truthstate.TruthState {
	return truthstate.TruthState{
		TruthKey:   truthKey,
		ClaimType:  "earth.flood.v1",
		Status:     truthstate.StatusVerifiedTrue,
		Confidence: 0.9,
		CompileInputs: truthstate.CompileInputs{
			CompileTime: compileTime,
		},
		Security: &truthstate.Security{
			StateHash: stateHash,
		},
	}
}

func TestBronze_PutGetIdempotent(t *testing.T) {
	b := NewMemoryBronze()
	require.NoError(t, b.Put(sampleObs("obs-1")))
	require.NoError(t, b.Put(sampleObs("obs-1")))

	got, ok := b.Get("obs-1")
	require.True(t, ok)
	require.Equal(t, "obs-1", got.ID)
}

func TestBronze_RejectsConflictingRewrite(t *testing.T) {
	b := NewMemoryBronze()
	o := sampleObs("obs-1")
	require.NoError(t, b.Put(o))

	o2 := o
	o2.Payload = map[string]interface{}{"water_level_m": 9.9}
	require.Error(t, b.Put(o2))
}

func TestSilver_RejectsUnsigned(t *testing.T) {
	s := NewMemorySilver()
	ts := sampleState("tk-1", time.Now().UTC(), "hash-a")
	ts.Security = nil
	require.Error(t, s.Append(ts))
}

func TestSilver_OnePerTruthKeyAndCompileTime(t *testing.T) {
	s := NewMemorySilver()
	ct := time.Date(2026, 1, 7, 12, 0, 0, 0, time.UTC)
	ts1 := sampleState("tk-1", ct, "hash-a")
	require.NoError(t, s.Append(ts1))
	require.NoError(t, s.Append(ts1)) // identical re-append is a no-op

	ts2 := sampleState("tk-1", ct, "hash-b")
	require.Error(t, s.Append(ts2))
}

func TestSilver_History_SortedByCompileTime(t *testing.T) {
	s := NewMemorySilver()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	require.NoError(t, s.Append(sampleState("tk-1", t1, "hash-2")))
	require.NoError(t, s.Append(sampleState("tk-1", t0, "hash-1")))

	hist := s.History("tk-1")
	require.Len(t, hist, 2)
	require.Equal(t, "hash-1", hist[0].Security.StateHash)
	require.Equal(t, "hash-2", hist[1].Security.StateHash)
}

func TestGold_LatestByCompileTime(t *testing.T) {
	g := NewMemoryGold()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	g.Observe(sampleState("tk-1", t0, "hash-1"))
	g.Observe(sampleState("tk-1", t1, "hash-2"))

	latest, ok := g.Latest("tk-1")
	require.True(t, ok)
	require.Equal(t, "hash-2", latest.Security.StateHash)
}

func TestGold_TiebreakOnStateHash(t *testing.T) {
	g := NewMemoryGold()
	ct := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	g.Observe(sampleState("tk-1", ct, "hash-a"))
	g.Observe(sampleState("tk-1", ct, "hash-z"))

	latest, ok := g.Latest("tk-1")
	require.True(t, ok)
	require.Equal(t, "hash-z", latest.Security.StateHash)
}

func TestStore_PersistUpdatesGold(t *testing.T) {
	store := NewMemoryStore()
	ts := sampleState("tk-1", time.Now().UTC(), "hash-a")
	require.NoError(t, store.Persist(ts))

	latest, ok := store.Gold.Latest("tk-1")
	require.True(t, ok)
	require.Equal(t, "hash-a", latest.Security.StateHash)
}
