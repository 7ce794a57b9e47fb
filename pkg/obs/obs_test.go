package obs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "truthmesh-core", cfg.ServiceName)
	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.True(t, cfg.Enabled)
	require.True(t, cfg.Insecure)
}

func TestNew_DisabledIsInert(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Logger())

	// Every tracking helper must be a safe no-op without providers.
	ctx2, done := p.TrackCompile(ctx, "earth:flood:h3:abc:0:2026-01-07T12:00Z", "earth.flood.v1")
	require.NotNil(t, ctx2)
	done(nil)
	done2 := p.TrackReduce(ctx, 100)
	done2()
	done3 := p.TrackSnapshot(ctx, 10)
	done3()

	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackCompile_RecordsErrorWithoutPanic(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, Config{Enabled: false})
	require.NoError(t, err)

	_, done := p.TrackCompile(ctx, "earth:flood:h3:abc:0:2026-01-07T12:00Z", "earth.flood.v1")
	done(errors.New("schema_violation"))
}
