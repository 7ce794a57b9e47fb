package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"LOG_LEVEL", "DATABASE_URL", "SIGNAL_STORE_PATH", "CLAIM_TYPE_DIR",
		"POLICY_DIR", "SIGNER_BACKEND", "SIGNING_KEY_ID", "REMOTE_KMS_URL",
		"OTLP_ENDPOINT", "REDIS_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.Equal(t, "INFO", cfg.LogLevel)
	require.Equal(t, "./data/signals.jsonl", cfg.SignalStorePath)
	require.Equal(t, "./contracts", cfg.ClaimTypeDir)
	require.Equal(t, "./policies", cfg.PolicyDir)
	require.Equal(t, "local_hmac", cfg.SignerBackend)
	require.Empty(t, cfg.SigningKeyID)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("SIGNER_BACKEND", "ed25519")
	t.Setenv("SIGNING_KEY_ID", "prod-key-7")
	t.Setenv("POLICY_DIR", "/etc/truthmesh/policies")

	cfg := Load()
	require.Equal(t, "DEBUG", cfg.LogLevel)
	require.Equal(t, "ed25519", cfg.SignerBackend)
	require.Equal(t, "prod-key-7", cfg.SigningKeyID)
	require.Equal(t, "/etc/truthmesh/policies", cfg.PolicyDir)
}
