// Package config provides environment-variable configuration for an
// orchestrator embedding the core.
package config

import "os"

// Config holds orchestrator configuration: where claim contracts and
// policy bundles live, which signal store and signer backend to use, and
// where to ship telemetry.
type Config struct {
	LogLevel        string
	DatabaseURL     string
	SignalStorePath string
	ClaimTypeDir    string
	PolicyDir       string
	SignerBackend   string // "local_hmac" | "remote_kms" | "ed25519"
	SigningKeyID    string
	RemoteKMSURL    string
	OTLPEndpoint    string
	RedisURL        string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://truthmesh@localhost:5433/truthmesh?sslmode=disable"
	}

	signalStorePath := os.Getenv("SIGNAL_STORE_PATH")
	if signalStorePath == "" {
		signalStorePath = "./data/signals.jsonl"
	}

	claimTypeDir := os.Getenv("CLAIM_TYPE_DIR")
	if claimTypeDir == "" {
		claimTypeDir = "./contracts"
	}

	policyDir := os.Getenv("POLICY_DIR")
	if policyDir == "" {
		policyDir = "./policies"
	}

	signerBackend := os.Getenv("SIGNER_BACKEND")
	if signerBackend == "" {
		signerBackend = "local_hmac"
	}

	return &Config{
		LogLevel:        logLevel,
		DatabaseURL:     dbURL,
		SignalStorePath: signalStorePath,
		ClaimTypeDir:    claimTypeDir,
		PolicyDir:       policyDir,
		SignerBackend:   signerBackend,
		SigningKeyID:    os.Getenv("SIGNING_KEY_ID"),
		RemoteKMSURL:    os.Getenv("REMOTE_KMS_URL"),
		OTLPEndpoint:    os.Getenv("OTLP_ENDPOINT"),
		RedisURL:        os.Getenv("REDIS_URL"),
	}
}
