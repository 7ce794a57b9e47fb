// Command truthmesh is the reference CLI for the truth-compiler and
// trust-engine core: it compiles truth states from observation files,
// appends signals to a file-backed log, replays standings, assembles
// trust snapshots, and verifies signed states. All domain logic lives in
// pkg/; this binary only wires files and flags to the pure core.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"  // Postgres driver for -persist backends
	_ "modernc.org/sqlite" // SQLite driver for -persist backends

	"github.com/truthmesh/core/pkg/claimtype"
	"github.com/truthmesh/core/pkg/compiler"
	"github.com/truthmesh/core/pkg/config"
	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/policy"
	"github.com/truthmesh/core/pkg/signal"
	"github.com/truthmesh/core/pkg/signing"
	"github.com/truthmesh/core/pkg/snapcache"
	sqlstore "github.com/truthmesh/core/pkg/store/sql"
	"github.com/truthmesh/core/pkg/temporal"
	"github.com/truthmesh/core/pkg/trustreducer"
	"github.com/truthmesh/core/pkg/trustsnapshot"
	"github.com/truthmesh/core/pkg/truthstate"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing: it dispatches subcommands and
// returns the process exit code. Exit codes are part of the public
// contract: 0 success, 1 operational failure, 2 usage error.
func Run(args []string, stdout, stderr io.Writer) int {
	logger := slog.Default().With("component", "cli", "invocation_id", uuid.NewString())

	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "compile":
		return runCompile(args[2:], logger, stdout, stderr)
	case "signal":
		return runSignal(args[2:], logger, stdout, stderr)
	case "standing":
		return runStanding(args[2:], stdout, stderr)
	case "snapshot":
		return runSnapshot(args[2:], stdout, stderr)
	case "verify":
		return runVerify(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: truthmesh <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  compile    compile a signed truth state from an observation file")
	fmt.Fprintln(w, "  signal     append a signal to the file-backed signal log")
	fmt.Fprintln(w, "  standing   replay the signal log and print an agent's standing")
	fmt.Fprintln(w, "  snapshot   assemble a frozen trust snapshot for a context")
	fmt.Fprintln(w, "  verify     verify the hashes and signature of a truth state file")
	fmt.Fprintln(w, "  help       print this help")
}

func newSigner(cfg *config.Config) (signing.Signer, error) {
	keyID := cfg.SigningKeyID
	if keyID == "" {
		keyID = "truthmesh-dev"
	}
	switch cfg.SignerBackend {
	case "", "local_hmac":
		secret := os.Getenv("TRUTHMESH_SIGNING_SECRET")
		if secret == "" {
			return nil, fmt.Errorf("TRUTHMESH_SIGNING_SECRET is required for the local_hmac backend")
		}
		return signing.NewHMACSigner([]byte(secret), keyID)
	case "ed25519":
		return signing.NewEd25519Signer(keyID)
	case "remote_kms":
		return signing.NewKMSSigner(signing.KMSConfig{URL: cfg.RemoteKMSURL, KeyID: keyID}), nil
	default:
		return nil, fmt.Errorf("unknown signer backend %q", cfg.SignerBackend)
	}
}

func runCompile(args []string, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	fs.SetOutput(stderr)
	contractsDir := fs.String("contracts", "./contracts", "directory of claim-contract YAML files")
	claimTypeID := fs.String("claim-type", "", "contract id, e.g. earth.flood.v1")
	key := fs.String("key", "", "truth key to compile")
	obsPath := fs.String("observations", "", "JSON file holding the observation array")
	policiesDir := fs.String("policies", "./policies", "directory of policy bundles")
	policyVersion := fs.String("policy-version", "", "policy version to reduce trust under")
	signalsPath := fs.String("signals", "./data/signals.jsonl", "signal log path")
	compileTimeStr := fs.String("compile-time", "", "explicit compile_time (UTC ISO-8601)")
	compilerVersion := fs.String("compiler-version", "0.1.0", "compiler version recorded in compile_inputs")
	windowOpen := fs.Bool("window-open", false, "validation window still open (intermediate statuses allowed)")
	persist := fs.Bool("persist", false, "persist observations and the signed state to the configured database")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *claimTypeID == "" || *key == "" || *obsPath == "" || *policyVersion == "" || *compileTimeStr == "" {
		fmt.Fprintln(stderr, "compile: -claim-type, -key, -observations, -policy-version and -compile-time are required")
		return 2
	}

	compileTime, err := temporal.ParseInstant(*compileTimeStr)
	if err != nil {
		fmt.Fprintf(stderr, "compile: %v\n", err)
		return 2
	}

	ctLoader := claimtype.NewLoader(*contractsDir)
	if err := ctLoader.LoadAll(); err != nil {
		fmt.Fprintf(stderr, "compile: %v\n", err)
		return 1
	}
	contract, ok := ctLoader.Load(*claimTypeID)
	if !ok {
		fmt.Fprintf(stderr, "compile: unknown claim type %s\n", *claimTypeID)
		return 1
	}

	pLoader := policy.NewLoader(*policiesDir)
	if err := pLoader.LoadAll(); err != nil {
		fmt.Fprintf(stderr, "compile: %v\n", err)
		return 1
	}
	pol, ok := pLoader.Load(*policyVersion)
	if !ok {
		fmt.Fprintf(stderr, "compile: unknown policy version %s\n", *policyVersion)
		return 1
	}

	raw, err := os.ReadFile(*obsPath)
	if err != nil {
		fmt.Fprintf(stderr, "compile: %v\n", err)
		return 1
	}
	var observations []observation.Observation
	if err := json.Unmarshal(raw, &observations); err != nil {
		fmt.Fprintf(stderr, "compile: decode observations: %v\n", err)
		return 1
	}

	store, err := signal.NewFileStore(*signalsPath, 0, 0)
	if err != nil {
		fmt.Fprintf(stderr, "compile: open signal log: %v\n", err)
		return 1
	}
	signals := store.GetAll()

	standings, err := trustreducer.Reduce(signals, pol, compileTime, trustreducer.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "compile: reduce: %v\n", err)
		return 1
	}

	agentIDs := make([]string, 0, len(observations))
	seen := map[string]bool{}
	for _, o := range observations {
		if !seen[o.ReporterID] {
			seen[o.ReporterID] = true
			agentIDs = append(agentIDs, o.ReporterID)
		}
	}

	graph, activity, grounding, isolatedSet := trustsnapshot.DeriveContext(signals, compileTime)
	snap, err := trustsnapshot.Compute(trustsnapshot.Input{
		ClaimType:        *claimTypeID,
		SnapshotTime:     compileTime,
		AgentIDs:         agentIDs,
		Standings:        standings,
		Policy:           pol,
		Graph:            graph,
		Activity:         activity,
		GroundingRelief:  grounding,
		IsolationFlagged: isolatedSet,
	})
	if err != nil {
		fmt.Fprintf(stderr, "compile: snapshot: %v\n", err)
		return 1
	}

	cfg := config.Load()
	signer, err := newSigner(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "compile: %v\n", err)
		return 1
	}
	defer func() { _ = signer.Close() }()

	state, cerr := compiler.CompileTruthState(compiler.Input{
		ClaimType:       contract,
		TruthKeyID:      *key,
		Observations:    observations,
		TrustSnapshot:   snap,
		PolicyVersion:   *policyVersion,
		CompilerVersion: *compilerVersion,
		CompileTime:     compileTime,
		WindowOpen:      *windowOpen,
		Signer:          signer,
	})
	if cerr != nil {
		payload, _ := json.MarshalIndent(cerr, "", "  ")
		fmt.Fprintln(stderr, string(payload))
		return 1
	}

	if *persist {
		if err := persistCompile(cfg, observations, *state); err != nil {
			fmt.Fprintf(stderr, "compile: persist: %v\n", err)
			return 1
		}
	}

	logger.Info("compiled truth state",
		"truth_key", state.TruthKey, "status", state.Status,
		"snapshot_hash", snap.SnapshotHash)
	out, _ := json.MarshalIndent(state, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}

// persistCompile writes the compile's inputs to Bronze and its signed
// output to Silver using the SQL medallion backend. Intermediate
// (unsigned) states are not persisted; sqlstore refuses them anyway.
func persistCompile(cfg *config.Config, observations []observation.Observation, state truthstate.TruthState) error {
	driver := "sqlite"
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") || strings.HasPrefix(cfg.DatabaseURL, "postgresql://") {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	store := sqlstore.New(db)
	if err := store.Init(ctx); err != nil {
		return err
	}
	bronze, silver, _ := store.Bind(ctx)
	for _, o := range observations {
		if err := bronze.Put(o); err != nil {
			return err
		}
	}
	// Intermediate states carry no signature and get no Silver entry.
	if state.Security == nil {
		return nil
	}
	return silver.Append(state)
}

func runSignal(args []string, logger *slog.Logger, stdout, stderr io.Writer) int {
	if len(args) < 1 || args[0] != "append" {
		fmt.Fprintln(stderr, "Usage: truthmesh signal append [flags]")
		return 2
	}
	fs := flag.NewFlagSet("signal append", flag.ContinueOnError)
	fs.SetOutput(stderr)
	signalsPath := fs.String("signals", "./data/signals.jsonl", "signal log path")
	sigType := fs.String("type", "", "signal type, e.g. VALIDATION_VOTE")
	agentID := fs.String("agent", "", "acting agent id")
	objectID := fs.String("object", "", "object the signal is about (truth key, agent id, ...)")
	timeStr := fs.String("time", "", "signal time (UTC ISO-8601)")
	payloadJSON := fs.String("payload", "{}", "payload JSON object")
	policyVersion := fs.String("policy-version", "", "policy version in effect")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	if *sigType == "" || *agentID == "" || *timeStr == "" {
		fmt.Fprintln(stderr, "signal append: -type, -agent and -time are required")
		return 2
	}

	when, err := temporal.ParseInstant(*timeStr)
	if err != nil {
		fmt.Fprintf(stderr, "signal append: %v\n", err)
		return 2
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
		fmt.Fprintf(stderr, "signal append: decode payload: %v\n", err)
		return 2
	}

	sealed, err := signal.Seal(signal.Signal{
		SignalType:    signal.Type(*sigType),
		Time:          when,
		AgentID:       *agentID,
		ObjectID:      *objectID,
		Payload:       payload,
		PolicyVersion: *policyVersion,
	})
	if err != nil {
		fmt.Fprintf(stderr, "signal append: %v\n", err)
		return 1
	}

	store, err := signal.NewFileStore(*signalsPath, 0, 0)
	if err != nil {
		fmt.Fprintf(stderr, "signal append: open signal log: %v\n", err)
		return 1
	}
	if err := store.Append(sealed); err != nil {
		fmt.Fprintf(stderr, "signal append: %v\n", err)
		return 1
	}

	logger.Info("signal appended", "signal_id", sealed.SignalID, "type", sealed.SignalType)
	fmt.Fprintln(stdout, sealed.SignalID)
	return 0
}

func runStanding(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("standing", flag.ContinueOnError)
	fs.SetOutput(stderr)
	signalsPath := fs.String("signals", "./data/signals.jsonl", "signal log path")
	policiesDir := fs.String("policies", "./policies", "directory of policy bundles")
	policyVersion := fs.String("policy-version", "", "policy version to reduce under")
	agentID := fs.String("agent", "", "agent id to report")
	asOfStr := fs.String("as-of", "", "as_of_time (UTC ISO-8601)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *policyVersion == "" || *agentID == "" || *asOfStr == "" {
		fmt.Fprintln(stderr, "standing: -policy-version, -agent and -as-of are required")
		return 2
	}

	asOf, err := temporal.ParseInstant(*asOfStr)
	if err != nil {
		fmt.Fprintf(stderr, "standing: %v\n", err)
		return 2
	}

	pLoader := policy.NewLoader(*policiesDir)
	if err := pLoader.LoadAll(); err != nil {
		fmt.Fprintf(stderr, "standing: %v\n", err)
		return 1
	}
	pol, ok := pLoader.Load(*policyVersion)
	if !ok {
		fmt.Fprintf(stderr, "standing: unknown policy version %s\n", *policyVersion)
		return 1
	}

	store, err := signal.NewFileStore(*signalsPath, 0, 0)
	if err != nil {
		fmt.Fprintf(stderr, "standing: open signal log: %v\n", err)
		return 1
	}

	standings, err := trustreducer.Reduce(store.GetAll(), pol, asOf, trustreducer.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "standing: %v\n", err)
		return 1
	}

	st, ok := standings[*agentID]
	value := pol.InitialStanding
	if ok {
		value = st.Value
	}
	out, _ := json.Marshal(map[string]interface{}{
		"agent_id": *agentID,
		"as_of":    temporal.FormatInstant(asOf),
		"standing": value,
		"phase":    pol.PhaseOf(value),
	})
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runSnapshot(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(stderr)
	signalsPath := fs.String("signals", "./data/signals.jsonl", "signal log path")
	policiesDir := fs.String("policies", "./policies", "directory of policy bundles")
	policyVersion := fs.String("policy-version", "", "policy version to reduce under")
	claimTypeID := fs.String("claim-type", "", "context claim type")
	agentsCSV := fs.String("agents", "", "comma-separated agent ids")
	atStr := fs.String("at", "", "snapshot_time (UTC ISO-8601)")
	redisAddr := fs.String("redis", config.Load().RedisURL, "optional Redis address for snapshot caching")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *policyVersion == "" || *claimTypeID == "" || *agentsCSV == "" || *atStr == "" {
		fmt.Fprintln(stderr, "snapshot: -policy-version, -claim-type, -agents and -at are required")
		return 2
	}

	at, err := temporal.ParseInstant(*atStr)
	if err != nil {
		fmt.Fprintf(stderr, "snapshot: %v\n", err)
		return 2
	}

	pLoader := policy.NewLoader(*policiesDir)
	if err := pLoader.LoadAll(); err != nil {
		fmt.Fprintf(stderr, "snapshot: %v\n", err)
		return 1
	}
	pol, ok := pLoader.Load(*policyVersion)
	if !ok {
		fmt.Fprintf(stderr, "snapshot: unknown policy version %s\n", *policyVersion)
		return 1
	}

	store, err := signal.NewFileStore(*signalsPath, 0, 0)
	if err != nil {
		fmt.Fprintf(stderr, "snapshot: open signal log: %v\n", err)
		return 1
	}
	signals := store.GetAll()

	standings, err := trustreducer.Reduce(signals, pol, at, trustreducer.Options{})
	if err != nil {
		fmt.Fprintf(stderr, "snapshot: %v\n", err)
		return 1
	}

	graph, activity, grounding, isolatedSet := trustsnapshot.DeriveContext(signals, at)
	input := trustsnapshot.Input{
		ClaimType:        *claimTypeID,
		SnapshotTime:     at,
		AgentIDs:         strings.Split(*agentsCSV, ","),
		Standings:        standings,
		Policy:           pol,
		Graph:            graph,
		Activity:         activity,
		GroundingRelief:  grounding,
		IsolationFlagged: isolatedSet,
	}

	// With a Redis address configured, repeated snapshot queries for the
	// same context are served from the cache; any miss or outage falls
	// through to a full recomputation.
	var snap trustsnapshot.TrustSnapshot
	if *redisAddr != "" {
		cache := snapcache.New(*redisAddr, "", 0, 10*time.Minute)
		defer func() { _ = cache.Close() }()
		snap, err = cache.ComputeCached(context.Background(), input)
	} else {
		snap, err = trustsnapshot.Compute(input)
	}
	if err != nil {
		fmt.Fprintf(stderr, "snapshot: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(snap, "", "  ")
	fmt.Fprintln(stdout, string(out))
	return 0
}

func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	statePath := fs.String("state", "", "truth state JSON file to verify")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *statePath == "" {
		fmt.Fprintln(stderr, "verify: -state is required")
		return 2
	}

	raw, err := os.ReadFile(*statePath)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	var state truthstate.TruthState
	if err := json.Unmarshal(raw, &state); err != nil {
		fmt.Fprintf(stderr, "verify: decode state: %v\n", err)
		return 1
	}
	if state.Security == nil {
		fmt.Fprintln(stderr, "verify: state carries no security block")
		return 1
	}

	semantic, err := compiler.SemanticHash(state)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}
	stateHash, err := compiler.StateHash(state)
	if err != nil {
		fmt.Fprintf(stderr, "verify: %v\n", err)
		return 1
	}

	semanticOK := semantic == state.Security.SemanticHash
	stateOK := stateHash == state.Security.StateHash

	signatureOK := false
	if stateOK && state.Security.SigningMethod == string(signing.MethodLocalHMAC) {
		secret := os.Getenv("TRUTHMESH_SIGNING_SECRET")
		if secret != "" {
			verifier := signing.NewHMACVerifier()
			if err := verifier.Trust([]byte(secret), state.Security.KeyID); err == nil {
				signatureOK, _ = verifier.Verify(
					[]byte(state.Security.StateHash),
					state.Security.Signature,
					state.Security.KeyID,
					signing.MethodLocalHMAC,
				)
			}
		}
	}

	out, _ := json.Marshal(map[string]interface{}{
		"truth_key":        state.TruthKey,
		"semantic_hash_ok": semanticOK,
		"state_hash_ok":    stateOK,
		"signature_ok":     signatureOK,
		"signed_at":        state.Security.SignedAt.UTC().Format(time.RFC3339),
	})
	fmt.Fprintln(stdout, string(out))

	if !semanticOK || !stateOK {
		return 1
	}
	return 0
}
