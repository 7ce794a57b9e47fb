// Package sqlstore provides a database-backed implementation of the
// medallion layers: Bronze rows hold raw observations, Silver rows hold
// every signed TruthState keyed by (truth_key, compile_time), and Gold is
// a query-time projection of Silver (latest compile_time, state_hash
// tiebreak) rather than a separate table, so it can never drift from the
// history it is derived from.
//
// It supports both Postgres and SQLite via standard drivers; callers
// register the driver (lib/pq or modernc.org/sqlite) and hand Open's
// *sql.DB to New. Rows carry the full canonical JSON body plus the
// indexed columns queries need.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/truthmesh/core/pkg/observation"
	"github.com/truthmesh/core/pkg/truthstate"
)

// ErrNotFound is returned when a Get misses.
var ErrNotFound = errors.New("sqlstore: not found")

// compileTimeLayout matches the in-memory Silver layer's key precision so
// the two backends agree on what "same compile_time" means.
const compileTimeLayout = "2006-01-02T15:04:05.000000Z"

// Store implements the Bronze and Silver layers over a *sql.DB and
// serves Gold as a projection query.
type Store struct {
	db *sql.DB
}

// New wraps an opened database handle. Call Init before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	claim_type TEXT NOT NULL,
	reported_at TEXT NOT NULL,
	body TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS truth_states (
	truth_key TEXT NOT NULL,
	compile_time TEXT NOT NULL,
	state_hash TEXT NOT NULL,
	status TEXT NOT NULL,
	body TEXT NOT NULL,
	PRIMARY KEY (truth_key, compile_time)
);
CREATE INDEX IF NOT EXISTS idx_truth_states_key ON truth_states (truth_key, compile_time);
`

// Init creates the medallion tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// PutObservation admits an observation into Bronze. Re-admitting the same
// id with the same content hash is a no-op; a different hash under an
// existing id is an immutability violation and fails.
func (s *Store) PutObservation(ctx context.Context, o observation.Observation) error {
	if o.ID == "" {
		return fmt.Errorf("sqlstore: observation has empty id")
	}
	hash, err := o.Hash()
	if err != nil {
		return fmt.Errorf("sqlstore: hash observation %s: %w", o.ID, err)
	}

	var existing string
	row := s.db.QueryRowContext(ctx, `SELECT hash FROM observations WHERE id = $1`, o.ID)
	switch err := row.Scan(&existing); {
	case err == nil:
		if existing != hash {
			return fmt.Errorf("sqlstore: observation %s already exists with a different hash", o.ID)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return err
	}

	body, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal observation %s: %w", o.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO observations (id, hash, claim_type, reported_at, body) VALUES ($1, $2, $3, $4, $5)`,
		o.ID, hash, o.ClaimType, o.ReportedAt.UTC().Format(compileTimeLayout), string(body),
	)
	return err
}

// GetObservation retrieves a Bronze observation by id.
func (s *Store) GetObservation(ctx context.Context, id string) (observation.Observation, error) {
	var body string
	row := s.db.QueryRowContext(ctx, `SELECT body FROM observations WHERE id = $1`, id)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return observation.Observation{}, ErrNotFound
		}
		return observation.Observation{}, err
	}
	var o observation.Observation
	if err := json.Unmarshal([]byte(body), &o); err != nil {
		return observation.Observation{}, fmt.Errorf("sqlstore: decode observation %s: %w", id, err)
	}
	return o, nil
}

// AllObservations lists Bronze in id order.
func (s *Store) AllObservations(ctx context.Context) ([]observation.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM observations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []observation.Observation
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var o observation.Observation
		if err := json.Unmarshal([]byte(body), &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// AppendState appends a signed TruthState to Silver. At most one state may
// exist per (truth_key, compile_time); re-appending the identical state is
// a no-op, a different state_hash at the same key is a conflict.
func (s *Store) AppendState(ctx context.Context, ts truthstate.TruthState) error {
	if ts.Security == nil {
		return fmt.Errorf("sqlstore: refusing to persist unsigned truth state for %s", ts.TruthKey)
	}
	ct := ts.CompileInputs.CompileTime.UTC().Format(compileTimeLayout)

	var existingHash string
	row := s.db.QueryRowContext(ctx,
		`SELECT state_hash FROM truth_states WHERE truth_key = $1 AND compile_time = $2`,
		ts.TruthKey, ct,
	)
	switch err := row.Scan(&existingHash); {
	case err == nil:
		if existingHash != ts.Security.StateHash {
			return fmt.Errorf("sqlstore: silver already has a different truth state for %s at %s", ts.TruthKey, ct)
		}
		return nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return err
	}

	body, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("sqlstore: marshal truth state %s: %w", ts.TruthKey, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO truth_states (truth_key, compile_time, state_hash, status, body) VALUES ($1, $2, $3, $4, $5)`,
		ts.TruthKey, ct, ts.Security.StateHash, string(ts.Status), string(body),
	)
	return err
}

// GetState retrieves the Silver entry for (truthKey, compileTime), where
// compileTime uses the same microsecond layout AppendState persists.
func (s *Store) GetState(ctx context.Context, truthKey, compileTime string) (truthstate.TruthState, error) {
	var body string
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM truth_states WHERE truth_key = $1 AND compile_time = $2`,
		truthKey, compileTime,
	)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return truthstate.TruthState{}, ErrNotFound
		}
		return truthstate.TruthState{}, err
	}
	return decodeState(body)
}

// History lists every Silver entry for truthKey in compile_time order.
func (s *Store) History(ctx context.Context, truthKey string) ([]truthstate.TruthState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM truth_states WHERE truth_key = $1 ORDER BY compile_time, state_hash`,
		truthKey,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []truthstate.TruthState
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		ts, err := decodeState(body)
		if err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Latest serves the Gold projection for truthKey: the Silver entry with
// the greatest compile_time, state_hash breaking ties.
func (s *Store) Latest(ctx context.Context, truthKey string) (truthstate.TruthState, error) {
	var body string
	row := s.db.QueryRowContext(ctx,
		`SELECT body FROM truth_states WHERE truth_key = $1 ORDER BY compile_time DESC, state_hash DESC LIMIT 1`,
		truthKey,
	)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return truthstate.TruthState{}, ErrNotFound
		}
		return truthstate.TruthState{}, err
	}
	return decodeState(body)
}

func decodeState(body string) (truthstate.TruthState, error) {
	var ts truthstate.TruthState
	if err := json.Unmarshal([]byte(body), &ts); err != nil {
		return truthstate.TruthState{}, fmt.Errorf("sqlstore: decode truth state: %w", err)
	}
	return ts, nil
}
