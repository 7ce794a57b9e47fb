package signal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/truthmesh/core/pkg/errkit"
)

// Store is the abstract append-only signal log. Deletions
// and updates are forbidden by every implementation; Append is the only
// mutator.
type Store interface {
	// Append admits a sealed signal, enforcing the (time, signal_id) total
	// order invariant. Implementations serialize concurrent writers:
	// multi-reader, single-writer over the signal log.
	Append(s Signal) error
	GetAll() []Signal
	GetForAgent(agentID string) []Signal
	GetSince(t time.Time) []Signal
	GetWindow(windowID string) []Signal
	// GetPolicyVersionAt returns the policy_version in effect for replay
	// purposes at time t: the policy_version carried by the latest signal
	// with time <= t, or "" if the log holds no such signal.
	GetPolicyVersionAt(t time.Time) string
}

// MemoryStore is an in-process reference Store backed by a slice kept
// sorted by the (time, signal_id) total order, maintained on every
// Append.
type MemoryStore struct {
	mu       sync.RWMutex
	signals  []Signal
	ids      map[string]bool
	limiter  *rate.Limiter
	maxCount int
}

// NewMemoryStore creates an empty MemoryStore. admitRate/admitBurst bound
// the store's admission rate (golang.org/x/time/rate); exceeding the bound
// surfaces signal_store_exhausted deterministically instead of unbounded
// growth. A non-positive admitRate disables the limiter.
func NewMemoryStore(admitRate float64, admitBurst int) *MemoryStore {
	var limiter *rate.Limiter
	if admitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(admitRate), admitBurst)
	}
	return &MemoryStore{
		ids:     make(map[string]bool),
		limiter: limiter,
	}
}

func (m *MemoryStore) Append(s Signal) error {
	if s.SignalID == "" {
		return errkit.New(errkit.KindSignalOrderingViolation, "signal: cannot append an unsealed signal")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limiter != nil && !m.limiter.Allow() {
		return errkit.New(errkit.KindSignalStoreExhausted, "signal: admission rate exceeded")
	}
	if m.ids[s.SignalID] {
		// Idempotent re-append of an identical signal is not an ordering
		// violation; the log is content-addressed.
		return nil
	}

	idx := sort.Search(len(m.signals), func(i int) bool { return !Less(m.signals[i], s) })
	m.signals = append(m.signals, Signal{})
	copy(m.signals[idx+1:], m.signals[idx:])
	m.signals[idx] = s
	m.ids[s.SignalID] = true
	return nil
}

func (m *MemoryStore) GetAll() []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Signal, len(m.signals))
	copy(out, m.signals)
	return out
}

func (m *MemoryStore) GetForAgent(agentID string) []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Signal
	for _, s := range m.signals {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemoryStore) GetSince(t time.Time) []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Signal
	for _, s := range m.signals {
		if !s.Time.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

func (m *MemoryStore) GetWindow(windowID string) []Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Signal
	for _, s := range m.signals {
		if s.ObjectID == windowID {
			switch s.SignalType {
			case TypeWindowOpened, TypeWindowClosed, TypeWindowExtended, TypeWindowAborted:
				out = append(out, s)
			}
		}
	}
	return out
}

func (m *MemoryStore) GetPolicyVersionAt(t time.Time) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	version := ""
	for _, s := range m.signals {
		if s.Time.After(t) {
			break
		}
		version = s.PolicyVersion
	}
	return version
}

// FileStore is a line-delimited-JSON Store, one signal per line, opened
// append-only. Each write re-opens the file with
// os.OpenFile(O_APPEND|O_WRONLY); construction scans the file back line
// by line. Reads keep an in-memory mirror (rebuilt at construction) so GetAll/
// GetForAgent/GetSince/GetWindow don't re-scan the file on every call; the
// file remains the durable source of truth.
type FileStore struct {
	mu       sync.Mutex
	path     string
	mirror   *MemoryStore
}

// NewFileStore opens (creating if absent) the line-delimited-JSON log at
// path and replays its existing contents into the in-memory mirror.
func NewFileStore(path string, admitRate float64, admitBurst int) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("signal: open %s: %w", path, err)
	}
	_ = f.Close()

	fs := &FileStore{path: path, mirror: NewMemoryStore(admitRate, admitBurst)}
	if err := fs.replay(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) replay() error {
	f, err := os.Open(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("signal: open %s: %w", fs.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s Signal
		if err := json.Unmarshal(line, &s); err != nil {
			// Skip malformed lines: a corrupted tail should not fail the
			// whole replay.
			continue
		}
		if err := fs.mirror.Append(s); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func (fs *FileStore) Append(s Signal) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.mirror.Append(s); err != nil {
		return err
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("signal: marshal: %w", err)
	}
	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("signal: open %s: %w", fs.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("signal: append %s: %w", fs.path, err)
	}
	return nil
}

func (fs *FileStore) GetAll() []Signal                          { return fs.mirror.GetAll() }
func (fs *FileStore) GetForAgent(agentID string) []Signal       { return fs.mirror.GetForAgent(agentID) }
func (fs *FileStore) GetSince(t time.Time) []Signal              { return fs.mirror.GetSince(t) }
func (fs *FileStore) GetWindow(windowID string) []Signal         { return fs.mirror.GetWindow(windowID) }
func (fs *FileStore) GetPolicyVersionAt(t time.Time) string      { return fs.mirror.GetPolicyVersionAt(t) }
