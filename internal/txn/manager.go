package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/myuser/mvccstore/internal/metrics"
	"github.com/myuser/mvccstore/internal/storage"
)

// Stats is a point-in-time snapshot of the manager's counters.
type Stats struct {
	Committed      int64 `json:"committed"`
	Aborted        int64 `json:"aborted"`
	Conflicts      int64 `json:"conflicts"`
	GCRuns         int64 `json:"gc_runs"`
	VersionsPruned int64 `json:"versions_pruned"`
}

// Manager owns the global version counter and the active-transaction set,
// and is the only component that writes to the store.
//
// One mutex serializes Begin, Commit, Abort and GC. That gives commits
// the required validate+apply atomicity, and gives Begin/GC a consistent
// ordering: a transaction is registered and snapshotted under the same
// lock GC takes, so GC's horizon either includes it or runs strictly
// before it. The lock is never held across a transaction's own reads and
// writes, so commits stay cheap relative to transaction lifetime and
// readers never wait at all.
type Manager struct {
	mu     sync.Mutex
	engine storage.Engine

	// version is incremented only on successful commit. A transaction's
	// snapshot is the value at Begin.
	version uint64

	active map[string]*Transaction

	reg *metrics.Registry
}

func NewManager(engine storage.Engine) *Manager {
	return &Manager{
		engine: engine,
		active: make(map[string]*Transaction),
		reg:    metrics.NewRegistry(),
	}
}

// Begin opens a transaction pinned to the current version.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := &Transaction{
		ID:        uuid.NewString(),
		Snapshot:  m.version,
		State:     StateActive,
		StartTime: time.Now(),
		engine:    m.engine,
		readSet:   make(map[string]uint64),
		writeSet:  make(map[string][]byte),
	}
	m.active[t.ID] = t
	return t
}

// Read delegates to the transaction. Kept on the manager so callers have
// a single surface for the whole lifecycle.
func (m *Manager) Read(t *Transaction, key string) ([]byte, error) {
	return t.Read(key)
}

// Write delegates to the transaction.
func (m *Manager) Write(t *Transaction, key string, value []byte) error {
	return t.Write(key, value)
}

// Commit validates the read set and, if clean, applies the write set at a
// freshly allocated version. Validation and application run as one unit
// under the manager lock; no other commit can interleave between them.
//
// On conflict the transaction is aborted and ErrConflict returned. Retry
// is the caller's policy, not ours.
func (m *Manager) Commit(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.State != StateActive {
		return ErrTxnNotActive
	}

	// Validate: every key we read must still be at the version we saw.
	// A newer committed version means our outcome was computed from
	// stale data. First committer wins.
	for key, observed := range t.readSet {
		latest, ok := m.engine.LatestVersion([]byte(key))
		if !ok {
			// We read it, so a version existed; the store never loses
			// the newest version of a key. Treat as conflict anyway.
			m.abortLocked(t)
			m.reg.Inc("txn.conflict")
			return ErrConflict
		}
		if latest != observed {
			m.abortLocked(t)
			m.reg.Inc("txn.conflict")
			return ErrConflict
		}
	}

	// Apply: one new version id covers the whole write set, so the
	// commit is atomic from any other snapshot's point of view.
	if len(t.writeSet) > 0 {
		m.version++
		for key, val := range t.writeSet {
			m.engine.Write([]byte(key), val, m.version)
		}
	}

	t.State = StateCommitted
	delete(m.active, t.ID)
	m.reg.Inc("txn.committed")
	return nil
}

// Abort terminates the transaction and discards its staged writes.
// Nothing it did is visible anywhere.
func (m *Manager) Abort(t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.State != StateActive {
		return ErrTxnNotActive
	}
	m.abortLocked(t)
	return nil
}

func (m *Manager) abortLocked(t *Transaction) {
	t.State = StateAborted
	t.writeSet = nil
	delete(m.active, t.ID)
	m.reg.Inc("txn.aborted")
}

// GC prunes versions no active snapshot can reach and returns how many
// were removed. The horizon is the minimum active snapshot, or the
// current version when nothing is active.
func (m *Manager) GC() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	min := m.version
	for _, t := range m.active {
		if t.Snapshot < min {
			min = t.Snapshot
		}
	}

	pruned := m.engine.RunGC(min)
	m.reg.Inc("gc.runs")
	m.reg.Add("gc.pruned", int64(pruned))
	return pruned
}

// Set writes one key outside any caller-visible transaction and commits
// immediately. Used for seeding data. The transaction reads nothing, so
// its commit cannot conflict.
func (m *Manager) Set(key string, value []byte) error {
	t := m.Begin()
	if err := t.Write(key, value); err != nil {
		return err
	}
	return m.Commit(t)
}

// Stats returns the current counter values.
func (m *Manager) Stats() Stats {
	return Stats{
		Committed:      m.reg.Get("txn.committed"),
		Aborted:        m.reg.Get("txn.aborted"),
		Conflicts:      m.reg.Get("txn.conflict"),
		GCRuns:         m.reg.Get("gc.runs"),
		VersionsPruned: m.reg.Get("gc.pruned"),
	}
}

// Metrics exposes the underlying registry, e.g. to mount its HTTP handler.
func (m *Manager) Metrics() *metrics.Registry {
	return m.reg
}

// Versions exposes a key's full chain for inspection tools.
func (m *Manager) Versions(key string) []storage.Version {
	return m.engine.Versions([]byte(key))
}

// CurrentVersion returns the last committed version id.
func (m *Manager) CurrentVersion() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// ActiveCount returns how many transactions are currently open.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
