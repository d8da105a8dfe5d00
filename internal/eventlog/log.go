// Package eventlog implements the kernel's EventLog: an append-only,
// totally ordered record of everything the kernel does. It is the single
// source of truth; SessionStore and the AgentRegistry's in-memory view are
// both derivable projections of it.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentkernel/kernel/pkg/models"
)

// Store is the persistence contract an EventLog backend implements. The
// in-memory implementation in this file is the default; eventlog/sqlite.go
// and eventlog/postgres.go implement the same contract over a real
// database for durability across process restarts.
type Store interface {
	Append(ctx context.Context, entry models.EventEntry) (models.EventEntry, error)
	Snapshot(ctx context.Context) ([]models.EventEntry, error)
	From(ctx context.Context, afterID uint64) ([]models.EventEntry, error)
	Clear(ctx context.Context) error
}

// Listener is notified, synchronously and in append order, of every entry
// appended to the log. Implementations must return quickly; a slow
// listener blocks every future Append until it returns (see ChanSink and
// MultiSink for backpressure-aware fan-out).
type Listener func(models.EventEntry)

// Log is the kernel's EventLog. OOM aside (the one documented fatal
// failure mode - append itself never returns a recoverable error for an
// in-memory Store), Append is synchronous: it persists the entry, assigns
// it a monotonic id, and only then notifies subscribers, in registration
// order, before returning.
type Log struct {
	mu          sync.Mutex
	store       Store
	nextID      uint64
	listeners   []Listener
	checkpoints []models.Checkpoint

	checkpointEvery uint64
	signer          CheckpointSigner
}

// CheckpointSigner produces and verifies the opaque Checkpoint.Signature
// handle. See eventlog/checkpoint.go for the default JWT-based signer.
type CheckpointSigner interface {
	Sign(lastEventID uint64) (string, error)
	Verify(signature string) (lastEventID uint64, err error)
}

// New creates a Log backed by store, checkpointing at most every
// checkpointEvery events (0 disables the interval checkpoint; a checkpoint
// is still taken whenever Checkpoint is called explicitly, e.g. at agent
// completion).
func New(store Store, signer CheckpointSigner, checkpointEvery uint64) *Log {
	return &Log{store: store, signer: signer, checkpointEvery: checkpointEvery}
}

// Append assigns entry the next monotonic id, persists it, and notifies
// subscribers in order before returning. The returned entry carries the
// assigned ID and Timestamp.
func (l *Log) Append(ctx context.Context, entry models.EventEntry) (models.EventEntry, error) {
	l.mu.Lock()
	l.nextID++
	entry.ID = l.nextID
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	stored, err := l.store.Append(ctx, entry)
	if err != nil {
		l.nextID--
		l.mu.Unlock()
		return models.EventEntry{}, fmt.Errorf("append event: %w", err)
	}
	listeners := append([]Listener{}, l.listeners...)
	shouldCheckpoint := l.checkpointEvery > 0 && stored.ID%l.checkpointEvery == 0
	l.mu.Unlock()

	for _, listener := range listeners {
		listener(stored)
	}

	if shouldCheckpoint {
		if _, err := l.Checkpoint(ctx); err != nil {
			return stored, fmt.Errorf("interval checkpoint: %w", err)
		}
	}
	return stored, nil
}

// Snapshot returns every entry currently in the log, in order.
func (l *Log) Snapshot(ctx context.Context) ([]models.EventEntry, error) {
	return l.store.Snapshot(ctx)
}

// From returns every entry with id > afterID, in order. ReplayController
// uses this to read forward from a checkpoint.
func (l *Log) From(ctx context.Context, afterID uint64) ([]models.EventEntry, error) {
	return l.store.From(ctx, afterID)
}

// Subscribe registers listener for future appends. It does not replay
// history; call Snapshot first if the caller needs it.
func (l *Log) Subscribe(listener Listener) (unsubscribe func()) {
	l.mu.Lock()
	idx := len(l.listeners)
	l.listeners = append(l.listeners, listener)
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.listeners) {
			l.listeners[idx] = func(models.EventEntry) {}
		}
	}
}

// Checkpoint returns an opaque handle anchored to the highest event id
// appended so far. ReplayController uses it to find the nearest earlier
// snapshot instead of replaying the whole log from event 1.
func (l *Log) Checkpoint(ctx context.Context) (models.Checkpoint, error) {
	l.mu.Lock()
	lastID := l.nextID
	l.mu.Unlock()

	sig, err := l.signer.Sign(lastID)
	if err != nil {
		return models.Checkpoint{}, fmt.Errorf("sign checkpoint: %w", err)
	}
	cp := models.Checkpoint{LastEventID: lastID, Signature: sig}

	l.mu.Lock()
	l.checkpoints = append(l.checkpoints, cp)
	l.mu.Unlock()
	return cp, nil
}

// Checkpoints returns every checkpoint taken so far, oldest first.
func (l *Log) Checkpoints() []models.Checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Checkpoint{}, l.checkpoints...)
}

// Clear discards the entire log and every checkpoint. Used by tests and by
// an operator-invoked hard reset; the kernel itself never calls this.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Clear(ctx); err != nil {
		return err
	}
	l.nextID = 0
	l.checkpoints = nil
	return nil
}

// MemoryStore is the default in-process Store: an append-only slice.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []models.EventEntry
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (m *MemoryStore) Append(_ context.Context, entry models.EventEntry) (models.EventEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return entry, nil
}

func (m *MemoryStore) Snapshot(_ context.Context) ([]models.EventEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.EventEntry{}, m.entries...), nil
}

func (m *MemoryStore) From(_ context.Context, afterID uint64) ([]models.EventEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.EventEntry
	for _, e := range m.entries {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	return nil
}
