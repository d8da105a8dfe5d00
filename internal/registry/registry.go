package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/agentkernel/kernel/internal/vfs"
	"github.com/agentkernel/kernel/pkg/models"
)

// AgentsGlob is the path pattern under which agent definition files live;
// a VFS write matching this pattern triggers a registry reparse, and a
// delete matching it triggers an Unregister (spec §5's hot-reload
// requirement, spec §9's "if agents/, unregister").
const AgentsGlob = "agents/*.md"

// VFS is the subset of the kernel's virtual filesystem the registry needs:
// read file bytes, list matching paths, and be told about writes/deletes.
// Defined here (not just reused from internal/vfs) so the registry depends
// only on the shape it uses, per Go convention.
type VFS interface {
	Read(ctx context.Context, path string) ([]byte, error)
	List(ctx context.Context, pattern string) ([]string, error)
	SubscribeChange(listener func(vfs.Change)) (unsubscribe func())
}

// Registry parses agent definition files out of a VFS and keeps the latest
// AgentProfile per agent id in memory. It hot-reloads on VFS writes under
// AgentsGlob, reparses their content hash to decide whether anything
// actually changed, and unregisters the profile when its file is deleted.
type Registry struct {
	mu       sync.RWMutex
	vfs      VFS
	profiles map[string]*models.AgentProfile
	byPath   map[string]string // agent file path -> agent id, for delete-time lookup
	log      *slog.Logger

	unsubscribe func()
}

// New creates a Registry backed by vfs. Call Load to perform the initial
// scan; New itself does no I/O.
func New(v VFS, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		vfs:      v,
		profiles: make(map[string]*models.AgentProfile),
		byPath:   make(map[string]string),
		log:      log.With("component", "registry"),
	}
	r.unsubscribe = v.SubscribeChange(r.onChange)
	return r
}

// Close stops watching the VFS for changes.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
}

// Load performs a full scan of AgentsGlob and (re)populates the registry.
// Call once at startup; subsequent changes arrive via VFS write notifications.
func (r *Registry) Load(ctx context.Context) error {
	paths, err := r.vfs.List(ctx, AgentsGlob)
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	for _, p := range paths {
		if err := r.reparse(ctx, p); err != nil {
			r.log.Warn("skipping unparseable agent file", "path", p, "error", err)
		}
	}
	return nil
}

// Get returns the current profile snapshot for an agent id. Callers that
// start an Activation should hold onto the returned pointer for the whole
// turn: a concurrent hot reload replaces the registry's entry, not the
// struct the caller already has (spec §9's "hot reload without tearing").
func (r *Registry) Get(agentID string) (*models.AgentProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[agentID]
	return p, ok
}

// List returns a snapshot of every currently-registered profile.
func (r *Registry) List() []*models.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.AgentProfile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	return out
}

// Unregister removes the agent profile registered from path, if any. It is
// called directly on a VFS delete under AgentsGlob, and is also exported so
// a caller managing agent files outside the VFS write path (e.g. an admin
// API) can unregister without writing a tombstone file first.
func (r *Registry) Unregister(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPath[path]
	if !ok {
		return
	}
	delete(r.byPath, path)
	delete(r.profiles, id)
	r.log.Info("agent profile unregistered", "agent_id", id, "path", path)
}

func (r *Registry) onChange(c vfs.Change) {
	if !matchesAgentsGlob(c.Path) {
		return
	}
	switch c.Type {
	case vfs.ChangeDelete:
		r.Unregister(c.Path)
	default:
		if err := r.reparse(context.Background(), c.Path); err != nil {
			r.log.Warn("hot reload failed", "path", c.Path, "error", err)
		}
	}
}

func (r *Registry) reparse(ctx context.Context, path string) error {
	data, err := r.vfs.Read(ctx, path)
	if err != nil {
		if _, ok := err.(*vfs.ErrNotFound); ok {
			// Raced with a delete between List/SubscribeChange firing and
			// this Read; treat it the same as an explicit delete instead of
			// logging a spurious warning and leaving a stale profile.
			r.Unregister(path)
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	profile, err := ParseAgentFile(path, data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byPath[path] = profile.ID
	if existing, ok := r.profiles[profile.ID]; ok && existing.ContentHash == profile.ContentHash {
		return nil // unchanged, nothing to do
	}
	r.profiles[profile.ID] = profile
	r.log.Info("agent profile loaded", "agent_id", profile.ID, "path", path)
	return nil
}

func matchesAgentsGlob(path string) bool {
	return strings.HasPrefix(path, "agents/") && strings.HasSuffix(path, ".md")
}
