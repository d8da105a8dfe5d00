// Package replay implements the kernel's ReplayController: it rebuilds
// SessionStore and VFS state from an EventLog prefix without re-executing
// anything. A tool call is never invoked twice; its recorded result (or,
// for vfs_write/vfs_delete, the call's own recorded args) is re-applied
// verbatim, which is what makes replay deterministic even though the
// original run may have touched the network or random ids.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agentkernel/kernel/pkg/models"
)

// ErrReplayDivergence is returned when an event references an agent the
// current AgentLookup can no longer resolve (its file was deleted or
// rewritten into something unparseable since the run). Per spec, replay
// stops at the last consistent point rather than failing outright: the
// returned lastApplied id and whatever state was built up to it are both
// valid and retained.
var ErrReplayDivergence = errors.New("replay divergence: agent no longer resolvable")

// EventSource is the subset of EventLog the controller needs: forward
// reads from a checkpoint and the checkpoint list itself.
type EventSource interface {
	From(ctx context.Context, afterID uint64) ([]models.EventEntry, error)
	Checkpoints() []models.Checkpoint
}

// VFS is the narrow virtual-filesystem contract replay mutates. Defined
// here rather than imported from internal/vfs so this package depends
// only on the shape it uses.
type VFS interface {
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
}

// SessionStore is the narrow SessionStore contract replay mutates.
type SessionStore interface {
	Create(session models.Session) error
	Get(activationID string) (models.Session, bool)
	Update(activationID string, mutate func(*models.Session)) (models.Session, error)
}

// AgentLookup resolves an agent id against the live registry, so replay
// can detect a divergent (deleted/unparseable) agent. Optional: a nil
// AgentLookup disables the check.
type AgentLookup interface {
	Get(agentID string) (*models.AgentProfile, bool)
}

// Controller rebuilds kernel state from the EventLog. It holds no state of
// its own between calls; VFS and SessionStore are expected to be fresh
// (or already reset) collaborators the caller wires in.
type Controller struct {
	events   EventSource
	vfs      VFS
	sessions SessionStore
	registry AgentLookup
	log      *slog.Logger
}

// New creates a Controller. registry may be nil to skip divergence
// detection (e.g. when replaying into a sandbox with no agent files yet).
func New(events EventSource, vfsImpl VFS, sessions SessionStore, registry AgentLookup, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{events: events, vfs: vfsImpl, sessions: sessions, registry: registry, log: log.With("component", "replay")}
}

// pendingCall tracks a tool_call event awaiting its paired tool_result, so
// a vfs_write/vfs_delete mutation is only re-applied once the call is
// known to have actually succeeded (an IsError result means the tool
// never touched the VFS, so nothing should be replayed for it).
type pendingCall struct {
	name string
	args string
}

// turnAccumulator mirrors the live ActivationLoop's streaming-text flush
// discipline closely enough to reconstruct Messages: text accumulates
// across stream_chunk events and is flushed into an assistant Message the
// moment a tool_call or token_update event shows it would have flushed
// live.
type turnAccumulator struct {
	streamingText string
}

// ReplayFrom starts from the nearest checkpoint at or before eventID and
// applies every event up to and including eventID, in order, against vfs
// and sessions. It returns the id of the last event actually applied.
// Replaying a tool call never re-executes it: vfs_write/vfs_delete
// mutations are reconstructed from the tool_call event's own recorded
// args once a non-error tool_result confirms the call succeeded; every
// other tool's result is taken as given.
func (c *Controller) ReplayFrom(ctx context.Context, eventID uint64) (lastApplied uint64, err error) {
	cp := c.nearestCheckpoint(eventID)
	afterID := uint64(0)
	if cp != nil {
		afterID = cp.LastEventID
	}

	entries, err := c.events.From(ctx, afterID)
	if err != nil {
		return afterID, fmt.Errorf("read events after checkpoint: %w", err)
	}

	accumulators := make(map[string]*turnAccumulator)
	pending := make(map[string]pendingCall)

	for _, entry := range entries {
		if entry.ID > eventID {
			break
		}
		if err := c.applyEvent(ctx, entry, accumulators, pending); err != nil {
			return lastApplied, fmt.Errorf("apply event %d (activation %s): %w", entry.ID, entry.ActivationID, err)
		}
		lastApplied = entry.ID
	}
	return lastApplied, nil
}

// RestoreFrom resets session/VFS state to the nearest checkpoint at or
// before eventID, without applying anything beyond it. Checkpoints carry
// no serialized snapshot of their own (only the event id they anchor to
// per spec's Checkpoint shape), so "restore" is ReplayFrom targeted
// exactly at the checkpoint boundary rather than a distinct mechanism.
func (c *Controller) RestoreFrom(ctx context.Context, eventID uint64) (lastApplied uint64, err error) {
	cp := c.nearestCheckpoint(eventID)
	if cp == nil {
		return 0, nil
	}
	return c.ReplayFrom(ctx, cp.LastEventID)
}

func (c *Controller) nearestCheckpoint(eventID uint64) *models.Checkpoint {
	var best *models.Checkpoint
	for _, cp := range c.events.Checkpoints() {
		cp := cp
		if cp.LastEventID > eventID {
			continue
		}
		if best == nil || cp.LastEventID > best.LastEventID {
			best = &cp
		}
	}
	return best
}

func (c *Controller) applyEvent(ctx context.Context, entry models.EventEntry, accumulators map[string]*turnAccumulator, pending map[string]pendingCall) error {
	acc := accumulators[entry.ActivationID]
	if acc == nil {
		acc = &turnAccumulator{}
		accumulators[entry.ActivationID] = acc
	}

	switch entry.Type {
	case models.EventActivation:
		return c.applyActivation(entry)

	case models.EventStreamChunk:
		if entry.Data.StreamChunk != nil {
			acc.streamingText += entry.Data.StreamChunk.Delta
		}
		return nil

	case models.EventToolCall:
		c.flushStreamingText(entry, acc)
		if entry.Data.ToolCall != nil {
			pending[entry.Data.ToolCall.CallID] = pendingCall{name: entry.Data.ToolCall.Name, args: entry.Data.ToolCall.Args}
		}
		return nil

	case models.EventToolResult:
		return c.applyToolResult(ctx, entry, pending)

	case models.EventTokenUpdate:
		c.flushStreamingText(entry, acc)
		if entry.Data.TokenUpdate != nil {
			total := entry.Data.TokenUpdate.Total
			_, err := c.sessions.Update(entry.ActivationID, func(s *models.Session) {
				s.TokenCount = total
			})
			return err
		}
		return nil

	case models.EventComplete:
		completedAt := entry.Timestamp
		_, err := c.sessions.Update(entry.ActivationID, func(s *models.Session) {
			s.Status = models.SessionCompleted
			s.CompletedAt = &completedAt
		})
		return err

	case models.EventError:
		_, err := c.sessions.Update(entry.ActivationID, func(s *models.Session) {
			s.Status = models.SessionError
		})
		return err

	case models.EventSpawn, models.EventSignal, models.EventWarning, models.EventPolicyDenied, models.EventWorkflowComplete:
		// No SessionStore/VFS mutation: spawn/signal are recorded via the
		// child's own activation event, and the rest are advisory.
		return nil

	default:
		return nil
	}
}

func (c *Controller) applyActivation(entry models.EventEntry) error {
	if c.registry != nil {
		if _, ok := c.registry.Get(entry.AgentID); !ok {
			return fmt.Errorf("%w: agent %q", ErrReplayDivergence, entry.AgentID)
		}
	}
	if _, exists := c.sessions.Get(entry.ActivationID); exists {
		// A second activation event for the same id is a stop-policy-guard
		// reopen (spec §4.5 step 6), not a fresh session.
		_, err := c.sessions.Update(entry.ActivationID, func(s *models.Session) {
			s.Status = models.SessionRunning
		})
		return err
	}
	input := ""
	if entry.Data.Activation != nil {
		input = entry.Data.Activation.Input
	}
	return c.sessions.Create(models.Session{
		ActivationID: entry.ActivationID,
		AgentID:      entry.AgentID,
		Status:       models.SessionRunning,
		Messages:     []models.Message{{Role: models.RoleUser, Content: input, CreatedAt: entry.Timestamp}},
		StartedAt:    entry.Timestamp,
	})
}

func (c *Controller) flushStreamingText(entry models.EventEntry, acc *turnAccumulator) {
	if acc.streamingText == "" {
		return
	}
	text := acc.streamingText
	acc.streamingText = ""
	_, _ = c.sessions.Update(entry.ActivationID, func(s *models.Session) {
		s.Messages = append(s.Messages, models.Message{Role: models.RoleAssistant, Content: text, CreatedAt: entry.Timestamp})
	})
}

func (c *Controller) applyToolResult(ctx context.Context, entry models.EventEntry, pending map[string]pendingCall) error {
	data := entry.Data.ToolResult
	if data == nil {
		return nil
	}
	call, hadCall := pending[data.CallID]
	delete(pending, data.CallID)

	if _, err := c.sessions.Update(entry.ActivationID, func(s *models.Session) {
		s.Messages = append(s.Messages, models.Message{
			Role:        models.RoleTool,
			CreatedAt:   entry.Timestamp,
			ToolResults: []models.ToolResult{{ToolCallID: data.CallID, Content: data.Content, IsError: data.IsError}},
		})
	}); err != nil {
		return err
	}

	if data.IsError || !hadCall {
		return nil
	}
	return c.reapplyVFSEffect(ctx, call)
}

// reapplyVFSEffect reconstructs a successful vfs_write/vfs_delete from
// the tool_call event's own recorded args. tool_result's Content is a
// human-readable confirmation ("wrote N bytes to P"), not the payload, so
// it cannot be replayed from; the call's args are the only durable record
// of what was actually written.
func (c *Controller) reapplyVFSEffect(ctx context.Context, call pendingCall) error {
	switch call.name {
	case "vfs_write":
		var args struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal([]byte(call.args), &args); err != nil {
			return fmt.Errorf("decode vfs_write args: %w", err)
		}
		return c.vfs.Write(ctx, args.Path, []byte(args.Content))

	case "vfs_delete":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(call.args), &args); err != nil {
			return fmt.Errorf("decode vfs_delete args: %w", err)
		}
		if err := c.vfs.Delete(ctx, args.Path); err != nil {
			return err
		}
		return nil
	default:
		return nil
	}
}
