package activation

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/agentkernel/kernel/internal/eventlog"
	"github.com/agentkernel/kernel/internal/provider"
	"github.com/agentkernel/kernel/internal/sessionstore"
	"github.com/agentkernel/kernel/internal/tooldispatch"
	"github.com/agentkernel/kernel/internal/vfs"
	"github.com/agentkernel/kernel/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedProvider struct {
	name  string
	turns [][]provider.StreamChunk
	calls int
}

func (p *scriptedProvider) Name() string { return p.name }
func (p *scriptedProvider) Abort(string) {}
func (p *scriptedProvider) Chat(ctx context.Context, sessionID string, req provider.ChatRequest) (provider.ChatResponse, error) {
	turn := p.turns[p.calls]
	p.calls++
	ch := make(chan provider.StreamChunk, len(turn))
	for _, c := range turn {
		ch <- c
	}
	close(ch)
	return provider.ChatResponse{Chunks: ch, ModelSideState: func() json.RawMessage { return nil }}, nil
}

type noopSpawner struct{ enqueued []models.Activation }

func (s *noopSpawner) Enqueue(ctx context.Context, act models.Activation) error {
	s.enqueued = append(s.enqueued, act)
	return nil
}

func newTestLoop(t *testing.T, llm provider.Provider, spawner Spawner) (*Loop, *sessionstore.Store) {
	t.Helper()
	log := discardLogger()
	events := eventlog.New(eventlog.NewMemoryStore(), nil, 0)
	sessions := sessionstore.New()
	dispatcher := tooldispatch.New(vfs.NewMemory(nil), nil, nil, log)
	resolve := func(model string) (provider.Provider, error) { return llm, nil }
	return New(events, sessions, dispatcher, resolve, spawner, DefaultConfig(), log), sessions
}

func balancedProfile() *models.AgentProfile {
	return &models.AgentProfile{
		ID: "agent-1", Model: "test-model", SystemPrompt: "be helpful",
		Policy: models.Policy{Mode: models.ModeBalanced, Reads: []string{"**"}, Writes: []string{"**"}},
	}
}

func TestLoop_CompletesOnTextOnlyTurn(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkText, Text: "hello"}, {Type: provider.ChunkDone, TokenCount: 10}},
	}}
	loop, sessions := newTestLoop(t, llm, nil)

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "hi"}
	if err := loop.Run(context.Background(), act, balancedProfile()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session, ok := sessions.Get("act-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if session.Status != models.SessionCompleted {
		t.Fatalf("Status = %v, want completed", session.Status)
	}
	if session.TokenCount != 10 {
		t.Fatalf("TokenCount = %d, want 10", session.TokenCount)
	}
}

func TestLoop_ExecutesToolCallThenCompletes(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkToolCall, ToolCall: &models.ToolCall{ID: "call-1", Name: "vfs_list", Input: json.RawMessage(`{"pattern":"**"}`)}}, {Type: provider.ChunkDone}},
		{{Type: provider.ChunkText, Text: "done"}, {Type: provider.ChunkDone}},
	}}
	loop, sessions := newTestLoop(t, llm, nil)

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "list files"}
	if err := loop.Run(context.Background(), act, balancedProfile()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	session, _ := sessions.Get("act-1")
	if session.Status != models.SessionCompleted {
		t.Fatalf("Status = %v, want completed", session.Status)
	}

	var sawToolResult bool
	for _, m := range session.Messages {
		if m.Role == models.RoleTool {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Fatal("expected a tool-role message recording the vfs_list result")
	}
}

func TestLoop_ProviderErrorTerminatesWithSessionError(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkError, Err: context.DeadlineExceeded}},
	}}
	loop, sessions := newTestLoop(t, llm, nil)

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "hi"}
	if err := loop.Run(context.Background(), act, balancedProfile()); err == nil {
		t.Fatal("expected Run to return an error")
	}

	session, _ := sessions.Get("act-1")
	if session.Status != models.SessionError {
		t.Fatalf("Status = %v, want error", session.Status)
	}
}

func TestLoop_CancelledContextAbortsWithoutErrorEvent(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkError, Err: context.Canceled}},
	}}
	log := discardLogger()
	events := eventlog.New(eventlog.NewMemoryStore(), nil, 0)
	sessions := sessionstore.New()
	dispatcher := tooldispatch.New(vfs.NewMemory(nil), nil, nil, log)
	resolve := func(model string) (provider.Provider, error) { return llm, nil }
	loop := New(events, sessions, dispatcher, resolve, nil, DefaultConfig(), log)

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "hi"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := loop.Run(ctx, act, balancedProfile()); err != nil {
		t.Fatalf("Run: %v, want nil (abort is not an error)", err)
	}

	session, _ := sessions.Get("act-1")
	if session.Status != models.SessionAborted {
		t.Fatalf("Status = %v, want aborted", session.Status)
	}

	snap, err := events.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, e := range snap {
		if e.Type == models.EventError {
			t.Fatal("expected no error event for a cancelled activation")
		}
	}
}

func TestLoop_AutonomousReflectionEnqueuesFollowUp(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkText, Text: "a sufficiently long completion so the stop-policy guard does not force a continuation"}, {Type: provider.ChunkDone}},
	}}
	spawner := &noopSpawner{}
	loop, _ := newTestLoop(t, llm, spawner)

	profile := balancedProfile()
	profile.Autonomous = models.AutonomousConfig{MaxCycles: 3, SeedTaskWhenIdle: "keep going"}

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "start mission"}
	if err := loop.Run(context.Background(), act, profile); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(spawner.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued follow-up activation, got %d", len(spawner.enqueued))
	}
	if spawner.enqueued[0].ParentActivationID != "act-1" {
		t.Fatalf("follow-up ParentActivationID = %q, want act-1", spawner.enqueued[0].ParentActivationID)
	}
}

func TestLoop_StopPolicyGuardForcesContinuationOnTrivialReply(t *testing.T) {
	llm := &scriptedProvider{name: "test", turns: [][]provider.StreamChunk{
		{{Type: provider.ChunkText, Text: "ok"}, {Type: provider.ChunkDone}},
		{{Type: provider.ChunkText, Text: "a longer and more substantive reply"}, {Type: provider.ChunkDone}},
	}}
	cfg := DefaultConfig()
	cfg.MinTurnsBeforeStop = 2
	log := discardLogger()
	events := eventlog.New(eventlog.NewMemoryStore(), nil, 0)
	sessions := sessionstore.New()
	dispatcher := tooldispatch.New(vfs.NewMemory(nil), nil, nil, log)
	resolve := func(model string) (provider.Provider, error) { return llm, nil }
	loop := New(events, sessions, dispatcher, resolve, nil, cfg, log)

	act := models.Activation{ActivationID: "act-1", AgentID: "agent-1", Input: "hi"}
	if err := loop.Run(context.Background(), act, balancedProfile()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if llm.calls != 2 {
		t.Fatalf("expected 2 provider turns under the stop-policy guard, got %d", llm.calls)
	}
}
