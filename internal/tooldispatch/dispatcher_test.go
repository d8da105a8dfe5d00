package tooldispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/agentkernel/kernel/internal/vfs"
	"github.com/agentkernel/kernel/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

type stubSpawner struct {
	child models.Activation
	dedup bool
	err   error
}

func (s *stubSpawner) Spawn(ctx context.Context, parent models.Activation, agentID, input string) (models.Activation, bool, error) {
	return s.child, s.dedup, s.err
}

type stubSignaler struct {
	called bool
	target string
}

func (s *stubSignaler) Signal(ctx context.Context, targetActivationID, content string) error {
	s.called = true
	s.target = targetActivationID
	return nil
}

func TestDispatch_VFSReadWriteRoundtrip(t *testing.T) {
	mem := vfs.NewMemory(map[string][]byte{"notes/todo.md": []byte("hello")})
	d := New(mem, nil, nil, discardLogger())

	profile := &models.AgentProfile{Policy: models.Policy{Mode: models.ModeBalanced, Reads: []string{"**"}}}

	result, decision := d.Dispatch(context.Background(), DispatchInput{
		ActivationID: "act-1",
		Profile:      profile,
		ToolName:     "vfs_read",
		Args:         json.RawMessage(`{"path":"notes/todo.md"}`),
	})
	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
	if result.IsError || result.Content != "hello" {
		t.Errorf("result = %+v", result)
	}
}

func TestDispatch_VFSReadMissSuggestsNearestPath(t *testing.T) {
	mem := vfs.NewMemory(map[string][]byte{"notes/todo.md": []byte("hello")})
	d := New(mem, nil, nil, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{Mode: models.ModeBalanced, Reads: []string{"**"}}}

	result, _ := d.Dispatch(context.Background(), DispatchInput{
		Profile:  profile,
		ToolName: "vfs_read",
		Args:     json.RawMessage(`{"path":"notes/tod.md"}`),
	})
	if !result.IsError {
		t.Fatalf("expected error result for missing path, got %+v", result)
	}
}

func TestDispatch_InvalidArgsRejectedBeforeExecute(t *testing.T) {
	mem := vfs.NewMemory(map[string][]byte{"notes/todo.md": []byte("hello")})
	d := New(mem, nil, nil, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{Mode: models.ModeBalanced, Reads: []string{"**"}}}

	result, decision := d.Dispatch(context.Background(), DispatchInput{
		Profile:  profile,
		ToolName: "vfs_read",
		Args:     json.RawMessage(`{}`),
	})
	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed (schema rejection is a Result, not a policy denial)", decision)
	}
	if !result.IsError {
		t.Fatalf("result = %+v, want IsError for args missing required path", result)
	}
}

func TestDispatch_BlockedToolDenied(t *testing.T) {
	mem := vfs.NewMemory(nil)
	d := New(mem, nil, nil, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{
		Mode:         models.ModeBalanced,
		BlockedTools: []string{"vfs_delete"},
	}}

	result, decision := d.Dispatch(context.Background(), DispatchInput{
		Profile:  profile,
		ToolName: "vfs_delete",
		Args:     json.RawMessage(`{"path":"x"}`),
	})
	if decision.Allowed {
		t.Fatalf("expected denial, got %+v", decision)
	}
	if !result.IsError {
		t.Errorf("expected IsError result on denial, got %+v", result)
	}
}

func TestDispatch_SpawnAgentDeduplicated(t *testing.T) {
	mem := vfs.NewMemory(nil)
	spawner := &stubSpawner{child: models.Activation{ActivationID: "child-1", AgentID: "researcher", SpawnDepth: 1}, dedup: true}
	d := New(mem, spawner, nil, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{
		Mode:        models.ModeBalanced,
		Permissions: models.Permissions{SpawnAgents: true},
	}}

	result, decision := d.Dispatch(context.Background(), DispatchInput{
		ActivationID: "parent-1",
		Profile:      profile,
		ToolName:     "spawn_agent",
		Args:         json.RawMessage(`{"agent_id":"researcher","input":"look into x"}`),
	})
	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
	if result.IsError {
		t.Errorf("result = %+v, want success", result)
	}
}

func TestDispatch_SpawnAgentDeniedWithoutPermission(t *testing.T) {
	mem := vfs.NewMemory(nil)
	spawner := &stubSpawner{child: models.Activation{ActivationID: "child-1"}}
	d := New(mem, spawner, nil, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{Mode: models.ModeBalanced}}

	_, decision := d.Dispatch(context.Background(), DispatchInput{
		Profile:  profile,
		ToolName: "spawn_agent",
		Args:     json.RawMessage(`{"agent_id":"researcher","input":"look into x"}`),
	})
	if decision.Allowed {
		t.Fatalf("expected denial without spawnAgents permission, got %+v", decision)
	}
}

func TestDispatch_SignalParentTargetsParentActivation(t *testing.T) {
	mem := vfs.NewMemory(nil)
	signaler := &stubSignaler{}
	d := New(mem, nil, signaler, discardLogger())
	profile := &models.AgentProfile{Policy: models.Policy{
		Mode:        models.ModeBalanced,
		Permissions: models.Permissions{SignalParent: true},
	}}

	_, decision := d.Dispatch(context.Background(), DispatchInput{
		ActivationID:       "child-1",
		ParentActivationID: "parent-1",
		Profile:            profile,
		ToolName:           "signal_parent",
		Args:               json.RawMessage(`{"content":"done with subtask"}`),
	})
	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
	if !signaler.called || signaler.target != "parent-1" {
		t.Errorf("signaler = %+v, want called with parent-1", signaler)
	}
}

func TestDispatch_UnknownCustomToolWithoutInvoker(t *testing.T) {
	mem := vfs.NewMemory(nil)
	d := New(mem, nil, nil, discardLogger())
	profile := &models.AgentProfile{
		Policy: models.Policy{Mode: models.ModeBalanced, Permissions: models.Permissions{CustomTools: true}},
		CustomTools: []models.CustomTool{
			{Name: "summarize", Description: "summarize input", PromptTemplate: "Summarize: {{.input}}"},
		},
	}

	result, decision := d.Dispatch(context.Background(), DispatchInput{
		Profile:  profile,
		ToolName: "summarize",
		Args:     json.RawMessage(`{"input":"some text"}`),
	})
	if !decision.Allowed {
		t.Fatalf("decision = %+v, want allowed", decision)
	}
	if !result.IsError {
		t.Errorf("expected error result with no invoker wired, got %+v", result)
	}
}
