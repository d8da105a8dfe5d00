package provider

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	name string
	err  error
}

func (p *stubProvider) Name() string { return p.name }
func (p *stubProvider) Abort(string) {}
func (p *stubProvider) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error) {
	if p.err != nil {
		return ChatResponse{}, p.err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Type: ChunkDone}
	close(ch)
	return ChatResponse{Chunks: ch}, nil
}

func TestRouter_FallsBackOnRetryableError(t *testing.T) {
	primary := &stubProvider{name: "openai", err: errors.New("rate limit exceeded: 429")}
	fallback := &stubProvider{name: "anthropic"}

	r := NewRouter(map[string]Provider{"openai": primary, "anthropic": fallback}, []Candidate{
		{Backend: "openai", Model: "gpt-4o"},
		{Backend: "anthropic", Model: "claude-sonnet-4-5"},
	})

	_, cand, err := r.Chat(context.Background(), "sess-1", ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if cand.Backend != "anthropic" {
		t.Fatalf("expected fallback to anthropic, got %q", cand.Backend)
	}
}

func TestRouter_StopsOnAuthError(t *testing.T) {
	primary := &stubProvider{name: "openai", err: errors.New("401 unauthorized: invalid api key")}
	fallback := &stubProvider{name: "anthropic"}

	r := NewRouter(map[string]Provider{"openai": primary, "anthropic": fallback}, []Candidate{
		{Backend: "openai", Model: "gpt-4o"},
		{Backend: "anthropic", Model: "claude-sonnet-4-5"},
	})

	_, _, err := r.Chat(context.Background(), "sess-1", ChatRequest{})
	if err == nil {
		t.Fatal("expected auth error to propagate without fallback")
	}
}

func TestRouter_AllCandidatesFailed(t *testing.T) {
	primary := &stubProvider{name: "openai", err: errors.New("503 service unavailable")}
	fallback := &stubProvider{name: "anthropic", err: errors.New("503 service unavailable")}

	r := NewRouter(map[string]Provider{"openai": primary, "anthropic": fallback}, []Candidate{
		{Backend: "openai", Model: "gpt-4o"},
		{Backend: "anthropic", Model: "claude-sonnet-4-5"},
	})

	_, _, err := r.Chat(context.Background(), "sess-1", ChatRequest{})
	if !errors.Is(err, ErrAllCandidatesFailed) {
		t.Fatalf("expected ErrAllCandidatesFailed, got %v", err)
	}
}

func TestCatalog_GetByAlias(t *testing.T) {
	c := NewCatalog()
	m, ok := c.Get("sonnet")
	if !ok {
		t.Fatal("expected alias lookup to resolve")
	}
	if m.ID != "claude-sonnet-4-5" {
		t.Fatalf("ID = %q, want claude-sonnet-4-5", m.ID)
	}
}

func TestCatalog_ListByBackendOrdersFlagshipFirst(t *testing.T) {
	c := NewCatalog()
	models := c.ListByBackend("anthropic")
	if len(models) == 0 {
		t.Fatal("expected anthropic models")
	}
	if models[0].Tier != TierFlagship {
		t.Fatalf("expected first model to be flagship tier, got %v", models[0].Tier)
	}
}
