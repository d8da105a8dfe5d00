package kernel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/agentkernel/kernel/internal/provider"
	"github.com/agentkernel/kernel/pkg/models"
)

type stubChatProvider struct {
	name string
	err  error
	got  provider.ChatRequest
}

func (p *stubChatProvider) Name() string { return p.name }
func (p *stubChatProvider) Abort(string) {}
func (p *stubChatProvider) Chat(ctx context.Context, sessionID string, req provider.ChatRequest) (provider.ChatResponse, error) {
	p.got = req
	if p.err != nil {
		return provider.ChatResponse{}, p.err
	}
	ch := make(chan provider.StreamChunk, 2)
	ch <- provider.StreamChunk{Type: provider.ChunkText, Text: "summary: "}
	ch <- provider.StreamChunk{Type: provider.ChunkText, Text: req.History[0].Content}
	close(ch)
	return provider.ChatResponse{Chunks: ch}, nil
}

func TestProviderInvoker_RendersTemplateAndDrainsTextChunks(t *testing.T) {
	backend := &stubChatProvider{name: "claude-haiku"}
	resolve := func(model string) (provider.Provider, error) { return backend, nil }

	inv := newProviderInvoker(resolve, "claude-haiku")
	tool := models.CustomTool{Name: "summarize", PromptTemplate: "summarize: {{.text}}"}
	args, _ := json.Marshal(map[string]string{"text": "hello world"})

	out, err := inv.InvokeCustomTool(context.Background(), tool, args)
	if err != nil {
		t.Fatalf("InvokeCustomTool() error = %v", err)
	}
	if out != "summary: summarize: hello world" {
		t.Fatalf("out = %q", out)
	}
}

func TestProviderInvoker_UsesToolModelOverDefault(t *testing.T) {
	var resolved string
	backend := &stubChatProvider{name: "gpt-4o"}
	resolve := func(model string) (provider.Provider, error) {
		resolved = model
		return backend, nil
	}

	inv := newProviderInvoker(resolve, "claude-haiku")
	tool := models.CustomTool{Name: "translate", PromptTemplate: "{{.text}}", Model: "gpt-4o"}
	args, _ := json.Marshal(map[string]string{"text": "bonjour"})

	if _, err := inv.InvokeCustomTool(context.Background(), tool, args); err != nil {
		t.Fatalf("InvokeCustomTool() error = %v", err)
	}
	if resolved != "gpt-4o" {
		t.Fatalf("resolve called with %q, want gpt-4o (tool.Model should win over defaultModel)", resolved)
	}
}

func TestProviderInvoker_ResolveErrorIsWrapped(t *testing.T) {
	resolve := func(model string) (provider.Provider, error) { return nil, errors.New("no such backend") }
	inv := newProviderInvoker(resolve, "claude-haiku")

	_, err := inv.InvokeCustomTool(context.Background(), models.CustomTool{Name: "lookup", PromptTemplate: "x"}, nil)
	if err == nil {
		t.Fatal("expected an error when resolve fails")
	}
}

func TestProviderInvoker_ChatErrorIsWrapped(t *testing.T) {
	backend := &stubChatProvider{name: "claude-haiku", err: errors.New("503")}
	resolve := func(model string) (provider.Provider, error) { return backend, nil }
	inv := newProviderInvoker(resolve, "claude-haiku")

	_, err := inv.InvokeCustomTool(context.Background(), models.CustomTool{Name: "lookup", PromptTemplate: "x"}, nil)
	if err == nil {
		t.Fatal("expected an error when the chat call fails")
	}
}

func TestRenderPromptTemplate_EmptyArgsStillRenders(t *testing.T) {
	out, err := renderPromptTemplate("static prompt, no fields", nil)
	if err != nil {
		t.Fatalf("renderPromptTemplate() error = %v", err)
	}
	if out != "static prompt, no fields" {
		t.Fatalf("out = %q", out)
	}
}

func TestRenderPromptTemplate_InvalidArgsJSON(t *testing.T) {
	_, err := renderPromptTemplate("{{.text}}", json.RawMessage(`{not json`))
	if err == nil {
		t.Fatal("expected an error decoding invalid args JSON")
	}
}
