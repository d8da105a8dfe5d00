package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/agentkernel/kernel/internal/activation"
	"github.com/agentkernel/kernel/internal/provider"
	"github.com/agentkernel/kernel/pkg/models"
)

// providerInvoker implements tooldispatch.CustomToolInvoker: it renders a
// CustomTool's PromptTemplate against the call's arguments and makes a
// single non-streaming-looking sub-call to whichever model the tool (or,
// absent that, defaultModel) names, draining the response into a plain
// string. Grounded on how streamTurn already drains a provider.Chat
// response — this is the same drain loop with no tool-call or
// token-accounting side effects, since a custom tool's sub-call never
// itself dispatches tools.
type providerInvoker struct {
	resolve      activation.ProviderResolver
	defaultModel string
}

func newProviderInvoker(resolve activation.ProviderResolver, defaultModel string) *providerInvoker {
	return &providerInvoker{resolve: resolve, defaultModel: defaultModel}
}

func (p *providerInvoker) InvokeCustomTool(ctx context.Context, tool models.CustomTool, args json.RawMessage) (string, error) {
	prompt, err := renderPromptTemplate(tool.PromptTemplate, args)
	if err != nil {
		return "", fmt.Errorf("render custom tool %q prompt: %w", tool.Name, err)
	}

	model := tool.Model
	if model == "" {
		model = p.defaultModel
	}
	llm, err := p.resolve(model)
	if err != nil {
		return "", fmt.Errorf("resolve provider for custom tool %q: %w", tool.Name, err)
	}

	resp, err := llm.Chat(ctx, "custom-tool:"+tool.Name, provider.ChatRequest{
		Model:   model,
		History: []models.Message{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("custom tool %q chat: %w", tool.Name, err)
	}

	var out bytes.Buffer
	for chunk := range resp.Chunks {
		switch chunk.Type {
		case provider.ChunkText:
			out.WriteString(chunk.Text)
		case provider.ChunkError:
			return "", fmt.Errorf("custom tool %q: %w", tool.Name, chunk.Err)
		}
	}
	return out.String(), nil
}

// renderPromptTemplate executes tmpl as a text/template against args
// decoded into a generic map, so a profile can write "{{.query}}" against
// whatever fields its tool's JSON Schema declares.
func renderPromptTemplate(tmpl string, args json.RawMessage) (string, error) {
	var data map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &data); err != nil {
			return "", fmt.Errorf("decode args: %w", err)
		}
	}
	t, err := template.New("custom_tool").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return buf.String(), nil
}
