package provider

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/agentkernel/kernel/pkg/models"
)

const anthropicDefaultMaxTokens = 4096

// AnthropicProvider wraps the anthropic-sdk-go streaming client, grounded
// on the teacher's providers.AnthropicProvider.createStream/processStream,
// trimmed to the text/tool_use/usage events the kernel actually needs.
type AnthropicProvider struct {
	client   anthropic.Client
	abortReg *abortRegistry
}

// NewAnthropicProvider creates a provider using apiKey.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		abortReg: newAbortRegistry(),
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Abort(sessionID string) { p.abortReg.abort(sessionID) }

func (p *AnthropicProvider) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error) {
	ctx = p.abortReg.track(ctx, sessionID)

	messages, err := toAnthropicMessages(req.History)
	if err != nil {
		p.abortReg.untrack(sessionID)
		return ChatResponse{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toAnthropicTools(req.Tools)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer p.abortReg.untrack(sessionID)

		var currentToolCall *models.ToolCall
		var currentToolInput []byte
		var inputTokens, outputTokens int

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				inputTokens = int(start.Message.Usage.InputTokens)
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					use := block.AsToolUse()
					currentToolCall = &models.ToolCall{ID: use.ID, Name: use.Name}
					currentToolInput = nil
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						chunks <- StreamChunk{Type: ChunkText, Text: delta.Text}
					}
				case "input_json_delta":
					if delta.PartialJSON != "" {
						currentToolInput = append(currentToolInput, []byte(delta.PartialJSON)...)
					}
				}
			case "content_block_stop":
				if currentToolCall != nil {
					currentToolCall.Input = json.RawMessage(currentToolInput)
					chunks <- StreamChunk{Type: ChunkToolCall, ToolCall: currentToolCall}
					currentToolCall = nil
				}
			case "message_delta":
				usage := event.AsMessageDelta().Usage
				if usage.OutputTokens > 0 {
					outputTokens = int(usage.OutputTokens)
				}
			}
		}
		if err := stream.Err(); err != nil {
			chunks <- StreamChunk{Type: ChunkError, Err: err}
			return
		}
		chunks <- StreamChunk{Type: ChunkDone, TokenCount: inputTokens + outputTokens}
	}()

	return ChatResponse{
		Chunks:         chunks,
		ModelSideState: func() json.RawMessage { return req.ModelSideState },
	}, nil
}

func toAnthropicMessages(history []models.Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, tc := range m.ToolCalls {
				var input interface{}
				_ = json.Unmarshal(tc.Input, &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError)))
			}
		}
	}
	return out, nil
}

func toAnthropicTools(tools []Tool) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.Schema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}
