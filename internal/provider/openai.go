package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/agentkernel/kernel/pkg/models"
)

// OpenAIProvider wraps the sashabaranov/go-openai client, streaming a
// chat completion and mapping deltas onto StreamChunk, grounded on the
// teacher's providers.OpenAIProvider.Complete/processStream.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
	retryDelay time.Duration
	abortReg   *abortRegistry
}

// NewOpenAIProvider creates a provider using apiKey.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client:     openai.NewClient(apiKey),
		maxRetries: 3,
		retryDelay: time.Second,
		abortReg:   newAbortRegistry(),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Abort(sessionID string) { p.abortReg.abort(sessionID) }

func (p *OpenAIProvider) Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error) {
	ctx = p.abortReg.track(ctx, sessionID)

	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.History {
		messages = append(messages, toOpenAIMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: req.MaxTokens,
		Tools:     toOpenAITools(req.Tools),
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				p.abortReg.untrack(sessionID)
				return ChatResponse{}, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			p.abortReg.untrack(sessionID)
			return ChatResponse{}, lastErr
		}
	}
	if lastErr != nil {
		p.abortReg.untrack(sessionID)
		return ChatResponse{}, lastErr
	}

	chunks := make(chan StreamChunk)
	var tokenCount int
	go func() {
		defer close(chunks)
		defer stream.Close()
		defer p.abortReg.untrack(sessionID)

		toolCalls := make(map[int]*models.ToolCall)
		for {
			select {
			case <-ctx.Done():
				chunks <- StreamChunk{Type: ChunkError, Err: ctx.Err()}
				return
			default:
			}

			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					for _, tc := range toolCalls {
						if tc.ID != "" && tc.Name != "" {
							chunks <- StreamChunk{Type: ChunkToolCall, ToolCall: tc}
						}
					}
					chunks <- StreamChunk{Type: ChunkDone, TokenCount: tokenCount}
					return
				}
				chunks <- StreamChunk{Type: ChunkError, Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				tokenCount += len(delta.Content) / 4
				chunks <- StreamChunk{Type: ChunkText, Text: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				index := 0
				if tc.Index != nil {
					index = *tc.Index
				}
				if toolCalls[index] == nil {
					toolCalls[index] = &models.ToolCall{}
				}
				if tc.ID != "" {
					toolCalls[index].ID = tc.ID
				}
				if tc.Function.Name != "" {
					toolCalls[index].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					var current string
					if toolCalls[index].Input != nil {
						current = string(toolCalls[index].Input)
					}
					toolCalls[index].Input = json.RawMessage(current + tc.Function.Arguments)
				}
			}
			if resp.Choices[0].FinishReason == "tool_calls" {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.Name != "" {
						chunks <- StreamChunk{Type: ChunkToolCall, ToolCall: tc}
					}
				}
				toolCalls = make(map[int]*models.ToolCall)
			}
		}
	}()

	return ChatResponse{
		Chunks:         chunks,
		ModelSideState: func() json.RawMessage { return req.ModelSideState }, // OpenAI carries no opaque session state
	}, nil
}

func toOpenAIMessage(m models.Message) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	switch m.Role {
	case models.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case models.RoleTool:
		role = openai.ChatMessageRoleTool
	case models.RoleSystem:
		role = openai.ChatMessageRoleSystem
	}
	return openai.ChatCompletionMessage{Role: role, Content: m.Content}
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params map[string]interface{}
		_ = json.Unmarshal(t.Schema, &params)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
