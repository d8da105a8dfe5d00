// Package provider implements the kernel's ProviderAdapter: a uniform
// streaming interface over whichever LLM backend an AgentProfile names,
// preserving provider-opaque per-session state verbatim across turns.
package provider

import (
	"context"
	"encoding/json"

	"github.com/agentkernel/kernel/pkg/models"
)

// ChunkType discriminates StreamChunk's tagged union.
type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkToolCall ChunkType = "tool_call"
	ChunkDone     ChunkType = "done"
	ChunkError    ChunkType = "error"
)

// StreamChunk is one item of a provider's response stream: exactly one of
// Text/ToolCall/TokenCount/Err is meaningful, selected by Type.
type StreamChunk struct {
	Type       ChunkType
	Text       string
	ToolCall   *models.ToolCall
	TokenCount int
	Err        error
}

// Tool is a provider-agnostic tool declaration: name, description, and a
// JSON Schema for its arguments (see tooldispatch.SchemaFor).
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// ChatRequest is everything a Provider needs for one turn.
type ChatRequest struct {
	Model          string
	System         string
	History        []models.Message
	Tools          []Tool
	MaxTokens      int
	ModelSideState json.RawMessage // opaque, round-tripped verbatim
}

// ChatResponse pairs the chunk stream with the (possibly updated) opaque
// state the caller must persist onto the Session for the next turn.
type ChatResponse struct {
	Chunks         <-chan StreamChunk
	ModelSideState func() json.RawMessage // valid after Chunks closes
}

// Provider is the kernel's view of an LLM backend. Chat must close its
// returned channel exactly once, after a Done or Error chunk. Abort
// cancels an in-flight Chat call for sessionID promptly — cancellation
// happens at the next chunk boundary, consistent with the kernel's
// pause/resume-at-chunk-boundary discipline.
type Provider interface {
	Name() string
	Chat(ctx context.Context, sessionID string, req ChatRequest) (ChatResponse, error)
	Abort(sessionID string)
}
