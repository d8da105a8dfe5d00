package models

import "time"

// EventType discriminates the single append-only event stream the kernel
// emits. Exactly one payload field on EventEntry is populated for a given
// Type; the rest stay nil/zero.
type EventType string

const (
	EventActivation      EventType = "activation"
	EventToolCall        EventType = "tool_call"
	EventToolResult      EventType = "tool_result"
	EventSpawn           EventType = "spawn"
	EventSignal          EventType = "signal"
	EventStreamChunk     EventType = "stream_chunk"
	EventTokenUpdate     EventType = "token_update"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
	EventWarning         EventType = "warning"
	EventPolicyDenied    EventType = "policy_denied"
	EventWorkflowComplete EventType = "workflow_complete"
)

// Severity qualifies warning/error/policy_denied events.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// EventEntry is one immutable record in the EventLog. ID is assigned by
// EventLog.append and is strictly monotonically increasing across the
// whole log, never reused, never reordered.
type EventEntry struct {
	ID           uint64    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ActivationID string    `json:"activation_id"`
	AgentID      string    `json:"agent_id"`
	Type         EventType `json:"type"`
	Severity     Severity  `json:"severity,omitempty"`
	Data         EventData `json:"data"`
}

// EventData is the tagged union of per-type payloads. Opaque to callers
// that only care about ordering and type; consumers that need the detail
// switch on EventEntry.Type and read the matching field.
type EventData struct {
	Activation   *ActivationData   `json:"activation,omitempty"`
	ToolCall     *ToolCallData     `json:"tool_call,omitempty"`
	ToolResult   *ToolResultData   `json:"tool_result,omitempty"`
	Spawn        *SpawnData        `json:"spawn,omitempty"`
	Signal       *SignalData       `json:"signal,omitempty"`
	StreamChunk  *StreamChunkData  `json:"stream_chunk,omitempty"`
	TokenUpdate  *TokenUpdateData  `json:"token_update,omitempty"`
	Complete     *CompleteData     `json:"complete,omitempty"`
	Message      string            `json:"message,omitempty"` // error/warning free text
	PolicyDenied *PolicyDeniedData `json:"policy_denied,omitempty"`
	Workflow     *WorkflowData     `json:"workflow,omitempty"`
}

type ActivationData struct {
	Input    string `json:"input"`
	Priority int    `json:"priority"`
	Depth    int    `json:"depth"`
}

type ToolCallData struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Args   string `json:"args"`
}

type ToolResultData struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	IsError bool   `json:"is_error"`
}

type SpawnData struct {
	ChildActivationID string `json:"child_activation_id"`
	ChildAgentID       string `json:"child_agent_id"`
	Deduplicated       bool   `json:"deduplicated"`
}

type SignalData struct {
	TargetActivationID string `json:"target_activation_id"`
	Content            string `json:"content"`
}

type StreamChunkData struct {
	Delta string `json:"delta"`
}

type TokenUpdateData struct {
	Delta int `json:"delta"`
	Total int `json:"total"`
}

type CompleteData struct {
	Reason string `json:"reason"`
}

type PolicyDeniedData struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
	Escalated bool  `json:"escalated"`
}

type WorkflowData struct {
	WorkflowID string `json:"workflow_id"`
	Outcome    string `json:"outcome"`
}
