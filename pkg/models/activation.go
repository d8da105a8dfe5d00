package models

import "time"

// Activation is a request for an agent to run a turn. Spawned activations
// carry their parent linkage and depth so the Scheduler can enforce
// maxDepth/maxFanout without walking the event log.
type Activation struct {
	ActivationID       string    `json:"activation_id"`
	AgentID            string    `json:"agent_id"`
	Input              string    `json:"input"`
	ParentAgentID      string    `json:"parent_agent_id,omitempty"`
	ParentActivationID string    `json:"parent_activation_id,omitempty"`
	SpawnDepth         int       `json:"spawn_depth"`
	Priority           int       `json:"priority"`
	CreatedAt          time.Time `json:"created_at"`
}

// IsSpawned reports whether this activation was created by spawn_agent
// rather than an external caller.
func (a Activation) IsSpawned() bool {
	return a.ParentActivationID != ""
}
