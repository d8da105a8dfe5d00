// Package models provides the domain types shared across the kernel:
// agent profiles, activations, sessions, tool calls, events, checkpoints,
// and kernel configuration.
package models

import "time"

// PolicyMode controls how aggressively the PolicyGate enforces permission
// flags for an agent.
type PolicyMode string

const (
	ModeSafe      PolicyMode = "safe"
	ModeBalanced  PolicyMode = "balanced"
	ModeGlovesOff PolicyMode = "gloves_off"
)

// Permissions are the coarse-grained capability flags a policy can grant.
type Permissions struct {
	SpawnAgents  bool `yaml:"spawn_agents" json:"spawn_agents"`
	EditAgents   bool `yaml:"edit_agents" json:"edit_agents"`
	DeleteFiles  bool `yaml:"delete_files" json:"delete_files"`
	WebAccess    bool `yaml:"web_access" json:"web_access"`
	SignalParent bool `yaml:"signal_parent" json:"signal_parent"`
	CustomTools  bool `yaml:"custom_tools" json:"custom_tools"`
}

// Policy is the per-agent authorization envelope evaluated by the PolicyGate.
type Policy struct {
	Mode               PolicyMode  `yaml:"mode" json:"mode"`
	Reads              []string    `yaml:"reads" json:"reads"`
	Writes             []string    `yaml:"writes" json:"writes"`
	AllowedTools       []string    `yaml:"allowed_tools,omitempty" json:"allowed_tools,omitempty"`
	BlockedTools       []string    `yaml:"blocked_tools,omitempty" json:"blocked_tools,omitempty"`
	GlovesOffTriggers  []string    `yaml:"gloves_off_triggers,omitempty" json:"gloves_off_triggers,omitempty"`
	Permissions        Permissions `yaml:"permissions" json:"permissions"`
}

// CustomTool is a declarative tool backed by an LLM sub-call instead of
// native Go code: the kernel renders PromptTemplate against the tool's
// input and treats the model's reply as the tool result.
type CustomTool struct {
	Name           string `yaml:"name" json:"name"`
	Description    string `yaml:"description" json:"description"`
	PromptTemplate string `yaml:"prompt_template" json:"prompt_template"`
	Model          string `yaml:"model,omitempty" json:"model,omitempty"`
}

// AutonomousConfig governs unattended re-activation: when an agent finishes
// a turn with nothing queued, the kernel can seed a new activation and keep
// cycling until maxCycles or an explicit stop.
type AutonomousConfig struct {
	MaxCycles       int    `yaml:"max_cycles" json:"max_cycles"`
	ResumeMission   bool   `yaml:"resume_mission" json:"resume_mission"`
	StopWhenComplete bool  `yaml:"stop_when_complete" json:"stop_when_complete"`
	SeedTaskWhenIdle string `yaml:"seed_task_when_idle,omitempty" json:"seed_task_when_idle,omitempty"`
}

// AgentProfile is the parsed form of an agent's Markdown+YAML-frontmatter
// definition file, as produced by the AgentRegistry.
type AgentProfile struct {
	Path         string           `json:"path"`
	ID           string           `json:"id"`
	Name         string           `json:"name" yaml:"name"`
	Model        string           `json:"model" yaml:"model"`
	SystemPrompt string           `json:"system_prompt"`
	ContentHash  string           `json:"content_hash"`
	Policy       Policy           `json:"policy" yaml:"policy"`
	CustomTools  []CustomTool     `json:"custom_tools,omitempty" yaml:"tools,omitempty"`
	Autonomous   AutonomousConfig `json:"autonomous,omitempty" yaml:"autonomous,omitempty"`
	LoadedAt     time.Time        `json:"loaded_at"`
}
