package models

// KernelConfig bounds and tunes one kernel instance. It is loaded from YAML
// by internal/config, following the nested, tagged-struct style the rest of
// the configuration package uses.
type KernelConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency" json:"max_concurrency"`
	MaxDepth       int    `yaml:"max_depth" json:"max_depth"`
	MaxFanout      int    `yaml:"max_fanout" json:"max_fanout"`
	TokenBudget    int    `yaml:"token_budget" json:"token_budget"`
	Model          string `yaml:"model" json:"model"`
	MemoryEnabled  bool   `yaml:"memory_enabled" json:"memory_enabled"`

	MinTurnsBeforeStop int `yaml:"min_turns_before_stop" json:"min_turns_before_stop"`
	ForceReflection    bool `yaml:"force_reflection" json:"force_reflection"`
	AutoRecordFailures bool `yaml:"auto_record_failures" json:"auto_record_failures"`

	AutonomousMaxCycles       int  `yaml:"autonomous_max_cycles" json:"autonomous_max_cycles"`
	AutonomousResumeMission   bool `yaml:"autonomous_resume_mission" json:"autonomous_resume_mission"`
	AutonomousStopWhenComplete bool `yaml:"autonomous_stop_when_complete" json:"autonomous_stop_when_complete"`
	AutonomousSeedTaskWhenIdle bool `yaml:"autonomous_seed_task_when_idle" json:"autonomous_seed_task_when_idle"`

	// CheckpointEventInterval bounds checkpoints to at most every N events,
	// in addition to the mandatory checkpoint at every agent completion.
	CheckpointEventInterval uint64 `yaml:"checkpoint_event_interval" json:"checkpoint_event_interval"`

	// SpawnDedupeWindow selects how long a (agentId, input-hash) spawn
	// stays deduplicated. "parent_lifetime" (default) dedupes for as long
	// as the parent Activation exists; any other value is a duration
	// string parsed by scheduler.ParseDedupeWindow.
	SpawnDedupeWindow string `yaml:"spawn_dedupe_window" json:"spawn_dedupe_window"`
}

// DefaultKernelConfig returns the kernel's zero-risk defaults: bounded
// concurrency and depth, no autonomous cycling, checkpoint every 100 events.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		MaxConcurrency:          8,
		MaxDepth:                5,
		MaxFanout:               10,
		TokenBudget:             1_000_000,
		Model:                   "claude-sonnet-4.5",
		MinTurnsBeforeStop:      1,
		CheckpointEventInterval: 100,
		SpawnDedupeWindow:       "parent_lifetime",
	}
}
