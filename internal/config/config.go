// Package config loads the kernel's root Config from YAML, following the
// nested tagged-struct, Default*/applyDefaults/validateConfig idiom used
// throughout this codebase.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/agentkernel/kernel/pkg/models"
)

// Config is the kernel's root configuration: everything needed to wire up
// EventLog, ProviderAdapter, VFS, ToolDispatcher, and the Scheduler itself
// from a single file.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	VFS           VFSConfig           `yaml:"vfs"`
	AgentsPath    string              `yaml:"agents_path"`
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Kernel        models.KernelConfig `yaml:"kernel"`
}

// Load reads path, resolving `$include` directives and expanding
// `${VAR}`-style environment references along the way (internal/config's
// loader.go), decodes strict YAML (unknown keys are an error), applies
// env-var overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDatabaseDefaults(&cfg.Database)
	applyVFSDefaults(&cfg.VFS)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
	applyObservabilityDefaults(&cfg.Observability)
	if cfg.AgentsPath == "" {
		cfg.AgentsPath = "agents"
	}
	if (cfg.Kernel == models.KernelConfig{}) {
		cfg.Kernel = models.DefaultKernelConfig()
	}
}

// applyEnvOverrides lets a handful of secrets ride in the environment
// instead of the checked-in config file, following the teacher's
// `NEXUS_*`-prefixed override convention (renamed to `AGENTKERNEL_*`).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENTKERNEL_ANTHROPIC_API_KEY"); v != "" {
		setProviderAPIKey(cfg, "anthropic", v)
	}
	if v := os.Getenv("AGENTKERNEL_OPENAI_API_KEY"); v != "" {
		setProviderAPIKey(cfg, "openai", v)
	}
	if v := os.Getenv("AGENTKERNEL_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("AGENTKERNEL_SLACK_BOT_TOKEN"); v != "" {
		cfg.Notifications.Slack.BotToken = v
	}
	if v := os.Getenv("AGENTKERNEL_CHECKPOINT_SECRET"); v != "" {
		cfg.Server.CheckpointSecret = v
	}
}

func setProviderAPIKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = make(map[string]LLMProviderConfig)
	}
	entry := cfg.LLM.Providers[provider]
	entry.APIKey = key
	cfg.LLM.Providers[provider] = entry
}

// ConfigValidationError reports every structural problem found in one
// Load call at once, instead of failing on the first.
type ConfigValidationError struct {
	Errors []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Errors, "; "))
}

func validateConfig(cfg *Config) error {
	var errs []string

	if cfg.Kernel.MaxConcurrency <= 0 {
		errs = append(errs, "kernel.max_concurrency must be positive")
	}
	if cfg.Kernel.MaxDepth <= 0 {
		errs = append(errs, "kernel.max_depth must be positive")
	}
	if cfg.Kernel.TokenBudget < 0 {
		errs = append(errs, "kernel.token_budget must not be negative")
	}
	switch cfg.VFS.Backend {
	case "memory", "fs", "s3":
	default:
		errs = append(errs, fmt.Sprintf("vfs.backend %q is not one of memory, fs, s3", cfg.VFS.Backend))
	}
	if cfg.VFS.Backend == "fs" && cfg.VFS.Root == "" {
		errs = append(errs, "vfs.root is required when vfs.backend is fs")
	}
	if cfg.VFS.Backend == "s3" && cfg.VFS.S3Bucket == "" {
		errs = append(errs, "vfs.s3_bucket is required when vfs.backend is s3")
	}
	if cfg.LLM.DefaultProvider == "" {
		errs = append(errs, "llm.default_provider is required")
	}

	if len(errs) > 0 {
		return &ConfigValidationError{Errors: errs}
	}
	return nil
}
