package config

import "time"

// ToolsConfig configures the ToolDispatcher's built-in tools.
type ToolsConfig struct {
	WebSearch WebSearchConfig     `yaml:"websearch"`
	WebFetch  WebFetchConfig      `yaml:"web_fetch"`
	Execution ToolExecutionConfig `yaml:"execution"`
}

type WebSearchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Provider    string `yaml:"provider"`
	URL         string `yaml:"url"`
	BraveAPIKey string `yaml:"brave_api_key"`
}

type WebFetchConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// ToolExecutionConfig bounds how long a single tool call may run and how
// many times the ActivationLoop retries a transient failure before giving
// up and surfacing it as a tool_result error.
type ToolExecutionConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.WebSearch.Provider == "" {
		cfg.WebSearch.Provider = "duckduckgo"
	}
	if cfg.WebFetch.MaxChars == 0 {
		cfg.WebFetch.MaxChars = 20000
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 30 * time.Second
	}
	if cfg.Execution.MaxAttempts == 0 {
		cfg.Execution.MaxAttempts = 3
	}
	if cfg.Execution.RetryBackoff == 0 {
		cfg.Execution.RetryBackoff = 500 * time.Millisecond
	}
}
