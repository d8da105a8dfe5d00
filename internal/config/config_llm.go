package config

// LLMConfig configures the ProviderAdapter's backends and fallback chain.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain lists provider ids Router tries, in order, after
	// DefaultProvider fails (internal/provider/router.go).
	FallbackChain []string `yaml:"fallback_chain"`

	// Bedrock configures AWS Bedrock model discovery
	// (internal/provider/bedrock_discovery.go).
	Bedrock BedrockConfig `yaml:"bedrock"`
}

type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// BedrockConfig configures AWS Bedrock foundation-model discovery. The
// discovery loop itself refreshes hourly against one region
// (internal/provider/bedrock_discovery.go); there is no tunable interval.
type BedrockConfig struct {
	// Enabled turns on automatic discovery of Bedrock foundation models.
	Enabled bool `yaml:"enabled"`

	// Region is the AWS region to query for models. Default: us-east-1.
	Region string `yaml:"region"`
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
}
