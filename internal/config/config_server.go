package config

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// ServerConfig configures the kernel's HTTP surface: the EventLog
// WebSocket stream and the Prometheus /metrics endpoint (SPEC_FULL.md's
// EXTERNAL INTERFACES section).
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`

	// CheckpointSecret is the HMAC key internal/eventlog.JWTSigner uses to
	// sign checkpoint handles. Left empty, a random one is generated at
	// startup: fine for a single long-running process, but a checkpoint
	// handle issued before a restart won't verify afterward, so a
	// production deployment that needs checkpoints to survive restarts
	// must set this explicitly (or AGENTKERNEL_CHECKPOINT_SECRET).
	CheckpointSecret string `yaml:"checkpoint_secret"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
	if cfg.CheckpointSecret == "" {
		cfg.CheckpointSecret = randomSecret()
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the OS entropy source is broken;
		// a fixed fallback at least keeps the process starting.
		return "agentkernel-insecure-fallback-secret"
	}
	return hex.EncodeToString(b)
}

// DatabaseConfig selects and tunes the EventLog's durable backend. An
// empty URL keeps the in-memory Store (internal/eventlog.MemoryStore);
// a "postgres://" or "sqlite://" URL switches EventLog to the matching
// durable Store implementation.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func applyDatabaseDefaults(cfg *DatabaseConfig) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 25
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
}
