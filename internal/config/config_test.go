package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
vfs:
  backend: memory
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesVFSBackend(t *testing.T) {
	path := writeConfig(t, `
vfs:
  backend: nope
llm:
  default_provider: anthropic
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "vfs.backend") {
		t.Fatalf("expected vfs.backend error, got %v", err)
	}
}

func TestLoadValidatesVFSRootRequiredForFS(t *testing.T) {
	path := writeConfig(t, `
vfs:
  backend: fs
llm:
  default_provider: anthropic
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "vfs.root") {
		t.Fatalf("expected vfs.root error, got %v", err)
	}
}

func TestLoadValidatesVFSBucketRequiredForS3(t *testing.T) {
	path := writeConfig(t, `
vfs:
  backend: s3
llm:
  default_provider: anthropic
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "vfs.s3_bucket") {
		t.Fatalf("expected vfs.s3_bucket error, got %v", err)
	}
}

func TestLoadValidatesKernelConcurrency(t *testing.T) {
	path := writeConfig(t, `
kernel:
  max_concurrency: 0
  max_depth: 5
llm:
  default_provider: anthropic
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_concurrency") {
		t.Fatalf("expected max_concurrency error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
vfs:
  backend: memory
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host to be preserved, got %q", cfg.Server.Host)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: anthropic
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http port, got %d", cfg.Server.HTTPPort)
	}
	if cfg.VFS.Backend != "memory" {
		t.Fatalf("expected default vfs backend, got %q", cfg.VFS.Backend)
	}
	if cfg.Kernel.MaxConcurrency == 0 {
		t.Fatalf("expected kernel defaults to be applied")
	}
	if cfg.AgentsPath != "agents" {
		t.Fatalf("expected default agents_path, got %q", cfg.AgentsPath)
	}
	if cfg.Tools.WebSearch.Provider != "duckduckgo" {
		t.Fatalf("expected default websearch provider, got %q", cfg.Tools.WebSearch.Provider)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("AGENTKERNEL_ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("AGENTKERNEL_DATABASE_URL", "postgres://override@localhost:5432/agentkernel?sslmode=disable")

	path := writeConfig(t, `
database:
  url: postgres://default@localhost:5432/agentkernel?sslmode=disable
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["anthropic"].APIKey != "sk-test-key" {
		t.Fatalf("expected anthropic api key override, got %q", cfg.LLM.Providers["anthropic"].APIKey)
	}
	if cfg.Database.URL != "postgres://override@localhost:5432/agentkernel?sslmode=disable" {
		t.Fatalf("expected database url override, got %q", cfg.Database.URL)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(basePath, []byte(`
llm:
  default_provider: anthropic
  providers:
    anthropic: {}
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	mainPath := filepath.Join(dir, "main.yaml")
	if err := os.WriteFile(mainPath, []byte(`
$include: base.yaml
server:
  host: 10.0.0.1
`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.DefaultProvider != "anthropic" {
		t.Fatalf("expected included default_provider, got %q", cfg.LLM.DefaultProvider)
	}
	if cfg.Server.Host != "10.0.0.1" {
		t.Fatalf("expected main file's host to win, got %q", cfg.Server.Host)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentkernel.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
