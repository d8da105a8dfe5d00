package kernel

import (
	"context"
	"log/slog"
	"testing"

	"github.com/agentkernel/kernel/internal/config"
	"github.com/agentkernel/kernel/internal/eventlog"
	"github.com/agentkernel/kernel/internal/provider"
)

func TestBuildEventStore_EmptyURLUsesMemoryStore(t *testing.T) {
	store, err := buildEventStore(config.DatabaseConfig{})
	if err != nil {
		t.Fatalf("buildEventStore() error = %v", err)
	}
	if _, ok := store.(*eventlog.MemoryStore); !ok {
		t.Fatalf("store = %T, want *eventlog.MemoryStore", store)
	}
}

func TestBuildEventStore_UnrecognizedSchemeErrors(t *testing.T) {
	_, err := buildEventStore(config.DatabaseConfig{URL: "mysql://localhost/db"})
	if err == nil {
		t.Fatal("expected an error for an unrecognized database.url scheme")
	}
}

func TestBuildEventStore_SQLiteSchemeIsStripped(t *testing.T) {
	dsn := "sqlite://" + t.TempDir() + "/events.db"
	store, err := buildEventStore(config.DatabaseConfig{URL: dsn})
	if err != nil {
		t.Fatalf("buildEventStore() error = %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestBuildResolver_EmptyChainErrors(t *testing.T) {
	// No DefaultProvider and no resolvable fallback entries means
	// BuildFallbackChain returns zero candidates, which buildResolver
	// must surface as an error rather than handing activation.Loop a
	// RoutedProvider with nothing to route to.
	resolve := buildResolver(nil, config.LLMConfig{}, nil, slog.Default())
	if _, err := resolve("claude-sonnet-4-5"); err == nil {
		t.Fatal("expected an error when the fallback chain resolves to zero candidates")
	}
}

func TestBuildResolver_EmptyModelFallsBackToDefaultProviderModel(t *testing.T) {
	backends := map[string]provider.Provider{
		"anthropic": provider.NewAnthropicProvider("test-key"),
	}
	defaultModels := map[string]string{"anthropic": "claude-sonnet-4-5"}
	resolve := buildResolver(backends, config.LLMConfig{DefaultProvider: "anthropic"}, defaultModels, slog.Default())

	got, err := resolve("")
	if err != nil {
		t.Fatalf("resolve(\"\") error = %v", err)
	}
	if got == nil {
		t.Fatal("expected a non-nil Provider")
	}
}

func TestBuildCatalog_DisabledBedrockReturnsNilDiscovery(t *testing.T) {
	catalog, discovery := buildCatalog(context.Background(), config.LLMConfig{}, slog.Default())
	if catalog == nil {
		t.Fatal("expected a non-nil catalog even with bedrock disabled")
	}
	if discovery != nil {
		t.Fatal("expected a nil BedrockDiscovery when llm.bedrock.enabled is false")
	}
	if _, ok := catalog.Get("claude-sonnet-4-5"); !ok {
		t.Fatal("expected the built-in catalog to still resolve known model ids")
	}
}
