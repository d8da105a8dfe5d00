package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrock"
	"github.com/aws/aws-sdk-go-v2/service/bedrock/types"
)

const defaultDiscoveryRefresh = 1 * time.Hour

// bedrockClient is the subset of the bedrock (control-plane, distinct
// from bedrockruntime) API that BedrockDiscovery needs.
type bedrockClient interface {
	ListFoundationModels(ctx context.Context, params *bedrock.ListFoundationModelsInput, optFns ...func(*bedrock.Options)) (*bedrock.ListFoundationModelsOutput, error)
}

// BedrockDiscovery refreshes a Catalog with the foundation models actually
// enabled in an AWS account/region, grounded on the teacher's
// models.BedrockDiscovery. Trimmed of the teacher's provider-filter and
// configurable default-window knobs — the kernel fills every discovered
// Model with the same conservative defaults and lets an operator override
// a specific entry via Catalog.Register after Refresh.
type BedrockDiscovery struct {
	region string
	log    *slog.Logger

	mu        sync.Mutex
	cache     []*Model
	expiresAt time.Time

	client bedrockClient
}

// NewBedrockDiscovery creates a discoverer for region.
func NewBedrockDiscovery(region string, log *slog.Logger) *BedrockDiscovery {
	if log == nil {
		log = slog.Default()
	}
	return &BedrockDiscovery{region: region, log: log}
}

// Refresh lists the account's enabled Bedrock foundation models and
// registers them with catalog, caching the result for an hour.
func (d *BedrockDiscovery) Refresh(ctx context.Context, catalog *Catalog) error {
	d.mu.Lock()
	if d.cache != nil && time.Now().Before(d.expiresAt) {
		models := d.cache
		d.mu.Unlock()
		for _, m := range models {
			catalog.Register(m)
		}
		return nil
	}
	d.mu.Unlock()

	client, err := d.bedrockClientFor(ctx)
	if err != nil {
		return fmt.Errorf("create bedrock client: %w", err)
	}

	out, err := client.ListFoundationModels(ctx, &bedrock.ListFoundationModelsInput{})
	if err != nil {
		return fmt.Errorf("list foundation models: %w", err)
	}

	models := make([]*Model, 0, len(out.ModelSummaries))
	for _, summary := range out.ModelSummaries {
		if m := toModel(summary); m != nil {
			models = append(models, m)
		}
	}

	d.mu.Lock()
	d.cache = models
	d.expiresAt = time.Now().Add(defaultDiscoveryRefresh)
	d.mu.Unlock()

	for _, m := range models {
		catalog.Register(m)
	}
	d.log.Info("refreshed bedrock model catalog", "count", len(models), "region", d.region)
	return nil
}

func (d *BedrockDiscovery) bedrockClientFor(ctx context.Context) (bedrockClient, error) {
	if d.client != nil {
		return d.client, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(d.region))
	if err != nil {
		return nil, err
	}
	return bedrock.NewFromConfig(cfg), nil
}

func toModel(summary types.FoundationModelSummary) *Model {
	if summary.ModelId == nil || *summary.ModelId == "" {
		return nil
	}
	if summary.ResponseStreamingSupported == nil || !*summary.ResponseStreamingSupported {
		return nil
	}

	caps := []Capability{CapStreaming}
	for _, mode := range summary.InputModalities {
		if mode == types.ModelModalityImage {
			caps = append(caps, CapVision)
		}
	}
	for _, inf := range summary.InferenceTypesSupported {
		if inf == types.InferenceTypeOnDemand {
			caps = append(caps, CapTools)
			break
		}
	}

	id := *summary.ModelId
	name := id
	if summary.ModelName != nil && *summary.ModelName != "" {
		name = *summary.ModelName
	}

	return &Model{
		ID:              id,
		Name:            name,
		Backend:         "bedrock",
		Tier:            inferBedrockTier(id),
		ContextWindow:   DefaultBedrockContextWindow,
		MaxOutputTokens: DefaultBedrockMaxTokens,
		Capabilities:    caps,
	}
}

func inferBedrockTier(id string) Tier {
	switch {
	case containsAny(id, "opus", "large"):
		return TierFlagship
	case containsAny(id, "haiku", "mini", "lite"):
		return TierFast
	default:
		return TierStandard
	}
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

const (
	// DefaultBedrockContextWindow is used for a discovered model that
	// doesn't report its own context size.
	DefaultBedrockContextWindow = 32000
	// DefaultBedrockMaxTokens is used for a discovered model that
	// doesn't report its own output limit.
	DefaultBedrockMaxTokens = 4096
)
