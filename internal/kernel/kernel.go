// Package kernel wires every kernel component — EventLog, VFS,
// AgentRegistry, ToolDispatcher, ProviderAdapter, ActivationLoop,
// Scheduler, ReplayController, and the HTTP/metrics surfaces around them
// — into one running process. Grounded on the teacher's
// gateway.ManagedServer/Server split: main.go only parses flags, this
// package builds and owns the component graph and its Start/Stop
// lifecycle.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentkernel/kernel/internal/activation"
	"github.com/agentkernel/kernel/internal/config"
	"github.com/agentkernel/kernel/internal/eventlog"
	"github.com/agentkernel/kernel/internal/observability"
	"github.com/agentkernel/kernel/internal/provider"
	"github.com/agentkernel/kernel/internal/registry"
	"github.com/agentkernel/kernel/internal/replay"
	"github.com/agentkernel/kernel/internal/scheduler"
	"github.com/agentkernel/kernel/internal/sessionstore"
	"github.com/agentkernel/kernel/internal/tooldispatch"
	"github.com/agentkernel/kernel/internal/vfs"
	"github.com/agentkernel/kernel/pkg/models"
)

// Kernel owns every long-lived component and the two HTTP servers that
// expose them: the EventLog WebSocket stream and the Prometheus
// /metrics endpoint. Start blocks until ctx is cancelled; Stop drains
// in-flight activations and shuts both servers down gracefully.
type Kernel struct {
	cfg *config.Config
	log *slog.Logger

	vfsImpl    vfs.VFS
	registry   *registry.Registry
	events     *eventlog.Log
	sessions   *sessionstore.Store
	dispatcher *tooldispatch.Dispatcher
	loop       *activation.Loop
	sched      *scheduler.Scheduler
	replay     *replay.Controller
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	catalog    *provider.Catalog
	discovery  *provider.BedrockDiscovery

	httpServer    *http.Server
	metricsServer *http.Server

	unsubscribeBroadcast func()
	unsubscribeSlack     func()
	shutdownTracer       func(context.Context) error
}

// New builds a Kernel from cfg without starting anything: every
// constructor here is cheap (in-process wiring, at most opening a
// database handle), so New doing the full build lets callers validate a
// config before Start commits to listening on a port.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Kernel, error) {
	if log == nil {
		log = slog.Default()
	}
	// Rebuild the passed-in bootstrap logger through observability.Logger
	// so cfg.Logging's level/format take effect everywhere; components
	// that want redaction and context-field correlation construct their
	// own observability.Logger over this same handler instead of the
	// plain slog.Logger it wraps.
	log = observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}).Slog()

	vfsImpl, err := buildVFS(ctx, cfg.VFS, log)
	if err != nil {
		return nil, fmt.Errorf("build vfs: %w", err)
	}

	reg := registry.New(vfsImpl, log)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load agent registry: %w", err)
	}

	store, err := buildEventStore(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("build event store: %w", err)
	}
	signer := eventlog.NewJWTSigner([]byte(cfg.Server.CheckpointSecret))
	events := eventlog.New(store, signer, cfg.Kernel.CheckpointEventInterval)

	broadcaster := eventlog.NewBroadcaster(log)
	unsubBroadcast := broadcaster.Attach(events)

	var unsubSlack func()
	if cfg.Notifications.Slack.Enabled {
		notifier := eventlog.NewSlackNotifier(cfg.Notifications.Slack.BotToken, cfg.Notifications.Slack.ChannelID, nil, log)
		unsubSlack = events.Subscribe(notifier.Listener())
	}

	sessions := sessionstore.New()

	backends, defaultModels, err := buildProviderBackends(ctx, cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("build provider backends: %w", err)
	}
	resolve := buildResolver(backends, cfg.LLM, defaultModels, log)

	catalog, discovery := buildCatalog(ctx, cfg.LLM, log)
	if cfg.Kernel.Model != "" {
		if _, ok := catalog.Get(cfg.Kernel.Model); !ok {
			log.Warn("kernel.model is not in the known model catalog; routing will still pass it through verbatim", "model", cfg.Kernel.Model)
		}
	}

	dedupeWindow, err := scheduler.ParseDedupeWindow(cfg.Kernel.SpawnDedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("parse kernel.spawn_dedupe_window: %w", err)
	}

	// Scheduler and ActivationLoop need each other: Scheduler.New wants a
	// Runner (the Loop) up front, and the Loop wants the Scheduler as its
	// Spawner/PauseWaiter/TokenCounter (and the Dispatcher it wraps wants
	// it as Spawner/Signaler too). runnerProxy breaks the cycle the same
	// way the teacher's ManagedServer does: build the Scheduler against a
	// stand-in Runner, then wire the real Loop into the stand-in once it
	// exists.
	proxy := &runnerProxy{}
	sched := scheduler.New(proxy, reg, sessions, events, scheduler.Config{
		MaxConcurrency: cfg.Kernel.MaxConcurrency,
		MaxDepth:       cfg.Kernel.MaxDepth,
		MaxFanout:      cfg.Kernel.MaxFanout,
		TokenBudget:    cfg.Kernel.TokenBudget,
		DedupeWindow:   dedupeWindow,
		Logger:         log,
	})

	dispatcher := tooldispatch.New(vfsImpl, sched, sched, log,
		tooldispatch.WithCustomToolInvoker(newProviderInvoker(resolve, cfg.Kernel.Model)),
		tooldispatch.WithWebToolsConfig(tooldispatch.WebToolsConfig{
			SearchProvider: cfg.Tools.WebSearch.Provider,
			SearchURL:      cfg.Tools.WebSearch.URL,
			BraveAPIKey:    cfg.Tools.WebSearch.BraveAPIKey,
			FetchMaxChars:  cfg.Tools.WebFetch.MaxChars,
			Timeout:        cfg.Tools.Execution.Timeout,
		}),
	)

	metrics := observability.NewMetrics()
	traceEndpoint := cfg.Observability.Tracing.Endpoint
	if !cfg.Observability.Tracing.Enabled {
		traceEndpoint = "" // NewTracer treats an empty endpoint as disabled
	}
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		Endpoint:       traceEndpoint,
		ServiceName:    cfg.Observability.Tracing.ServiceName,
		ServiceVersion: cfg.Observability.Tracing.ServiceVersion,
		Environment:    cfg.Observability.Tracing.Environment,
		SamplingRate:   cfg.Observability.Tracing.SamplingRate,
		EnableInsecure: cfg.Observability.Tracing.Insecure,
		Attributes:     cfg.Observability.Tracing.Attributes,
	})

	loop := activation.New(events, sessions, dispatcher, resolve, sched, activation.Config{
		MinTurnsBeforeStop: cfg.Kernel.MinTurnsBeforeStop,
	}, log)
	loop.SetPauseGate(sched)
	loop.SetTokenCounter(sched)
	loop.SetObservability(metrics, tracer)
	proxy.loop = loop

	replayCtl := replay.New(events, vfsImpl, sessions, reg, log)

	mux := http.NewServeMux()
	mux.Handle("/events/stream", broadcaster)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)

	return &Kernel{
		cfg:      cfg,
		log:      log,
		vfsImpl:  vfsImpl,
		registry: reg,
		events:   events,
		sessions: sessions,

		dispatcher: dispatcher,
		loop:       loop,
		sched:      sched,
		replay:     replayCtl,
		metrics:    metrics,
		tracer:     tracer,
		catalog:    catalog,
		discovery:  discovery,

		httpServer:    &http.Server{Addr: addr, Handler: mux},
		metricsServer: &http.Server{Addr: metricsAddr, Handler: metricsMux},

		unsubscribeBroadcast: unsubBroadcast,
		unsubscribeSlack:     unsubSlack,
		shutdownTracer:       shutdownTracer,
	}, nil
}

// Start runs the Scheduler's dispatch loop and both HTTP servers until
// ctx is cancelled, then drains gracefully: no new Activation starts, but
// those already running are given shutdownGrace to finish before the
// servers close.
func (k *Kernel) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		if err := k.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("event stream server: %w", err)
		}
	}()
	go func() {
		if err := k.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	runDone := make(chan struct{})
	go func() {
		k.sched.Run(ctx)
		close(runDone)
	}()
	go k.pollStatusGauges(ctx)
	if k.discovery != nil {
		go k.pollBedrockCatalog(ctx)
	}

	k.log.Info("kernel started", "http_addr", k.httpServer.Addr, "metrics_addr", k.metricsServer.Addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	<-runDone
	return k.Stop(context.Background())
}

// pollStatusGauges copies the Scheduler's point-in-time Counters onto the
// three Prometheus gauges that mirror them, since those are a snapshot of
// in-memory Scheduler state rather than something incremented inline at
// the point of change.
func (k *Kernel) pollStatusGauges(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := k.sched.GetStatus()
			k.metrics.QueueDepth.Set(float64(status.QueueCount))
			k.metrics.ActiveActivations.Set(float64(status.ActiveCount))
			k.metrics.TokensConsumed.Set(float64(status.TotalTokens))
		}
	}
}

// pollBedrockCatalog periodically re-runs BedrockDiscovery.Refresh so a
// model enabled in the AWS account after startup becomes routable without
// a restart. Refresh itself caches for an hour, so a shorter ticker here
// just means a human didn't have to time this to the hour.
func (k *Kernel) pollBedrockCatalog(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := k.discovery.Refresh(ctx, k.catalog); err != nil {
				k.log.Warn("bedrock model discovery refresh failed", "error", err)
			}
		}
	}
}

// Stop shuts down both HTTP servers and detaches the EventLog's
// listeners. Idempotent: safe to call after Start's own ctx-triggered
// shutdown, or directly from a signal handler.
func (k *Kernel) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := k.httpServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := k.metricsServer.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	if k.unsubscribeBroadcast != nil {
		k.unsubscribeBroadcast()
	}
	if k.unsubscribeSlack != nil {
		k.unsubscribeSlack()
	}
	if k.shutdownTracer != nil {
		if err := k.shutdownTracer(shutdownCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	k.log.Info("kernel stopped")
	return firstErr
}

// runnerProxy satisfies scheduler.Runner before the real ActivationLoop
// exists, breaking the Scheduler/Loop construction cycle: Scheduler.New
// needs a Runner, and the Loop it will eventually run needs the Scheduler
// itself as a collaborator. loop is nil only for the brief window between
// scheduler.New and the one assignment that fills it in; Run is never
// called before that assignment completes.
type runnerProxy struct {
	loop *activation.Loop
}

func (p *runnerProxy) Run(ctx context.Context, act models.Activation, profile *models.AgentProfile) error {
	return p.loop.Run(ctx, act, profile)
}

// Replay exposes the ReplayController for cmd/agentkernel's
// replay-from-event/restore-from-event subcommands.
func (k *Kernel) Replay() *replay.Controller { return k.replay }

// Status exposes the Scheduler's live counters for a CLI status command
// or a future /status endpoint.
func (k *Kernel) Status() scheduler.Counters { return k.sched.GetStatus() }

func buildVFS(ctx context.Context, cfg config.VFSConfig, log *slog.Logger) (vfs.VFS, error) {
	switch cfg.Backend {
	case "", "memory":
		return vfs.NewMemory(nil), nil
	case "fs":
		return vfs.NewDisk(cfg.Root, log)
	case "s3":
		client, err := buildS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return vfs.NewS3(client, cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("unknown vfs backend %q", cfg.Backend)
	}
}

// buildS3Client follows the teacher's artifacts.NewS3Store construction
// exactly: LoadDefaultConfig with an optional static credentials
// provider, then NewFromConfig with BaseEndpoint set for S3-compatible
// endpoints (MinIO, R2) that aren't AWS itself.
func buildS3Client(ctx context.Context, cfg config.VFSConfig) (*s3.Client, error) {
	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*awscfg.LoadOptions) error
	opts = append(opts, awscfg.WithRegion(region))
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := cfg.S3Endpoint
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func buildEventStore(cfg config.DatabaseConfig) (eventlog.Store, error) {
	switch {
	case cfg.URL == "":
		return eventlog.NewMemoryStore(), nil
	case strings.HasPrefix(cfg.URL, "postgres://") || strings.HasPrefix(cfg.URL, "postgresql://"):
		return eventlog.NewPostgresStore(cfg.URL, eventlog.PoolConfig{
			MaxOpenConns:    cfg.MaxConnections,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		})
	case strings.HasPrefix(cfg.URL, "sqlite://"):
		return eventlog.NewSQLiteStore(strings.TrimPrefix(cfg.URL, "sqlite://"))
	default:
		return nil, fmt.Errorf("unrecognized database.url scheme %q (want postgres:// or sqlite://)", cfg.URL)
	}
}

// buildProviderBackends constructs one Provider per configured LLM entry
// and returns the default-model map BuildFallbackChain needs to fill in
// a fallback candidate's model when the caller didn't ask for one by
// name.
func buildProviderBackends(ctx context.Context, cfg config.LLMConfig) (map[string]provider.Provider, map[string]string, error) {
	backends := make(map[string]provider.Provider, len(cfg.Providers))
	defaultModels := make(map[string]string, len(cfg.Providers))

	for name, pcfg := range cfg.Providers {
		defaultModels[name] = pcfg.DefaultModel
		switch name {
		case "anthropic":
			backends[name] = provider.NewAnthropicProvider(pcfg.APIKey)
		case "openai":
			backends[name] = provider.NewOpenAIProvider(pcfg.APIKey)
		case "bedrock":
			bp, err := provider.NewBedrockProvider(ctx, cfg.Bedrock.Region)
			if err != nil {
				return nil, nil, fmt.Errorf("build bedrock provider: %w", err)
			}
			backends[name] = bp
		default:
			return nil, nil, fmt.Errorf("unknown llm provider %q", name)
		}
	}
	return backends, defaultModels, nil
}

// buildCatalog returns a Model catalog seeded with the kernel's built-in
// list, plus a BedrockDiscovery to keep it current when a bedrock backend
// is configured (nil otherwise, since there's nothing to discover).
// Refresh is attempted once synchronously so a bad region/credential
// surfaces at startup; failure is logged, not fatal, since the built-in
// catalog is still usable for routing.
func buildCatalog(ctx context.Context, cfg config.LLMConfig, log *slog.Logger) (*provider.Catalog, *provider.BedrockDiscovery) {
	catalog := provider.NewCatalog()
	if !cfg.Bedrock.Enabled {
		return catalog, nil
	}
	discovery := provider.NewBedrockDiscovery(cfg.Bedrock.Region, log)
	if err := discovery.Refresh(ctx, catalog); err != nil {
		log.Warn("initial bedrock model discovery failed, falling back to built-in catalog entries", "error", err)
	}
	return catalog, discovery
}

// buildResolver returns the activation.ProviderResolver the Loop uses to
// turn an AgentProfile's model string into a live Provider, routed
// through cfg.DefaultProvider's fallback chain. Router itself holds no
// state across calls, so building a fresh one per resolve is cheap.
func buildResolver(backends map[string]provider.Provider, cfg config.LLMConfig, defaultModels map[string]string, log *slog.Logger) activation.ProviderResolver {
	return func(model string) (provider.Provider, error) {
		if model == "" {
			model = defaultModels[cfg.DefaultProvider]
		}
		chain := provider.BuildFallbackChain(cfg.DefaultProvider, model, cfg.FallbackChain, defaultModels)
		if len(chain) == 0 {
			return nil, fmt.Errorf("no provider backend configured to serve model %q", model)
		}
		return provider.NewRoutedProvider(backends, chain, model, log), nil
	}
}
