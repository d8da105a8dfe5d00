// Package observability provides metrics, structured logging, and distributed
// tracing for the kernel.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - Distributed request tracing with OpenTelemetry
//
// # Metrics
//
// Metrics track:
//   - Activation throughput and duration by agent id and outcome
//   - Tool dispatch counts and latency, including PolicyGate denials
//   - Provider request latency and token usage
//   - spawn_agent calls
//   - Ready-queue depth and active-activation counts, mirrored from the
//     Scheduler's own counters
//   - EventLog append counts by event type
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.ActivationStarted("researcher")
//	start := time.Now()
//	// ... run the activation ...
//	metrics.ActivationFinished("researcher", "completed", time.Since(start).Seconds())
//
//	metrics.RecordProviderRequest("anthropic", "claude-3-opus", "success",
//	    time.Since(start).Seconds(), promptTokens, completionTokens)
//
//	metrics.RecordToolExecution("web_search", "success", time.Since(start).Seconds())
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session/agent ID correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddAgentID(ctx, "researcher")
//
//	logger.Info(ctx, "dispatching tool call",
//	    "tool_name", "web_search",
//	    "input_bytes", len(input),
//	)
//
//	logger.Error(ctx, "provider request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Distributed tracing uses OpenTelemetry to track activations, tool calls,
// and provider requests:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "agentkernel",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    Endpoint:       "localhost:4317", // OTLP collector
//	    SamplingRate:   0.1,              // Sample 10% of traces
//	})
//	defer shutdown(context.Background())
//
//	ctx, span := tracer.TraceActivation(ctx, "researcher", sessionID)
//	defer span.End()
//
//	ctx, llmSpan := tracer.TraceLLMRequest(ctx, "anthropic", "claude-3-opus")
//	defer llmSpan.End()
//	tracer.SetAttributes(llmSpan, "prompt_tokens", 100, "completion_tokens", 500)
//
//	ctx, toolSpan := tracer.TraceToolExecution(ctx, "web_search")
//	defer toolSpan.End()
//	if err != nil {
//	    tracer.RecordError(toolSpan, err)
//	}
//
// # Context Propagation
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddAgentID(ctx, "researcher")
//
//	logger.Info(ctx, "activation started") // Includes request_id, session_id, agent_id
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// Trace context propagates to child spans
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Monitoring Dashboard
//
//	# Activation throughput
//	rate(agentkernel_activations_total[5m])
//
//	# Provider request latency (95th percentile)
//	histogram_quantile(0.95, rate(agentkernel_provider_request_duration_seconds_bucket[5m]))
//
//	# Tool denial rate
//	rate(agentkernel_policy_denials_total[5m])
//
//	# Queue depth
//	agentkernel_queue_depth
//
// # Further Reading
//
//   - Prometheus best practices: https://prometheus.io/docs/practices/naming/
//   - OpenTelemetry specification: https://opentelemetry.io/docs/specs/otel/
//   - slog documentation: https://pkg.go.dev/log/slog
package observability
