// Package observability wires the kernel's in-process counters into
// Prometheus metrics for the cmd/agentkernel /metrics endpoint.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks activation throughput, tool dispatch, provider calls, and
// the Scheduler's own point-in-time counters, all under the agentkernel_
// namespace.
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ActivationStarted("researcher")
//	defer metrics.ToolExecutionDuration("web_search").Observe(time.Since(start).Seconds())
type Metrics struct {
	// ActivationCounter counts activations by agent id and outcome.
	// Labels: agent_id, outcome (completed|error|aborted)
	ActivationCounter *prometheus.CounterVec

	// ActivationDuration measures wall-clock time from activation to
	// a terminal event.
	// Labels: agent_id
	ActivationDuration *prometheus.HistogramVec

	// ToolExecutionCounter counts tool dispatches by tool name and outcome.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider turns by provider, model, status.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider turn latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderTokensUsed tracks token consumption by provider, model, kind.
	// Labels: provider, model, kind (prompt|completion)
	ProviderTokensUsed *prometheus.CounterVec

	// PolicyDenials counts tool calls the PolicyGate rejected.
	// Labels: tool_name
	PolicyDenials *prometheus.CounterVec

	// SpawnCounter counts spawn_agent calls by child agent id.
	// Labels: agent_id
	SpawnCounter *prometheus.CounterVec

	// QueueDepth mirrors scheduler.Counters.QueueCount.
	QueueDepth prometheus.Gauge

	// ActiveActivations mirrors scheduler.Counters.ActiveCount.
	ActiveActivations prometheus.Gauge

	// TokensConsumed mirrors scheduler.Counters.TotalTokens.
	TokensConsumed prometheus.Gauge

	// EventLogAppends counts every EventLog.Append call by event type.
	// Labels: event_type
	EventLogAppends *prometheus.CounterVec
}

// NewMetrics creates and registers every kernel metric with Prometheus's
// default registry. Call once at cmd/agentkernel startup.
func NewMetrics() *Metrics {
	return &Metrics{
		ActivationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_activations_total",
				Help: "Total number of activations by agent id and outcome",
			},
			[]string{"agent_id", "outcome"},
		),

		ActivationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentkernel_activation_duration_seconds",
				Help:    "Duration of an activation from start to terminal event",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"agent_id"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_tool_executions_total",
				Help: "Total number of tool dispatches by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentkernel_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ProviderRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_provider_requests_total",
				Help: "Total number of provider turns by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ProviderRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentkernel_provider_request_duration_seconds",
				Help:    "Duration of provider turns in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		ProviderTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_provider_tokens_total",
				Help: "Total number of tokens used by provider, model, and kind",
			},
			[]string{"provider", "model", "kind"},
		),

		PolicyDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_policy_denials_total",
				Help: "Total number of tool calls denied by the PolicyGate",
			},
			[]string{"tool_name"},
		),

		SpawnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_spawns_total",
				Help: "Total number of spawn_agent calls by child agent id",
			},
			[]string{"agent_id"},
		),

		QueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentkernel_queue_depth",
				Help: "Current number of activations waiting in the ready queue",
			},
		),

		ActiveActivations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentkernel_active_activations",
				Help: "Current number of activations running concurrently",
			},
		),

		TokensConsumed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "agentkernel_tokens_consumed",
				Help: "Cumulative tokens consumed across the current run",
			},
		),

		EventLogAppends: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentkernel_eventlog_appends_total",
				Help: "Total number of EventLog entries appended by event type",
			},
			[]string{"event_type"},
		),
	}
}

// ActivationStarted increments the active-activation gauge; pair with
// ActivationFinished once the activation reaches a terminal event.
func (m *Metrics) ActivationStarted(agentID string) {
	m.ActiveActivations.Inc()
}

// ActivationFinished records a terminal activation outcome and decrements
// the active-activation gauge set by ActivationStarted.
func (m *Metrics) ActivationFinished(agentID, outcome string, durationSeconds float64) {
	m.ActivationCounter.WithLabelValues(agentID, outcome).Inc()
	m.ActivationDuration.WithLabelValues(agentID).Observe(durationSeconds)
	m.ActiveActivations.Dec()
}

// RecordToolExecution records a tool dispatch outcome and its latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordPolicyDenial records a tool call the PolicyGate rejected.
func (m *Metrics) RecordPolicyDenial(toolName string) {
	m.PolicyDenials.WithLabelValues(toolName).Inc()
}

// RecordProviderRequest records one provider turn's outcome, latency, and
// token usage.
func (m *Metrics) RecordProviderRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.ProviderRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ProviderRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.ProviderTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordSpawn records one spawn_agent call for childAgentID.
func (m *Metrics) RecordSpawn(childAgentID string) {
	m.SpawnCounter.WithLabelValues(childAgentID).Inc()
}

// RecordEventAppend records one EventLog.Append call for eventType.
func (m *Metrics) RecordEventAppend(eventType string) {
	m.EventLogAppends.WithLabelValues(eventType).Inc()
}

// SetQueueDepth sets the current ready-queue depth, mirroring
// scheduler.Counters.QueueCount on each GetStatus poll.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// SetTokensConsumed sets the cumulative token count, mirroring
// scheduler.Counters.TotalTokens on each GetStatus poll.
func (m *Metrics) SetTokensConsumed(tokens int) {
	m.TokensConsumed.Set(float64(tokens))
}
