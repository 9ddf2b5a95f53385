package smartapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paulgrammer/smartapi-connect/connector"
	"github.com/paulgrammer/smartapi-connect/llm"
	"github.com/paulgrammer/smartapi-connect/pipeline"
)

const metricsNamespace = "smartapi"

// Metrics holds the Prometheus collectors of one server. Each server owns
// its registry so several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	connectorCalls    *prometheus.CounterVec
	connectorDuration *prometheus.HistogramVec

	llmRequests *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec
	llmTokens   *prometheus.CounterVec

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec

	mcpToolCalls   *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connectorCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connector_calls_total",
			Help:      "Connector calls by method and outcome (success or failure kind).",
		}, []string{"method", "outcome"}),
		connectorDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "connector_call_duration_seconds",
			Help:      "Duration of successful connector calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		llmRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_requests_total",
			Help:      "Chat requests sent to the language model.",
		}, []string{"provider", "model", "status"}),
		llmDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of chat requests.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens used, by direction.",
		}, []string{"provider", "model", "type"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_runs_total",
			Help:      "Processed requests by outcome; harness errors are counted as \"error\".",
		}, []string{"topology", "mode", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Duration of processed requests.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"topology", "mode"}),
		mcpToolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mcp_tool_calls_total",
			Help:      "Tool calls received over MCP.",
		}, []string{"tool", "status"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_active",
			Help:      "Browser sessions currently held.",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall implements connector.Observer.
func (m *Metrics) ObserveCall(_ context.Context, req connector.Request, res connector.Result) {
	method := string(req.Method)
	if parsed, ok := connector.ParseMethod(method); ok {
		method = string(parsed)
	} else {
		method = "invalid"
	}

	switch r := res.(type) {
	case *connector.Success:
		m.connectorCalls.WithLabelValues(method, "success").Inc()
		m.connectorDuration.WithLabelValues(method).Observe(r.Duration.Seconds())
	case *connector.Failure:
		m.connectorCalls.WithLabelValues(method, string(r.Kind)).Inc()
	}
}

func (m *Metrics) observeRun(h *pipeline.Harness, summary *pipeline.Summary, err error, elapsed time.Duration) {
	outcome := "error"
	if err == nil {
		outcome = string(summary.Outcome)
	}
	topology, mode := string(h.Topology()), string(h.Mode())
	m.runs.WithLabelValues(topology, mode, outcome).Inc()
	m.runDuration.WithLabelValues(topology, mode).Observe(elapsed.Seconds())
}

// meteredProvider records every chat request of the wrapped provider.
type meteredProvider struct {
	llm.Provider
	metrics *Metrics
}

// MeterProvider wraps p so its requests show up in m.
func (m *Metrics) MeterProvider(p llm.Provider) llm.Provider {
	if p == nil {
		return nil
	}
	return &meteredProvider{Provider: p, metrics: m}
}

func (p *meteredProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	name, model := p.Name(), p.Model()
	start := time.Now()

	resp, err := p.Provider.Chat(ctx, req)
	p.metrics.llmDuration.WithLabelValues(name, model).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.llmRequests.WithLabelValues(name, model, "error").Inc()
		return nil, err
	}

	p.metrics.llmRequests.WithLabelValues(name, model, "success").Inc()
	p.metrics.llmTokens.WithLabelValues(name, model, "input").Add(float64(resp.Usage.InputTokens))
	p.metrics.llmTokens.WithLabelValues(name, model, "output").Add(float64(resp.Usage.OutputTokens))
	return resp, nil
}
