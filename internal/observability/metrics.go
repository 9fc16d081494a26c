package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application
// metrics, grounded on internal/observability/metrics.go's Prometheus
// wrapper but re-labeled from the teacher's message-channel domain to
// the agent orchestration runtime's domain: tree lifecycle, consensus
// rounds, ACE condensation, and MCP tool calls (spec.md §4).
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.AgentSpawned("worker")
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// AgentLifecycle counts tree lifecycle transitions.
	// Labels: profile_name, event (spawned|restored|dismissed|terminated)
	AgentLifecycle *prometheus.CounterVec

	// ActiveAgents is a gauge tracking currently registered agents.
	ActiveAgents prometheus.Gauge

	// ConsensusRounds counts consensus rounds by outcome.
	// Labels: outcome (agree|disagree|timeout)
	ConsensusRounds *prometheus.CounterVec

	// ConsensusRoundDuration measures consensus round wall-clock time.
	ConsensusRoundDuration prometheus.Histogram

	// CondensationEvents counts ACE condensation runs by outcome.
	// Labels: outcome (success|skipped|error)
	CondensationEvents *prometheus.CounterVec

	// MCPToolCalls counts MCP tool invocations.
	// Labels: server, tool, status (success|error)
	MCPToolCalls *prometheus.CounterVec

	// MCPToolCallDuration measures MCP tool call latency in seconds.
	// Labels: server, tool
	MCPToolCallDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion|cached)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	// Labels: component (tree|agentcore|consensus|mcpclient|persistence), error_type
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// DatabaseQueryDuration measures persistence store query latency.
	// Labels: operation (save|load|delete), status
	DatabaseQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics. Call once at
// application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		AgentLifecycle: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_agent_lifecycle_total",
				Help: "Agent lifecycle transitions by profile and event",
			},
			[]string{"profile_name", "event"},
		),

		ActiveAgents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quoracle_active_agents",
				Help: "Current number of registered agents",
			},
		),

		ConsensusRounds: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_consensus_rounds_total",
				Help: "Consensus rounds by outcome",
			},
			[]string{"outcome"},
		),

		ConsensusRoundDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quoracle_consensus_round_duration_seconds",
				Help:    "Duration of consensus rounds in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		CondensationEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_condensation_events_total",
				Help: "ACE condensation runs by outcome",
			},
			[]string{"outcome"},
		),

		MCPToolCalls: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_mcp_tool_calls_total",
				Help: "MCP tool calls by server, tool, and status",
			},
			[]string{"server", "tool", "status"},
		),

		MCPToolCallDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quoracle_mcp_tool_call_duration_seconds",
				Help:    "Duration of MCP tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"server", "tool"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quoracle_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quoracle_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quoracle_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quoracle_persistence_query_duration_seconds",
				Help:    "Duration of persistence store operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "status"},
		),
	}
}

// AgentSpawned records a successful Spawn for profileName.
func (m *Metrics) AgentSpawned(profileName string) {
	m.AgentLifecycle.WithLabelValues(profileName, "spawned").Inc()
	m.ActiveAgents.Inc()
}

// AgentRestored records a successful Restore for profileName.
func (m *Metrics) AgentRestored(profileName string) {
	m.AgentLifecycle.WithLabelValues(profileName, "restored").Inc()
	m.ActiveAgents.Inc()
}

// AgentTerminated records an agent leaving the registry, whether by
// Dismiss or crash.
func (m *Metrics) AgentTerminated(profileName string) {
	m.AgentLifecycle.WithLabelValues(profileName, "terminated").Inc()
	m.ActiveAgents.Dec()
}

// RecordConsensusRound records one consensus round's outcome and
// duration.
func (m *Metrics) RecordConsensusRound(outcome string, durationSeconds float64) {
	m.ConsensusRounds.WithLabelValues(outcome).Inc()
	m.ConsensusRoundDuration.Observe(durationSeconds)
}

// RecordCondensation records one ACE condensation run's outcome.
func (m *Metrics) RecordCondensation(outcome string) {
	m.CondensationEvents.WithLabelValues(outcome).Inc()
}

// RecordMCPToolCall records one MCP tool call's outcome and duration.
func (m *Metrics) RecordMCPToolCall(server, tool, status string, durationSeconds float64) {
	m.MCPToolCalls.WithLabelValues(server, tool, status).Inc()
	m.MCPToolCallDuration.WithLabelValues(server, tool).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordError increments the error counter for a given component and
// error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordPersistenceQuery records metrics for a persistence store
// operation.
func (m *Metrics) RecordPersistenceQuery(operation, status string, durationSeconds float64) {
	m.DatabaseQueryDuration.WithLabelValues(operation, status).Observe(durationSeconds)
}
