package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the bot
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// External service metrics
	ServiceCallsTotal   *prometheus.CounterVec
	ServiceCallDuration *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
	FallbacksTotal      *prometheus.CounterVec

	// Bot metrics
	SlackEventsTotal  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	LLMTokensTotal    *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Health metrics
	HealthVerdict     prometheus.Gauge
	CPUPercent        prometheus.Gauge
	MemoryPercent     prometheus.Gauge
	DiskPercent       prometheus.Gauge
	ErrorRate         prometheus.Gauge
	ActiveConnections prometheus.Gauge
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "devassist",
		Enabled:   true,
	}
}

// NewMetrics creates and registers all Prometheus metrics on a private registry
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	ns := config.Namespace
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being served",
			},
			[]string{"method", "path"},
		),

		ServiceCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "service_calls_total",
				Help:      "Total number of external service calls",
			},
			[]string{"service", "status"},
		),
		ServiceCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: ns,
				Name:      "service_call_duration_seconds",
				Help:      "External service call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=healthy, 1=degraded, 2=failed, 3=recovering)",
			},
			[]string{"service"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "fallbacks_total",
				Help:      "Total number of fallback responses served",
			},
			[]string{"service", "reason"},
		),

		SlackEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "slack_events_total",
				Help:      "Total number of Slack events received",
			},
			[]string{"type", "status"},
		),
		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "messages_processed_total",
				Help:      "Total number of user messages processed",
			},
			[]string{"status"},
		),
		LLMTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "llm_tokens_total",
				Help:      "Total number of LLM tokens consumed",
			},
			[]string{"direction"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: ns,
				Name:      "errors_total",
				Help:      "Total number of errors by component and type",
			},
			[]string{"component", "type"},
		),

		HealthVerdict: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "health_verdict",
				Help:      "Current health verdict (0=healthy, 1=warning, 2=critical)",
			},
		),
		CPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "cpu_percent",
				Help:      "Sampled CPU usage percentage",
			},
		),
		MemoryPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "memory_percent",
				Help:      "Sampled memory usage percentage",
			},
		),
		DiskPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "disk_percent",
				Help:      "Sampled disk usage percentage",
			},
		),
		ErrorRate: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "error_rate_percent",
				Help:      "Sampled error rate percentage",
			},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: ns,
				Name:      "active_connections",
				Help:      "Number of active client connections",
			},
		),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ServiceCallsTotal,
		m.ServiceCallDuration,
		m.CircuitBreakerState,
		m.FallbacksTotal,
		m.SlackEventsTotal,
		m.MessagesProcessed,
		m.LLMTokensTotal,
		m.ErrorsTotal,
		m.HealthVerdict,
		m.CPUPercent,
		m.MemoryPercent,
		m.DiskPercent,
		m.ErrorRate,
		m.ActiveConnections,
	)

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// RecordServiceCall records an outbound service call outcome
func (m *Metrics) RecordServiceCall(service string, success bool, duration time.Duration) {
	if m.ServiceCallsTotal == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}
	m.ServiceCallsTotal.WithLabelValues(service, status).Inc()
	m.ServiceCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetCircuitBreakerState updates the breaker state gauge for a service
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	if m.CircuitBreakerState == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordFallback records a served fallback response
func (m *Metrics) RecordFallback(service, reason string) {
	if m.FallbacksTotal == nil {
		return
	}
	m.FallbacksTotal.WithLabelValues(service, reason).Inc()
}

// RecordSlackEvent records a received Slack event
func (m *Metrics) RecordSlackEvent(eventType, status string) {
	if m.SlackEventsTotal == nil {
		return
	}
	m.SlackEventsTotal.WithLabelValues(eventType, status).Inc()
}

// RecordMessageProcessed records a processed user message
func (m *Metrics) RecordMessageProcessed(status string) {
	if m.MessagesProcessed == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(status).Inc()
}

// RecordLLMTokens records token consumption for one LLM exchange
func (m *Metrics) RecordLLMTokens(inputTokens, outputTokens int) {
	if m.LLMTokensTotal == nil {
		return
	}
	m.LLMTokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.LLMTokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordError records an error occurrence
func (m *Metrics) RecordError(component, errorType string) {
	if m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// UpdateHealth publishes the latest health sample to the gauges
func (m *Metrics) UpdateHealth(verdict string, cpu, memory, disk, errorRate float64, connections int) {
	if m.HealthVerdict == nil {
		return
	}

	var value float64
	switch verdict {
	case "warning":
		value = 1
	case "critical":
		value = 2
	}
	m.HealthVerdict.Set(value)
	m.CPUPercent.Set(cpu)
	m.MemoryPercent.Set(memory)
	m.DiskPercent.Set(disk)
	m.ErrorRate.Set(errorRate)
	m.ActiveConnections.Set(float64(connections))
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
