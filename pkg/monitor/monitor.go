package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/devassist/devassist/pkg/config"
	"github.com/devassist/devassist/pkg/errors"
	"github.com/devassist/devassist/pkg/logging"
)

// Health verdicts derived from sampled metrics
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
	StatusUnknown  = "unknown"
)

const stopJoinTimeout = 5 * time.Second

// Config holds monitor configuration
type Config struct {
	// CheckInterval is how often a sample is collected
	CheckInterval time.Duration
	// HistorySize bounds the retained sample history
	HistorySize int
	// DiskPath is the mount point measured for disk usage
	DiskPath string
	// Thresholds drive the healthy/warning/critical verdict
	Thresholds config.Thresholds
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: 30 * time.Second,
		HistorySize:   100,
		DiskPath:      "/",
		Thresholds:    config.DefaultThresholds(),
	}
}

// APIMetrics tracks the call history of one external service
type APIMetrics struct {
	ServiceName     string        `json:"service_name"`
	TotalCalls      int64         `json:"total_calls"`
	SuccessfulCalls int64         `json:"successful_calls"`
	FailedCalls     int64         `json:"failed_calls"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastError       string        `json:"last_error,omitempty"`
	LastSuccess     *time.Time    `json:"last_success,omitempty"`
}

// HealthSample is one periodic snapshot of system and service health
type HealthSample struct {
	Timestamp         time.Time     `json:"timestamp"`
	CPUPercent        float64       `json:"cpu_percent"`
	MemoryPercent     float64       `json:"memory_percent"`
	MemoryAvailableMB float64       `json:"memory_available_mb"`
	DiskPercent       float64       `json:"disk_usage_percent"`
	Uptime            time.Duration `json:"uptime_seconds"`
	ActiveConnections int           `json:"active_connections"`
	ErrorRate         float64       `json:"error_rate"`
	AvgResponseTime   time.Duration `json:"avg_response_time"`
	Status            string        `json:"status"`
}

// HealthStatus is the structured health snapshot served to clients
type HealthStatus struct {
	Status      string                `json:"status"`
	Timestamp   time.Time             `json:"timestamp"`
	UptimeHours float64               `json:"uptime_hours"`
	System      SystemStatus          `json:"system"`
	Performance PerformanceStatus     `json:"performance"`
	APIs        map[string]APIMetrics `json:"apis"`
	Errors      errors.Summary        `json:"errors"`
}

// SystemStatus holds the system portion of a health snapshot
type SystemStatus struct {
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`
	MemoryAvailableMB float64 `json:"memory_available_mb"`
	DiskPercent       float64 `json:"disk_usage_percent"`
	ActiveConnections int     `json:"active_connections"`
}

// PerformanceStatus holds the performance portion of a health snapshot
type PerformanceStatus struct {
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// Monitor periodically samples system resources and service call metrics,
// derives a health verdict against configured thresholds, and keeps a
// bounded history of samples.
type Monitor struct {
	config      Config
	reader      SystemReader
	connections ConnectionCounter
	collector   *errors.Collector
	startTime   time.Time

	mu       sync.Mutex
	services map[string]*APIMetrics
	history  []HealthSample

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}

	logger *logging.Logger
}

// New creates a monitor. A nil reader falls back to the runtime reader,
// a nil collector gets a fresh one, and a nil connection counter reports
// zero connections.
func New(cfg Config, reader SystemReader, collector *errors.Collector, connections ConnectionCounter) *Monitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.Thresholds == (config.Thresholds{}) {
		cfg.Thresholds = config.DefaultThresholds()
	}
	if reader == nil {
		reader = NewRuntimeReader(cfg.DiskPath)
	}
	if collector == nil {
		collector = errors.NewCollector(errors.DefaultCollectorCapacity)
	}
	if connections == nil {
		connections = func() int { return 0 }
	}

	return &Monitor{
		config:      cfg,
		reader:      reader,
		connections: connections,
		collector:   collector,
		startTime:   time.Now(),
		services:    make(map[string]*APIMetrics),
		logger:      logging.GetLogger(),
	}
}

// Collector returns the error collector feeding the monitor's error rate
func (m *Monitor) Collector() *errors.Collector {
	return m.collector
}

// Start launches the background sampling loop. Calling Start on a
// running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(ctx, m.stopCh, m.done)

	m.logger.Info("Health monitor started", "interval", m.config.CheckInterval.String())
}

// Stop signals the loop to exit and waits for the in-flight sample to
// finish, up to a bounded timeout. Calling Stop on a stopped monitor is
// a no-op.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if !m.running {
		return
	}

	close(m.stopCh)
	select {
	case <-m.done:
	case <-time.After(stopJoinTimeout):
		m.logger.Warn("Health monitor loop did not stop in time, proceeding")
	}
	m.running = false

	m.logger.Info("Health monitor stopped")
}

func (m *Monitor) loop(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			sample := m.CollectSample()
			m.appendSample(sample)
			m.checkAlerts(sample)
		}
	}
}

func (m *Monitor) appendSample(sample HealthSample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, sample)
	if len(m.history) > m.config.HistorySize {
		m.history = m.history[len(m.history)-m.config.HistorySize:]
	}
}

// CollectSample gathers one health sample. A failing system reader
// produces a zeroed sample forced to critical instead of an error so
// the sampling loop always makes progress.
func (m *Monitor) CollectSample() HealthSample {
	now := time.Now()

	stats, err := m.reader.ReadStats()
	if err != nil {
		m.logger.Error("Failed to collect system metrics", "error", err.Error())
		return HealthSample{
			Timestamp: now,
			ErrorRate: 100.0,
			Status:    StatusCritical,
		}
	}

	errorRate := m.errorRate()
	avgResponse := m.avgResponseTime()

	sample := HealthSample{
		Timestamp:         now,
		CPUPercent:        stats.CPUPercent,
		MemoryPercent:     stats.MemoryPercent,
		MemoryAvailableMB: stats.MemoryAvailableMB,
		DiskPercent:       stats.DiskPercent,
		Uptime:            time.Since(m.startTime),
		ActiveConnections: m.connections(),
		ErrorRate:         errorRate,
		AvgResponseTime:   avgResponse,
	}
	sample.Status = m.deriveStatus(sample)
	return sample
}

// RecordAPICall updates the per-service call metrics with one call outcome
func (m *Monitor) RecordAPICall(service string, success bool, duration time.Duration, callErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics, ok := m.services[service]
	if !ok {
		metrics = &APIMetrics{ServiceName: service}
		m.services[service] = metrics
	}

	metrics.TotalCalls++
	if success {
		metrics.SuccessfulCalls++
		now := time.Now()
		metrics.LastSuccess = &now
	} else {
		metrics.FailedCalls++
		if callErr != nil {
			metrics.LastError = callErr.Error()
		}
	}

	// Running average over all calls for this service
	n := metrics.TotalCalls
	metrics.AvgResponseTime = (metrics.AvgResponseTime*time.Duration(n-1) + duration) / time.Duration(n)
}

// errorRate is cumulative collected errors over cumulative recorded
// calls, as a percentage. Zero when no calls have been recorded.
func (m *Monitor) errorRate() float64 {
	totalErrors := m.collector.TotalErrors()

	m.mu.Lock()
	var totalCalls int64
	for _, metrics := range m.services {
		totalCalls += metrics.TotalCalls
	}
	m.mu.Unlock()

	if totalCalls == 0 {
		return 0.0
	}
	return float64(totalErrors) / float64(totalCalls) * 100
}

// avgResponseTime is the mean of each tracked service's running average
func (m *Monitor) avgResponseTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.services) == 0 {
		return 0
	}

	var total time.Duration
	for _, metrics := range m.services {
		total += metrics.AvgResponseTime
	}
	return total / time.Duration(len(m.services))
}

// deriveStatus maps a sample to a verdict, critical taking precedence
func (m *Monitor) deriveStatus(s HealthSample) string {
	t := m.config.Thresholds

	if s.CPUPercent >= t.CPUCritical ||
		s.MemoryPercent >= t.MemoryCritical ||
		s.DiskPercent >= t.DiskCritical ||
		s.ErrorRate >= t.ErrorRateCritical ||
		s.AvgResponseTime >= t.ResponseTimeCritical {
		return StatusCritical
	}

	if s.CPUPercent >= t.CPUWarning ||
		s.MemoryPercent >= t.MemoryWarning ||
		s.DiskPercent >= t.DiskWarning ||
		s.ErrorRate >= t.ErrorRateWarning ||
		s.AvgResponseTime >= t.ResponseTimeWarning {
		return StatusWarning
	}

	return StatusHealthy
}

// checkAlerts logs one line per breached threshold
func (m *Monitor) checkAlerts(s HealthSample) {
	t := m.config.Thresholds

	m.alertPercent("cpu", s.CPUPercent, t.CPUWarning, t.CPUCritical)
	m.alertPercent("memory", s.MemoryPercent, t.MemoryWarning, t.MemoryCritical)
	m.alertPercent("disk", s.DiskPercent, t.DiskWarning, t.DiskCritical)
	m.alertPercent("error_rate", s.ErrorRate, t.ErrorRateWarning, t.ErrorRateCritical)

	if s.AvgResponseTime >= t.ResponseTimeCritical {
		m.logger.Warn("Health threshold breached",
			"metric", "response_time", "severity", "critical",
			"value", s.AvgResponseTime.String())
	} else if s.AvgResponseTime >= t.ResponseTimeWarning {
		m.logger.Warn("Health threshold breached",
			"metric", "response_time", "severity", "warning",
			"value", s.AvgResponseTime.String())
	}
}

func (m *Monitor) alertPercent(metric string, value, warning, critical float64) {
	switch {
	case value >= critical:
		m.logger.Warn("Health threshold breached",
			"metric", metric, "severity", "critical",
			"value", fmt.Sprintf("%.1f%%", value))
	case value >= warning:
		m.logger.Warn("Health threshold breached",
			"metric", metric, "severity", "warning",
			"value", fmt.Sprintf("%.1f%%", value))
	}
}

// latestSample returns the newest sample, collecting a one-off sample
// when the history is empty
func (m *Monitor) latestSample() HealthSample {
	m.mu.Lock()
	if n := len(m.history); n > 0 {
		sample := m.history[n-1]
		m.mu.Unlock()
		return sample
	}
	m.mu.Unlock()

	return m.CollectSample()
}

// HealthStatus returns a structured snapshot of the latest sample along
// with per-service metrics and the error summary
func (m *Monitor) HealthStatus() HealthStatus {
	sample := m.latestSample()

	m.mu.Lock()
	apis := make(map[string]APIMetrics, len(m.services))
	for name, metrics := range m.services {
		apis[name] = *metrics
	}
	m.mu.Unlock()

	return HealthStatus{
		Status:      sample.Status,
		Timestamp:   sample.Timestamp,
		UptimeHours: sample.Uptime.Hours(),
		System: SystemStatus{
			CPUPercent:        sample.CPUPercent,
			MemoryPercent:     sample.MemoryPercent,
			MemoryAvailableMB: sample.MemoryAvailableMB,
			DiskPercent:       sample.DiskPercent,
			ActiveConnections: sample.ActiveConnections,
		},
		Performance: PerformanceStatus{
			ErrorRate:       sample.ErrorRate,
			AvgResponseTime: sample.AvgResponseTime,
		},
		APIs:   apis,
		Errors: m.collector.Summary(),
	}
}

// History returns a copy of the retained sample history, oldest first
func (m *Monitor) History() []HealthSample {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := make([]HealthSample, len(m.history))
	copy(history, m.history)
	return history
}

// HealthReport renders a human-readable summary of the current health
func (m *Monitor) HealthReport() string {
	status := m.HealthStatus()

	var b strings.Builder
	fmt.Fprintf(&b, "System status: %s\n\n", strings.ToUpper(status.Status))
	fmt.Fprintf(&b, "Uptime: %.1f hours\n", status.UptimeHours)
	fmt.Fprintf(&b, "CPU: %.1f%%\n", status.System.CPUPercent)
	fmt.Fprintf(&b, "Memory: %.1f%% (%.0fMB available)\n",
		status.System.MemoryPercent, status.System.MemoryAvailableMB)
	fmt.Fprintf(&b, "Disk: %.1f%%\n", status.System.DiskPercent)
	fmt.Fprintf(&b, "Active connections: %d\n\n", status.System.ActiveConnections)
	fmt.Fprintf(&b, "Performance:\n")
	fmt.Fprintf(&b, "  Error rate: %.1f%%\n", status.Performance.ErrorRate)
	fmt.Fprintf(&b, "  Avg response time: %.2fs\n", status.Performance.AvgResponseTime.Seconds())
	fmt.Fprintf(&b, "\nMonitored services: %d\n", len(status.APIs))

	if status.Errors.TotalErrors > 0 {
		fmt.Fprintf(&b, "Recent errors: %d\n", status.Errors.TotalErrors)
	}

	return b.String()
}
