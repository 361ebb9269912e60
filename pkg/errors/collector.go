package errors

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// DefaultCollectorCapacity is the number of detailed records kept by a Collector.
const DefaultCollectorCapacity = 1000

// recentErrorCount is the number of detailed records included in a Summary.
const recentErrorCount = 10

// ErrorRecord is a single collected error with its context.
type ErrorRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
}

// Summary aggregates collector state for health reporting.
type Summary struct {
	TotalErrors  int            `json:"total_errors"`
	ErrorCounts  map[string]int `json:"error_counts"`
	RecentErrors []ErrorRecord  `json:"recent_errors"`
}

// Collector keeps a bounded buffer of error records plus cumulative
// per-type counts. The detail buffer evicts oldest-first once capacity
// is reached; the counts are never decremented by eviction.
type Collector struct {
	mu       sync.Mutex
	capacity int
	records  []ErrorRecord
	counts   map[string]int
	total    int
}

// NewCollector creates a collector with the given detail-buffer capacity.
// A capacity of zero or less uses DefaultCollectorCapacity.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = DefaultCollectorCapacity
	}
	return &Collector{
		capacity: capacity,
		records:  make([]ErrorRecord, 0, capacity),
		counts:   make(map[string]int),
	}
}

// Add appends an error record, evicting the oldest record when the
// buffer is full. The per-type counter is incremented unconditionally.
func (c *Collector) Add(err error, context map[string]interface{}) {
	if err == nil {
		return
	}

	record := ErrorRecord{
		Timestamp: time.Now(),
		Type:      typeTag(err),
		Message:   err.Error(),
		Context:   context,
	}

	if appErr, ok := err.(*AppError); ok {
		record.Code = appErr.Code
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, record)
	if len(c.records) > c.capacity {
		c.records = c.records[1:]
	}

	c.counts[record.Type]++
	c.total++
}

// AddWithStack records an error together with the caller's stack trace.
func (c *Collector) AddWithStack(err error, context map[string]interface{}) {
	if err == nil {
		return
	}

	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)

	record := ErrorRecord{
		Timestamp: time.Now(),
		Type:      typeTag(err),
		Message:   err.Error(),
		Context:   context,
		Stack:     string(buf[:n]),
	}

	if appErr, ok := err.(*AppError); ok {
		record.Code = appErr.Code
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = append(c.records, record)
	if len(c.records) > c.capacity {
		c.records = c.records[1:]
	}

	c.counts[record.Type]++
	c.total++
}

// Summary returns the cumulative total, per-type counts, and the most
// recent detailed records.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	counts := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		counts[k] = v
	}

	start := len(c.records) - recentErrorCount
	if start < 0 {
		start = 0
	}
	recent := make([]ErrorRecord, len(c.records)-start)
	copy(recent, c.records[start:])

	return Summary{
		TotalErrors:  c.total,
		ErrorCounts:  counts,
		RecentErrors: recent,
	}
}

// TotalErrors returns the cumulative error count since start (or the
// last Clear), independent of buffer eviction.
func (c *Collector) TotalErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Len returns the number of detailed records currently buffered.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Clear resets the buffer and all counters.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = c.records[:0]
	c.counts = make(map[string]int)
	c.total = 0
}

// typeTag derives the counting key for an error. AppErrors count by
// their ErrorType; everything else counts by Go type name.
func typeTag(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return string(appErr.Type)
	}
	return fmt.Sprintf("%T", err)
}
