package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devassist/devassist/pkg/logging"
)

// ServiceState represents the health state of a protected service
type ServiceState int

const (
	// StateHealthy - service is operating normally, requests are allowed
	StateHealthy ServiceState = iota
	// StateDegraded - service has recorded failures but is below the trip threshold
	StateDegraded
	// StateFailed - service has tripped, requests are short-circuited until recovery
	StateFailed
	// StateRecovering - recovery time has elapsed, a probe request is in flight
	StateRecovering
)

func (s ServiceState) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateFailed:
		return "FAILED"
	case StateRecovering:
		return "RECOVERING"
	default:
		return "UNKNOWN"
	}
}

// ServiceConfig holds the circuit breaker configuration for one service
type ServiceConfig struct {
	// Name uniquely identifies the service
	Name string
	// MaxFailures is the consecutive failure count that trips the breaker
	MaxFailures int
	// FailureWindow is the observation window reported in status output
	FailureWindow time.Duration
	// RecoveryTime is how long the breaker stays tripped before probing again
	RecoveryTime time.Duration
	// FallbackEnabled controls whether operation errors dispatch to fallbacks
	FallbackEnabled bool
}

// DefaultServiceConfig returns the configuration applied to services that
// are queried before being explicitly registered
func DefaultServiceConfig(name string) ServiceConfig {
	return ServiceConfig{
		Name:            name,
		MaxFailures:     3,
		FailureWindow:   5 * time.Minute,
		RecoveryTime:    60 * time.Second,
		FallbackEnabled: true,
	}
}

// ServiceUnavailableError is returned when a tripped breaker rejects a call
// without invoking the operation
type ServiceUnavailableError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service %s is unavailable, retry after %s", e.Service, e.RetryAfter)
}

// IsServiceUnavailable reports whether err is a breaker rejection
func IsServiceUnavailable(err error) bool {
	var sue *ServiceUnavailableError
	return errors.As(err, &sue)
}

// Operation is a unit of work protected by a circuit breaker
type Operation func(ctx context.Context) (interface{}, error)

// CircuitBreaker tracks the failure history of a single service and
// short-circuits calls while the service is considered down.
// Each breaker owns its own lock so independent services never contend.
type CircuitBreaker struct {
	config ServiceConfig

	mutex           sync.Mutex
	state           ServiceState
	failureCount    int
	lastFailureTime time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a breaker in the HEALTHY state
func NewCircuitBreaker(config ServiceConfig) *CircuitBreaker {
	if config.MaxFailures < 1 {
		config.MaxFailures = 1
	}
	return &CircuitBreaker{
		config: config,
		state:  StateHealthy,
		logger: logging.GetLogger(),
	}
}

// Execute runs op through the breaker. A tripped breaker rejects the call
// with ServiceUnavailableError before op is invoked; any error op returns
// is recorded and passed back unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := op(ctx)
	if err != nil {
		cb.onFailure()
		return nil, err
	}

	cb.onSuccess()
	return result, nil
}

// beforeCall decides whether the call may proceed. The operation itself
// runs outside the lock.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateFailed {
		return nil
	}

	elapsed := time.Since(cb.lastFailureTime)
	if elapsed < cb.config.RecoveryTime {
		return &ServiceUnavailableError{
			Service:    cb.config.Name,
			RetryAfter: cb.config.RecoveryTime - elapsed,
		}
	}

	cb.setState(StateRecovering)
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	if cb.state != StateHealthy {
		cb.setState(StateHealthy)
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()

	if cb.failureCount >= cb.config.MaxFailures {
		if cb.state != StateFailed {
			cb.setState(StateFailed)
		}
	} else if cb.state != StateDegraded {
		cb.setState(StateDegraded)
	}
}

// Trip forces the breaker into the FAILED state as if MaxFailures
// consecutive failures had just occurred
func (cb *CircuitBreaker) Trip() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = cb.config.MaxFailures
	cb.lastFailureTime = time.Now()
	if cb.state != StateFailed {
		cb.setState(StateFailed)
	}
}

// setState transitions the breaker and logs the change. Caller must hold the lock.
func (cb *CircuitBreaker) setState(state ServiceState) {
	prev := cb.state
	cb.state = state

	cb.logger.Info("Circuit breaker state changed",
		"service", cb.config.Name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", cb.failureCount,
	)
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() ServiceState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive failure count
func (cb *CircuitBreaker) FailureCount() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failureCount
}

// Config returns the breaker's configuration
func (cb *CircuitBreaker) Config() ServiceConfig {
	return cb.config
}

// BreakerStatus is a point-in-time snapshot of a breaker
type BreakerStatus struct {
	Service         string        `json:"service"`
	State           string        `json:"state"`
	FailureCount    int           `json:"failure_count"`
	MaxFailures     int           `json:"max_failures"`
	LastFailureTime *time.Time    `json:"last_failure_time,omitempty"`
	RecoveryTime    time.Duration `json:"recovery_time"`
	FallbackEnabled bool          `json:"fallback_enabled"`
}

// Status returns a snapshot of the breaker's current state
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	status := BreakerStatus{
		Service:         cb.config.Name,
		State:           cb.state.String(),
		FailureCount:    cb.failureCount,
		MaxFailures:     cb.config.MaxFailures,
		RecoveryTime:    cb.config.RecoveryTime,
		FallbackEnabled: cb.config.FallbackEnabled,
	}
	if !cb.lastFailureTime.IsZero() {
		t := cb.lastFailureTime
		status.LastFailureTime = &t
	}
	return status
}
