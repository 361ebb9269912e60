package resilience

import (
	"context"
	"sync"

	"github.com/devassist/devassist/pkg/logging"
)

// Fallback produces a substitute result when the real service cannot
type Fallback func(ctx context.Context) (interface{}, error)

// FallbackObserver is notified whenever a registered fallback fires.
// The reason is "short_circuit" or "operation_error".
type FallbackObserver func(service, reason string)

// DegradationManager routes calls to external services through per-service
// circuit breakers and dispatches to registered fallbacks when a service
// is down, keeping the bot responsive while dependencies fail.
type DegradationManager struct {
	mutex     sync.RWMutex
	services  map[string]*CircuitBreaker
	fallbacks map[string]Fallback
	observer  FallbackObserver

	logger *logging.Logger
}

// NewDegradationManager creates an empty manager
func NewDegradationManager() *DegradationManager {
	return &DegradationManager{
		services:  make(map[string]*CircuitBreaker),
		fallbacks: make(map[string]Fallback),
		logger:    logging.GetLogger(),
	}
}

// RegisterService creates or replaces the breaker for config.Name.
// Replacing an existing breaker discards its accrued failure history.
func (m *DegradationManager) RegisterService(config ServiceConfig) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.services[config.Name] = NewCircuitBreaker(config)
	m.logger.Info("Registered service for degradation management",
		"service", config.Name,
		"max_failures", config.MaxFailures,
		"recovery_time", config.RecoveryTime.String(),
	)
}

// RegisterFallback sets the fallback for a service, overwriting any
// previously registered one
func (m *DegradationManager) RegisterFallback(name string, fn Fallback) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.fallbacks[name] = fn
	m.logger.Info("Registered fallback handler", "service", name)
}

// SetFallbackObserver installs the hook notified on every fallback
// dispatch, typically a metrics recorder
func (m *DegradationManager) SetFallbackObserver(fn FallbackObserver) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.observer = fn
}

// breaker returns the breaker for name, or nil if unregistered
func (m *DegradationManager) breaker(name string) *CircuitBreaker {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.services[name]
}

// ensureBreaker returns the breaker for name, lazily registering it with
// the default config if absent
func (m *DegradationManager) ensureBreaker(name string) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	cb, ok := m.services[name]
	if !ok {
		cb = NewCircuitBreaker(DefaultServiceConfig(name))
		m.services[name] = cb
	}
	return cb
}

func (m *DegradationManager) fallback(name string) Fallback {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.fallbacks[name]
}

// CallService invokes op through the service's circuit breaker.
// Unregistered services are passed through untouched. When the breaker
// rejects the call, or op fails and the service has fallbacks enabled,
// the registered fallback result is returned instead; with no fallback
// registered the original error is returned unchanged.
func (m *DegradationManager) CallService(ctx context.Context, name string, op Operation) (interface{}, error) {
	cb := m.breaker(name)
	if cb == nil {
		return op(ctx)
	}

	result, err := cb.Execute(ctx, op)
	if err == nil {
		return result, nil
	}

	unavailable := IsServiceUnavailable(err)
	if !unavailable && !cb.Config().FallbackEnabled {
		return nil, err
	}

	fn := m.fallback(name)
	if fn == nil {
		return nil, err
	}

	reason := "operation_error"
	if unavailable {
		reason = "short_circuit"
	}
	if observer := m.fallbackObserver(); observer != nil {
		observer(name, reason)
	}

	m.logger.Warn("Service call failed, using fallback",
		"service", name,
		"reason", reason,
		"error", err.Error(),
	)
	return fn(ctx)
}

func (m *DegradationManager) fallbackObserver() FallbackObserver {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.observer
}

// Wrap binds op to a service name, returning an operation that always
// routes through CallService. If the call still fails and an inline
// fallback was supplied, it runs as the final fallback even when a
// registered per-service fallback already fired and failed.
func (m *DegradationManager) Wrap(name string, op Operation, inline Fallback) Operation {
	return func(ctx context.Context) (interface{}, error) {
		result, err := m.CallService(ctx, name, op)
		if err != nil && inline != nil {
			return inline(ctx)
		}
		return result, err
	}
}

// MarkServiceUnavailable administratively trips the service's breaker,
// registering it with the default config first if needed
func (m *DegradationManager) MarkServiceUnavailable(name string) {
	cb := m.ensureBreaker(name)
	cb.Trip()
	m.logger.Warn("Service marked unavailable", "service", name)
}

// IsServiceAvailable reports whether the service accepts calls.
// Unknown services are registered with the default config and report
// available.
func (m *DegradationManager) IsServiceAvailable(name string) bool {
	cb := m.ensureBreaker(name)
	return cb.State() != StateFailed
}

// CanOperateInDegradedMode reports whether the bot can keep serving
// users: true when nothing is registered, or when at least one service
// is not FAILED or has a fallback to stand in for it
func (m *DegradationManager) CanOperateInDegradedMode() bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if len(m.services) == 0 {
		return true
	}

	for name, cb := range m.services {
		if cb.State() != StateFailed {
			return true
		}
		if _, ok := m.fallbacks[name]; ok {
			return true
		}
	}
	return false
}

// GetServiceStatus returns a snapshot for one service, with State set
// to "unknown" for unregistered names
func (m *DegradationManager) GetServiceStatus(name string) BreakerStatus {
	cb := m.breaker(name)
	if cb == nil {
		return BreakerStatus{Service: name, State: "unknown"}
	}
	return cb.Status()
}

// GetAllServicesStatus returns snapshots for every registered service
func (m *DegradationManager) GetAllServicesStatus() map[string]BreakerStatus {
	m.mutex.RLock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	m.mutex.RUnlock()

	statuses := make(map[string]BreakerStatus, len(names))
	for _, name := range names {
		statuses[name] = m.GetServiceStatus(name)
	}
	return statuses
}
