package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServiceConfig(name string) ServiceConfig {
	return ServiceConfig{
		Name:            name,
		MaxFailures:     3,
		FailureWindow:   5 * time.Minute,
		RecoveryTime:    50 * time.Millisecond,
		FallbackEnabled: true,
	}
}

func failingOp(err error) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return nil, err
	}
}

func successOp(result interface{}) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return result, nil
	}
}

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))

	assert.Equal(t, StateHealthy, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_SuccessfulCall(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()

	result, err := cb.Execute(ctx, successOp("ok"))

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateHealthy, cb.State())
}

func TestCircuitBreaker_FailuresBelowThresholdDegrade(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()
	opErr := fmt.Errorf("upstream timeout")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, failingOp(opErr))
		require.Equal(t, opErr, err, "original error must pass through unchanged")
	}

	assert.Equal(t, StateDegraded, cb.State())
	assert.Equal(t, 2, cb.FailureCount())
}

func TestCircuitBreaker_TripsAtMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()
	opErr := fmt.Errorf("upstream down")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failingOp(opErr))
		require.Equal(t, opErr, err)
	}

	assert.Equal(t, StateFailed, cb.State())
	assert.GreaterOrEqual(t, cb.FailureCount(), cb.Config().MaxFailures)
}

func TestCircuitBreaker_ShortCircuitsWhileFailed(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failingOp(fmt.Errorf("down")))
	}
	require.Equal(t, StateFailed, cb.State())

	invoked := false
	_, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		invoked = true
		return "should not run", nil
	})

	require.Error(t, err)
	assert.True(t, IsServiceUnavailable(err))
	assert.False(t, invoked, "operation must not be invoked while short-circuited")

	var sue *ServiceUnavailableError
	require.ErrorAs(t, err, &sue)
	assert.Equal(t, "test", sue.Service)
	assert.Greater(t, sue.RetryAfter, time.Duration(0))
}

func TestCircuitBreaker_RecoveryProbe(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failingOp(fmt.Errorf("down")))
	}
	require.Equal(t, StateFailed, cb.State())

	time.Sleep(60 * time.Millisecond)

	result, err := cb.Execute(ctx, successOp("recovered"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateHealthy, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_RecoveryProbeFailureTripsAgain(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, failingOp(fmt.Errorf("down")))
	}

	time.Sleep(60 * time.Millisecond)

	opErr := fmt.Errorf("still down")
	_, err := cb.Execute(ctx, failingOp(opErr))
	require.Equal(t, opErr, err)
	assert.Equal(t, StateFailed, cb.State())

	// The fresh trip restarts the recovery clock
	_, err = cb.Execute(ctx, successOp("nope"))
	assert.True(t, IsServiceUnavailable(err))
}

func TestCircuitBreaker_SuccessResetsDegraded(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))
	ctx := context.Background()

	cb.Execute(ctx, failingOp(fmt.Errorf("blip")))
	require.Equal(t, StateDegraded, cb.State())

	_, err := cb.Execute(ctx, successOp("ok"))
	require.NoError(t, err)
	assert.Equal(t, StateHealthy, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_Trip(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("test"))

	cb.Trip()

	assert.Equal(t, StateFailed, cb.State())
	assert.Equal(t, 3, cb.FailureCount())

	_, err := cb.Execute(context.Background(), successOp("ok"))
	assert.True(t, IsServiceUnavailable(err))
}

func TestCircuitBreaker_Status(t *testing.T) {
	cb := NewCircuitBreaker(testServiceConfig("llm"))
	ctx := context.Background()

	status := cb.Status()
	assert.Equal(t, "llm", status.Service)
	assert.Equal(t, "HEALTHY", status.State)
	assert.Nil(t, status.LastFailureTime)

	cb.Execute(ctx, failingOp(fmt.Errorf("blip")))

	status = cb.Status()
	assert.Equal(t, "DEGRADED", status.State)
	assert.Equal(t, 1, status.FailureCount)
	require.NotNil(t, status.LastFailureTime)
}

func TestCircuitBreaker_MinimumMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(ServiceConfig{Name: "test", RecoveryTime: 50 * time.Millisecond})

	_, err := cb.Execute(context.Background(), failingOp(fmt.Errorf("down")))
	require.Error(t, err)
	assert.Equal(t, StateFailed, cb.State())
}

func TestCircuitBreaker_ConcurrentCalls(t *testing.T) {
	cb := NewCircuitBreaker(ServiceConfig{
		Name:         "test",
		MaxFailures:  100,
		RecoveryTime: 50 * time.Millisecond,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (n+j)%2 == 0 {
					cb.Execute(ctx, successOp("ok"))
				} else {
					cb.Execute(ctx, failingOp(fmt.Errorf("blip")))
				}
			}
		}(i)
	}
	wg.Wait()

	// State must remain internally consistent after concurrent access
	state := cb.State()
	count := cb.FailureCount()
	if state == StateHealthy {
		assert.Equal(t, 0, count)
	}
}
