package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"respguard/circuitbreaker"
	"respguard/metrics"
	"respguard/provider"
	"respguard/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSleep replaces the executor's sleep and remembers every delay
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestExecutor(cfg Config, opts ...Option) (*Executor, *recordingSleep) {
	e := NewExecutor(cfg, opts...)
	rec := &recordingSleep{}
	e.sleep = rec.sleep
	e.jitter = func(time.Duration) time.Duration { return 0 }
	return e, rec
}

func fastConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
	}
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	e, rec := newTestExecutor(fastConfig())
	calls := 0
	got, err := Execute(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "ok", nil
	}, types.NewErrorContext("op"), nil)

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rec.delays)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	collector := metrics.NewCollector(10)
	e, rec := newTestExecutor(fastConfig(), WithMetrics(collector))

	calls := 0
	got, err := Execute(context.Background(), e, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("read tcp: connection reset by peer")
		}
		return 42, nil
	}, types.NewErrorContext("generate"), nil)

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)

	m := collector.Metrics()
	assert.EqualValues(t, 2, m.TotalErrors)
	assert.EqualValues(t, 2, m.ErrorsByType[metrics.KindNetwork])
	assert.EqualValues(t, 1, m.SuccessfulRetries)
	assert.InDelta(t, 300.0, m.AverageRetryDelayMs, 0.001)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	collector := metrics.NewCollector(10)
	e, rec := newTestExecutor(fastConfig(), WithMetrics(collector))

	lastErr := errors.New("service overloaded")
	calls := 0
	_, err := Execute(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "", lastErr
	}, types.NewErrorContext("generate"), nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, types.ErrExhaustedRetries)
	assert.ErrorIs(t, err, lastErr)
	assert.Len(t, rec.delays, 2)
	assert.EqualValues(t, 1, collector.Metrics().FailedRetries)
}

func TestExecuteWaitsAtLeastBackoff(t *testing.T) {
	e := NewExecutor(Config{
		MaxAttempts:       3,
		BaseDelay:         20 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2,
		Jitter:            5 * time.Millisecond,
	})

	calls := 0
	start := time.Now()
	_, err := Execute(context.Background(), e, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("timeout talking to provider")
	}, types.NewErrorContext("op"), nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.GreaterOrEqual(t, elapsed, 20*time.Millisecond+40*time.Millisecond)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	e, rec := newTestExecutor(fastConfig())
	calls := 0
	cause := &provider.HTTPError{StatusCode: 401, Body: "unauthorized"}
	_, err := Execute(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "", cause
	}, types.NewErrorContext("generate"), nil)

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, types.ErrNonRetryable)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, rec.delays)
}

func TestExecuteOverrideConfig(t *testing.T) {
	e, _ := newTestExecutor(fastConfig())
	calls := 0
	_, err := Execute(context.Background(), e, func(context.Context) (string, error) {
		calls++
		return "", errors.New("busy")
	}, types.NewErrorContext("op"), &Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	require.Error(t, err)
	assert.Equal(t, 5, calls)
}

func TestExecuteHonoursCancellationDuringBackoff(t *testing.T) {
	e := NewExecutor(Config{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour, BackoffMultiplier: 1})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Execute(ctx, e, func(context.Context) (string, error) {
			calls++
			return "", errors.New("connection refused")
		}, types.NewErrorContext("op"), nil)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
}

func TestDelayIsCapped(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 3}
	assert.Equal(t, time.Second, cfg.Delay(1))
	assert.Equal(t, 3*time.Second, cfg.Delay(2))
	assert.Equal(t, 5*time.Second, cfg.Delay(3))
}

func TestNewExecutorNormalizesConfig(t *testing.T) {
	e := NewExecutor(Config{})
	cfg := e.Config()
	assert.Equal(t, DefaultConfig().MaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, 1.0, cfg.BackoffMultiplier)
	assert.Equal(t, DefaultConfig().MaxDelay, cfg.MaxDelay)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Classification
	}{
		{"connection reset", errors.New("read: connection reset by peer"), Retryable},
		{"dns", errors.New("dial tcp: lookup api: no such host"), Retryable},
		{"rate limited", errors.New("llm http error 429: slow down"), Retryable},
		{"gateway", errors.New("upstream returned 502"), Retryable},
		{"overloaded", errors.New("model is overloaded"), Retryable},
		{"unauthorized", errors.New("401 unauthorized"), NonRetryable},
		{"forbidden", errors.New("permission denied for project"), NonRetryable},
		{"not found", errors.New("model not found"), NonRetryable},
		{"malformed", errors.New("malformed request body"), NonRetryable},
		{"retryable wins", errors.New("invalid response: timeout"), Retryable},
		{"unknown defaults retryable", errors.New("something odd"), Retryable},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), NonRetryable},
		{"deadline", context.DeadlineExceeded, Retryable},
		{"circuit open", fmt.Errorf("k: %w", types.ErrCircuitOpen), NonRetryable},
		{"http 503", &provider.HTTPError{StatusCode: 503}, Retryable},
		{"http 400", &provider.HTTPError{StatusCode: 400, Body: "timeout field invalid"}, NonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestExecuteWithCircuitBreaker(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour}, nil)
	e, _ := newTestExecutor(Config{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})

	calls := 0
	_, err := ExecuteWithCircuitBreaker(context.Background(), e, breaker, "generate",
		func(context.Context) (string, error) {
			calls++
			return "", errors.New("service unavailable")
		}, types.NewErrorContext("generate"), nil)

	assert.ErrorIs(t, err, types.ErrCircuitOpen)
	assert.ErrorIs(t, err, types.ErrNonRetryable)
	assert.Equal(t, 2, calls, "attempts stop once the circuit opens")
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State("generate"))

	other := circuitbreaker.New(circuitbreaker.DefaultConfig(), nil)
	got, err := ExecuteWithCircuitBreaker(context.Background(), e, other, "generate",
		func(context.Context) (string, error) { return "ok", nil }, types.NewErrorContext("generate"), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, other.Stats("generate").Successes)
}

func TestExecuteWithCircuitBreakerCancelledHalfOpenCall(t *testing.T) {
	breaker := circuitbreaker.New(circuitbreaker.Config{FailureThreshold: 1, RecoveryTimeout: 20 * time.Millisecond}, nil)
	e, _ := newTestExecutor(Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	ectx := types.NewErrorContext("generate")

	_, err := ExecuteWithCircuitBreaker(context.Background(), e, breaker, "generate",
		func(context.Context) (string, error) { return "", errors.New("service unavailable") }, ectx, nil)
	require.Error(t, err)
	require.Equal(t, circuitbreaker.StateOpen, breaker.State("generate"))

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, circuitbreaker.StateHalfOpen, breaker.State("generate"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err = ExecuteWithCircuitBreaker(ctx, e, breaker, "generate",
		func(ctx context.Context) (string, error) {
			cancel()
			return "", ctx.Err()
		}, ectx, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, circuitbreaker.StateHalfOpen, breaker.State("generate"))

	got, err := ExecuteWithCircuitBreaker(context.Background(), e, breaker, "generate",
		func(context.Context) (string, error) { return "ok", nil }, ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State("generate"))
}
