// Package retry runs fallible operations with bounded retries, exponential
// backoff and jitter, classifying errors to stop early on ones that cannot
// succeed on a second attempt.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"respguard/internal"
	"respguard/logger"
	"respguard/metrics"
	"respguard/types"
)

// Config defines retry behavior
type Config struct {
	MaxAttempts       int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
	Jitter            time.Duration `yaml:"jitter" json:"jitter"`
}

// DefaultConfig provides sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            time.Second,
	}
}

// normalized fills unusable fields from DefaultConfig
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = 1
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Delay returns the wait before attempt+1, without jitter
func (c Config) Delay(attempt int) time.Duration {
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// Operation is one attempt of a fallible call
type Operation[T any] func(ctx context.Context) (T, error)

// Executor carries the default config and the collaborators shared by every call
type Executor struct {
	config  Config
	metrics *metrics.Collector
	logger  logger.Sink

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// Option configures an Executor
type Option func(*Executor)

// WithMetrics records attempt failures and outcomes in c
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// WithLogger sets the log sink
func WithLogger(l logger.Sink) Option {
	return func(e *Executor) { e.logger = logger.OrNop(l) }
}

// NewExecutor creates an Executor with config as the per-call default
func NewExecutor(config Config, opts ...Option) *Executor {
	e := &Executor{
		config: config.normalized(),
		logger: logger.Nop(),
		sleep:  sleepContext,
		jitter: randomJitter,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the default per-call configuration
func (e *Executor) Config() Config {
	return e.config
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max + 1)
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. override replaces the executor's config for this
// call when non-nil.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T], ectx types.ErrorContext, override *Config) (T, error) {
	var zero T
	config := e.config
	if override != nil {
		config = override.normalized()
	}
	requestID := internal.GetRequestID(ctx)

	var (
		lastErr  error
		lastKind metrics.ErrorKind
		waited   time.Duration
	)
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		actx := ectx.ForAttempt(attempt)
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.metrics.RecordSuccessfulRetry(actx)
				e.metrics.RecordResolution(lastKind, metrics.Resolution{Strategy: "retry", RetryAfter: waited})
				e.logger.Info(logger.ComponentRetry, logger.CategoryRecovery, requestID,
					"Operation succeeded after retry", map[string]interface{}{
						"operation": ectx.Operation,
						"attempt":   attempt,
						"waited_ms": waited.Milliseconds(),
					})
			}
			return result, nil
		}

		lastErr = err
		lastKind = metrics.KindOf(err)
		e.metrics.RecordError(lastKind, actx)

		if attempt == config.MaxAttempts {
			break
		}

		class := Classify(err)
		if class == NonRetryable {
			if attempt > 1 {
				e.metrics.RecordFailedRetry(actx)
			}
			e.logger.Warn(logger.ComponentRetry, logger.CategoryError, requestID,
				"Non-retryable error, giving up", map[string]interface{}{
					"operation": ectx.Operation,
					"attempt":   attempt,
					"error":     err.Error(),
				})
			return zero, fmt.Errorf("%w: %s: %w", types.ErrNonRetryable, ectx.Operation, err)
		}

		delay := config.Delay(attempt) + e.jitter(config.Jitter)
		e.logger.Warn(logger.ComponentRetry, logger.CategoryRetry, requestID,
			"Attempt failed, retrying", map[string]interface{}{
				"operation":    ectx.Operation,
				"attempt":      attempt,
				"max_attempts": config.MaxAttempts,
				"delay_ms":     delay.Milliseconds(),
				"kind":         string(lastKind),
				"error":        err.Error(),
			})
		if err := e.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("%s aborted during backoff after attempt %d: %w (last error: %v)",
				ectx.Operation, attempt, err, lastErr)
		}
		waited += delay
	}

	if config.MaxAttempts > 1 {
		e.metrics.RecordFailedRetry(ectx.ForAttempt(config.MaxAttempts))
	}
	e.logger.Error(logger.ComponentRetry, logger.CategoryError, requestID,
		"Retries exhausted", map[string]interface{}{
			"operation": ectx.Operation,
			"attempts":  config.MaxAttempts,
			"error":     lastErr.Error(),
		})
	return zero, fmt.Errorf("%w after %d attempts: %w", types.ErrExhaustedRetries, config.MaxAttempts, lastErr)
}
