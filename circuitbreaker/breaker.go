package circuitbreaker

import (
	"time"

	"respguard/logger"
)

// Allow reports whether a call for key may proceed. A half-open circuit lets
// exactly one trial call through until its outcome is recorded.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.keys[key]
	if !ok {
		return true
	}
	b.advanceLocked(h)

	switch h.state {
	case StateOpen:
		return false
	case StateHalfOpen:
		if h.probing {
			return false
		}
		h.probing = true
		b.logger.Info(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
			"Circuit half-open, allowing trial call", map[string]interface{}{
				"key":      key,
				"openings": h.openings,
			})
		return true
	default:
		return true
	}
}

// RecordFailure counts a failed call and opens the circuit once the
// threshold is reached. A failed trial call re-opens it with a longer timeout.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.entryLocked(key)
	b.advanceLocked(h)
	now := b.now()

	if !h.lastFailure.IsZero() && now.Sub(h.lastFailure) > b.config.MonitoringPeriod {
		h.consecutiveFailures = 0
	}
	h.failures++
	h.consecutiveFailures++
	h.lastFailure = now

	switch {
	case h.state == StateHalfOpen:
		b.openLocked(key, h, now)
	case h.state == StateClosed && h.consecutiveFailures >= b.config.FailureThreshold:
		b.openLocked(key, h, now)
	case h.state == StateClosed:
		b.logger.Warn(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
			"Failure recorded", map[string]interface{}{
				"key":       key,
				"failures":  h.consecutiveFailures,
				"threshold": b.config.FailureThreshold,
			})
	}
}

func (b *Breaker) openLocked(key string, h *health, now time.Time) {
	h.openings++
	timeout := time.Duration(int64(b.config.RecoveryTimeout) * int64(h.openings))
	if timeout > b.config.MaxRecoveryTimeout {
		timeout = b.config.MaxRecoveryTimeout
	}
	h.state = StateOpen
	h.probing = false
	h.nextAttempt = now.Add(timeout)

	b.logger.Error(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
		"Circuit opened", map[string]interface{}{
			"key":        key,
			"failures":   h.consecutiveFailures,
			"retry_in":   timeout.String(),
			"openings":   h.openings,
			"next_retry": h.nextAttempt,
		})
}

// Release ends a call for key without an outcome, such as one cancelled by
// its caller. A half-open circuit lets the next trial call through.
func (b *Breaker) Release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.keys[key]
	if !ok {
		return
	}
	b.advanceLocked(h)
	if h.state == StateHalfOpen && h.probing {
		h.probing = false
		b.logger.Debug(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
			"Trial call released without outcome", map[string]interface{}{
				"key": key,
			})
	}
}

// RecordSuccess counts a successful call and closes the circuit
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.entryLocked(key)
	b.advanceLocked(h)
	h.successes++
	h.lastSuccess = b.now()

	if h.state != StateClosed {
		b.logger.Info(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
			"Circuit closed", map[string]interface{}{
				"key":      key,
				"openings": h.openings,
			})
	}
	h.state = StateClosed
	h.consecutiveFailures = 0
	h.openings = 0
	h.probing = false
	h.nextAttempt = time.Time{}
}

// SelectHealthy returns the next endpoint whose circuit allows a call,
// starting at *index and advancing it round-robin. When every circuit is
// open the next endpoint is returned anyway as a last resort.
func (b *Breaker) SelectHealthy(endpoints []string, index *int) string {
	if len(endpoints) == 0 {
		return ""
	}
	if *index < 0 || *index >= len(endpoints) {
		*index = 0
	}

	for attempts := 0; attempts < len(endpoints); attempts++ {
		endpoint := endpoints[*index]
		*index = (*index + 1) % len(endpoints)
		if b.Allow(endpoint) {
			return endpoint
		}
		b.logger.Debug(logger.ComponentCircuitBreaker, logger.CategoryHealth, "",
			"Skipping endpoint with open circuit", map[string]interface{}{
				"endpoint": endpoint,
			})
	}

	endpoint := endpoints[*index]
	*index = (*index + 1) % len(endpoints)
	b.logger.Warn(logger.ComponentCircuitBreaker, logger.CategoryFallback, "",
		"No healthy endpoints, using fallback", map[string]interface{}{
			"endpoint": endpoint,
		})
	return endpoint
}
