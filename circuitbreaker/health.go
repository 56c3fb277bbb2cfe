// Package circuitbreaker tracks the health of named operations or endpoints
// and stops calling the ones that keep failing.
package circuitbreaker

import (
	"sync"
	"time"

	"respguard/logger"
)

// State is the breaker state of one key
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the State
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config controls circuit breaker behavior
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout is how long an open circuit waits before a trial call is allowed
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	// MaxRecoveryTimeout caps the timeout as the circuit keeps re-opening
	MaxRecoveryTimeout time.Duration `yaml:"max_recovery_timeout" json:"max_recovery_timeout"`
	// MonitoringPeriod is the window in which failures count as consecutive
	MonitoringPeriod time.Duration `yaml:"monitoring_period" json:"monitoring_period"`
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		RecoveryTimeout:    30 * time.Second,
		MaxRecoveryTimeout: 5 * time.Minute,
		MonitoringPeriod:   time.Minute,
	}
}

// health is the tracked state of one key
type health struct {
	state               State
	consecutiveFailures int
	openings            int
	successes           int
	failures            int
	lastFailure         time.Time
	lastSuccess         time.Time
	nextAttempt         time.Time
	probing             bool
}

// Stats is a read-only view of one key
type Stats struct {
	Key                 string    `json:"key"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Successes           int       `json:"successes"`
	Failures            int       `json:"failures"`
	TotalRequests       int       `json:"total_requests"`
	SuccessRate         float64   `json:"success_rate"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
	NextAttempt         time.Time `json:"next_attempt,omitempty"`
}

// Breaker keeps one circuit per key
type Breaker struct {
	config Config
	mu     sync.Mutex
	keys   map[string]*health
	logger logger.Sink
	now    func() time.Time
}

// New creates a Breaker. Zero config fields fall back to DefaultConfig.
func New(config Config, l logger.Sink) *Breaker {
	defaults := DefaultConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if config.MaxRecoveryTimeout < config.RecoveryTimeout {
		config.MaxRecoveryTimeout = config.RecoveryTimeout
	}
	if config.MonitoringPeriod <= 0 {
		config.MonitoringPeriod = defaults.MonitoringPeriod
	}
	return &Breaker{
		config: config,
		keys:   make(map[string]*health),
		logger: logger.OrNop(l),
		now:    time.Now,
	}
}

// Config returns the effective configuration
func (b *Breaker) Config() Config {
	return b.config
}

// InitializeKeys starts tracking keys as closed circuits
func (b *Breaker) InitializeKeys(keys []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range keys {
		b.entryLocked(key)
	}
}

func (b *Breaker) entryLocked(key string) *health {
	h, ok := b.keys[key]
	if !ok {
		h = &health{}
		b.keys[key] = h
	}
	return h
}

// State reports the current state of key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.keys[key]
	if !ok {
		return StateClosed
	}
	b.advanceLocked(h)
	return h.state
}

// Stats returns a snapshot of key
func (b *Breaker) Stats(key string) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.keys[key]
	if !ok {
		return Stats{Key: key, State: StateClosed.String(), SuccessRate: neutralSuccessRate}
	}
	b.advanceLocked(h)
	return statsOf(key, h)
}

// neutralSuccessRate is reported for keys without any recorded request
const neutralSuccessRate = 0.5

func statsOf(key string, h *health) Stats {
	total := h.successes + h.failures
	rate := neutralSuccessRate
	if total > 0 {
		rate = float64(h.successes) / float64(total)
	}
	return Stats{
		Key:                 key,
		State:               h.state.String(),
		ConsecutiveFailures: h.consecutiveFailures,
		Successes:           h.successes,
		Failures:            h.failures,
		TotalRequests:       total,
		SuccessRate:         rate,
		LastFailure:         h.lastFailure,
		LastSuccess:         h.lastSuccess,
		NextAttempt:         h.nextAttempt,
	}
}

// advanceLocked moves an open circuit to half-open once its timeout passed
func (b *Breaker) advanceLocked(h *health) {
	if h.state == StateOpen && !b.now().Before(h.nextAttempt) {
		h.state = StateHalfOpen
		h.probing = false
	}
}
