// Package metrics records error and recovery events for the response pipeline.
//
// The Collector keeps running counters plus a bounded buffer of recent error
// events. It is safe for concurrent use and every method is nil-receiver safe,
// so callers can pass a nil *Collector to disable collection.
package metrics

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"respguard/types"
)

// DefaultMaxEvents is the ring buffer capacity used when none is configured
const DefaultMaxEvents = 100

// ErrorKind classifies a recorded error
type ErrorKind string

const (
	KindNetwork    ErrorKind = "network"
	KindTimeout    ErrorKind = "timeout"
	KindRateLimit  ErrorKind = "rate_limit"
	KindAuth       ErrorKind = "auth"
	KindServer     ErrorKind = "server"
	KindParse      ErrorKind = "parse"
	KindValidation ErrorKind = "validation"
	KindEmpty      ErrorKind = "empty_response"
	KindCircuit    ErrorKind = "circuit_open"
	KindUnknown    ErrorKind = "unknown"
)

// Severity ranks an ErrorKind
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityOf returns the fixed severity of a kind
func SeverityOf(kind ErrorKind) Severity {
	switch kind {
	case KindAuth:
		return SeverityCritical
	case KindServer, KindCircuit:
		return SeverityHigh
	case KindRateLimit, KindEmpty:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// KindOf classifies err by its sentinel first and its message second
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, types.ErrEmptyResponse):
		return KindEmpty
	case errors.Is(err, types.ErrParse), errors.Is(err, types.ErrCleaning):
		return KindParse
	case errors.Is(err, types.ErrValidation):
		return KindValidation
	case errors.Is(err, types.ErrCircuitOpen):
		return KindCircuit
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	case containsAny(msg, "429", "rate limit", "too many requests"):
		return KindRateLimit
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "api key"):
		return KindAuth
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "overloaded"):
		return KindServer
	case containsAny(msg, "connection", "econnreset", "econnrefused", "network", "no such host", "eof"):
		return KindNetwork
	}
	return KindUnknown
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// ErrorEvent is one recorded error and its eventual resolution
type ErrorEvent struct {
	ID                 string        `json:"id"`
	Kind               ErrorKind     `json:"kind"`
	Severity           Severity      `json:"severity"`
	Operation          string        `json:"operation"`
	Timestamp          time.Time     `json:"timestamp"`
	Resolved           bool          `json:"resolved"`
	ResolutionStrategy string        `json:"resolutionStrategy,omitempty"`
	RetryCount         int           `json:"retryCount"`
	TotalDuration      time.Duration `json:"totalDuration"`
}

// Resolution describes how an error was eventually handled
type Resolution struct {
	Strategy string
	// RetryAfter is the delay that preceded the successful attempt, if any
	RetryAfter time.Duration
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	TotalErrors           int64               `json:"totalErrors"`
	ErrorsByType          map[ErrorKind]int64 `json:"errorsByType"`
	ErrorsByOperation     map[string]int64    `json:"errorsByOperation"`
	ResolutionsByStrategy map[string]int64    `json:"resolutionsByStrategy"`
	SuccessfulRetries     int64               `json:"successfulRetries"`
	FailedRetries         int64               `json:"failedRetries"`
	FallbackSuccesses     int64               `json:"fallbackSuccesses"`
	FallbackFailures      int64               `json:"fallbackFailures"`
	AverageRetryDelayMs   float64             `json:"averageRetryDelayMs"`
	RetryDelaySamples     int64               `json:"retryDelaySamples"`
	ErrorRecoveryRate     float64             `json:"errorRecoveryRate"`
}

// Collector accumulates error metrics for one process
type Collector struct {
	mu sync.Mutex

	totalErrors           int64
	errorsByType          map[ErrorKind]int64
	errorsByOperation     map[string]int64
	resolutionsByStrategy map[string]int64
	successfulRetries     int64
	failedRetries         int64
	fallbackSuccesses     int64
	fallbackFailures      int64
	averageRetryDelayMs   float64
	retryDelaySamples     int64

	events *ring[ErrorEvent]
	now    func() time.Time
}

// NewCollector creates a Collector retaining up to maxEvents recent events
func NewCollector(maxEvents int) *Collector {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	c := &Collector{
		events: newRing[ErrorEvent](maxEvents),
		now:    time.Now,
	}
	c.resetLocked()
	return c
}

func (c *Collector) resetLocked() {
	c.totalErrors = 0
	c.errorsByType = make(map[ErrorKind]int64)
	c.errorsByOperation = make(map[string]int64)
	c.resolutionsByStrategy = make(map[string]int64)
	c.successfulRetries = 0
	c.failedRetries = 0
	c.fallbackSuccesses = 0
	c.fallbackFailures = 0
	c.averageRetryDelayMs = 0
	c.retryDelaySamples = 0
	c.events.reset()
}

// RecordError counts an error and appends an event. It returns the event ID.
func (c *Collector) RecordError(kind ErrorKind, ectx types.ErrorContext) string {
	if c == nil {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalErrors++
	c.errorsByType[kind]++
	if ectx.Operation != "" {
		c.errorsByOperation[ectx.Operation]++
	}

	timestamp := ectx.Timestamp
	if timestamp.IsZero() {
		timestamp = c.now()
	}
	retries := ectx.AttemptNumber - 1
	if retries < 0 {
		retries = 0
	}
	event := ErrorEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		Severity:   SeverityOf(kind),
		Operation:  ectx.Operation,
		Timestamp:  timestamp,
		RetryCount: retries,
	}
	c.events.push(event)
	return event.ID
}

// RecordResolution marks the newest unresolved event of kind as resolved and
// folds a RetryAfter delay into the running mean
func (c *Collector) RecordResolution(kind ErrorKind, res Resolution) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if res.Strategy != "" {
		c.resolutionsByStrategy[res.Strategy]++
	}
	if res.RetryAfter > 0 {
		c.retryDelaySamples++
		sample := float64(res.RetryAfter) / float64(time.Millisecond)
		c.averageRetryDelayMs += (sample - c.averageRetryDelayMs) / float64(c.retryDelaySamples)
	}

	now := c.now()
	c.events.updateNewest(func(e *ErrorEvent) bool {
		if e.Kind != kind || e.Resolved {
			return false
		}
		e.Resolved = true
		e.ResolutionStrategy = res.Strategy
		e.TotalDuration = now.Sub(e.Timestamp)
		return true
	})
}

// RecordSuccessfulRetry counts an operation that succeeded after retrying
func (c *Collector) RecordSuccessfulRetry(ectx types.ErrorContext) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.successfulRetries++
	c.mu.Unlock()
}

// RecordFailedRetry counts an operation that exhausted its retries
func (c *Collector) RecordFailedRetry(ectx types.ErrorContext) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.failedRetries++
	c.mu.Unlock()
}

// RecordFallbackSuccess counts a failure that a fallback path absorbed
func (c *Collector) RecordFallbackSuccess(ectx types.ErrorContext) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fallbackSuccesses++
	c.mu.Unlock()
}

// RecordFallbackFailure counts a failure the fallback path could not absorb
func (c *Collector) RecordFallbackFailure(ectx types.ErrorContext) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.fallbackFailures++
	c.mu.Unlock()
}

// Metrics returns a copy of the counters
func (c *Collector) Metrics() Snapshot {
	if c == nil {
		return Snapshot{
			ErrorsByType:          map[ErrorKind]int64{},
			ErrorsByOperation:     map[string]int64{},
			ResolutionsByStrategy: map[string]int64{},
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Collector) snapshotLocked() Snapshot {
	s := Snapshot{
		TotalErrors:           c.totalErrors,
		ErrorsByType:          make(map[ErrorKind]int64, len(c.errorsByType)),
		ErrorsByOperation:     make(map[string]int64, len(c.errorsByOperation)),
		ResolutionsByStrategy: make(map[string]int64, len(c.resolutionsByStrategy)),
		SuccessfulRetries:     c.successfulRetries,
		FailedRetries:         c.failedRetries,
		FallbackSuccesses:     c.fallbackSuccesses,
		FallbackFailures:      c.fallbackFailures,
		AverageRetryDelayMs:   c.averageRetryDelayMs,
		RetryDelaySamples:     c.retryDelaySamples,
	}
	for k, v := range c.errorsByType {
		s.ErrorsByType[k] = v
	}
	for k, v := range c.errorsByOperation {
		s.ErrorsByOperation[k] = v
	}
	for k, v := range c.resolutionsByStrategy {
		s.ResolutionsByStrategy[k] = v
	}
	s.ErrorRecoveryRate = recoveryRate(s)
	return s
}

// recoveryRate is the share of retried or fallback-handled operations that
// ended well, in percent
func recoveryRate(s Snapshot) float64 {
	recovered := s.SuccessfulRetries + s.FallbackSuccesses
	total := recovered + s.FailedRetries + s.FallbackFailures
	if total == 0 {
		return 0
	}
	return 100 * float64(recovered) / float64(total)
}

// Events returns the retained events, oldest first
func (c *Collector) Events() []ErrorEvent {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events.slice()
}

// Reset clears every counter and event
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
}

// CountShare is a named count and its share of the total, in percent
type CountShare struct {
	Name       string  `json:"name"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// DetailedStats summarizes the collector for reports
type DetailedStats struct {
	Metrics       Snapshot     `json:"metrics"`
	TopErrorKinds []CountShare `json:"topErrorKinds"`
	TopOperations []CountShare `json:"topOperations"`
	RecentEvents  []ErrorEvent `json:"recentEvents"`
}

// DetailedStats returns the topN error kinds and operations by count plus the
// retained events, newest first. topN <= 0 means all.
func (c *Collector) DetailedStats(topN int) DetailedStats {
	if c == nil {
		return DetailedStats{Metrics: c.Metrics()}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.snapshotLocked()
	kinds := make(map[string]int64, len(s.ErrorsByType))
	for k, v := range s.ErrorsByType {
		kinds[string(k)] = v
	}
	events := c.events.slice()
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return DetailedStats{
		Metrics:       s,
		TopErrorKinds: topShares(kinds, s.TotalErrors, topN),
		TopOperations: topShares(s.ErrorsByOperation, s.TotalErrors, topN),
		RecentEvents:  events,
	}
}

func topShares(counts map[string]int64, total int64, topN int) []CountShare {
	shares := make([]CountShare, 0, len(counts))
	for name, count := range counts {
		share := CountShare{Name: name, Count: count}
		if total > 0 {
			share.Percentage = 100 * float64(count) / float64(total)
		}
		shares = append(shares, share)
	}
	sort.Slice(shares, func(i, j int) bool {
		if shares[i].Count != shares[j].Count {
			return shares[i].Count > shares[j].Count
		}
		return shares[i].Name < shares[j].Name
	})
	if topN > 0 && len(shares) > topN {
		shares = shares[:topN]
	}
	return shares
}
