package metrics

import (
	"encoding/json"
	"fmt"
	"time"
)

// exportBlob is the persisted shape of a collector
type exportBlob struct {
	Metrics    Snapshot     `json:"metrics"`
	Events     []ErrorEvent `json:"events"`
	ExportTime time.Time    `json:"exportTime"`
}

// Export serializes the counters and retained events as JSON
func (c *Collector) Export() ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("export metrics: nil collector")
	}
	c.mu.Lock()
	blob := exportBlob{
		Metrics:    c.snapshotLocked(),
		Events:     c.events.slice(),
		ExportTime: c.now().UTC(),
	}
	c.mu.Unlock()

	data, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("export metrics: %w", err)
	}
	return data, nil
}

// Import replaces the collector state with a blob produced by Export. Only
// the most recent events that fit the buffer are kept.
func (c *Collector) Import(data []byte) error {
	if c == nil {
		return fmt.Errorf("import metrics: nil collector")
	}
	var blob exportBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("import metrics: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	m := blob.Metrics
	c.totalErrors = m.TotalErrors
	for k, v := range m.ErrorsByType {
		c.errorsByType[k] = v
	}
	for k, v := range m.ErrorsByOperation {
		c.errorsByOperation[k] = v
	}
	for k, v := range m.ResolutionsByStrategy {
		c.resolutionsByStrategy[k] = v
	}
	c.successfulRetries = m.SuccessfulRetries
	c.failedRetries = m.FailedRetries
	c.fallbackSuccesses = m.FallbackSuccesses
	c.fallbackFailures = m.FallbackFailures
	c.averageRetryDelayMs = m.AverageRetryDelayMs
	c.retryDelaySamples = m.RetryDelaySamples
	for _, event := range blob.Events {
		c.events.push(event)
	}
	return nil
}
