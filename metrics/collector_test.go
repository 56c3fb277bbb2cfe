package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"respguard/types"
)

func TestRecordErrorCounts(t *testing.T) {
	c := NewCollector(10)
	ectx := types.NewErrorContext("analyze")

	id := c.RecordError(KindNetwork, ectx)
	c.RecordError(KindNetwork, ectx.ForAttempt(2))
	c.RecordError(KindParse, types.NewErrorContext("process"))

	assert.NotEmpty(t, id)
	m := c.Metrics()
	assert.EqualValues(t, 3, m.TotalErrors)
	assert.EqualValues(t, 2, m.ErrorsByType[KindNetwork])
	assert.EqualValues(t, 1, m.ErrorsByType[KindParse])
	assert.EqualValues(t, 2, m.ErrorsByOperation["analyze"])

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, 1, events[1].RetryCount)
	assert.Equal(t, SeverityMedium, events[2].Severity)
}

func TestRecoveryRate(t *testing.T) {
	c := NewCollector(0)
	assert.Equal(t, 0.0, c.Metrics().ErrorRecoveryRate)

	ectx := types.NewErrorContext("op")
	c.RecordSuccessfulRetry(ectx)
	c.RecordSuccessfulRetry(ectx)
	c.RecordFallbackSuccess(ectx)
	c.RecordFailedRetry(ectx)

	assert.Equal(t, 75.0, c.Metrics().ErrorRecoveryRate)
}

func TestRingBufferKeepsMostRecent(t *testing.T) {
	c := NewCollector(3)
	for i := 1; i <= 5; i++ {
		c.RecordError(KindUnknown, types.NewErrorContext(fmt.Sprintf("op-%d", i)))
	}

	events := c.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "op-3", events[0].Operation)
	assert.Equal(t, "op-5", events[2].Operation)
	assert.EqualValues(t, 5, c.Metrics().TotalErrors)
}

func TestRecordResolution(t *testing.T) {
	c := NewCollector(10)
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return start.Add(3 * time.Second) }

	ectx := types.ErrorContext{Operation: "generate", AttemptNumber: 1, Timestamp: start}
	c.RecordError(KindTimeout, ectx)
	c.RecordError(KindTimeout, ectx)

	c.RecordResolution(KindTimeout, Resolution{Strategy: "retry", RetryAfter: 100 * time.Millisecond})
	c.RecordResolution(KindTimeout, Resolution{Strategy: "retry", RetryAfter: 300 * time.Millisecond})
	c.RecordResolution(KindParse, Resolution{Strategy: "fallback"})

	m := c.Metrics()
	assert.InDelta(t, 200.0, m.AverageRetryDelayMs, 0.001)
	assert.EqualValues(t, 2, m.RetryDelaySamples)
	assert.EqualValues(t, 2, m.ResolutionsByStrategy["retry"])
	assert.EqualValues(t, 1, m.ResolutionsByStrategy["fallback"])

	events := c.Events()
	for _, e := range events {
		assert.True(t, e.Resolved)
		assert.Equal(t, "retry", e.ResolutionStrategy)
		assert.Equal(t, 3*time.Second, e.TotalDuration)
	}
}

func TestDetailedStats(t *testing.T) {
	c := NewCollector(10)
	for i := 0; i < 3; i++ {
		c.RecordError(KindNetwork, types.NewErrorContext("generate"))
	}
	c.RecordError(KindParse, types.NewErrorContext("process"))

	stats := c.DetailedStats(1)
	require.Len(t, stats.TopErrorKinds, 1)
	assert.Equal(t, CountShare{Name: "network", Count: 3, Percentage: 75}, stats.TopErrorKinds[0])
	assert.Equal(t, "generate", stats.TopOperations[0].Name)
	require.Len(t, stats.RecentEvents, 4)
	assert.Equal(t, KindParse, stats.RecentEvents[0].Kind)
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector(10)
	c.RecordError(KindAuth, types.NewErrorContext("op"))

	m := c.Metrics()
	m.ErrorsByType[KindAuth] = 100
	assert.EqualValues(t, 1, c.Metrics().ErrorsByType[KindAuth])
}

func TestResetClearsEverything(t *testing.T) {
	c := NewCollector(10)
	c.RecordError(KindAuth, types.NewErrorContext("op"))
	c.RecordSuccessfulRetry(types.NewErrorContext("op"))
	c.Reset()

	m := c.Metrics()
	assert.Zero(t, m.TotalErrors)
	assert.Zero(t, m.SuccessfulRetries)
	assert.Empty(t, c.Events())
}

func TestExportImport(t *testing.T) {
	src := NewCollector(10)
	src.RecordError(KindRateLimit, types.NewErrorContext("generate"))
	src.RecordResolution(KindRateLimit, Resolution{Strategy: "retry", RetryAfter: time.Second})
	src.RecordSuccessfulRetry(types.NewErrorContext("generate"))

	blob, err := src.Export()
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(blob, &raw))
	assert.Contains(t, raw, "metrics")
	assert.Contains(t, raw, "events")
	assert.Contains(t, raw, "exportTime")

	dst := NewCollector(10)
	require.NoError(t, dst.Import(blob))
	assert.Equal(t, src.Metrics(), dst.Metrics())
	require.Len(t, dst.Events(), 1)
	assert.True(t, dst.Events()[0].Resolved)

	assert.Error(t, dst.Import([]byte("{not json")))
}

func TestImportTrimsToCapacity(t *testing.T) {
	src := NewCollector(5)
	for i := 0; i < 5; i++ {
		src.RecordError(KindServer, types.NewErrorContext(fmt.Sprintf("op-%d", i)))
	}
	blob, err := src.Export()
	require.NoError(t, err)

	dst := NewCollector(2)
	require.NoError(t, dst.Import(blob))
	events := dst.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "op-4", events[1].Operation)
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	assert.Empty(t, c.RecordError(KindUnknown, types.NewErrorContext("op")))
	c.RecordSuccessfulRetry(types.NewErrorContext("op"))
	c.RecordResolution(KindUnknown, Resolution{})
	c.Reset()
	assert.Zero(t, c.Metrics().TotalErrors)
	assert.Nil(t, c.Events())
	_, err := c.Export()
	assert.Error(t, err)
}

func TestConcurrentRecording(t *testing.T) {
	c := NewCollector(50)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.RecordError(KindNetwork, types.NewErrorContext("op"))
				c.RecordResolution(KindNetwork, Resolution{Strategy: "retry", RetryAfter: time.Millisecond})
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1000, c.Metrics().TotalErrors)
	assert.Len(t, c.Events(), 50)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{types.ErrEmptyResponse, KindEmpty},
		{fmt.Errorf("stage: %w", types.ErrValidation), KindValidation},
		{&types.ParseError{Err: errors.New("bad")}, KindParse},
		{errors.New("llm http error 429: slow down"), KindRateLimit},
		{errors.New("llm http error 401: unauthorized"), KindAuth},
		{errors.New("llm http error 503: overloaded"), KindServer},
		{errors.New("context deadline exceeded"), KindTimeout},
		{errors.New("read tcp: connection reset by peer"), KindNetwork},
		{errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), tt.err.Error())
	}
}

func TestPrometheusExporter(t *testing.T) {
	c := NewCollector(10)
	ectx := types.NewErrorContext("op")
	c.RecordError(KindNetwork, ectx)
	c.RecordError(KindParse, ectx)
	for i := 0; i < 3; i++ {
		c.RecordSuccessfulRetry(ectx)
	}
	c.RecordFailedRetry(ectx)

	exporter := NewPrometheusExporter(c)
	expected := `
# HELP respguard_error_recovery_rate_percent Share of retried or fallback-handled operations that recovered
# TYPE respguard_error_recovery_rate_percent gauge
respguard_error_recovery_rate_percent 75
# HELP respguard_retries_total Retried operations by outcome
# TYPE respguard_retries_total counter
respguard_retries_total{outcome="failure"} 1
respguard_retries_total{outcome="success"} 3
`
	err := testutil.CollectAndCompare(exporter, strings.NewReader(expected),
		"respguard_error_recovery_rate_percent", "respguard_retries_total")
	require.NoError(t, err)
	assert.Equal(t, 2, testutil.CollectAndCount(exporter, "respguard_errors_total"))
}
