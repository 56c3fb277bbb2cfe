package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	b := New(cfg, nil)
	b.now = clock.now
	return b, clock
}

func testConfig() Config {
	return Config{
		FailureThreshold:   2,
		RecoveryTimeout:    10 * time.Second,
		MaxRecoveryTimeout: 25 * time.Second,
		MonitoringPeriod:   time.Minute,
	}
}

func TestBreakerTransitions(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	const key = "generate"

	t.Run("InitiallyClosed", func(t *testing.T) {
		assert.Equal(t, StateClosed, b.State(key))
		assert.True(t, b.Allow(key))
	})

	t.Run("StaysClosedBelowThreshold", func(t *testing.T) {
		b.RecordFailure(key)
		assert.Equal(t, StateClosed, b.State(key))
		assert.True(t, b.Allow(key))
	})

	t.Run("OpensAtThreshold", func(t *testing.T) {
		b.RecordFailure(key)
		assert.Equal(t, StateOpen, b.State(key))
		assert.False(t, b.Allow(key))
	})

	t.Run("HalfOpenAfterRecoveryTimeout", func(t *testing.T) {
		clock.advance(10 * time.Second)
		assert.Equal(t, StateHalfOpen, b.State(key))
		assert.True(t, b.Allow(key), "first trial call allowed")
		assert.False(t, b.Allow(key), "second trial call rejected while the first is in flight")
	})

	t.Run("ClosesOnSuccess", func(t *testing.T) {
		b.RecordSuccess(key)
		assert.Equal(t, StateClosed, b.State(key))
		assert.True(t, b.Allow(key))
		assert.Zero(t, b.Stats(key).ConsecutiveFailures)
	})
}

func TestHalfOpenFailureReopensWithLongerTimeout(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	const key = "generate"

	b.RecordFailure(key)
	b.RecordFailure(key)
	require.Equal(t, StateOpen, b.State(key))

	clock.advance(10 * time.Second)
	require.True(t, b.Allow(key))
	b.RecordFailure(key)
	assert.Equal(t, StateOpen, b.State(key))

	clock.advance(10 * time.Second)
	assert.Equal(t, StateOpen, b.State(key), "second opening waits twice as long")
	clock.advance(10 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State(key))

	require.True(t, b.Allow(key))
	b.RecordFailure(key)
	stats := b.Stats(key)
	assert.Equal(t, clock.t.Add(25*time.Second), stats.NextAttempt, "timeout is capped")
}

func TestFailuresOutsideMonitoringPeriodDoNotAccumulate(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	const key = "generate"

	b.RecordFailure(key)
	clock.advance(2 * time.Minute)
	b.RecordFailure(key)

	assert.Equal(t, StateClosed, b.State(key))
	assert.Equal(t, 1, b.Stats(key).ConsecutiveFailures)
	assert.Equal(t, 2, b.Stats(key).Failures)
}

func TestStats(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	unknown := b.Stats("never-seen")
	assert.Equal(t, "closed", unknown.State)
	assert.Equal(t, 0.5, unknown.SuccessRate)

	b.RecordSuccess("a")
	b.RecordSuccess("a")
	b.RecordSuccess("a")
	b.RecordFailure("a")
	stats := b.Stats("a")
	assert.Equal(t, 4, stats.TotalRequests)
	assert.Equal(t, 0.75, stats.SuccessRate)
}

func TestNewAppliesDefaults(t *testing.T) {
	b := New(Config{}, nil)
	assert.Equal(t, DefaultConfig(), b.Config())
}

func TestSelectHealthy(t *testing.T) {
	b, _ := newTestBreaker(testConfig())
	endpoints := []string{"http://a", "http://b", "http://c"}
	b.InitializeKeys(endpoints)

	idx := 0
	assert.Equal(t, "http://a", b.SelectHealthy(endpoints, &idx))
	assert.Equal(t, "http://b", b.SelectHealthy(endpoints, &idx))

	b.RecordFailure("http://c")
	b.RecordFailure("http://c")
	assert.Equal(t, "http://a", b.SelectHealthy(endpoints, &idx), "open endpoint is skipped")

	for _, e := range endpoints {
		b.RecordFailure(e)
		b.RecordFailure(e)
	}
	got := b.SelectHealthy(endpoints, &idx)
	assert.Contains(t, endpoints, got, "last resort still returns an endpoint")

	empty := 0
	assert.Empty(t, b.SelectHealthy(nil, &empty))

	outOfRange := 7
	assert.NotEmpty(t, b.SelectHealthy(endpoints, &outOfRange))
}

func TestRanked(t *testing.T) {
	b, _ := newTestBreaker(testConfig())

	b.RecordSuccess("steady")
	b.RecordSuccess("steady")
	b.RecordSuccess("flaky")
	b.RecordFailure("flaky")
	b.RecordFailure("down")
	b.RecordFailure("down")

	ranked := b.Ranked([]string{"down", "flaky", "fresh", "steady"})
	require.Len(t, ranked, 4)
	var keys []string
	for _, s := range ranked {
		keys = append(keys, s.Key)
	}
	assert.Equal(t, []string{"steady", "flaky", "fresh", "down"}, keys)
}

func TestReleaseFreesHalfOpenSlot(t *testing.T) {
	b, clock := newTestBreaker(testConfig())
	const key = "generate"

	b.Release("never-seen")
	assert.Equal(t, StateClosed, b.State("never-seen"))

	b.RecordFailure(key)
	b.RecordFailure(key)
	clock.advance(10 * time.Second)

	require.True(t, b.Allow(key))
	require.False(t, b.Allow(key))

	b.Release(key)
	assert.Equal(t, StateHalfOpen, b.State(key))
	require.True(t, b.Allow(key), "released half-open slot is available again")

	b.RecordSuccess(key)
	assert.Equal(t, StateClosed, b.State(key))
}
