package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
)

// fakeClock is a simulated clock whose Sleep advances time instantly.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{MaxCalls: 1, Period: time.Second}.Validate())
	assert.Error(t, Config{MaxCalls: 0, Period: time.Second}.Validate())
	assert.Error(t, Config{MaxCalls: 5, Period: 0}.Validate())
	assert.Error(t, Config{MaxCalls: 5, Period: -time.Second}.Validate())
}

func TestTokenBucketBurstThenSustainedRate(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{MaxCalls: 5, Period: time.Second}
	tb := NewTokenBucketWithClock(cfg, clock)

	start := clock.Now()
	ctx := context.Background()

	const total = 50
	admitted := make([]time.Time, 0, total)
	for i := 0; i < total; i++ {
		require.NoError(t, tb.Acquire(ctx))
		admitted = append(admitted, clock.Now())
	}

	// Token bucket invariant: admissions by time t never exceed the
	// start-up burst plus the sustained refill.
	rate := cfg.Rate()
	for i, at := range admitted {
		elapsed := at.Sub(start).Seconds()
		bound := float64(cfg.MaxCalls) + elapsed*rate
		assert.LessOrEqual(t, float64(i+1), bound+1e-6,
			"admission %d at %.3fs exceeds bucket bound %.3f", i+1, elapsed, bound)
	}

	// Past the start-up burst, every sliding window of one period admits at
	// most MaxCalls calls.
	steady := admitted[cfg.MaxCalls:]
	for i := range steady {
		count := 1
		for j := i + 1; j < len(steady); j++ {
			if steady[j].Sub(steady[i]) < cfg.Period {
				count++
			}
		}
		assert.LessOrEqual(t, count, cfg.MaxCalls,
			"window starting at admission %d holds %d calls", i, count)
	}
}

func TestTokenBucketTryAcquire(t *testing.T) {
	clock := newFakeClock()
	tb := NewTokenBucketWithClock(Config{MaxCalls: 2, Period: time.Second}, clock)

	require.NoError(t, tb.TryAcquire())
	require.NoError(t, tb.TryAcquire())

	err := tb.TryAcquire()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))

	// Half a period refills one token.
	clock.Advance(500 * time.Millisecond)
	assert.NoError(t, tb.TryAcquire())
	assert.Error(t, tb.TryAcquire())

	stats := tb.Stats()
	assert.Equal(t, int64(3), stats.Allowed)
	assert.Equal(t, int64(2), stats.Blocked)
}

func TestTokenBucketAcquireCancelled(t *testing.T) {
	clock := newFakeClock()
	tb := NewTokenBucketWithClock(Config{MaxCalls: 1, Period: time.Minute}, clock)

	require.NoError(t, tb.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tb.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestLimiterSetEnforcesBothCeilings(t *testing.T) {
	clock := newFakeClock()
	global := &Config{MaxCalls: 2, Period: time.Second}
	set := NewLimiterSetWithClock(global, clock)
	set.SetSource("chembl", Config{MaxCalls: 100, Period: time.Second})

	start := clock.Now()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, set.Acquire(ctx, "chembl"))
	}

	// The generous source limiter must not relax the tight global ceiling:
	// 10 admissions at 2/s with a burst of 2 need at least 4 seconds.
	elapsed := clock.Now().Sub(start)
	assert.GreaterOrEqual(t, elapsed, 3900*time.Millisecond)

	gs, ok := set.GlobalStats()
	require.True(t, ok)
	assert.Equal(t, int64(10), gs.Allowed)

	ss, ok := set.SourceStats("chembl")
	require.True(t, ok)
	assert.Equal(t, int64(10), ss.Allowed)
}

func TestLimiterSetTightSourceCeiling(t *testing.T) {
	clock := newFakeClock()
	set := NewLimiterSetWithClock(&Config{MaxCalls: 100, Period: time.Second}, clock)
	set.SetSource("crossref", Config{MaxCalls: 1, Period: time.Second})

	require.NoError(t, set.TryAcquire("crossref"))

	err := set.TryAcquire("crossref")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))

	// Unregistered sources only pass the global gate.
	assert.NoError(t, set.TryAcquire("pubmed"))
}
