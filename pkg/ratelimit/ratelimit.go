// Package ratelimit provides token-bucket admission control for outbound
// API calls. Every fetch goes through a LimiterSet that enforces a
// process-wide global ceiling and a per-source ceiling as independent
// constraints: a call is admitted only when both buckets have a token.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SatoryKono/bioactivity-data-acquisition-sub009/pkg/errors"
)

// Config is the admission policy for one bucket.
type Config struct {
	MaxCalls int           `yaml:"max_calls" json:"max_calls"`
	Period   time.Duration `yaml:"period" json:"period"`
}

// UnmarshalYAML accepts durations in Go syntax ("1s", "500ms").
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		MaxCalls int    `yaml:"max_calls"`
		Period   string `yaml:"period"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.MaxCalls = raw.MaxCalls
	if raw.Period != "" {
		period, err := time.ParseDuration(raw.Period)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, "invalid rate limit period")
		}
		c.Period = period
	}
	return nil
}

// Validate validates the admission policy.
func (c Config) Validate() error {
	if c.MaxCalls < 1 {
		return errors.Newf(errors.ErrorTypeConfig, "max_calls must be at least 1, got %d", c.MaxCalls)
	}
	if c.Period <= 0 {
		return errors.Newf(errors.ErrorTypeConfig, "period must be positive, got %s", c.Period)
	}
	return nil
}

// Rate returns the sustained refill rate in tokens per second.
func (c Config) Rate() float64 {
	return float64(c.MaxCalls) / c.Period.Seconds()
}

// Clock abstracts time for the bucket so tests can drive a simulated clock.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats provides bucket statistics for monitoring.
type Stats struct {
	Rate          float64   `json:"rate"`
	Capacity      float64   `json:"capacity"`
	CurrentTokens float64   `json:"current_tokens"`
	LastRefill    time.Time `json:"last_refill"`
	Allowed       int64     `json:"allowed"`
	Blocked       int64     `json:"blocked"`
}

// TokenBucket is a mutex-guarded token bucket. Tokens refill at the
// configured sustained rate and are capped at the capacity, so across any
// sliding window of one period at most MaxCalls calls are admitted (plus the
// start-up burst of one full bucket).
type TokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	last     time.Time
	clock    Clock

	allowed int64
	blocked int64

	mu sync.Mutex
}

// NewTokenBucket creates a bucket from the admission policy. The bucket
// starts full, allowing an initial burst of up to MaxCalls.
func NewTokenBucket(cfg Config) *TokenBucket {
	return NewTokenBucketWithClock(cfg, realClock{})
}

// NewTokenBucketWithClock creates a bucket with an explicit clock.
func NewTokenBucketWithClock(cfg Config, clock Clock) *TokenBucket {
	capacity := float64(cfg.MaxCalls)
	return &TokenBucket{
		rate:     cfg.Rate(),
		capacity: capacity,
		tokens:   capacity,
		last:     clock.Now(),
		clock:    clock,
	}
}

// Acquire blocks until a token is available or the context is cancelled.
// Refill math uses elapsed time from the injected clock, so the bucket is
// immune to wall-clock adjustments when backed by a monotonic source.
func (tb *TokenBucket) Acquire(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refill()

		if tb.tokens >= 1.0 {
			tb.tokens--
			atomic.AddInt64(&tb.allowed, 1)
			tb.mu.Unlock()
			return nil
		}

		deficit := 1.0 - tb.tokens
		wait := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		if err := tb.clock.Sleep(ctx, wait); err != nil {
			atomic.AddInt64(&tb.blocked, 1)
			return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limit wait cancelled")
		}
	}
}

// TryAcquire consumes a token if one is immediately available and otherwise
// fails fast with a rate-limit error.
func (tb *TokenBucket) TryAcquire() error {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens--
		atomic.AddInt64(&tb.allowed, 1)
		return nil
	}

	atomic.AddInt64(&tb.blocked, 1)
	return errors.New(errors.ErrorTypeRateLimit, "rate limit exceeded")
}

// refill adds tokens based on elapsed time, capped at capacity.
// Callers must hold tb.mu.
func (tb *TokenBucket) refill() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.last).Seconds()

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}

	tb.last = now
}

// Stats returns bucket statistics.
func (tb *TokenBucket) Stats() Stats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	return Stats{
		Rate:          tb.rate,
		Capacity:      tb.capacity,
		CurrentTokens: tb.tokens,
		LastRefill:    tb.last,
		Allowed:       atomic.LoadInt64(&tb.allowed),
		Blocked:       atomic.LoadInt64(&tb.blocked),
	}
}

// LimiterSet composes the process-wide global limiter with per-source
// limiters. Both ceilings are fully enforced for every outbound call; there
// is no relaxation rule between them.
type LimiterSet struct {
	global    *TokenBucket
	perSource map[string]*TokenBucket
	clock     Clock
	mu        sync.RWMutex
}

// NewLimiterSet creates a limiter set. A nil global config disables the
// global ceiling.
func NewLimiterSet(global *Config) *LimiterSet {
	return NewLimiterSetWithClock(global, realClock{})
}

// NewLimiterSetWithClock creates a limiter set with an explicit clock shared
// by all buckets.
func NewLimiterSetWithClock(global *Config, clock Clock) *LimiterSet {
	s := &LimiterSet{
		perSource: make(map[string]*TokenBucket),
		clock:     clock,
	}
	if global != nil {
		s.global = NewTokenBucketWithClock(*global, clock)
	}
	return s
}

// SetSource registers or replaces the per-source limiter. Intended to be
// called once at start-up, before concurrent fetching begins.
func (s *LimiterSet) SetSource(source string, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perSource[source] = NewTokenBucketWithClock(cfg, s.clock)
}

// Acquire blocks until both the global and the per-source limiter admit the
// call. Sources without a registered limiter only pass the global gate.
func (s *LimiterSet) Acquire(ctx context.Context, source string) error {
	if s.global != nil {
		if err := s.global.Acquire(ctx); err != nil {
			return err
		}
	}

	s.mu.RLock()
	bucket := s.perSource[source]
	s.mu.RUnlock()

	if bucket != nil {
		return bucket.Acquire(ctx)
	}
	return nil
}

// TryAcquire is the non-blocking variant. The global token is consumed
// before the source token is checked; a source-level denial therefore still
// counts against the global ceiling, matching the blocking path.
func (s *LimiterSet) TryAcquire(source string) error {
	if s.global != nil {
		if err := s.global.TryAcquire(); err != nil {
			return err
		}
	}

	s.mu.RLock()
	bucket := s.perSource[source]
	s.mu.RUnlock()

	if bucket != nil {
		return bucket.TryAcquire()
	}
	return nil
}

// SourceStats returns stats for one source limiter, if registered.
func (s *LimiterSet) SourceStats(source string) (Stats, bool) {
	s.mu.RLock()
	bucket := s.perSource[source]
	s.mu.RUnlock()

	if bucket == nil {
		return Stats{}, false
	}
	return bucket.Stats(), true
}

// GlobalStats returns stats for the global limiter, if configured.
func (s *LimiterSet) GlobalStats() (Stats, bool) {
	if s.global == nil {
		return Stats{}, false
	}
	return s.global.Stats(), true
}
