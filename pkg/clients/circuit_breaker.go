package clients

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerConfig is the fail-fast policy for one source.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Must be at least 1.
	FailureThreshold int
	// OpenTimeout is how long the circuit stays open before a probe.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns the breaker policy used when a source does
// not override it.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows all requests to pass through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single probe to test recovery
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker counts consecutive failures per source and fails fast once
// the threshold is reached, protecting both the caller and the remote
// service. After OpenTimeout a single probe request is admitted; its outcome
// decides whether the circuit closes again or reopens.
type CircuitBreaker struct {
	config BreakerConfig
	logger *zap.Logger
	now    func() time.Time

	state               CircuitState
	consecutiveFailures int
	nextRetryTime       time.Time
	probeInFlight       bool

	mu sync.Mutex
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config BreakerConfig, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 1
	}
	return &CircuitBreaker{
		config: config,
		logger: logger.With(zap.String("component", "circuit_breaker")),
		now:    time.Now,
		state:  StateClosed,
	}
}

// Allow determines whether a request may proceed. In the open state it
// returns false until OpenTimeout elapses, then admits exactly one probe.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.now().After(cb.nextRetryTime) {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			cb.logger.Info("circuit breaker half-open")
			return true
		}
		return false

	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true

	default:
		return false
	}
}

// RecordSuccess resets the failure count; a successful half-open probe
// closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.probeInFlight = false

	if cb.state != StateClosed {
		cb.state = StateClosed
		cb.logger.Info("circuit breaker closed")
	}
}

// RecordFailure increments the consecutive failure count and opens the
// circuit at the threshold. A failed half-open probe reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.probeInFlight = false

	if cb.state == StateHalfOpen || cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.open()
	}
}

// open transitions to the open state. Callers must hold cb.mu.
func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.nextRetryTime = cb.now().Add(cb.config.OpenTimeout)
	cb.logger.Warn("circuit breaker opened",
		zap.Time("retry_after", cb.nextRetryTime),
		zap.Int("consecutive_failures", cb.consecutiveFailures))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
