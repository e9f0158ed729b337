// Package resilience provides the retry, circuit breaker, and provider
// failover primitives used around speech and language providers.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open) that
// stops a session from hammering a provider that is already down.
// [FallbackGroup] composes several instances of one provider type with
// per-entry breakers so a failing primary is bypassed in favour of healthy
// fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Probes all
	// succeeding closes the breaker; any probe failing re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the breaker in log messages, usually the provider name.
	Name string

	// MaxFailures is the consecutive-failure count in the closed state that
	// trips the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before allowing
	// half-open probes. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls permitted in the half-open
	// state. Default: 3.
	HalfOpenMax int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	failstreak int
	trippedAt  time.Time
	probes     int
	probeFails int
	trips      int64
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		logger:       cfg.Logger,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn; in the half-open state only the probe
// budget is let through.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probing, err := cb.allow()
	if err != nil {
		return err
	}

	err = fn()
	cb.record(err, probing)
	return err
}

// allow decides whether a call may proceed, reporting whether it counts as a
// half-open probe.
func (cb *CircuitBreaker) allow() (probing bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.trippedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeFails = 0
		cb.logger.Info("circuit breaker transitioning to half-open",
			"name", cb.name)

	case StateHalfOpen:
		if cb.probes >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.probes++
		return true, nil
	}
	return false, nil
}

// record applies the outcome of a permitted call.
func (cb *CircuitBreaker) record(err error, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if probing {
			if cb.probes-cb.probeFails >= cb.halfOpenMax {
				cb.state = StateClosed
				cb.failstreakReset()
				cb.logger.Info("circuit breaker closed after successful probes",
					"name", cb.name)
			}
			return
		}
		cb.failstreak = 0
		return
	}

	cb.trippedAt = time.Now()

	if probing {
		cb.probeFails++
		cb.state = StateOpen
		cb.failstreak = cb.maxFailures
		cb.trips++
		cb.logger.Warn("circuit breaker re-opened from half-open",
			"name", cb.name)
		return
	}

	cb.failstreak++
	if cb.failstreak >= cb.maxFailures {
		cb.state = StateOpen
		cb.trips++
		cb.logger.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.failstreak)
	}
}

// failstreakReset clears all failure accounting. Must hold cb.mu.
func (cb *CircuitBreaker) failstreakReset() {
	cb.failstreak = 0
	cb.probes = 0
	cb.probeFails = 0
}

// State returns the current [State]. When the breaker is open and the reset
// timeout has elapsed the returned state is [StateHalfOpen]; the actual
// transition happens on the next [Execute] call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.trippedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Trips returns how many times the breaker has opened since creation.
func (cb *CircuitBreaker) Trips() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

// Reset forces the breaker back to [StateClosed] and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failstreakReset()
	cb.logger.Info("circuit breaker manually reset", "name", cb.name)
}
