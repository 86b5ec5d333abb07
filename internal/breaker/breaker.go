// Package breaker implements the per-service circuit breaker gating
// dispatch to backend instances.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed - requests pass through.
	StateClosed State = iota
	// StateOpen - requests fail fast.
	StateOpen
	// StateHalfOpen - a probe request is testing recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// GaugeValue returns the metric encoding of the state
// (CLOSED=0, OPEN=1, HALF_OPEN=2).
func (s State) GaugeValue() float64 {
	return float64(s)
}

// StateChangeCallback is invoked after every state transition.
type StateChangeCallback func(serviceType string, from, to State)

// Breaker is the three-state machine for one service type. Failures and
// consecutive reroutes accrue independently; either can trip it.
type Breaker struct {
	serviceType string
	cfg         *config.BreakerConfig
	logger      *zap.Logger

	mu                  sync.Mutex
	state               State
	failures            int
	lastFailureAt       time.Time
	reroutes            int64
	consecutiveReroutes int
	lastRerouteAt       time.Time

	onStateChange StateChangeCallback

	// now is swappable for tests.
	now func() time.Time
}

// New creates a breaker for one service type, starting CLOSED.
func New(serviceType string, cfg *config.BreakerConfig, logger *zap.Logger) *Breaker {
	return &Breaker{
		serviceType: serviceType,
		cfg:         cfg,
		logger:      logger,
		state:       StateClosed,
		now:         time.Now,
	}
}

// SetStateChangeCallback sets the transition hook. The callback runs on the
// request path inside the breaker lock; it must not block.
func (b *Breaker) SetStateChangeCallback(callback StateChangeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = callback
}

// Allow is the dispatch gate, taken once per request before selection.
// It reports whether the request may proceed and whether it is the probe
// consuming the OPEN to HALF_OPEN transition.
func (b *Breaker) Allow() (allowed, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) > b.cfg.ErrorTimeout {
			b.changeState(StateHalfOpen)
			b.consecutiveReroutes = 0
			return true, true
		}
		return false, false
	default:
		return true, false
	}
}

// RecordSuccess records a non-5xx backend response for a forwarded request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.changeState(StateClosed)
		b.failures = 0
		b.lastFailureAt = time.Time{}
		b.consecutiveReroutes = 0
	}
}

// RecordFailure records a transport error, timeout, or 5xx response.
// Failures outside the error window restart the count.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if !b.lastFailureAt.IsZero() && now.Sub(b.lastFailureAt) > b.cfg.ErrorTimeout {
		b.failures = 0
	}

	b.failures++
	b.lastFailureAt = now

	if b.state != StateOpen && b.failures >= b.cfg.ErrorThreshold {
		b.changeState(StateOpen)
	}
}

// RecordReroute records a dispatch that was not the request's first choice,
// including the HALF_OPEN probe. Reroutes separated by more than the reroute
// window are not consecutive.
func (b *Breaker) RecordReroute() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if !b.lastRerouteAt.IsZero() && now.Sub(b.lastRerouteAt) > b.cfg.RerouteWindow {
		b.consecutiveReroutes = 0
	}

	b.consecutiveReroutes++
	b.reroutes++
	b.lastRerouteAt = now

	if b.state != StateOpen && b.consecutiveReroutes >= b.cfg.RerouteThreshold {
		// state = OPEN implies lastFailureAt is set; the reroute trip
		// stamps it so the OPEN dwell clock starts now.
		b.lastFailureAt = now
		b.changeState(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot holds a point-in-time copy of the breaker counters.
type Snapshot struct {
	ServiceType         string
	State               State
	Failures            int
	Reroutes            int64
	ConsecutiveReroutes int
}

// GetSnapshot returns a copy of the breaker's current state and counters.
func (b *Breaker) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		ServiceType:         b.serviceType,
		State:               b.state,
		Failures:            b.failures,
		Reroutes:            b.reroutes,
		ConsecutiveReroutes: b.consecutiveReroutes,
	}
}

// changeState transitions the state and fires the callback. Callers hold
// the lock.
func (b *Breaker) changeState(newState State) {
	oldState := b.state
	b.state = newState

	b.logger.Info("circuit breaker state changed",
		zap.String("service_type", b.serviceType),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()))

	if b.onStateChange != nil {
		b.onStateChange(b.serviceType, oldState, newState)
	}
}
