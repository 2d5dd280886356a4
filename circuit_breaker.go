package tenantclient

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	jperrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/sony/gobreaker/v2"
)

// CircuitState represents the state of the circuit breaker.
type CircuitState int

const (
	// StateClosed means the circuit is closed and requests flow normally.
	StateClosed CircuitState = iota

	// StateHalfOpen means a single probe request is testing whether the service recovered.
	StateHalfOpen

	// StateOpen means the circuit is open and requests are rejected without being dispatched.
	StateOpen
)

// String returns the string representation of the circuit breaker state.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// CircuitBreaker gates whether a logical call is dispatched at all, independent of the
// retries inside that call.
//
// State transitions:
//   - closed → open: after FailureThreshold consecutive failed calls
//   - open → half-open: once ResetTimeout has elapsed since the tripping failure
//   - half-open → closed: the single probe succeeds
//   - half-open → open: the single probe fails
//
// It is safe for concurrent use.
type CircuitBreaker struct {
	mu          sync.RWMutex
	cb          *gobreaker.TwoStepCircuitBreaker[struct{}]
	generation  uint64
	failures    uint32
	lastFailure time.Time

	// gate serializes Allow and done so that transitions observed between them are exact.
	gate        sync.Mutex
	transitions atomic.Uint64

	name          string
	config        CircuitBreakerConfig
	logger        *slog.Logger
	metrics       *Metrics
	onStateChange func(from, to CircuitState)
	now           func() time.Time
}

// Permit is the right to dispatch one logical call, returned by Evaluate.
// Its outcome must be reported once with RecordOutcome.
type Permit struct {
	breaker     *CircuitBreaker
	done        func(success bool)
	generation  uint64
	transitions uint64
	once        sync.Once
}

// NewCircuitBreaker creates a closed circuit breaker.
// logger, metrics and onStateChange may be nil.
func NewCircuitBreaker(
	name string,
	config CircuitBreakerConfig,
	logger *slog.Logger,
	metrics *Metrics,
	onStateChange func(from, to CircuitState),
) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}

	b := &CircuitBreaker{
		name:          name,
		config:        config,
		logger:        logger,
		metrics:       metrics,
		onStateChange: onStateChange,
		now:           time.Now,
	}
	b.cb = b.newGobreaker(0)
	b.metrics.setCircuitState(name, StateClosed)
	return b
}

func (b *CircuitBreaker) newGobreaker(generation uint64) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	threshold := b.config.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	settings := gobreaker.Settings{
		Name: b.name,
		// A single probe is admitted in half-open; its outcome decides the next state.
		MaxRequests: 1,
		// Consecutive failures are only reset by a success, never by a clock.
		Interval: 0,
		Timeout:  b.config.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.transitions.Add(1)
			// Late outcomes of calls admitted before a Reset still drive the replaced instance.
			if !b.isCurrent(generation) {
				return
			}
			b.stateChanged(convertGobreakerState(from), convertGobreakerState(to))
		},
	}

	return gobreaker.NewTwoStepCircuitBreaker[struct{}](settings)
}

func (b *CircuitBreaker) isCurrent(generation uint64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation == generation
}

// stateChanged runs inside gobreaker's lock and must not call into gobreaker again.
func (b *CircuitBreaker) stateChanged(from, to CircuitState) {
	b.logger.Warn("circuit breaker state changed",
		"name", b.name,
		"from", from.String(),
		"to", to.String())

	b.metrics.setCircuitState(b.name, to)

	if b.onStateChange != nil {
		b.onStateChange(from, to)
	}
}

// Evaluate asks whether a call may be dispatched now.
// While the circuit is open, or while the half-open probe is still in flight, it returns
// network/CIRCUIT_BREAKER_OPEN. The error is marked retryable so an outer caller may try
// again later; the client's own attempt loop never retries it.
func (b *CircuitBreaker) Evaluate() (*Permit, *Error) {
	b.mu.RLock()
	cb := b.cb
	generation := b.generation
	b.mu.RUnlock()

	b.gate.Lock()
	done, err := cb.Allow()
	transitions := b.transitions.Load()
	b.gate.Unlock()
	if err != nil {
		return nil, b.rejection(cb, err)
	}

	return &Permit{breaker: b, done: done, generation: generation, transitions: transitions}, nil
}

// RecordOutcome reports the final outcome of the whole logical call.
// Only the first call has an effect, so a call updates the breaker at most once.
func (p *Permit) RecordOutcome(success bool) {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.breaker.complete(p, success)
	})
}

// complete hands the outcome to gobreaker and mirrors it in the own counters. gobreaker
// drops outcomes of calls admitted before its last state change, and so does complete.
func (b *CircuitBreaker) complete(p *Permit, success bool) {
	b.gate.Lock()
	defer b.gate.Unlock()

	if b.transitions.Load() == p.transitions {
		b.record(p.generation, success)
	}
	p.done(success)
}

func (b *CircuitBreaker) record(generation uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The breaker was reset while this call was in flight; its outcome belongs to the old state.
	if generation != b.generation {
		return
	}

	if success {
		b.failures = 0
		return
	}
	b.failures++
	b.lastFailure = b.now()
}

func (b *CircuitBreaker) rejection(cb *gobreaker.TwoStepCircuitBreaker[struct{}], err error) *Error {
	counts := cb.Counts()
	state := "open"
	message := "circuit breaker is open, request not dispatched"
	if errors.Is(err, gobreaker.ErrTooManyRequests) {
		state = "half-open"
		message = "circuit breaker is half-open and its probe is in flight, request not dispatched"
	}

	b.logger.Warn("circuit breaker rejected request",
		"name", b.name,
		"state", state,
		"consecutive_failures", b.FailureCount())

	return &Error{
		Kind:      KindNetwork,
		Code:      CodeCircuitOpen,
		Message:   message,
		Retryable: true,
		Cause: jperrors.NewCircuitBreakerError(
			"request rejected",
			"evaluate",
			state,
			jperrors.WithCause(err),
			jperrors.WithCounts(jperrors.CircuitCounts{
				Requests:             counts.Requests,
				TotalSuccesses:       counts.TotalSuccesses,
				TotalFailures:        counts.TotalFailures,
				ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
				ConsecutiveFailures:  counts.ConsecutiveFailures,
			}),
		),
	}
}

// Reset forces the breaker back to closed with a zero failure count, whatever its state.
// Calls admitted before the reset still complete, but their outcomes are ignored.
func (b *CircuitBreaker) Reset() {
	previous := b.State()

	b.mu.Lock()
	b.generation++
	b.cb = b.newGobreaker(b.generation)
	b.failures = 0
	b.lastFailure = time.Time{}
	b.mu.Unlock()

	b.logger.Info("circuit breaker reset", "name", b.name, "previous_state", previous.String())
	if previous != StateClosed {
		b.stateChanged(previous, StateClosed)
	}
}

// State returns the current state. An open circuit whose reset timeout has elapsed
// reports half-open.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.RLock()
	cb := b.cb
	b.mu.RUnlock()
	return convertGobreakerState(cb.State())
}

// FailureCount returns the number of consecutive failed calls since the last success or reset.
func (b *CircuitBreaker) FailureCount() uint32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures
}

// LastFailureTime returns when the most recent failed call was recorded, or the zero time.
func (b *CircuitBreaker) LastFailureTime() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFailure
}

// Health returns the health status of the circuit breaker.
func (b *CircuitBreaker) Health() HealthStatus {
	b.mu.RLock()
	cb := b.cb
	failures := b.failures
	lastFailure := b.lastFailure
	b.mu.RUnlock()

	state := convertGobreakerState(cb.State())
	counts := cb.Counts()

	status := HealthStatus{
		Name:                 b.name,
		Healthy:              state != StateOpen,
		State:                state.String(),
		FailureCount:         failures,
		FailureThreshold:     b.config.FailureThreshold,
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
	if !lastFailure.IsZero() {
		status.LastFailureTime = &lastFailure
	}
	return status
}

// convertGobreakerState converts gobreaker.State to our CircuitState.
func convertGobreakerState(state gobreaker.State) CircuitState {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
