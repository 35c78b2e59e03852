// Package circuitbreaker guards a flaky upstream (the price API, the RPC
// node) with a closed → open → half-open circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do while the circuit rejects calls.
var ErrOpen = errors.New("circuitbreaker: circuit open")

type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe is in flight
)

func (s State) String() string {
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

var (
	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetwatch",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit state transitions by breaker, from-state, and to-state.",
	}, []string{"breaker", "from_state", "to_state"})

	rejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assetwatch",
		Subsystem: "circuitbreaker",
		Name:      "rejections_total",
		Help:      "Calls rejected because the circuit was open.",
	}, []string{"breaker"})

	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "assetwatch",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Current circuit state (0 closed, 1 open, 2 half-open).",
	}, []string{"breaker"})
)

func init() {
	prometheus.MustRegister(transitions, rejections, stateGauge)
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithFailureFilter limits which errors count against the circuit. Errors the
// filter rejects are returned to the caller but leave the circuit untouched.
func WithFailureFilter(f func(error) bool) Option {
	return func(b *Breaker) { b.counts = f }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// Breaker opens after threshold consecutive counted failures and, once
// cooldown has passed, admits a single probe whose outcome closes or reopens
// the circuit.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	counts    func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// New creates a closed breaker. Non-positive arguments fall back to 5
// failures and 30 seconds.
func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	stateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return b
}

func (b *Breaker) Name() string { return b.name }

// Do runs fn if the circuit admits it and records the outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.admit() {
		rejections.WithLabelValues(b.name).Inc()
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state. An open circuit past its cooldown still
// reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.moveTo(StateHalfOpen)
		return true
	case StateHalfOpen:
		return false
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.failures = 0
		if b.state == StateHalfOpen {
			b.moveTo(StateClosed)
		}
		return
	case b.counts != nil && !b.counts(err):
		// Inconclusive probe: reopen with the old timestamp so the next
		// call probes again.
		if b.state == StateHalfOpen {
			b.moveTo(StateOpen)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.moveTo(StateOpen)
	}
}

// Caller must hold b.mu.
func (b *Breaker) moveTo(to State) {
	if b.state == to {
		return
	}
	transitions.WithLabelValues(b.name, b.state.String(), to.String()).Inc()
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	b.state = to
}
