// Package breaker guards the database path with a three-state circuit
// breaker (closed, open, half-open) built on sony/gobreaker. While the
// circuit is open every call fails fast without touching the database; after
// the probe delay a single trial call is let through, and its outcome
// decides whether the circuit closes again.
//
// The wrapper exists to pin the middleware's semantics onto gobreaker's
// knobs (consecutive-failure threshold, one trial call in half-open) and to
// expose a snapshot of the breaker state for the observability surface.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Defaults for Config fields left unset.
const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 60 * time.Second
	DefaultProbeDelay       = 30 * time.Second
)

// ErrOpen is returned by Execute while the circuit rejects calls, either
// because it is open or because the half-open trial slot is taken.
var ErrOpen = errors.New("circuit breaker open")

var (
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"name", "from", "to"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerTransitions)
}

// Config parameterizes one breaker instance. One instance guards one
// logical resource (here: the single SQLite writer).
type Config struct {
	Name             string
	FailureThreshold uint32        // consecutive failures before opening
	OpenDuration     time.Duration // closed-state failure-count reset interval
	ProbeDelay       time.Duration // wait before open transitions to half-open
}

// Snapshot is a point-in-time view of breaker state for dashboards.
type Snapshot struct {
	State               string    `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time"`
}

// Breaker wraps a typed gobreaker instance. Safe for concurrent use; all
// state transitions happen atomically inside gobreaker.
type Breaker[T any] struct {
	cb   *gobreaker.CircuitBreaker[T]
	name string

	mu          sync.Mutex
	lastFailure time.Time
}

// New builds a Breaker with spec defaults for unset fields. State changes
// are logged and exported as metrics.
func New[T any](cfg Config, log zerolog.Logger) *Breaker[T] {
	if cfg.Name == "" {
		cfg.Name = "database"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = DefaultOpenDuration
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = DefaultProbeDelay
	}

	b := &Breaker[T]{name: cfg.Name}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1, // exactly one trial call in half-open
		Interval:    cfg.OpenDuration,
		Timeout:     cfg.ProbeDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", stateString(from)).
				Str("to", stateString(to)).
				Msg("circuit breaker state change")
			breakerState.WithLabelValues(name).Set(stateValue(to))
			breakerTransitions.WithLabelValues(name, stateString(from), stateString(to)).Inc()
		},
	})
	return b
}

// Execute runs op under the breaker. While the circuit is open (or the
// half-open trial slot is taken) it returns ErrOpen without invoking op;
// otherwise op's own result is passed through unchanged.
func (b *Breaker[T]) Execute(op func() (T, error)) (T, error) {
	out, err := b.cb.Execute(op)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			var zero T
			return zero, ErrOpen
		}
		b.mu.Lock()
		b.lastFailure = time.Now()
		b.mu.Unlock()
	}
	return out, err
}

// State returns the current state name: "closed", "open", or "half-open".
func (b *Breaker[T]) State() string { return stateString(b.cb.State()) }

// Snapshot returns the state, consecutive failure count, and the time of
// the most recent failed call.
func (b *Breaker[T]) Snapshot() Snapshot {
	b.mu.Lock()
	last := b.lastFailure
	b.mu.Unlock()
	return Snapshot{
		State:               stateString(b.cb.State()),
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
		LastFailureTime:     last,
	}
}

func stateString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
