// Package breaker wraps sony/gobreaker with the logging and metrics used by
// the remote image backends.
package breaker

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/yawon3/pocali-backend/internal/logging"
	"github.com/yawon3/pocali-backend/internal/metrics"
)

// ErrOpen is returned when a call is rejected because the breaker is open or
// the half-open trial quota is used up.
var ErrOpen = errors.New("circuit breaker open")

// Breaker guards calls to one remote service.
type Breaker struct {
	cb       *gobreaker.CircuitBreaker[any]
	name     string
	harmless func(error) bool
}

// New creates a breaker named name. Calls whose error satisfies harmless
// (e.g. a 409 conflict or a cancelled context) do not count as failures;
// harmless may be nil.
//
// The breaker opens when at least 60% of 10 or more calls in a one-minute
// window failed, and lets trial calls through again after 30 seconds.
func New(name string, harmless func(error) bool) *Breaker {
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	b := &Breaker{name: name, harmless: harmless}
	b.cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= 0.6 {
				logging.Warn().Str("breaker", name).Uint32("failures", counts.TotalFailures).Msg("opening circuit")
				return true
			}
			return false
		},
		IsSuccessful: b.successful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state ("closed", "half-open" or "open").
func (b *Breaker) State() string { return b.cb.State().String() }

// Do runs fn through the breaker. Rejected calls return an error wrapping
// ErrOpen.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	switch {
	case b.successful(err):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
		return err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
		return errors.Join(ErrOpen, err)
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
		return err
	}
}

func (b *Breaker) successful(err error) bool {
	return err == nil || (b.harmless != nil && b.harmless(err))
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
