package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker is cooling down.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings tunes one breaker.
type Settings struct {
	Name                string
	ConsecutiveFailures uint32
	Cooldown            time.Duration
	OnStateChange       func(name string, from, to gobreaker.State)
}

// Breaker pauses calls to a flaky upstream after a run of consecutive
// failures, letting probes through again after the cooldown. The AI-ban
// pipeline uses one around its chat endpoint so a dead endpoint does not
// stall every scan.
type Breaker struct {
	mu       sync.RWMutex
	cb       *gobreaker.CircuitBreaker
	settings Settings
}

func NewBreaker(settings Settings) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 5 * time.Minute
	}

	b := &Breaker{settings: settings}
	b.cb = b.newCircuit()
	return b
}

func (b *Breaker) newCircuit() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.settings.Name,
		MaxRequests: 1,
		Timeout:     b.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.settings.ConsecutiveFailures
		},
		OnStateChange: b.settings.OnStateChange,
	})
}

func (b *Breaker) circuit() *gobreaker.CircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

// Do runs fn under the breaker. While open it fails fast with
// ErrCircuitOpen without touching the upstream.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.circuit().Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return ErrCircuitOpen
	}
	return err
}

// Healthy reports whether calls are currently allowed through.
func (b *Breaker) Healthy() bool {
	return b.circuit().State() != gobreaker.StateOpen
}

// State returns the breaker state name for status endpoints.
func (b *Breaker) State() string {
	return b.circuit().State().String()
}

// ConsecutiveFailures reports the current failure run length.
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.circuit().Counts().ConsecutiveFailures
}

// Reset discards the breaker state; the next call goes straight through.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cb = b.newCircuit()
}
