package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned while the breaker rejects calls.
var ErrOpen = errors.New("circuit breaker is open")

type Settings struct {
	Name string
	// MaxRequests is the number of trial calls allowed while half-open.
	MaxRequests int
	// Interval is the cyclic period of the closed state for clearing counts.
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures int
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	threshold := uint32(settings.ConsecutiveFailures)
	if threshold == 0 {
		threshold = 5
	}
	maxRequests := uint32(settings.MaxRequests)
	if maxRequests == 0 {
		maxRequests = 1
	}

	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: maxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("circuit breaker state changed")
			},
		}),
	}
}

// Execute runs fn unless the breaker is open. A non-nil error from fn counts
// as a failure.
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State returns the breaker state name: closed, half-open or open.
func (b *CircuitBreaker) State() string {
	return b.cb.State().String()
}

// Set lazily creates one breaker per name, all sharing the same settings.
type Set struct {
	settings Settings
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewSet(settings Settings) *Set {
	return &Set{
		settings: settings,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (s *Set) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b, ok := s.breakers[name]; ok {
		return b
	}
	settings := s.settings
	settings.Name = name
	b := NewCircuitBreaker(settings)
	s.breakers[name] = b
	return b
}
