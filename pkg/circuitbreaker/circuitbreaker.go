package circuitbreaker

import (
	"time"

	"github.com/sony/gobreaker"
)

type Settings struct {
	Name string
	// MaxRequests is how many trial calls a half-open breaker lets through.
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	// ConsecutiveFailures trips the breaker. Defaults to 5.
	ConsecutiveFailures uint32
}

type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

var ErrOpen = gobreaker.ErrOpenState

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	threshold := settings.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	return &CircuitBreaker{
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        settings.Name,
			MaxRequests: settings.MaxRequests,
			Interval:    settings.Interval,
			Timeout:     settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
		}),
	}
}

func (c *CircuitBreaker) Execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *CircuitBreaker) State() string {
	return c.cb.State().String()
}
