package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const (
	// BreakerThreshold is how many publishes in a row may fail before the
	// breaker opens.
	BreakerThreshold = 5
	// BreakerCooldown is how long an open breaker rejects publishes before
	// letting a single trial through.
	BreakerCooldown = 30 * time.Second
)

// breakerPublisher stops calling a broker that keeps failing. While open,
// Publish returns gobreaker.ErrOpenState without touching the broker.
type breakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func newBreakerPublisher(next Publisher, logger zerolog.Logger) *breakerPublisher {
	return &breakerPublisher{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "relay-publish",
			MaxRequests: 1,
			Timeout:     BreakerCooldown,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= BreakerThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("publish breaker changed state")
			},
		}),
	}
}

func (p *breakerPublisher) Publish(ctx context.Context, key string, body []byte) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, key, body)
	})
	return err
}

func (p *breakerPublisher) Close() error { return p.next.Close() }
