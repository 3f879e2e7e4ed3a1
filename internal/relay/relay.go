// Package relay forwards stored domain events to a message broker. Delivery
// is at least once: the offset advances only after the broker confirmed the
// publish.
package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"libraryhub/internal/eventstore"
	"libraryhub/internal/storage"
)

const (
	DefaultConsumer  = "amqp"
	DefaultBatchSize = 100
	DefaultInterval  = 2 * time.Second
)

// Relay polls the event log and hands new events to a Publisher.
type Relay struct {
	db        *storage.DB
	events    *eventstore.EventStore
	offsets   *Offsets
	pub       Publisher
	consumer  string
	batchSize int
	interval  time.Duration
	logger    zerolog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) { r.logger = l }
}

// WithConsumer names the offset the relay keeps. Relays with different
// names deliver the same log independently.
func WithConsumer(name string) Option {
	return func(r *Relay) { r.consumer = name }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// New creates a relay from the event log in db to pub.
func New(db *storage.DB, events *eventstore.EventStore, pub Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:        db,
		events:    events,
		offsets:   NewOffsets(db),
		pub:       pub,
		consumer:  DefaultConsumer,
		batchSize: DefaultBatchSize,
		interval:  DefaultInterval,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.pub = newBreakerPublisher(pub, r.logger)
	return r
}

// RoutingKey is "<aggregate type>.<event type>", e.g. "issue.BookIssued".
func RoutingKey(e eventstore.Event) string {
	return strings.ToLower(e.AggregateType) + "." + e.EventType
}

// RunOnce delivers one batch and returns how many events were published.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	pos, err := r.offsets.Position(ctx, r.db, r.consumer)
	if err != nil {
		return 0, err
	}
	batch, err := r.events.StreamEvents(ctx, r.db, pos, r.batchSize)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range batch {
		body, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(e)
		if err != nil {
			return sent, fmt.Errorf("failed to encode event %d: %w", e.ID, err)
		}
		if err := r.pub.Publish(ctx, RoutingKey(e), body); err != nil {
			return sent, fmt.Errorf("failed to publish event %d: %w", e.ID, err)
		}
		if err := r.offsets.Save(ctx, r.db, r.consumer, e.ID, time.Now()); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Run delivers batches until ctx is done. A full batch is followed
// immediately by the next one; otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Str("consumer", r.consumer).Dur("interval", r.interval).Msg("event relay started")
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Str("consumer", r.consumer).Msg("event relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.RunOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error().Err(err).Int("published", n).Msg("event relay batch failed")
		case n > 0:
			r.logger.Debug().Int("published", n).Msg("events relayed")
		}

		wait := r.interval
		if err == nil && n == r.batchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}
