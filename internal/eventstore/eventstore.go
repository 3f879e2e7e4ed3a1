// Package eventstore keeps the append-only log of domain events. Events are
// appended inside the caller's transaction so the log and the state it
// describes commit or roll back together.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"libraryhub/internal/storage"
)

const table = "events"

// appendLockKey is the transaction-scoped advisory lock every Postgres append
// takes before drawing an id. Ids then become visible in the order they were
// drawn, so a reader streaming "id > offset" never passes an id that is
// still uncommitted.
const appendLockKey int64 = 0x6c6962726172

var (
	ErrConcurrencyConflict = storage.ErrConcurrencyConflict
	ErrInvalidVersion      = errors.New("invalid version number")
)

// Event represents a domain event with full metadata
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   uuid.UUID              `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     json.RawMessage        `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

type eventRow struct {
	ID            int64     `db:"id"`
	AggregateID   uuid.UUID `db:"aggregate_id"`
	AggregateType string    `db:"aggregate_type"`
	EventType     string    `db:"event_type"`
	EventData     []byte    `db:"event_data"`
	Metadata      []byte    `db:"metadata"`
	Version       int       `db:"version"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r eventRow) toEvent() Event {
	e := Event{
		ID:            r.ID,
		AggregateID:   r.AggregateID,
		AggregateType: r.AggregateType,
		EventType:     r.EventType,
		EventData:     json.RawMessage(r.EventData),
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

var columns = []interface{}{"id", "aggregate_id", "aggregate_type", "event_type", "event_data", "metadata", "version", "created_at"}

// NewEvent marshals payload into an event of the given type.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return Event{EventType: eventType, EventData: data}, nil
}

// EventStore appends and reads events through any storage.Querier.
type EventStore struct {
	dialect   goqu.DialectWrapper
	serialize bool
	tracer    trace.Tracer
}

// NewEventStore creates an event store that builds queries for db's dialect.
func NewEventStore(db *storage.DB) *EventStore {
	return &EventStore{
		dialect:   db.Dialect(),
		serialize: db.Driver() == storage.DriverPostgres,
		tracer:    otel.Tracer("libraryhub/eventstore"),
	}
}

// AppendEvents appends events with optimistic concurrency control. It must run
// inside the transaction that applies the state change the events describe.
func (es *EventStore) AppendEvents(ctx context.Context, q storage.Querier, aggregateID uuid.UUID, aggregateType string, expectedVersion int, events ...Event) error {
	ctx, span := es.tracer.Start(ctx, "eventstore.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", aggregateID.String()),
			attribute.String("aggregate.type", aggregateType),
			attribute.Int("expected.version", expectedVersion),
			attribute.Int("event.count", len(events)),
		),
	)
	defer span.End()

	if expectedVersion < 0 {
		return ErrInvalidVersion
	}

	if es.serialize {
		if _, err := q.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
			return fmt.Errorf("lock event log: %w", err)
		}
	}

	currentVersion, err := es.currentVersion(ctx, q, aggregateID)
	if err != nil {
		return err
	}

	// Optimistic concurrency check
	if currentVersion != expectedVersion {
		span.SetAttributes(
			attribute.Int("actual.version", currentVersion),
			attribute.Bool("conflict.detected", true),
		)
		return ErrConcurrencyConflict
	}

	now := storage.Timestamp(time.Now())
	for i, event := range events {
		version := expectedVersion + i + 1

		var metadata interface{}
		if len(event.Metadata) > 0 {
			raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(event.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			metadata = string(raw)
		}

		query, args, err := es.dialect.Insert(table).Prepared(true).Rows(goqu.Record{
			"aggregate_id":   aggregateID.String(),
			"aggregate_type": aggregateType,
			"event_type":     event.EventType,
			"event_data":     string(event.EventData),
			"metadata":       metadata,
			"version":        version,
			"created_at":     now,
		}).ToSQL()
		if err != nil {
			return fmt.Errorf("build insert: %w", err)
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			// A concurrent writer took this version first.
			if storage.IsUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return fmt.Errorf("insert event %d: %w", i, err)
		}

		span.AddEvent("event.appended", trace.WithAttributes(
			attribute.Int("event.version", version),
			attribute.String("event.type", event.EventType),
		))
	}

	span.SetAttributes(attribute.Bool("append.success", true))
	return nil
}

// LoadEvents retrieves all events for an aggregate, oldest first.
func (es *EventStore) LoadEvents(ctx context.Context, q storage.Querier, aggregateID uuid.UUID) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID.String())),
	)
	defer span.End()

	query, args, err := es.dialect.From(table).Prepared(true).
		Select(columns...).
		Where(goqu.Ex{"aggregate_id": aggregateID.String()}).
		Order(goqu.C("version").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	events, err := es.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}

// CurrentVersion returns the latest version for an aggregate
func (es *EventStore) CurrentVersion(ctx context.Context, q storage.Querier, aggregateID uuid.UUID) (int, error) {
	return es.currentVersion(ctx, q, aggregateID)
}

// StreamEvents provides a cursor-based event stream for the relay.
func (es *EventStore) StreamEvents(ctx context.Context, q storage.Querier, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := es.tracer.Start(ctx, "eventstore.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	query, args, err := es.dialect.From(table).Prepared(true).
		Select(columns...).
		Where(goqu.C("id").Gt(fromID)).
		Order(goqu.C("id").Asc()).
		Limit(uint(batchSize)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	events, err := es.query(ctx, q, query, args)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}

func (es *EventStore) currentVersion(ctx context.Context, q storage.Querier, aggregateID uuid.UUID) (int, error) {
	query, args, err := es.dialect.From(table).Prepared(true).
		Select(goqu.COALESCE(goqu.MAX("version"), 0)).
		Where(goqu.Ex{"aggregate_id": aggregateID.String()}).
		ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var version int
	if err := sqlx.GetContext(ctx, q, &version, query, args...); err != nil {
		return 0, fmt.Errorf("query current version: %w", err)
	}
	return version, nil
}

func (es *EventStore) query(ctx context.Context, q storage.Querier, query string, args []interface{}) ([]Event, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}

	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toEvent())
	}
	return events, nil
}
