package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/catalog"
	"libraryhub/internal/eventstore"
	"libraryhub/internal/storage"
	"libraryhub/internal/storage/storagetest"
)

type message struct {
	key  string
	body []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []message
	failOn   int
	down     bool
	attempts int
}

func (p *fakePublisher) Publish(_ context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.down || (p.failOn > 0 && len(p.sent)+1 == p.failOn) {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, message{key, body})
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) sentIDs(t *testing.T) []int64 {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int64, len(p.sent))
	for i, m := range p.sent {
		var e eventstore.Event
		require.NoError(t, json.Unmarshal(m.body, &e))
		ids[i] = e.ID
	}
	return ids
}

func (p *fakePublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, m := range p.sent {
		out[i] = m.key
	}
	return out
}

type noLoans struct{}

func (noLoans) CountOpenLoans(context.Context, storage.Querier, uuid.UUID) (int, error) { return 0, nil }
func (noLoans) HasLoans(context.Context, storage.Querier, uuid.UUID) (bool, error)     { return false, nil }

func seedBooks(t *testing.T, n int) (*storage.DB, *eventstore.EventStore) {
	t.Helper()
	db := storagetest.Open(t)
	es := eventstore.NewEventStore(db)
	svc := catalog.NewService(db, catalog.NewStore(db, es), noLoans{})
	for i := 0; i < n; i++ {
		_, err := svc.AddBook(context.Background(), catalog.NewBook{ISBN: uuid.NewString(), Title: "T", Author: "A"})
		require.NoError(t, err)
	}
	return db, es
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	db, es := seedBooks(t, 3)
	pub := &fakePublisher{}
	r := New(db, es, pub, WithBatchSize(2))

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"book.BookAdded", "book.BookAdded", "book.BookAdded"}, pub.keys())

	var e eventstore.Event
	require.NoError(t, json.Unmarshal(pub.sent[0].body, &e))
	assert.Equal(t, catalog.AggregateType, e.AggregateType)
	assert.Equal(t, 1, e.Version)
	assert.Contains(t, string(e.EventData), `"title":"T"`)
}

func TestRunOnceStopsAtFailedPublish(t *testing.T) {
	ctx := context.Background()
	db, es := seedBooks(t, 3)
	pub := &fakePublisher{failOn: 2}
	r := New(db, es, pub)

	n, err := r.RunOnce(ctx)
	require.Error(t, err)
	assert.Equal(t, 1, n)

	pos, err := NewOffsets(db).Position(ctx, db, DefaultConsumer)
	require.NoError(t, err)
	assert.Equal(t, pub.sentIDs(t)[0], pos, "the offset stops at the last delivered event")

	pub.failOn = 0
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.keys(), 3)
}

func TestBrokerOutageOpensBreaker(t *testing.T) {
	ctx := context.Background()
	db, es := seedBooks(t, 1)
	pub := &fakePublisher{down: true}
	r := New(db, es, pub)

	for i := 0; i < BreakerThreshold; i++ {
		_, err := r.RunOnce(ctx)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	_, err := r.RunOnce(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, BreakerThreshold, pub.attempts, "an open breaker does not reach the broker")

	pos, err := NewOffsets(db).Position(ctx, db, DefaultConsumer)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestConsumersAreIndependent(t *testing.T) {
	ctx := context.Background()
	db, es := seedBooks(t, 2)
	a, b := &fakePublisher{}, &fakePublisher{}

	_, err := New(db, es, a, WithConsumer("a")).RunOnce(ctx)
	require.NoError(t, err)
	_, err = New(db, es, b, WithConsumer("b")).RunOnce(ctx)
	require.NoError(t, err)

	assert.Len(t, a.keys(), 2)
	assert.Len(t, b.keys(), 2)
}

func TestRunStopsWithContext(t *testing.T) {
	db, es := seedBooks(t, 1)
	pub := &fakePublisher{}
	r := New(db, es, pub, WithInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.keys()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestOffsetsSave(t *testing.T) {
	ctx := context.Background()
	db := storagetest.Open(t)
	o := NewOffsets(db)

	pos, err := o.Position(ctx, db, "x")
	require.NoError(t, err)
	assert.Zero(t, pos)

	require.NoError(t, o.Save(ctx, db, "x", 7, time.Now()))
	require.NoError(t, o.Save(ctx, db, "x", 9, time.Now()))
	pos, err = o.Position(ctx, db, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(9), pos)
}
