//go:build integration

package eventstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libraryhub/internal/storage/storagetest"
)

// An append that drew its id later must not become visible before an
// earlier, still open append. Otherwise a streaming reader could move its
// offset past the earlier id and never see it.
func TestAppendsBecomeVisibleInIDOrder(t *testing.T) {
	db := storagetest.OpenPostgres(t)
	store := NewEventStore(db)
	ctx := context.Background()
	first, second := uuid.New(), uuid.New()

	txA, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	defer txA.Rollback()
	require.NoError(t, store.AppendEvents(ctx, txA, first, "test", 0, mustEvent(t, "a")))

	later := mustEvent(t, "b")
	done := make(chan error, 1)
	go func() {
		txB, err := db.BeginTxx(ctx, nil)
		if err != nil {
			done <- err
			return
		}
		defer txB.Rollback()
		if err := store.AppendEvents(ctx, txB, second, "test", 0, later); err != nil {
			done <- err
			return
		}
		done <- txB.Commit()
	}()

	select {
	case err := <-done:
		t.Fatalf("second append committed while the first was open: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	streamed, err := store.StreamEvents(ctx, db, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, streamed)

	require.NoError(t, txA.Commit())
	require.NoError(t, <-done)

	streamed, err = store.StreamEvents(ctx, db, 0, 10)
	require.NoError(t, err)
	require.Len(t, streamed, 2)
	assert.Equal(t, first, streamed[0].AggregateID)
	assert.Equal(t, second, streamed[1].AggregateID)
}
