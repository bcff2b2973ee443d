package repository

import (
	"context"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/city-sync/internal/clock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestDB connects to CITYSYNC_TEST_MYSQL_DSN (with parseTime=true) or skips.
func getTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("CITYSYNC_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("CITYSYNC_TEST_MYSQL_DSN not set")
	}
	db, err := sqlx.Connect("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`DELETE FROM sync_event_deliveries`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM sync_event_log`)
	require.NoError(t, err)
	return db
}

func TestEventLogRepository_MySQL(t *testing.T) {
	db := getTestDB(t)
	ctx := context.Background()
	clk := clock.NewMockClock(time.Now().UTC().Truncate(time.Second))
	repo := NewEventLogRepository(db, RetryPolicy{MaxRetries: 3, Cooldown: 5 * time.Minute}, clk)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, repo.StoreEvent(ctx, newEvent(id, 11)))
	}
	assert.ErrorIs(t, repo.StoreEvent(ctx, newEvent("m1", 11)), ErrDuplicateEvent)

	batch, err := repo.GetUnprocessedOrRetriable(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, eventIDs(batch))

	require.NoError(t, repo.MarkProcessed(ctx, "m1"))
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.IncrementRetry(ctx, "m2"))
	}

	batch, err = repo.GetUnprocessedOrRetriable(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3"}, eventIDs(batch))

	clk.Advance(6 * time.Minute)
	batch, err = repo.GetUnprocessedOrRetriable(ctx, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m1"}, eventIDs(batch))

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts.Total)
	assert.EqualValues(t, 1, counts.Processed)
	assert.EqualValues(t, 1, counts.Pending)
	assert.EqualValues(t, 1, counts.Failed)

	history, err := repo.GetEventsForEntity(ctx, 11)
	require.NoError(t, err)
	require.Len(t, history, 3)
	decoded, err := DecodeEvent(history[0])
	require.NoError(t, err)
	assert.Equal(t, "m1", decoded.EventID)

	require.NoError(t, repo.RecordDelivery(ctx, "m1", "hub-service"))
	require.NoError(t, repo.RecordDelivery(ctx, "m1", "hub-service"))
	names, err := repo.DeliveredTo(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, []string{"hub-service"}, names)

	assert.ErrorIs(t, repo.MarkProcessed(ctx, "nope"), ErrEventNotFound)
}
