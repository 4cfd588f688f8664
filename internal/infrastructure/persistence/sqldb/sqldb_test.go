package sqldb

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certguard/internal/config"
	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

func newTestConnection(t *testing.T) *DBConnection {
	t.Helper()
	conn, err := Open(context.Background(), &config.DatabaseConfig{
		Driver:      string(constants.DatabaseDriverSQLite),
		Path:        "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		AutoMigrate: true,
	}, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

var (
	testNow    = time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)
	hourWindow = models.Window{Start: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), End: time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)}
	ipHourKey  = models.CounterKey{Dimension: constants.DimensionIP, Identifier: "203.0.113.7", Scope: "", Granularity: constants.GranularityHour}
)

func TestCounterRepository_IncrementAndPeek(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	count, err := repo.Peek(ctx, ipHourKey, hourWindow)
	require.NoError(t, err)
	assert.Zero(t, count)

	for want := int64(1); want <= 3; want++ {
		got, err := repo.Increment(ctx, ipHourKey, hourWindow, testNow)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	count, err = repo.Peek(ctx, ipHourKey, hourWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	scoped := ipHourKey
	scoped.Scope = "cert:issue"
	count, err = repo.Peek(ctx, scoped, hourWindow)
	require.NoError(t, err)
	assert.Zero(t, count, "scopes must not share counters")

	next := models.Window{Start: hourWindow.End, End: hourWindow.End.Add(time.Hour)}
	count, err = repo.Peek(ctx, ipHourKey, next)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCounterRepository_ConcurrentIncrementsAreLossless(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	const workers = 100
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Increment(ctx, ipHourKey, hourWindow, testNow); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := repo.Peek(ctx, ipHourKey, hourWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), count)
}

func TestCounterRepository_SumSinceAndLastAttempt(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	earlier := models.Window{Start: hourWindow.Start.Add(-2 * time.Hour), End: hourWindow.Start.Add(-time.Hour)}
	_, err := repo.Increment(ctx, ipHourKey, earlier, earlier.Start.Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.Increment(ctx, ipHourKey, hourWindow, testNow)
	require.NoError(t, err)
	_, err = repo.Increment(ctx, ipHourKey, hourWindow, testNow.Add(time.Second))
	require.NoError(t, err)

	sum, err := repo.SumSince(ctx, ipHourKey, testNow.Add(-time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	sum, err = repo.SumSince(ctx, ipHourKey, testNow.Add(-3*time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum)

	// A later block row must not count as an attempt.
	_, err = repo.MarkBlocked(ctx, constants.DimensionIP, ipHourKey.Identifier, "", testNow.Add(time.Hour), "manual", testNow.Add(time.Minute))
	require.NoError(t, err)

	last, ok, err := repo.LastAttempt(ctx, constants.DimensionIP, ipHourKey.Identifier, "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, testNow.Add(time.Second).Equal(last), "got %v", last)

	_, ok, err = repo.LastAttempt(ctx, constants.DimensionIP, "198.51.100.1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCounterRepository_SumSinceSkipsWindowsBeforeSince(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())
	key := models.CounterKey{Dimension: constants.DimensionTaxID, Identifier: "12345678909", Granularity: constants.GranularityMinute}
	minute := func(h, m int) models.Window {
		start := time.Date(2024, 6, 1, h, m, 0, 0, time.UTC)
		return models.Window{Start: start, End: start.Add(time.Minute)}
	}

	for i := 0; i < 3; i++ {
		_, err := repo.Increment(ctx, key, minute(10, 5), minute(10, 5).Start)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := repo.Increment(ctx, key, minute(11, 50), minute(11, 50).Start)
		require.NoError(t, err)
	}

	now := time.Date(2024, 6, 1, 11, 50, 0, 0, time.UTC)
	sum, err := repo.SumSince(ctx, key, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	sum, err = repo.SumSince(ctx, key, now.Add(-2*time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)
}

func TestCounterRepository_Blocks(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())
	until := testNow.Add(2 * time.Hour)

	block, err := repo.ActiveBlock(ctx, constants.DimensionTaxID, "12345678909", "", testNow)
	require.NoError(t, err)
	assert.Nil(t, block)

	block, err = repo.MarkBlocked(ctx, constants.DimensionTaxID, "12345678909", "", until, constants.BlockReasonThresholdExceeded, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Times)
	assert.True(t, until.Equal(block.Until))

	block, err = repo.ActiveBlock(ctx, constants.DimensionTaxID, "12345678909", "", testNow.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, constants.BlockReasonThresholdExceeded, block.Reason)
	assert.Equal(t, int64(3600), block.RemainingSeconds(testNow.Add(time.Hour)))

	block, err = repo.ActiveBlock(ctx, constants.DimensionTaxID, "12345678909", "other-scope", testNow)
	require.NoError(t, err)
	assert.Nil(t, block)

	block, err = repo.ActiveBlock(ctx, constants.DimensionTaxID, "12345678909", "", until)
	require.NoError(t, err)
	assert.Nil(t, block, "a block ends at blocked_until")

	extended := until.Add(time.Hour)
	block, err = repo.MarkBlocked(ctx, constants.DimensionTaxID, "12345678909", "", extended, constants.BlockReasonManual, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), block.Times)
	assert.Equal(t, constants.BlockReasonManual, block.Reason)

	cleared, err := repo.ClearBlock(ctx, constants.DimensionTaxID, "12345678909", "")
	require.NoError(t, err)
	assert.True(t, cleared)
	cleared, err = repo.ClearBlock(ctx, constants.DimensionTaxID, "12345678909", "")
	require.NoError(t, err)
	assert.False(t, cleared)
}

func TestCounterRepository_PurgeExpiredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewCounterRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	old := models.Window{Start: hourWindow.Start.Add(-24 * time.Hour), End: hourWindow.End.Add(-24 * time.Hour)}
	_, err := repo.Increment(ctx, ipHourKey, old, old.Start)
	require.NoError(t, err)
	_, err = repo.Increment(ctx, ipHourKey, hourWindow, testNow)
	require.NoError(t, err)
	_, err = repo.MarkBlocked(ctx, constants.DimensionIP, ipHourKey.Identifier, "", testNow.Add(-time.Minute), "manual", testNow.Add(-time.Hour))
	require.NoError(t, err)

	deleted, err := repo.PurgeExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.PurgeExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	count, err := repo.Peek(ctx, ipHourKey, hourWindow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func appendAt(t *testing.T, repo *LogRepository, id string, action constants.Action, at time.Time) {
	t.Helper()
	require.NoError(t, repo.Append(context.Background(), &models.RateLimitLogEntry{
		Dimension:  constants.DimensionIP,
		Identifier: id,
		Action:     action,
		CreatedAt:  at,
	}))
}

func TestLogRepository_Retention(t *testing.T) {
	ctx := context.Background()
	repo := NewLogRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	for i := 0; i < 5; i++ {
		appendAt(t, repo, "old", constants.ActionAllowed, testNow.Add(-48*time.Hour))
	}
	for i := 0; i < 5; i++ {
		appendAt(t, repo, "tied", constants.ActionBlocked, testNow)
	}

	deleted, err := repo.DeleteOlderThan(ctx, testNow.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)

	// Ties on created_at are broken by id, oldest first.
	deleted, err = repo.TrimToMax(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	deleted, err = repo.TrimToMax(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	var remaining []models.RateLimitLogEntry
	require.NoError(t, repo.db.Order("id").Find(&remaining).Error)
	require.Len(t, remaining, 3)
	assert.Greater(t, remaining[0].ID, uint64(7))

	_, err = repo.TrimToMax(ctx, -1)
	assert.Error(t, err)
}

func TestLogRepository_ForEachInRange(t *testing.T) {
	ctx := context.Background()
	repo := NewLogRepository(newTestConnection(t).DB(), logger.NewNoopLogger())

	for i := 0; i < logBatchSize+20; i++ {
		appendAt(t, repo, "in", constants.ActionAllowed, testNow.Add(time.Duration(i)*time.Second))
	}
	appendAt(t, repo, "before", constants.ActionAllowed, testNow.Add(-time.Second))
	appendAt(t, repo, "after", constants.ActionAllowed, testNow.Add(time.Hour))

	var batches, total int
	err := repo.ForEachInRange(ctx, testNow, testNow.Add(time.Hour), func(batch []models.RateLimitLogEntry) error {
		batches++
		for _, e := range batch {
			assert.Equal(t, "in", e.Identifier)
		}
		total += len(batch)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.Equal(t, logBatchSize+20, total)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetryable(&pgconn.PgError{Code: "40P01"}))
	assert.False(t, isRetryable(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.False(t, isRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isRetryable(context.Canceled))
}
