package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/service"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

var (
	testNow = time.Date(2024, 6, 1, 10, 15, 0, 0, time.UTC)
	ipKey   = models.CounterKey{Dimension: constants.DimensionIP, Identifier: "2001:db8::1", Scope: "cert:issue", Granularity: constants.GranularityHour}
)

func newTestStore(t *testing.T) (*CounterStore, *miniredis.Miniredis, *service.WindowClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := service.NewWindowClock(time.UTC, time.Monday)
	conn := NewConnectionFromClient(client, logger.NewNoopLogger())
	return NewCounterStore(conn, clock, time.Minute, logger.NewNoopLogger()), mr, clock
}

func TestCounterStore_IncrementPeekAndExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newTestStore(t)
	window := clock.WindowFor(testNow, constants.GranularityHour)

	count, err := store.Peek(ctx, ipKey, window)
	require.NoError(t, err)
	assert.Zero(t, count)

	for want := int64(1); want <= 3; want++ {
		got, err := store.Increment(ctx, ipKey, window, testNow)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	count, err = store.Peek(ctx, ipKey, window)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// 45 minutes left in the window plus one minute of grace.
	assert.Equal(t, 46*time.Minute, mr.TTL(counterKey(ipKey, window.Start)))

	mr.FastForward(47 * time.Minute)
	count, err = store.Peek(ctx, ipKey, window)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCounterStore_ConcurrentIncrementsAreLossless(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)
	window := clock.WindowFor(testNow, constants.GranularityMinute)
	key := ipKey
	key.Granularity = constants.GranularityMinute

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, key, window, testNow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	count, err := store.Peek(ctx, key, window)
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
}

func TestCounterStore_SumSinceAndLastAttempt(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)

	for _, at := range []time.Time{testNow.Add(-3 * time.Hour), testNow.Add(-time.Hour), testNow, testNow.Add(time.Second)} {
		_, err := store.Increment(ctx, ipKey, clock.WindowFor(at, constants.GranularityHour), at)
		require.NoError(t, err)
	}

	// The 09:00 window starts before 09:15 and is left out.
	sum, err := store.SumSince(ctx, ipKey, testNow.Add(-time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	sum, err = store.SumSince(ctx, ipKey, testNow.Add(-5*time.Hour), testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(4), sum)

	// An older attempt must not move the last attempt back.
	_, err = store.Increment(ctx, ipKey, clock.WindowFor(testNow, constants.GranularityHour), testNow.Add(-time.Minute))
	require.NoError(t, err)

	last, ok, err := store.LastAttempt(ctx, ipKey.Dimension, ipKey.Identifier, ipKey.Scope)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testNow.Add(time.Second), last)

	_, ok, err = store.LastAttempt(ctx, ipKey.Dimension, ipKey.Identifier, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCounterStore_SumSinceOverMinuteWindows(t *testing.T) {
	ctx := context.Background()
	store, _, clock := newTestStore(t)
	key := models.CounterKey{Dimension: constants.DimensionTaxID, Identifier: "12345678909", Granularity: constants.GranularityMinute}
	early := time.Date(2024, 6, 1, 10, 5, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 11, 50, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.Increment(ctx, key, clock.WindowFor(early, constants.GranularityMinute), early)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.Increment(ctx, key, clock.WindowFor(late, constants.GranularityMinute), late)
		require.NoError(t, err)
	}

	sum, err := store.SumSince(ctx, key, late.Add(-time.Hour), late)
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum)

	sum, err = store.SumSince(ctx, key, late.Add(-2*time.Hour), late)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum)
}

func TestCounterStore_Blocks(t *testing.T) {
	ctx := context.Background()
	store, mr, _ := newTestStore(t)
	until := testNow.Add(time.Hour)

	block, err := store.MarkBlocked(ctx, constants.DimensionTaxID, "123", "", until, constants.BlockReasonThresholdExceeded, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Times)

	block, err = store.MarkBlocked(ctx, constants.DimensionTaxID, "123", "", until, constants.BlockReasonThresholdExceeded, testNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), block.Times)

	active, err := store.ActiveBlock(ctx, constants.DimensionTaxID, "123", "", testNow.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, until, active.Until)
	assert.Equal(t, constants.BlockReasonThresholdExceeded, active.Reason)

	expired, err := store.ActiveBlock(ctx, constants.DimensionTaxID, "123", "", until)
	require.NoError(t, err)
	assert.Nil(t, expired)

	assert.Equal(t, time.Hour, mr.TTL(blockKey(constants.DimensionTaxID, "123", "")))

	cleared, err := store.ClearBlock(ctx, constants.DimensionTaxID, "123", "")
	require.NoError(t, err)
	assert.True(t, cleared)

	active, err = store.ActiveBlock(ctx, constants.DimensionTaxID, "123", "", testNow)
	require.NoError(t, err)
	assert.Nil(t, active)

	purged, err := store.PurgeExpired(ctx, testNow)
	require.NoError(t, err)
	assert.Zero(t, purged)
}

func TestCounterStore_StoreDown(t *testing.T) {
	ctx := context.Background()
	store, mr, clock := newTestStore(t)
	mr.Close()

	_, err := store.Peek(ctx, ipKey, clock.WindowFor(testNow, constants.GranularityHour))
	assert.Error(t, err)
}

func TestKeysEscapeIdentifiers(t *testing.T) {
	key := counterKey(ipKey, time.Unix(3600, 0))
	assert.Equal(t, "certguard:{ip:2001%3Adb8%3A%3A1:cert%3Aissue}:ctr:hour:3600", key)
}
