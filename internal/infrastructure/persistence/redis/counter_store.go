package redis

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

// maxSumWindows bounds how many past windows SumSince will visit.
const maxSumWindows = models.MaxEscalationWindowHours * 60

// Windower maps instants to counting windows.
type Windower interface {
	WindowFor(now time.Time, g constants.Granularity) models.Window
}

// incrementScript bumps a window counter, extends its expiry and records the latest
// attempt time for the identity, all in one atomic step.
//
// KEYS[1] counter, KEYS[2] last attempt
// ARGV[1] ttl ms, ARGV[2] attempt unix ms
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[1])
if redis.call('PTTL', KEYS[1]) < ttl then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
local at = tonumber(ARGV[2])
local prev = tonumber(redis.call('GET', KEYS[2]) or '0')
if at > prev then
  redis.call('SET', KEYS[2], ARGV[2])
end
if redis.call('PTTL', KEYS[2]) < ttl then
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return n
`)

// blockScript sets a block and returns how many times the identity was blocked.
//
// KEYS[1] block hash
// ARGV[1] until unix ms, ARGV[2] reason, ARGV[3] ttl ms
var blockScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'until', ARGV[1], 'reason', ARGV[2])
local times = redis.call('HINCRBY', KEYS[1], 'times', 1)
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[3]))
return times
`)

// CounterStore implements repository.CounterRepository on Redis. Keys expire on their
// own, so PurgeExpired has nothing to do.
type CounterStore struct {
	client redis.UniversalClient
	clock  Windower
	grace  time.Duration
	logger logger.Logger
}

// NewCounterStore creates a Redis counter store. Counters live for grace past the end
// of their window.
func NewCounterStore(conn *Connection, clock Windower, grace time.Duration, log logger.Logger) *CounterStore {
	return &CounterStore{
		client: conn.Client(),
		clock:  clock,
		grace:  grace,
		logger: log.WithComponent("redis_counter_store"),
	}
}

var _ repository.CounterRepository = (*CounterStore)(nil)

func identityTag(dim constants.Dimension, identifier, scope string) string {
	// The hash tag keeps every key of one identity in the same cluster slot.
	return fmt.Sprintf("%s:{%s:%s:%s}", constants.RedisKeyPrefix, dim, url.QueryEscape(identifier), url.QueryEscape(scope))
}

func counterKey(key models.CounterKey, windowStart time.Time) string {
	return fmt.Sprintf("%s:ctr:%s:%d", identityTag(key.Dimension, key.Identifier, key.Scope), key.Granularity, windowStart.Unix())
}

func lastAttemptKey(dim constants.Dimension, identifier, scope string) string {
	return identityTag(dim, identifier, scope) + ":last"
}

func blockKey(dim constants.Dimension, identifier, scope string) string {
	return identityTag(dim, identifier, scope) + ":block"
}

func (s *CounterStore) Increment(ctx context.Context, key models.CounterKey, window models.Window, now time.Time) (int64, error) {
	ttl := window.End.Sub(now) + s.grace
	if ttl < time.Second {
		ttl = time.Second
	}
	n, err := incrementScript.Run(ctx, s.client,
		[]string{counterKey(key, window.Start), lastAttemptKey(key.Dimension, key.Identifier, key.Scope)},
		ttl.Milliseconds(), now.UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	return n, nil
}

func (s *CounterStore) Peek(ctx context.Context, key models.CounterKey, window models.Window) (int64, error) {
	n, err := s.client.Get(ctx, counterKey(key, window.Start)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("peek %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	return n, nil
}

// SumSince walks back window by window from now and adds up the counters that
// start at or after since.
func (s *CounterStore) SumSince(ctx context.Context, key models.CounterKey, since, now time.Time) (int64, error) {
	var keys []string
	w := s.clock.WindowFor(now, key.Granularity)
	for i := 0; i < maxSumWindows && !w.Start.Before(since); i++ {
		keys = append(keys, counterKey(key, w.Start))
		w = s.clock.WindowFor(w.Start.Add(-time.Nanosecond), key.Granularity)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("sum %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	var sum int64
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sum %s/%s: bad counter value %q", key.Dimension, key.Granularity, str)
		}
		sum += n
	}
	return sum, nil
}

func (s *CounterStore) LastAttempt(ctx context.Context, dim constants.Dimension, identifier, scope string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, lastAttemptKey(dim, identifier, scope)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last attempt %s: %w", dim, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (s *CounterStore) MarkBlocked(ctx context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, now time.Time) (*models.BlockState, error) {
	ttl := until.Sub(now)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	times, err := blockScript.Run(ctx, s.client,
		[]string{blockKey(dim, identifier, scope)},
		until.UnixMilli(), reason, ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("mark blocked %s: %w", dim, err)
	}
	return &models.BlockState{
		Dimension:  dim,
		Identifier: identifier,
		Scope:      scope,
		Until:      time.UnixMilli(until.UnixMilli()).UTC(),
		Reason:     reason,
		Times:      times,
	}, nil
}

func (s *CounterStore) ActiveBlock(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error) {
	fields, err := s.client.HGetAll(ctx, blockKey(dim, identifier, scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("active block %s: %w", dim, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	untilMs, err := strconv.ParseInt(fields["until"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("active block %s: bad until %q", dim, fields["until"])
	}
	times, _ := strconv.ParseInt(fields["times"], 10, 64)

	block := &models.BlockState{
		Dimension:  dim,
		Identifier: identifier,
		Scope:      scope,
		Until:      time.UnixMilli(untilMs).UTC(),
		Reason:     fields["reason"],
		Times:      times,
	}
	if !block.Active(now) {
		return nil, nil
	}
	return block, nil
}

func (s *CounterStore) ClearBlock(ctx context.Context, dim constants.Dimension, identifier, scope string) (bool, error) {
	n, err := s.client.Del(ctx, blockKey(dim, identifier, scope)).Result()
	if err != nil {
		return false, fmt.Errorf("clear block %s: %w", dim, err)
	}
	return n > 0, nil
}

func (s *CounterStore) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
