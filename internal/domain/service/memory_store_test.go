package service_test

import (
	"context"
	"sync"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

type counterID struct {
	key   models.CounterKey
	start time.Time
}

type blockID struct {
	dim        constants.Dimension
	identifier string
	scope      string
}

// memoryStore is an in-memory CounterRepository used to exercise the engine.
type memoryStore struct {
	mu       sync.Mutex
	counters map[counterID]*models.RateLimitCounter
	blocks   map[blockID]*models.BlockState
	err      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		counters: make(map[counterID]*models.RateLimitCounter),
		blocks:   make(map[blockID]*models.BlockState),
	}
}

func (s *memoryStore) Increment(_ context.Context, key models.CounterKey, window models.Window, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	id := counterID{key: key, start: window.Start}
	row, ok := s.counters[id]
	if !ok {
		row = &models.RateLimitCounter{
			Dimension:         key.Dimension,
			Identifier:        key.Identifier,
			Scope:             key.Scope,
			WindowGranularity: key.Granularity,
			WindowStart:       window.Start,
			WindowEnd:         window.End,
		}
		s.counters[id] = row
	}
	row.Count++
	row.LastAttemptAt = now
	return row.Count, nil
}

func (s *memoryStore) Peek(_ context.Context, key models.CounterKey, window models.Window) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if row, ok := s.counters[counterID{key: key, start: window.Start}]; ok {
		return row.Count, nil
	}
	return 0, nil
}

func (s *memoryStore) SumSince(_ context.Context, key models.CounterKey, since, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	var sum int64
	for id, row := range s.counters {
		if id.key == key && !id.start.Before(since) {
			sum += row.Count
		}
	}
	return sum, nil
}

func (s *memoryStore) LastAttempt(_ context.Context, dim constants.Dimension, identifier, scope string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return time.Time{}, false, s.err
	}
	var last time.Time
	found := false
	for id, row := range s.counters {
		if id.key.Dimension == dim && id.key.Identifier == identifier && id.key.Scope == scope {
			if !found || row.LastAttemptAt.After(last) {
				last, found = row.LastAttemptAt, true
			}
		}
	}
	return last, found, nil
}

func (s *memoryStore) MarkBlocked(_ context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, _ time.Time) (*models.BlockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	id := blockID{dim, identifier, scope}
	b, ok := s.blocks[id]
	if !ok {
		b = &models.BlockState{Dimension: dim, Identifier: identifier, Scope: scope}
		s.blocks[id] = b
	}
	b.Until, b.Reason = until, reason
	b.Times++
	out := *b
	return &out, nil
}

func (s *memoryStore) ActiveBlock(_ context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	b, ok := s.blocks[blockID{dim, identifier, scope}]
	if !ok || !b.Active(now) {
		return nil, nil
	}
	out := *b
	return &out, nil
}

func (s *memoryStore) ClearBlock(_ context.Context, dim constants.Dimension, identifier, scope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := blockID{dim, identifier, scope}
	_, ok := s.blocks[id]
	delete(s.blocks, id)
	return ok, s.err
}

func (s *memoryStore) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, row := range s.counters {
		if row.WindowEnd.Before(before) {
			delete(s.counters, id)
			n++
		}
	}
	for id, b := range s.blocks {
		if b.Until.Before(before) {
			delete(s.blocks, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
