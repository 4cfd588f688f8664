package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

// MockCounterRepository is a mock implementation of repository.CounterRepository
type MockCounterRepository struct {
	mock.Mock
}

func (m *MockCounterRepository) Increment(ctx context.Context, key models.CounterKey, window models.Window, now time.Time) (int64, error) {
	args := m.Called(ctx, key, window, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterRepository) Peek(ctx context.Context, key models.CounterKey, window models.Window) (int64, error) {
	args := m.Called(ctx, key, window)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterRepository) SumSince(ctx context.Context, key models.CounterKey, since, now time.Time) (int64, error) {
	args := m.Called(ctx, key, since, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCounterRepository) LastAttempt(ctx context.Context, dim constants.Dimension, identifier, scope string) (time.Time, bool, error) {
	args := m.Called(ctx, dim, identifier, scope)
	return args.Get(0).(time.Time), args.Bool(1), args.Error(2)
}

func (m *MockCounterRepository) MarkBlocked(ctx context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, now time.Time) (*models.BlockState, error) {
	args := m.Called(ctx, dim, identifier, scope, until, reason, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockState), args.Error(1)
}

func (m *MockCounterRepository) ActiveBlock(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error) {
	args := m.Called(ctx, dim, identifier, scope, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BlockState), args.Error(1)
}

func (m *MockCounterRepository) ClearBlock(ctx context.Context, dim constants.Dimension, identifier, scope string) (bool, error) {
	args := m.Called(ctx, dim, identifier, scope)
	return args.Bool(0), args.Error(1)
}

func (m *MockCounterRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}
