package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/certguard/internal/domain/models"
)

// MockLogRepository is a mock implementation of repository.LogRepository
type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) Append(ctx context.Context, entry *models.RateLimitLogEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLogRepository) TrimToMax(ctx context.Context, max int64) (int64, error) {
	args := m.Called(ctx, max)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLogRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// ForEachInRange hands the batches given to the expectation to fn.
func (m *MockLogRepository) ForEachInRange(ctx context.Context, from, to time.Time, fn func(batch []models.RateLimitLogEntry) error) error {
	args := m.Called(ctx, from, to, fn)
	if batches, ok := args.Get(0).([][]models.RateLimitLogEntry); ok {
		for _, b := range batches {
			if err := fn(b); err != nil {
				return err
			}
		}
	}
	return args.Error(1)
}
