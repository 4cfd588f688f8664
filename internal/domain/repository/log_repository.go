package repository

import (
	"context"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
)

//go:generate mockery --name LogRepository --output ../repository/mocks --filename log_repository.go

// LogRepository persists the append-only decision audit trail.
type LogRepository interface {
	// Append inserts one entry. Entries are never updated.
	Append(ctx context.Context, entry *models.RateLimitLogEntry) error

	// DeleteOlderThan removes entries created before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// TrimToMax removes the oldest entries until at most max remain.
	TrimToMax(ctx context.Context, max int64) (int64, error)

	// Count returns the number of stored entries.
	Count(ctx context.Context) (int64, error)

	// ForEachInRange streams entries with from <= created_at < to to fn in batches.
	ForEachInRange(ctx context.Context, from, to time.Time, fn func(batch []models.RateLimitLogEntry) error) error
}
