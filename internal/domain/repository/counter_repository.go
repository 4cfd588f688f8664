package repository

import (
	"context"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

//go:generate mockery --name CounterRepository --output ../repository/mocks --filename counter_repository.go

// CounterRepository is the persisted window counter store. Implementations must make
// Increment lossless under concurrent callers for the same key.
type CounterRepository interface {
	// Increment atomically inserts the counter with count 1 or adds one to it, and
	// returns the count after this increment.
	Increment(ctx context.Context, key models.CounterKey, window models.Window, now time.Time) (int64, error)

	// Peek returns the count of the counter for the window, or 0. It never creates rows.
	Peek(ctx context.Context, key models.CounterKey, window models.Window) (int64, error)

	// SumSince adds up the counts of the key's windows that start at or after since.
	SumSince(ctx context.Context, key models.CounterKey, since, now time.Time) (int64, error)

	// LastAttempt returns the most recent increment time across all windows of an identifier.
	LastAttempt(ctx context.Context, dim constants.Dimension, identifier, scope string) (time.Time, bool, error)

	// MarkBlocked attaches a block to the identifier until the given time.
	MarkBlocked(ctx context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, now time.Time) (*models.BlockState, error)

	// ActiveBlock returns the identifier's block if one is in force at now, or nil.
	ActiveBlock(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error)

	// ClearBlock removes the identifier's block. It reports whether one existed.
	ClearBlock(ctx context.Context, dim constants.Dimension, identifier, scope string) (bool, error)

	// PurgeExpired deletes counters whose window ended before the cutoff, including
	// blocks that expired before it, and returns how many were removed.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}
