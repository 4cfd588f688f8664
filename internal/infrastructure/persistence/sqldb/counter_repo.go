package sqldb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

// blockGranularity marks the per-identifier row that carries block state. It is never
// returned by WindowClock, so it cannot collide with a counting window.
const blockGranularity constants.Granularity = "block"

// blockWindowStart is the fixed window start of every block row.
var blockWindowStart = time.Unix(0, 0).UTC()

var counterKeyColumns = []clause.Column{
	{Name: "dimension"},
	{Name: "identifier"},
	{Name: "scope"},
	{Name: "window_granularity"},
	{Name: "window_start"},
}

// CounterRepository implements repository.CounterRepository on the rate_limit_counters table.
type CounterRepository struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewCounterRepository creates a gorm-backed counter repository.
func NewCounterRepository(db *gorm.DB, log logger.Logger) *CounterRepository {
	return &CounterRepository{db: db, logger: log.WithComponent("counter_repository")}
}

var _ repository.CounterRepository = (*CounterRepository)(nil)

// Increment upserts the counter and reads back the count in the same transaction.
// Concurrent callers for one key serialize on the unique index, so no increment is lost.
func (r *CounterRepository) Increment(ctx context.Context, key models.CounterKey, window models.Window, now time.Time) (int64, error) {
	now = now.UTC()
	var count int64
	err := inTransaction(ctx, r.db, r.logger, "increment", func(tx *gorm.DB) error {
		row := models.RateLimitCounter{
			Dimension:         key.Dimension,
			Identifier:        key.Identifier,
			Scope:             key.Scope,
			WindowGranularity: key.Granularity,
			WindowStart:       window.Start.UTC(),
			WindowEnd:         window.End.UTC(),
			Count:             1,
			LastAttemptAt:     now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: counterKeyColumns,
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":           gorm.Expr("rate_limit_counters.count + 1"),
				"last_attempt_at": now,
				"updated_at":      now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}

		var stored models.RateLimitCounter
		if err := r.keyed(tx, key, window.Start).Select("count").Take(&stored).Error; err != nil {
			return err
		}
		count = stored.Count
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	return count, nil
}

// Peek returns the window's count without creating the row.
func (r *CounterRepository) Peek(ctx context.Context, key models.CounterKey, window models.Window) (int64, error) {
	var rows []models.RateLimitCounter
	err := r.keyed(r.db.WithContext(ctx), key, window.Start).Select("count").Limit(1).Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("peek %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Count, nil
}

// SumSince adds up every window of the key that starts at or after since.
func (r *CounterRepository) SumSince(ctx context.Context, key models.CounterKey, since, _ time.Time) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).Model(&models.RateLimitCounter{}).
		Where("dimension = ? AND identifier = ? AND scope = ? AND window_granularity = ?",
			key.Dimension, key.Identifier, key.Scope, key.Granularity).
		Where("window_start >= ?", since.UTC()).
		Select("COALESCE(SUM(count), 0)").
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum %s/%s: %w", key.Dimension, key.Granularity, err)
	}
	return sum, nil
}

// LastAttempt returns the latest increment time over all counting windows.
func (r *CounterRepository) LastAttempt(ctx context.Context, dim constants.Dimension, identifier, scope string) (time.Time, bool, error) {
	var rows []models.RateLimitCounter
	err := r.db.WithContext(ctx).
		Where("dimension = ? AND identifier = ? AND scope = ? AND window_granularity <> ?",
			dim, identifier, scope, blockGranularity).
		Order("last_attempt_at desc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last attempt %s: %w", dim, err)
	}
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].LastAttemptAt.UTC(), true, nil
}

// MarkBlocked sets the block row of the identifier, creating it on first block.
func (r *CounterRepository) MarkBlocked(ctx context.Context, dim constants.Dimension, identifier, scope string, until time.Time, reason string, now time.Time) (*models.BlockState, error) {
	now, until = now.UTC(), until.UTC()
	var stored models.RateLimitCounter
	err := inTransaction(ctx, r.db, r.logger, "mark_blocked", func(tx *gorm.DB) error {
		row := models.RateLimitCounter{
			Dimension:         dim,
			Identifier:        identifier,
			Scope:             scope,
			WindowGranularity: blockGranularity,
			WindowStart:       blockWindowStart,
			WindowEnd:         until,
			Count:             1,
			LastAttemptAt:     now,
			IsBlocked:         true,
			BlockedUntil:      &until,
			BlockedReason:     &reason,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: counterKeyColumns,
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":          gorm.Expr("rate_limit_counters.count + 1"),
				"window_end":     until,
				"is_blocked":     true,
				"blocked_until":  until,
				"blocked_reason": reason,
				"updated_at":     now,
			}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return r.blockRow(tx, dim, identifier, scope).Take(&stored).Error
	})
	if err != nil {
		return nil, fmt.Errorf("mark blocked %s: %w", dim, err)
	}
	return toBlockState(&stored), nil
}

// ActiveBlock returns the identifier's block when it is still in force at now.
func (r *CounterRepository) ActiveBlock(ctx context.Context, dim constants.Dimension, identifier, scope string, now time.Time) (*models.BlockState, error) {
	var rows []models.RateLimitCounter
	err := r.blockRow(r.db.WithContext(ctx), dim, identifier, scope).
		Where("is_blocked = ? AND blocked_until > ?", true, now.UTC()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("active block %s: %w", dim, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return toBlockState(&rows[0]), nil
}

// ClearBlock deletes the identifier's block row.
func (r *CounterRepository) ClearBlock(ctx context.Context, dim constants.Dimension, identifier, scope string) (bool, error) {
	res := r.blockRow(r.db.WithContext(ctx), dim, identifier, scope).Delete(&models.RateLimitCounter{})
	if res.Error != nil {
		return false, fmt.Errorf("clear block %s: %w", dim, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// PurgeExpired deletes counters and block rows whose window ended before the cutoff.
func (r *CounterRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("window_end < ?", before.UTC()).
		Delete(&models.RateLimitCounter{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge expired counters: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		r.logger.Info(ctx, "Purged expired counters", logger.Int64("deleted", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (r *CounterRepository) keyed(tx *gorm.DB, key models.CounterKey, windowStart time.Time) *gorm.DB {
	return tx.Model(&models.RateLimitCounter{}).
		Where("dimension = ? AND identifier = ? AND scope = ? AND window_granularity = ? AND window_start = ?",
			key.Dimension, key.Identifier, key.Scope, key.Granularity, windowStart.UTC())
}

func (r *CounterRepository) blockRow(tx *gorm.DB, dim constants.Dimension, identifier, scope string) *gorm.DB {
	return tx.Model(&models.RateLimitCounter{}).
		Where("dimension = ? AND identifier = ? AND scope = ? AND window_granularity = ?",
			dim, identifier, scope, blockGranularity)
}

func toBlockState(row *models.RateLimitCounter) *models.BlockState {
	b := &models.BlockState{
		Dimension:  row.Dimension,
		Identifier: row.Identifier,
		Scope:      row.Scope,
		Until:      row.WindowEnd.UTC(),
		Times:      row.Count,
	}
	if row.BlockedUntil != nil {
		b.Until = row.BlockedUntil.UTC()
	}
	if row.BlockedReason != nil {
		b.Reason = *row.BlockedReason
	}
	return b
}
