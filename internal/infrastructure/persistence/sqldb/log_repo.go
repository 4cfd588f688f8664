package sqldb

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/logger"
)

const logBatchSize = 500

// LogRepository implements repository.LogRepository on the rate_limit_logs table.
type LogRepository struct {
	db     *gorm.DB
	logger logger.Logger
}

// NewLogRepository creates a gorm-backed audit log repository.
func NewLogRepository(db *gorm.DB, log logger.Logger) *LogRepository {
	return &LogRepository{db: db, logger: log.WithComponent("log_repository")}
}

var _ repository.LogRepository = (*LogRepository)(nil)

func (r *LogRepository) Append(ctx context.Context, entry *models.RateLimitLogEntry) error {
	entry.CreatedAt = entry.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *LogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.RateLimitLogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete audit entries before %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}

// TrimToMax keeps the newest max entries, ordered by (created_at, id).
func (r *LogRepository) TrimToMax(ctx context.Context, max int64) (int64, error) {
	if max < 0 {
		return 0, fmt.Errorf("trim audit log: negative max %d", max)
	}

	// The first entry past the newest max is the newest one to delete.
	var pivot []models.RateLimitLogEntry
	err := r.db.WithContext(ctx).
		Select("id", "created_at").
		Order("created_at desc, id desc").
		Offset(int(max)).
		Limit(1).
		Find(&pivot).Error
	if err != nil {
		return 0, fmt.Errorf("find trim pivot: %w", err)
	}
	if len(pivot) == 0 {
		return 0, nil
	}

	p := pivot[0]
	res := r.db.WithContext(ctx).
		Where("created_at < ? OR (created_at = ? AND id <= ?)", p.CreatedAt, p.CreatedAt, p.ID).
		Delete(&models.RateLimitLogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("trim audit log: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (r *LogRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.RateLimitLogEntry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// ForEachInRange streams entries in primary key order so large ranges never load at once.
func (r *LogRepository) ForEachInRange(ctx context.Context, from, to time.Time, fn func(batch []models.RateLimitLogEntry) error) error {
	var batch []models.RateLimitLogEntry
	res := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		FindInBatches(&batch, logBatchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		})
	if res.Error != nil {
		return fmt.Errorf("scan audit entries: %w", res.Error)
	}
	return nil
}
