package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

// Maintenance job names, used in logs and metrics.
const (
	JobPurgeCounters = "purge_counters"
	JobExpireLogs    = "expire_logs"
	JobTrimLogs      = "trim_logs"
)

// CleanupMetrics receives maintenance job outcomes.
type CleanupMetrics interface {
	RecordCleanup(job string, deleted int64, err error)
}

type noopCleanupMetrics struct{}

func (noopCleanupMetrics) RecordCleanup(string, int64, error) {}

// RetentionPolicy bounds how much history is kept.
type RetentionPolicy struct {
	// CounterGrace keeps counters for a while after their window ended.
	CounterGrace  time.Duration
	RetentionDays int
	MaxLogs       int64
}

// MaintenanceService purges expired counters and enforces audit retention. Every
// job is a single short delete and safe to repeat.
type MaintenanceService struct {
	counters  repository.CounterRepository
	logs      repository.LogRepository
	retention RetentionPolicy
	metrics   CleanupMetrics
	logger    logger.Logger
}

func NewMaintenanceService(counters repository.CounterRepository, logs repository.LogRepository, retention RetentionPolicy, metrics CleanupMetrics, log logger.Logger) *MaintenanceService {
	if metrics == nil {
		metrics = noopCleanupMetrics{}
	}
	return &MaintenanceService{
		counters:  counters,
		logs:      logs,
		retention: retention,
		metrics:   metrics,
		logger:    log.WithComponent("maintenance"),
	}
}

// PurgeCounters removes counters whose window ended before the cutoff.
func (s *MaintenanceService) PurgeCounters(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.counters.PurgeExpired(ctx, before.UTC())
	s.metrics.RecordCleanup(JobPurgeCounters, n, err)
	if err != nil {
		return 0, fmt.Errorf("purge counters: %w", err)
	}
	return n, nil
}

// PurgeExpired purges counters that left the grace period at now.
func (s *MaintenanceService) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.PurgeCounters(ctx, now.Add(-s.retention.CounterGrace))
}

// EnforceRetention deletes audit entries older than the retention period, then
// trims the oldest until at most MaxLogs remain.
func (s *MaintenanceService) EnforceRetention(ctx context.Context, now time.Time) (expired, trimmed int64, err error) {
	if s.retention.RetentionDays <= 0 || s.retention.MaxLogs <= 0 {
		return 0, 0, errors.ErrInvalidRequest("retention days and max logs must be positive")
	}

	cutoff := now.UTC().AddDate(0, 0, -s.retention.RetentionDays)
	expired, err = s.logs.DeleteOlderThan(ctx, cutoff)
	s.metrics.RecordCleanup(JobExpireLogs, expired, err)
	if err != nil {
		return 0, 0, fmt.Errorf("expire audit log: %w", err)
	}

	trimmed, err = s.logs.TrimToMax(ctx, s.retention.MaxLogs)
	s.metrics.RecordCleanup(JobTrimLogs, trimmed, err)
	if err != nil {
		return expired, 0, fmt.Errorf("trim audit log: %w", err)
	}
	return expired, trimmed, nil
}

// RunAll runs every job. A failing job does not stop the others.
func (s *MaintenanceService) RunAll(ctx context.Context, now time.Time) (*dto.MaintenanceReport, error) {
	report := &dto.MaintenanceReport{RanAt: now.UTC()}

	purged, purgeErr := s.PurgeExpired(ctx, now)
	report.CountersPurged = purged

	expired, trimmed, retentionErr := s.EnforceRetention(ctx, now)
	report.LogsExpired = expired
	report.LogsTrimmed = trimmed

	if err := stderrors.Join(purgeErr, retentionErr); err != nil {
		s.logger.Error(ctx, "Maintenance run failed", err)
		return report, err
	}
	s.logger.Info(ctx, "Maintenance run completed",
		logger.Int64("counters_purged", purged),
		logger.Int64("logs_expired", expired),
		logger.Int64("logs_trimmed", trimmed),
	)
	return report, nil
}
