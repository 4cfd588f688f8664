package service

import (
	"context"
	"time"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/logger"
)

// CleanupWorker runs the maintenance jobs on a fixed interval.
type CleanupWorker struct {
	maintenance *MaintenanceService
	interval    time.Duration
	now         func() time.Time
	logger      logger.Logger
}

type CleanupOption func(*CleanupWorker)

func WithCleanupInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

func WithCleanupClock(now func() time.Time) CleanupOption {
	return func(w *CleanupWorker) {
		if now != nil {
			w.now = now
		}
	}
}

func NewCleanupWorker(maintenance *MaintenanceService, log logger.Logger, opts ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		maintenance: maintenance,
		interval:    constants.DefaultCleanupInterval,
		now:         time.Now,
		logger:      log.WithComponent("cleanup_worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the jobs every interval until ctx is done.
func (w *CleanupWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info(ctx, "Cleanup worker started", logger.Duration("interval", w.interval))
	for {
		select {
		case <-ticker.C:
			started := time.Now()
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Warn(ctx, "Cleanup run finished with errors",
					logger.Err(err),
					logger.Duration("duration", time.Since(started)),
				)
			}
		case <-ctx.Done():
			w.logger.Info(ctx, "Cleanup worker stopping")
			return nil
		}
	}
}

// RunOnce executes a single pass. Logging of the outcome is done by the service.
func (w *CleanupWorker) RunOnce(ctx context.Context) (*dto.MaintenanceReport, error) {
	return w.maintenance.RunAll(ctx, w.now())
}
