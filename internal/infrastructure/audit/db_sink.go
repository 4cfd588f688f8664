package audit

import (
	"context"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
)

// DBSink appends entries to the audit table.
type DBSink struct {
	logs repository.LogRepository
}

func NewDBSink(logs repository.LogRepository) *DBSink {
	return &DBSink{logs: logs}
}

func (s *DBSink) Name() string { return "database" }

func (s *DBSink) Write(ctx context.Context, entry *models.RateLimitLogEntry) error {
	// The repository assigns the ID, so each attempt writes a fresh copy.
	row := *entry
	row.ID = 0
	return s.logs.Append(ctx, &row)
}
