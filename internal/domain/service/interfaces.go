package service

import (
	"context"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

// AuditLogger receives one entry per decision. Append must not block the caller and
// must not fail the decision; delivery is best-effort.
type AuditLogger interface {
	Append(ctx context.Context, entry *models.RateLimitLogEntry)
}

// Metrics is the engine's view of the metrics backend.
type Metrics interface {
	RecordDecision(action constants.Action, code constants.DecisionCode, dim constants.Dimension)
	RecordStoreError(operation string)
	RecordEscalation(dim constants.Dimension)
	ObserveCheckLatency(d time.Duration)
}

type noopAudit struct{}

func (noopAudit) Append(context.Context, *models.RateLimitLogEntry) {}

type noopMetrics struct{}

func (noopMetrics) RecordDecision(constants.Action, constants.DecisionCode, constants.Dimension) {}
func (noopMetrics) RecordStoreError(string)                                                     {}
func (noopMetrics) RecordEscalation(constants.Dimension)                                         {}
func (noopMetrics) ObserveCheckLatency(time.Duration)                                            {}
