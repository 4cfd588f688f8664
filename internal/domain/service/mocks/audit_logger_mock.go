package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

// MockAuditLogger is a mock implementation of service.AuditLogger
type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) Append(ctx context.Context, entry *models.RateLimitLogEntry) {
	m.Called(ctx, entry)
}

// MockMetrics is a mock implementation of service.Metrics
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordDecision(action constants.Action, code constants.DecisionCode, dim constants.Dimension) {
	m.Called(action, code, dim)
}

func (m *MockMetrics) RecordStoreError(operation string) {
	m.Called(operation)
}

func (m *MockMetrics) RecordEscalation(dim constants.Dimension) {
	m.Called(dim)
}

func (m *MockMetrics) ObserveCheckLatency(d time.Duration) {
	m.Called(d)
}
