package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/certguard/internal/domain/models"
	repomocks "github.com/turtacn/certguard/internal/domain/repository/mocks"
	"github.com/turtacn/certguard/internal/domain/service"
	"github.com/turtacn/certguard/pkg/constants"
)

func entry(dim constants.Dimension, id string, action constants.Action, at time.Time) models.RateLimitLogEntry {
	return models.RateLimitLogEntry{Dimension: dim, Identifier: id, Action: action, CreatedAt: at}
}

func TestStatsAggregator_Aggregate(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)
	day1 := time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	batches := [][]models.RateLimitLogEntry{
		{
			entry(constants.DimensionIP, "1.1.1.1", constants.ActionBlocked, day1),
			entry(constants.DimensionIP, "1.1.1.1", constants.ActionBlocked, day2),
			entry(constants.DimensionIP, "2.2.2.2", constants.ActionAllowed, day1),
		},
		{
			entry(constants.DimensionEmail, "x@y.z", constants.ActionBlocked, day1),
			entry(constants.DimensionEmail, "q@y.z", constants.ActionBlocked, day2),
			entry(constants.DimensionEmail, "x@y.z", constants.ActionBlacklisted, day2),
			entry(constants.DimensionTaxID, "123", constants.ActionWhitelisted, day2),
		},
	}
	logs := new(repomocks.MockLogRepository)
	logs.On("ForEachInRange", ctx, from, to, mock.Anything).Return(batches, nil)

	agg := service.NewStatsAggregator(logs, service.NewWindowClock(time.UTC, time.Monday))
	report, err := agg.Aggregate(ctx, from, to, 2)
	require.NoError(t, err)

	assert.Equal(t, int64(7), report.Totals.Total)
	assert.Equal(t, int64(4), report.Totals.Blocked)
	assert.Equal(t, int64(1), report.Totals.Blacklisted)
	assert.Equal(t, int64(5), report.Totals.Denied())

	require.Len(t, report.Daily, 2)
	assert.Equal(t, "2024-01-31", report.Daily[0].Period)
	assert.Equal(t, int64(3), report.Daily[0].Total)
	assert.Equal(t, "2024-02-01", report.Daily[1].Period)
	assert.Equal(t, int64(4), report.Daily[1].Total)

	require.Len(t, report.Monthly, 2)
	assert.Equal(t, "2024-01", report.Monthly[0].Period)
	assert.Equal(t, "2024-02", report.Monthly[1].Period)

	require.Len(t, report.ByDimension, 3)
	assert.Equal(t, constants.DimensionIP, report.ByDimension[0].Dimension)
	assert.Equal(t, int64(3), report.ByDimension[0].Total)

	// 1.1.1.1 has two blocks; q@y.z and x@y.z tie on one, the more recent wins.
	require.Len(t, report.TopOffenders, 2)
	assert.Equal(t, "1.1.1.1", report.TopOffenders[0].Identifier)
	assert.Equal(t, int64(2), report.TopOffenders[0].BlockedCount)
	assert.Equal(t, day2, report.TopOffenders[0].LastSeenAt)
	assert.Equal(t, "q@y.z", report.TopOffenders[1].Identifier)
}

func TestStatsAggregator_DayBucketsFollowReferenceZone(t *testing.T) {
	ctx := context.Background()
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(48 * time.Hour)
	loc, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	logs := new(repomocks.MockLogRepository)
	logs.On("ForEachInRange", ctx, from, to, mock.Anything).Return([][]models.RateLimitLogEntry{{
		entry(constants.DimensionIP, "1.1.1.1", constants.ActionAllowed, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)),
	}}, nil)

	report, err := service.NewStatsAggregator(logs, service.NewWindowClock(loc, time.Monday)).Aggregate(ctx, from, to, 10)
	require.NoError(t, err)
	require.Len(t, report.Daily, 1)
	assert.Equal(t, "2024-03-01", report.Daily[0].Period)
}

func TestStatsAggregator_EmptyRange(t *testing.T) {
	logs := new(repomocks.MockLogRepository)
	agg := service.NewStatsAggregator(logs, service.NewWindowClock(time.UTC, time.Monday))
	now := time.Now()

	_, err := agg.Aggregate(context.Background(), now, now, 10)
	assert.Error(t, err)
}
