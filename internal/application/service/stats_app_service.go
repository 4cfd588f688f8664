package service

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/internal/domain/models"
	domainService "github.com/turtacn/certguard/internal/domain/service"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
	"github.com/turtacn/certguard/pkg/utils"
)

// maxStatsRange keeps a single report from scanning more than about two years.
const maxStatsRange = 2 * 366 * 24 * time.Hour

// StatsService serves audit reports, reusing recent results for identical queries.
type StatsService struct {
	aggregator *domainService.StatsAggregator
	cache      *cache.Cache
	logger     logger.Logger
}

// NewStatsService creates a StatsService. A ttl of zero disables caching.
func NewStatsService(aggregator *domainService.StatsAggregator, ttl time.Duration, log logger.Logger) *StatsService {
	s := &StatsService{aggregator: aggregator, logger: log.WithComponent("stats_service")}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

// Report returns the stats for [From, To).
func (s *StatsService) Report(ctx context.Context, q *dto.StatsQuery) (*dto.StatsResponse, error) {
	if err := utils.ValidateStruct(q); err != nil {
		return nil, err
	}
	if q.From.IsZero() || q.To.IsZero() {
		return nil, errors.ErrInvalidRequest("from and to are required")
	}
	from, to := q.From.UTC(), q.To.UTC()
	if !from.Before(to) {
		return nil, errors.ErrInvalidRequest("from must be before to")
	}
	if to.Sub(from) > maxStatsRange {
		return nil, errors.ErrInvalidRequest("stats range is limited to two years")
	}
	top := q.Top
	if top == 0 {
		top = constants.DefaultTopOffenders
	}

	key := fmt.Sprintf("%d:%d:%d", from.UnixNano(), to.UnixNano(), top)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			return &dto.StatsResponse{StatsReport: cached.(*models.StatsReport), Cached: true}, nil
		}
	}

	report, err := s.aggregator.Aggregate(ctx, from, to, top)
	if err != nil {
		s.logger.Error(ctx, "Failed to aggregate stats", err,
			logger.Time("from", from),
			logger.Time("to", to),
		)
		return nil, errors.ErrServerError("failed to aggregate stats").WithCause(err)
	}
	if s.cache != nil {
		s.cache.SetDefault(key, report)
	}
	return &dto.StatsResponse{StatsReport: report}, nil
}
