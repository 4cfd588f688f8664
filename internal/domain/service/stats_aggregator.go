package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/internal/domain/repository"
	"github.com/turtacn/certguard/pkg/constants"
)

// StatsAggregator folds audit entries into read-only reports.
type StatsAggregator struct {
	logs  repository.LogRepository
	clock *WindowClock
}

// NewStatsAggregator creates a StatsAggregator. Daily and monthly buckets use the
// clock's reference timezone.
func NewStatsAggregator(logs repository.LogRepository, clock *WindowClock) *StatsAggregator {
	return &StatsAggregator{logs: logs, clock: clock}
}

type offenderKey struct {
	dim        constants.Dimension
	identifier string
}

// Aggregate summarises entries created in [from, to). At most topN offenders are
// returned, ranked by blocked entries and then by most recent activity.
func (a *StatsAggregator) Aggregate(ctx context.Context, from, to time.Time, topN int) (*models.StatsReport, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("empty stats range %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if topN <= 0 {
		topN = constants.DefaultTopOffenders
	}

	daily := make(map[string]*models.ActionCounts)
	monthly := make(map[string]*models.ActionCounts)
	byDim := make(map[constants.Dimension]*models.ActionCounts)
	offenders := make(map[offenderKey]*models.Offender)
	report := &models.StatsReport{From: from.UTC(), To: to.UTC()}

	err := a.logs.ForEachInRange(ctx, from, to, func(batch []models.RateLimitLogEntry) error {
		for i := range batch {
			entry := &batch[i]
			report.Totals.Add(entry.Action)
			bucket(daily, a.clock.DayKey(entry.CreatedAt)).Add(entry.Action)
			bucket(monthly, a.clock.MonthKey(entry.CreatedAt)).Add(entry.Action)
			bucket(byDim, entry.Dimension).Add(entry.Action)

			if entry.Action != constants.ActionBlocked || entry.Identifier == "" {
				continue
			}
			k := offenderKey{dim: entry.Dimension, identifier: entry.Identifier}
			o, ok := offenders[k]
			if !ok {
				o = &models.Offender{Dimension: entry.Dimension, Identifier: entry.Identifier}
				offenders[k] = o
			}
			o.BlockedCount++
			if entry.CreatedAt.After(o.LastSeenAt) {
				o.LastSeenAt = entry.CreatedAt.UTC()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate audit log: %w", err)
	}

	report.Daily = periods(daily)
	report.Monthly = periods(monthly)

	report.ByDimension = make([]models.DimensionStats, 0, len(byDim))
	for _, dim := range constants.DimensionPriority {
		if c, ok := byDim[dim]; ok {
			report.ByDimension = append(report.ByDimension, models.DimensionStats{Dimension: dim, ActionCounts: *c})
		}
	}

	ranked := make([]models.Offender, 0, len(offenders))
	for _, o := range offenders {
		ranked = append(ranked, *o)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].BlockedCount != ranked[j].BlockedCount {
			return ranked[i].BlockedCount > ranked[j].BlockedCount
		}
		if !ranked[i].LastSeenAt.Equal(ranked[j].LastSeenAt) {
			return ranked[i].LastSeenAt.After(ranked[j].LastSeenAt)
		}
		return ranked[i].Identifier < ranked[j].Identifier
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	report.TopOffenders = ranked

	return report, nil
}

func bucket[K comparable](m map[K]*models.ActionCounts, k K) *models.ActionCounts {
	c, ok := m[k]
	if !ok {
		c = &models.ActionCounts{}
		m[k] = c
	}
	return c
}

func periods(m map[string]*models.ActionCounts) []models.PeriodStats {
	out := make([]models.PeriodStats, 0, len(m))
	for k, c := range m {
		out = append(out, models.PeriodStats{Period: k, ActionCounts: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}
