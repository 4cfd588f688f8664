package config

import (
	"fmt"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
)

// PolicySettings is the operator-facing shape of the guard policy.
type PolicySettings struct {
	FailurePolicy string            `mapstructure:"failure_policy"`
	IP            DimensionSettings `mapstructure:"ip"`
	Email         DimensionSettings `mapstructure:"email"`
	TaxID         DimensionSettings `mapstructure:"tax_id"`
	Global        DimensionSettings `mapstructure:"global"`
	Whitelist     ListSettings      `mapstructure:"whitelist"`
	Blacklist     ListSettings      `mapstructure:"blacklist"`
}

// DimensionSettings holds the thresholds of one dimension. A zero maximum disables
// that window.
type DimensionSettings struct {
	Enabled         bool                `mapstructure:"enabled"`
	MaxPerMinute    int64               `mapstructure:"max_per_minute"`
	MaxPerHour      int64               `mapstructure:"max_per_hour"`
	MaxPerDay       int64               `mapstructure:"max_per_day"`
	MaxPerWeek      int64               `mapstructure:"max_per_week"`
	MaxPerMonth     int64               `mapstructure:"max_per_month"`
	MaxPerYear      int64               `mapstructure:"max_per_year"`
	CooldownSeconds int64               `mapstructure:"cooldown_seconds"`
	Escalation      *EscalationSettings `mapstructure:"escalation"`
}

type EscalationSettings struct {
	BlockThreshold     int64 `mapstructure:"block_threshold"`
	BlockWindowHours   int64 `mapstructure:"block_window_hours"`
	BlockDurationHours int64 `mapstructure:"block_duration_hours"`
}

// ListSettings holds raw list entries; emails accept "*@domain" and IPs accept CIDR.
type ListSettings struct {
	IPs    []string `mapstructure:"ips"`
	Emails []string `mapstructure:"emails"`
	TaxIDs []string `mapstructure:"tax_ids"`
}

func (l ListSettings) toList() models.ListConfig {
	entries := make(map[constants.Dimension][]string, 3)
	if len(l.IPs) > 0 {
		entries[constants.DimensionIP] = append([]string(nil), l.IPs...)
	}
	if len(l.Emails) > 0 {
		entries[constants.DimensionEmail] = append([]string(nil), l.Emails...)
	}
	if len(l.TaxIDs) > 0 {
		entries[constants.DimensionTaxID] = append([]string(nil), l.TaxIDs...)
	}
	return models.ListConfig{Entries: entries}
}

func (d DimensionSettings) toPolicy() models.DimensionPolicy {
	var limits []models.Limit
	for _, l := range []models.Limit{
		{Granularity: constants.GranularityMinute, Max: d.MaxPerMinute},
		{Granularity: constants.GranularityHour, Max: d.MaxPerHour},
		{Granularity: constants.GranularityDay, Max: d.MaxPerDay},
		{Granularity: constants.GranularityWeek, Max: d.MaxPerWeek},
		{Granularity: constants.GranularityMonth, Max: d.MaxPerMonth},
		{Granularity: constants.GranularityYear, Max: d.MaxPerYear},
	} {
		if l.Max > 0 {
			limits = append(limits, l)
		}
	}

	p := models.DimensionPolicy{
		Enabled:         d.Enabled,
		Limits:          models.SortLimits(limits),
		CooldownSeconds: d.CooldownSeconds,
	}
	if e := d.Escalation; e != nil && e.BlockThreshold > 0 {
		p.Escalation = &models.EscalationRule{
			Threshold:     e.BlockThreshold,
			WindowHours:   e.BlockWindowHours,
			DurationHours: e.BlockDurationHours,
		}
	}
	return p
}

// ToPolicy builds the immutable engine policy and validates it.
func (s PolicySettings) ToPolicy(failClosedRetrySeconds int64) (*models.PolicyConfig, error) {
	failure := constants.FailurePolicy(s.FailurePolicy)
	if failure == "" {
		failure = constants.FailOpen
	}
	cfg := &models.PolicyConfig{
		FailurePolicy:          failure,
		FailClosedRetrySeconds: failClosedRetrySeconds,
		Dimensions: map[constants.Dimension]models.DimensionPolicy{
			constants.DimensionIP:     s.IP.toPolicy(),
			constants.DimensionEmail:  s.Email.toPolicy(),
			constants.DimensionTaxID:  s.TaxID.toPolicy(),
			constants.DimensionGlobal: s.Global.toPolicy(),
		},
		Whitelist: s.Whitelist.toList(),
		Blacklist: s.Blacklist.toList(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: policy: %v", errors.ErrInvalidConfig, err)
	}
	return cfg, nil
}
