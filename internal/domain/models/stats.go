package models

import (
	"time"

	"github.com/turtacn/certguard/pkg/constants"
)

// ActionCounts tallies audit entries per action.
type ActionCounts struct {
	Total       int64 `json:"total"`
	Allowed     int64 `json:"allowed"`
	Blocked     int64 `json:"blocked"`
	Blacklisted int64 `json:"blacklisted"`
	Whitelisted int64 `json:"whitelisted"`
}

// Add counts one entry with the given action.
func (c *ActionCounts) Add(a constants.Action) {
	c.Total++
	switch a {
	case constants.ActionAllowed:
		c.Allowed++
	case constants.ActionBlocked:
		c.Blocked++
	case constants.ActionBlacklisted:
		c.Blacklisted++
	case constants.ActionWhitelisted:
		c.Whitelisted++
	}
}

// Denied is every entry that did not let the attempt through.
func (c ActionCounts) Denied() int64 {
	return c.Blocked + c.Blacklisted
}

// PeriodStats is the tally for one calendar day ("2006-01-02") or month ("2006-01").
type PeriodStats struct {
	Period string `json:"period"`
	ActionCounts
}

// DimensionStats is the tally for one dimension.
type DimensionStats struct {
	Dimension constants.Dimension `json:"dimension"`
	ActionCounts
}

// Offender is an identifier ranked by how often it was blocked.
type Offender struct {
	Dimension    constants.Dimension `json:"dimension"`
	Identifier   string              `json:"identifier"`
	BlockedCount int64               `json:"blocked_count"`
	LastSeenAt   time.Time           `json:"last_seen_at"`
}

// StatsReport is the read-only summary of the audit log over a range.
type StatsReport struct {
	From         time.Time        `json:"from"`
	To           time.Time        `json:"to"`
	Totals       ActionCounts     `json:"totals"`
	Daily        []PeriodStats    `json:"daily"`
	Monthly      []PeriodStats    `json:"monthly"`
	ByDimension  []DimensionStats `json:"by_dimension"`
	TopOffenders []Offender       `json:"top_offenders"`
}
