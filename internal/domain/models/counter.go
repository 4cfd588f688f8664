package models

import (
	"time"

	"github.com/turtacn/certguard/pkg/constants"
)

// RateLimitCounter is one fixed-window attempt counter. The unique key
// (dimension, identifier, scope, window_granularity, window_start) backs the atomic upsert.
type RateLimitCounter struct {
	ID                uint64                `gorm:"primaryKey;autoIncrement" json:"id"`
	Dimension         constants.Dimension   `gorm:"type:varchar(16);not null;uniqueIndex:idx_rate_limit_counter_key,priority:1" json:"dimension"`
	Identifier        string                `gorm:"type:varchar(255);not null;uniqueIndex:idx_rate_limit_counter_key,priority:2" json:"identifier"`
	Scope             string                `gorm:"type:varchar(191);not null;uniqueIndex:idx_rate_limit_counter_key,priority:3" json:"scope"`
	WindowGranularity constants.Granularity `gorm:"type:varchar(16);not null;uniqueIndex:idx_rate_limit_counter_key,priority:4" json:"window_granularity"`
	WindowStart       time.Time             `gorm:"not null;uniqueIndex:idx_rate_limit_counter_key,priority:5" json:"window_start"`
	WindowEnd         time.Time             `gorm:"not null;index" json:"window_end"`
	Count             int64                 `gorm:"not null" json:"count"`
	LastAttemptAt     time.Time             `gorm:"not null" json:"last_attempt_at"`
	IsBlocked         bool                  `gorm:"not null" json:"is_blocked"`
	BlockedUntil      *time.Time            `json:"blocked_until,omitempty"`
	BlockedReason     *string               `gorm:"type:varchar(255)" json:"blocked_reason,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

// TableName pins the table name shared with the existing schema.
func (RateLimitCounter) TableName() string {
	return "rate_limit_counters"
}

// CounterKey identifies one counter series; the window start completes the unique key.
type CounterKey struct {
	Dimension   constants.Dimension
	Identifier  string
	Scope       string
	Granularity constants.Granularity
}

// BlockState is an explicit, time-boxed deny state attached to an identifier.
type BlockState struct {
	Dimension  constants.Dimension `json:"dimension"`
	Identifier string              `json:"identifier"`
	Scope      string              `json:"scope"`
	Until      time.Time           `json:"until"`
	Reason     string              `json:"reason"`
	// Times counts how often the identifier has been blocked.
	Times int64 `json:"times"`
}

// Active reports whether the block is still in force at now.
func (b *BlockState) Active(now time.Time) bool {
	return b != nil && b.Until.After(now)
}

// RemainingSeconds rounds the time left on the block up to whole seconds.
func (b *BlockState) RemainingSeconds(now time.Time) int64 {
	if !b.Active(now) {
		return 0
	}
	return ceilSeconds(b.Until.Sub(now))
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
