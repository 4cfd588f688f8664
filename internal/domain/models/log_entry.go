package models

import (
	"time"
	"unicode/utf8"

	"github.com/turtacn/certguard/pkg/constants"
)

// RateLimitLogEntry is one append-only audit record of a decision.
type RateLimitLogEntry struct {
	ID           uint64              `gorm:"primaryKey;autoIncrement" json:"id"`
	Dimension    constants.Dimension `gorm:"type:varchar(16);not null;index:idx_rate_limit_log_identity,priority:1" json:"dimension"`
	Identifier   string              `gorm:"type:varchar(255);not null;index:idx_rate_limit_log_identity,priority:2" json:"identifier"`
	Scope        string              `gorm:"type:varchar(191);not null" json:"scope"`
	Action       constants.Action    `gorm:"type:varchar(16);not null" json:"action"`
	Reason       string              `gorm:"type:varchar(255)" json:"reason"`
	IPAddress    string              `gorm:"type:varchar(64)" json:"ip_address"`
	UserAgent    string              `gorm:"type:varchar(512)" json:"user_agent"`
	CurrentCount int64               `json:"current_count"`
	MaxAllowed   int64               `json:"max_allowed"`
	CreatedAt    time.Time           `gorm:"not null;index" json:"created_at"`
}

// TableName pins the table name shared with the existing schema.
func (RateLimitLogEntry) TableName() string {
	return "rate_limit_logs"
}

// NewLogEntry builds an audit entry from a decision snapshot.
func NewLogEntry(attempt Attempt, scope string, d *Decision, now time.Time) *RateLimitLogEntry {
	dim, id := d.Dimension, ""
	if dim == "" {
		if first, ok := attempt.Primary(); ok {
			dim, id = first.Dimension, first.Identifier
		} else {
			dim = constants.DimensionGlobal
		}
	} else {
		id = attempt.IdentifierFor(dim)
	}

	return &RateLimitLogEntry{
		Dimension:    dim,
		Identifier:   id,
		Scope:        scope,
		Action:       d.Action(),
		Reason:       TruncateUTF8(d.Reason, MaxReasonBytes),
		IPAddress:    attempt.IP,
		UserAgent:    TruncateUTF8(attempt.UserAgent, MaxUserAgentBytes),
		CurrentCount: d.CurrentCount,
		MaxAllowed:   d.MaxAllowed,
		CreatedAt:    now.UTC(),
	}
}

// Column widths of the audit table, in bytes.
const (
	MaxReasonBytes    = 255
	MaxUserAgentBytes = 512
)

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
