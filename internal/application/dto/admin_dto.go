package dto

import (
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
)

type StatsQuery struct {
	From time.Time `form:"from" time_format:"2006-01-02T15:04:05Z07:00"`
	To   time.Time `form:"to" time_format:"2006-01-02T15:04:05Z07:00"`
	Top  int       `form:"top" validate:"gte=0,lte=1000"`
}

type StatsResponse struct {
	*models.StatsReport
	Cached bool `json:"cached"`
}

type UnblockRequest struct {
	Dimension  string `uri:"dimension" validate:"required,dimension"`
	Identifier string `uri:"identifier" validate:"max=255"`
	Scope      string `form:"scope" validate:"max=191,scope"`
}

type UnblockResponse struct {
	Dimension  string `json:"dimension"`
	Identifier string `json:"identifier"`
	Scope      string `json:"scope"`
	Cleared    bool   `json:"cleared"`
}

// MaintenanceReport lists what one maintenance pass removed.
type MaintenanceReport struct {
	CountersPurged int64     `json:"counters_purged"`
	LogsExpired    int64     `json:"logs_expired"`
	LogsTrimmed    int64     `json:"logs_trimmed"`
	RanAt          time.Time `json:"ran_at"`
}

// BlockRequest places a manual block for DurationSeconds.
type BlockRequest struct {
	Dimension       string `json:"dimension" validate:"required,dimension"`
	Identifier      string `json:"identifier" validate:"max=255"`
	Scope           string `json:"scope" validate:"max=191,scope"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=1,lte=31622400"`
	Reason          string `json:"reason" validate:"max=255"`
}

type BlockResponse struct {
	*models.BlockState
}
