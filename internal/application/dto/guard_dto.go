package dto

import (
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
)

// AttemptRequest identifies one guarded action. At, when set, is used as the
// evaluation time so a check and its record agree on the windows.
type AttemptRequest struct {
	IP        string     `json:"ip" validate:"max=64"`
	Email     string     `json:"email" validate:"max=255"`
	TaxID     string     `json:"tax_id" validate:"max=64"`
	UserAgent string     `json:"user_agent" validate:"max=512"`
	Scope     string     `json:"scope" validate:"max=191,scope"`
	At        *time.Time `json:"at,omitempty"`
}

func (r *AttemptRequest) Attempt() models.Attempt {
	return models.Attempt{IP: r.IP, Email: r.Email, TaxID: r.TaxID, UserAgent: r.UserAgent}
}

type CheckResponse struct {
	*models.Decision
	EvaluatedAt time.Time `json:"evaluated_at"`
}

type RecordResponse struct {
	*models.RecordResult
	RecordedAt time.Time `json:"recorded_at"`
}
