package models

import (
	"github.com/turtacn/certguard/pkg/constants"
)

// Decision is the outcome of a policy check for one attempt.
type Decision struct {
	Allowed bool                   `json:"allowed"`
	Code    constants.DecisionCode `json:"code"`
	// Reason is human readable and, for blocks, includes the stored block reason.
	Reason string `json:"reason"`
	// Dimension is the dimension whose rule decided the outcome, if any.
	Dimension constants.Dimension `json:"dimension,omitempty"`
	// BlockingDimension is set only when the attempt is denied.
	BlockingDimension constants.Dimension `json:"blocking_dimension,omitempty"`
	WaitSeconds       int64               `json:"wait_seconds"`
	CurrentCount      int64               `json:"current_count"`
	MaxAllowed        int64               `json:"max_allowed"`
	// Degraded is set when the decision came from the failure policy instead of the store.
	Degraded bool `json:"degraded,omitempty"`
}

// Action maps the decision to the audit action it is logged under.
func (d *Decision) Action() constants.Action {
	switch d.Code {
	case constants.DecisionWhitelisted:
		return constants.ActionWhitelisted
	case constants.DecisionBlacklisted:
		return constants.ActionBlacklisted
	}
	if d.Allowed {
		return constants.ActionAllowed
	}
	return constants.ActionBlocked
}

// RecordResult summarises what Record did for one attempt.
type RecordResult struct {
	// Counts holds the post-increment count per dimension and granularity.
	Counts map[constants.Dimension]map[constants.Granularity]int64 `json:"counts"`
	// Blocks lists blocks created by escalation during this record.
	Blocks []*BlockState `json:"blocks,omitempty"`
}

// NewRecordResult returns an empty result ready for counts.
func NewRecordResult() *RecordResult {
	return &RecordResult{Counts: make(map[constants.Dimension]map[constants.Granularity]int64)}
}

// SetCount stores the post-increment count of one counter.
func (r *RecordResult) SetCount(dim constants.Dimension, g constants.Granularity, count int64) {
	byGran, ok := r.Counts[dim]
	if !ok {
		byGran = make(map[constants.Granularity]int64)
		r.Counts[dim] = byGran
	}
	byGran[g] = count
}
