package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/turtacn/certguard/pkg/constants"
)

// PolicyConfig is the immutable input to one decision. It is built from configuration
// and swapped as a whole when configuration changes; callers must not mutate it.
type PolicyConfig struct {
	FailurePolicy constants.FailurePolicy
	// FailClosedRetrySeconds is the wait reported when failing closed.
	FailClosedRetrySeconds int64
	Dimensions             map[constants.Dimension]DimensionPolicy
	Whitelist              ListConfig
	Blacklist              ListConfig
}

// DimensionPolicy configures counting for one dimension.
type DimensionPolicy struct {
	Enabled bool
	// Limits are kept sorted from finest to coarsest granularity.
	Limits []Limit
	// CooldownSeconds is the minimum delay between two attempts (ip).
	CooldownSeconds int64
	// Escalation turns repeated attempts into an explicit block.
	Escalation *EscalationRule
}

// Limit is the maximum number of attempts allowed in one window of a granularity.
type Limit struct {
	Granularity constants.Granularity
	Max         int64
}

// EscalationRule blocks an identifier for DurationHours once Threshold attempts
// are seen within the trailing WindowHours.
type EscalationRule struct {
	Threshold     int64
	WindowHours   int64
	DurationHours int64
}

// MaxEscalationWindowHours is the longest trailing window an escalation rule may use.
const MaxEscalationWindowHours = 7 * 24

// Window returns the trailing counting window.
func (r *EscalationRule) Window() time.Duration {
	return time.Duration(r.WindowHours) * time.Hour
}

// Duration returns how long an escalated block lasts.
func (r *EscalationRule) Duration() time.Duration {
	return time.Duration(r.DurationHours) * time.Hour
}

// ListConfig holds the raw allow or deny entries per dimension.
type ListConfig struct {
	Entries map[constants.Dimension][]string
}

// Policy returns the policy of a dimension; the zero value is disabled.
func (c *PolicyConfig) Policy(dim constants.Dimension) DimensionPolicy {
	if c == nil || c.Dimensions == nil {
		return DimensionPolicy{}
	}
	return c.Dimensions[dim]
}

// Granularities returns every granularity Record must increment for the dimension.
func (p DimensionPolicy) Granularities() []constants.Granularity {
	seen := make(map[constants.Granularity]bool, len(p.Limits)+1)
	out := make([]constants.Granularity, 0, len(p.Limits)+1)
	for _, l := range p.Limits {
		if !seen[l.Granularity] {
			seen[l.Granularity] = true
			out = append(out, l.Granularity)
		}
	}
	// Escalation sums minute windows so the trailing window is accurate to a minute.
	if p.Escalation != nil && !seen[constants.GranularityMinute] {
		seen[constants.GranularityMinute] = true
		out = append(out, constants.GranularityMinute)
	}
	// A cooldown needs last_attempt_at even when nothing else is counted.
	if p.CooldownSeconds > 0 && len(out) == 0 {
		out = append(out, constants.GranularityMinute)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

// MaxEscalationWindow returns the longest trailing window of any enabled
// escalation rule, or zero when nothing escalates.
func (c *PolicyConfig) MaxEscalationWindow() time.Duration {
	if c == nil {
		return 0
	}
	var longest time.Duration
	for _, p := range c.Dimensions {
		if p.Enabled && p.Escalation != nil && p.Escalation.Window() > longest {
			longest = p.Escalation.Window()
		}
	}
	return longest
}

// SortLimits orders limits from finest to coarsest granularity.
func SortLimits(limits []Limit) []Limit {
	sorted := append([]Limit(nil), limits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Granularity.Rank() < sorted[j].Granularity.Rank()
	})
	return sorted
}

// Validate checks the policy for values the engine cannot act on.
func (c *PolicyConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("policy config is nil")
	}
	if !c.FailurePolicy.Valid() {
		return fmt.Errorf("unknown failure policy %q", c.FailurePolicy)
	}
	for dim, p := range c.Dimensions {
		if !dim.Valid() {
			return fmt.Errorf("unknown dimension %q", dim)
		}
		for _, l := range p.Limits {
			if !l.Granularity.Valid() {
				return fmt.Errorf("%s: unknown granularity %q", dim, l.Granularity)
			}
			if l.Max <= 0 {
				return fmt.Errorf("%s: limit for %s must be positive", dim, l.Granularity)
			}
		}
		if p.CooldownSeconds < 0 {
			return fmt.Errorf("%s: cooldown must not be negative", dim)
		}
		if e := p.Escalation; e != nil {
			if e.Threshold <= 0 || e.WindowHours <= 0 || e.DurationHours <= 0 {
				return fmt.Errorf("%s: escalation threshold, window and duration must be positive", dim)
			}
			if e.WindowHours > MaxEscalationWindowHours {
				return fmt.Errorf("%s: escalation window must not exceed %d hours", dim, MaxEscalationWindowHours)
			}
			if dim == constants.DimensionGlobal {
				return fmt.Errorf("global dimension cannot escalate")
			}
		}
	}
	for _, list := range []ListConfig{c.Whitelist, c.Blacklist} {
		for dim := range list.Entries {
			if !dim.Valid() || dim == constants.DimensionGlobal {
				return fmt.Errorf("lists do not apply to dimension %q", dim)
			}
		}
	}
	return nil
}
