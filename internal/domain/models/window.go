package models

import "time"

// Window is a half-open counting interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// RemainingSeconds is the time left until the window ends, rounded up.
func (w Window) RemainingSeconds(now time.Time) int64 {
	return ceilSeconds(w.End.Sub(now))
}
