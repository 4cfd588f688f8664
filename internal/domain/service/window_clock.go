package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/turtacn/certguard/internal/domain/models"
	"github.com/turtacn/certguard/pkg/constants"
)

// WindowClock maps instants to fixed counting windows. Every caller must share one
// reference location and week start, otherwise counters fragment across window keys.
type WindowClock struct {
	loc       *time.Location
	weekStart time.Weekday
}

// NewWindowClock creates a clock aligned in loc with weeks starting on weekStart.
func NewWindowClock(loc *time.Location, weekStart time.Weekday) *WindowClock {
	if loc == nil {
		loc = time.UTC
	}
	return &WindowClock{loc: loc, weekStart: weekStart}
}

// NewWindowClockFromNames resolves an IANA timezone name and a weekday name.
func NewWindowClockFromNames(timezone, weekStart string) (*WindowClock, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
		loc = l
	}
	wd := time.Monday
	if weekStart != "" {
		parsed, ok := parseWeekday(weekStart)
		if !ok {
			return nil, fmt.Errorf("unknown week start %q", weekStart)
		}
		wd = parsed
	}
	return NewWindowClock(loc, wd), nil
}

// Location returns the reference location.
func (c *WindowClock) Location() *time.Location {
	return c.loc
}

// WindowFor returns the window of granularity g containing now, in UTC.
func (c *WindowClock) WindowFor(now time.Time, g constants.Granularity) models.Window {
	t := now.In(c.loc)
	y, m, d := t.Date()

	var start, end time.Time
	switch g {
	case constants.GranularityMinute, constants.GranularityHour:
		// Truncate on the local wall clock using the zone offset in force at now.
		size := time.Minute
		if g == constants.GranularityHour {
			size = time.Hour
		}
		_, offset := t.Zone()
		shift := time.Duration(offset) * time.Second
		start = now.Add(shift).Truncate(size).Add(-shift)
		end = start.Add(size)
	case constants.GranularityDay:
		start = time.Date(y, m, d, 0, 0, 0, 0, c.loc)
		end = time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
	case constants.GranularityWeek:
		offset := (int(t.Weekday()) - int(c.weekStart) + 7) % 7
		start = time.Date(y, m, d-offset, 0, 0, 0, 0, c.loc)
		end = time.Date(y, m, d-offset+7, 0, 0, 0, 0, c.loc)
	case constants.GranularityMonth:
		start = time.Date(y, m, 1, 0, 0, 0, 0, c.loc)
		end = time.Date(y, m+1, 1, 0, 0, 0, 0, c.loc)
	case constants.GranularityYear:
		start = time.Date(y, time.January, 1, 0, 0, 0, 0, c.loc)
		end = time.Date(y+1, time.January, 1, 0, 0, 0, 0, c.loc)
	default:
		panic(fmt.Sprintf("window clock: unknown granularity %q", g))
	}

	return models.Window{Start: start.UTC(), End: end.UTC()}
}

// DayKey formats the reference-location calendar day of t.
func (c *WindowClock) DayKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01-02")
}

// MonthKey formats the reference-location calendar month of t.
func (c *WindowClock) MonthKey(t time.Time) string {
	return t.In(c.loc).Format("2006-01")
}

func parseWeekday(s string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), s) || strings.EqualFold(d.String()[:3], s) {
			return d, true
		}
	}
	return time.Sunday, false
}
