// Package status derives a check-in's lifecycle status from its date.
//
// Classification is at day granularity in a configured location:
//
//	date before today -> Missed
//	date is today     -> Completed
//	date after today  -> Scheduled
//
// Same-day dates classify as Completed even if the interaction has not
// happened yet. This mirrors existing product behavior and is pending product
// confirmation.
package status

import (
	"strings"
	"time"

	"touchbase/internal/checkin"
	"touchbase/internal/clock"
)

// Day truncates t to local midnight in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Determine classifies date against now. ok is false when date is the zero
// time ("cannot classify"); callers must then keep whatever status they have.
func Determine(date, now time.Time, loc *time.Location) (checkin.Status, bool) {
	if date.IsZero() {
		return "", false
	}
	d := Day(date, loc)
	today := Day(now, loc)
	switch {
	case d.Before(today):
		return checkin.Missed, true
	case d.Equal(today):
		return checkin.Completed, true
	default:
		return checkin.Scheduled, true
	}
}

// Classifier binds Determine to a clock and location.
type Classifier struct {
	Clock    clock.Clock
	Location *time.Location
}

// DetermineStatus classifies date against the classifier's current time.
func (c Classifier) DetermineStatus(date time.Time) (checkin.Status, bool) {
	return Determine(date, clock.Or(c.Clock).Now(), c.Location)
}

// DetermineString parses raw with ParseDate and classifies it. Unparseable
// input yields ok=false.
func (c Classifier) DetermineString(raw string) (checkin.Status, bool) {
	t, ok := ParseDate(raw, c.Location)
	if !ok {
		return "", false
	}
	return c.DetermineStatus(t)
}

// ParseDate accepts RFC 3339 timestamps and bare 2006-01-02 dates (midnight in
// loc). It never panics.
func ParseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", raw, loc); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, true
	}
	return time.Time{}, false
}
