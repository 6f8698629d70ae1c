// Package recurrence computes when the next interaction with a contact is due.
package recurrence

import (
	"time"

	"touchbase/internal/checkin"
)

// NextDue returns anchor shifted by the calendar offset of freq.
//
// Monthly, quarterly and yearly offsets use time.AddDate, so month ends
// normalize (Jan 31 + 1 month = Mar 2 or 3). Unknown frequencies fall back to
// one calendar month; use Known to detect that case.
func NextDue(freq checkin.Frequency, anchor time.Time) time.Time {
	switch freq {
	case checkin.Daily:
		return anchor.AddDate(0, 0, 1)
	case checkin.Weekly:
		return anchor.AddDate(0, 0, 7)
	case checkin.Monthly:
		return anchor.AddDate(0, 1, 0)
	case checkin.Quarterly:
		return anchor.AddDate(0, 3, 0)
	case checkin.Yearly:
		return anchor.AddDate(1, 0, 0)
	default:
		return anchor.AddDate(0, 1, 0)
	}
}

// NextDueFrom is NextDue with an optional anchor; a nil anchor means now.
func NextDueFrom(freq checkin.Frequency, anchor *time.Time, now time.Time) time.Time {
	if anchor == nil || anchor.IsZero() {
		return NextDue(freq, now)
	}
	return NextDue(freq, *anchor)
}

// Known reports whether freq has its own offset (as opposed to the monthly
// fallback).
func Known(freq checkin.Frequency) bool {
	switch freq {
	case checkin.Daily, checkin.Weekly, checkin.Monthly, checkin.Quarterly, checkin.Yearly:
		return true
	}
	return false
}

// Upcoming returns the next n due dates after anchor, each computed from the
// previous one.
func Upcoming(freq checkin.Frequency, anchor time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := anchor
	for i := 0; i < n; i++ {
		t = NextDue(freq, t)
		out = append(out, t)
	}
	return out
}
