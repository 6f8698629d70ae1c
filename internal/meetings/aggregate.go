// Package meetings selects and orders check-ins for the dashboard.
//
// All functions are pure. Ordering is by date with the check-in ID as the
// tie-break, so equal dates always list in the same order.
package meetings

import (
	"sort"
	"time"

	"touchbase/internal/checkin"
	"touchbase/internal/status"
)

// Limit caps each list returned by Next and Missed.
const Limit = 5

// Upcoming splits future check-ins by type.
type Upcoming struct {
	Planned   []checkin.CheckIn `json:"planned"`
	Suggested []checkin.CheckIn `json:"suggested"`
}

// Next returns up to Limit Scheduled check-ins of each type dated after
// today, soonest first.
func Next(checkIns []checkin.CheckIn, now time.Time, loc *time.Location) Upcoming {
	up := NextAll(checkIns, now, loc)
	up.Planned = capped(up.Planned)
	up.Suggested = capped(up.Suggested)
	return up
}

// NextAll is Next without the cap.
func NextAll(checkIns []checkin.CheckIn, now time.Time, loc *time.Location) Upcoming {
	today := status.Day(now, loc)
	up := Upcoming{Planned: []checkin.CheckIn{}, Suggested: []checkin.CheckIn{}}
	for _, c := range checkIns {
		if c.Status != checkin.Scheduled || c.Date.IsZero() || !status.Day(c.Date, loc).After(today) {
			continue
		}
		switch c.Type {
		case checkin.Planned:
			up.Planned = append(up.Planned, c)
		case checkin.Suggested:
			up.Suggested = append(up.Suggested, c)
		}
	}
	sortAsc(up.Planned)
	sortAsc(up.Suggested)
	return up
}

// Missed returns up to Limit Scheduled or Missed check-ins dated before
// today, most recent first.
func Missed(checkIns []checkin.CheckIn, now time.Time, loc *time.Location) []checkin.CheckIn {
	return capped(MissedAll(checkIns, now, loc))
}

// MissedAll is Missed without the cap.
func MissedAll(checkIns []checkin.CheckIn, now time.Time, loc *time.Location) []checkin.CheckIn {
	today := status.Day(now, loc)
	out := []checkin.CheckIn{}
	for _, c := range checkIns {
		if c.Status != checkin.Scheduled && c.Status != checkin.Missed {
			continue
		}
		if c.Date.IsZero() || !status.Day(c.Date, loc).Before(today) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortAsc(cs []checkin.CheckIn) {
	sort.SliceStable(cs, func(i, j int) bool {
		if !cs[i].Date.Equal(cs[j].Date) {
			return cs[i].Date.Before(cs[j].Date)
		}
		return cs[i].ID < cs[j].ID
	})
}

func capped(cs []checkin.CheckIn) []checkin.CheckIn {
	if len(cs) > Limit {
		return cs[:Limit:Limit]
	}
	return cs
}
