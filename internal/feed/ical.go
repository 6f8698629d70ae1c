package feed

import (
	"fmt"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"
)

const localLayout = "20060102T150405"

var (
	propTZName     = ics.ComponentProperty(ics.PropertyTzname)
	propTZOffFrom  = ics.ComponentProperty(ics.PropertyTzoffsetfrom)
	propTZOffTo    = ics.ComponentProperty(ics.PropertyTzoffsetto)
	propXStatus    = ics.ComponentProperty("X-TOUCHBASE-STATUS")
	propXType      = ics.ComponentProperty("X-TOUCHBASE-TYPE")
	newlineFolding = strings.NewReplacer("\r\n", "\n", "\r", "\n")
)

// plainText folds CR and CRLF into LF so the library escapes every line
// break as \n.
func plainText(s string) string { return newlineFolding.Replace(s) }

func formatLocal(t time.Time, loc *time.Location) string { return t.In(loc).Format(localLayout) }

// newTimezone builds a VTIMEZONE for loc. Zones that shift twice in year get
// yearly rules: DAYLIGHT for the shift to the larger offset, STANDARD for the
// shift back. Anything else gets one fixed STANDARD offset.
func newTimezone(loc *time.Location, year int) *ics.VTimezone {
	tz := ics.NewTimezone(loc.String())

	toSummer, toWinter, ok := transitions(loc, year)
	if !ok {
		name, off := time.Date(year, 1, 1, 0, 0, 0, 0, loc).Zone()
		std := tz.AddStandard()
		zoneRule(&std.ComponentBase, name, off, off, epoch, "")
		return tz
	}
	winterName, winterOff := toWinter.Zone()
	summerName, summerOff := toSummer.Zone()
	summerStart, summerRule := yearlyRule(wallClock(toSummer, winterOff))
	winterStart, winterRule := yearlyRule(wallClock(toWinter, summerOff))

	dl := &ics.Daylight{}
	zoneRule(&dl.ComponentBase, summerName, winterOff, summerOff, summerStart, summerRule)
	tz.Components = append(tz.Components, dl)
	std := tz.AddStandard()
	zoneRule(&std.ComponentBase, winterName, summerOff, winterOff, winterStart, winterRule)
	return tz
}

var epoch = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)

func zoneRule(cb *ics.ComponentBase, name string, from, to int, start time.Time, rrule string) {
	cb.SetProperty(ics.ComponentPropertyDtStart, start.Format(localLayout))
	cb.SetProperty(propTZOffFrom, formatOffset(from))
	cb.SetProperty(propTZOffTo, formatOffset(to))
	if rrule != "" {
		cb.SetProperty(ics.ComponentPropertyRrule, rrule)
	}
	if name != "" {
		cb.SetProperty(propTZName, name)
	}
}

// wallClock is the local time, under the offset in force before the
// transition at edge, at which the transition happens (02:00 for a typical
// spring forward). The result is labelled UTC but carries local fields.
func wallClock(edge time.Time, offset int) time.Time {
	return edge.UTC().Add(time.Duration(offset) * time.Second)
}

func offsetOf(t time.Time) int {
	_, off := t.Zone()
	return off
}

// transitions finds the first instants in year at which loc moves to a
// larger and to a smaller UTC offset. Offsets decide, not IsDST, since some
// zones (Europe/Dublin) flag winter time as the saving period.
func transitions(loc *time.Location, year int) (toSummer, toWinter time.Time, ok bool) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, loc)
	prev := start
	for d := 1; d <= 366; d++ {
		cur := start.AddDate(0, 0, d)
		if offsetOf(cur) != offsetOf(prev) {
			edge := findEdge(prev, cur)
			if offsetOf(edge) > offsetOf(prev) {
				if toSummer.IsZero() {
					toSummer = edge
				}
			} else if toWinter.IsZero() {
				toWinter = edge
			}
		}
		prev = cur
	}
	return toSummer, toWinter, !toSummer.IsZero() && !toWinter.IsZero()
}

// findEdge narrows [a, b) to the first second whose offset differs from a.
func findEdge(a, b time.Time) time.Time {
	want := offsetOf(a)
	for b.Sub(a) > time.Second {
		mid := a.Add(b.Sub(a) / 2)
		if offsetOf(mid) == want {
			a = mid
		} else {
			b = mid
		}
	}
	// Zone transitions fall on whole seconds.
	return b.Truncate(time.Second)
}

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// yearlyRule expresses wall as the nth (or last) weekday of its month and
// returns the first such occurrence in 1970 as the rule's DTSTART.
func yearlyRule(wall time.Time) (time.Time, string) {
	day := wall.Day()
	lastDay := time.Date(wall.Year(), wall.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	nth := (day-1)/7 + 1
	if day+7 > lastDay {
		nth = -1
	}
	rule := fmt.Sprintf("FREQ=YEARLY;BYMONTH=%d;BYDAY=%d%s", int(wall.Month()), nth, weekdayCodes[wall.Weekday()])
	return nthWeekday(1970, wall.Month(), nth, wall.Weekday()).Add(
		time.Duration(wall.Hour())*time.Hour + time.Duration(wall.Minute())*time.Minute + time.Duration(wall.Second())*time.Second,
	), rule
}

func nthWeekday(year int, month time.Month, nth int, wd time.Weekday) time.Time {
	if nth < 0 {
		last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
		return last.AddDate(0, 0, -((int(last.Weekday()) - int(wd) + 7) % 7))
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 0, (int(wd)-int(first.Weekday())+7)%7+7*(nth-1))
}

func formatOffset(sec int) string {
	sign := '+'
	if sec < 0 {
		sign = '-'
		sec = -sec
	}
	return fmt.Sprintf("%c%02d%02d", sign, sec/3600, (sec%3600)/60)
}
