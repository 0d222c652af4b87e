package ics

import (
	"time"

	"stratusdash/internal/model"
)

// The resolved window spans TrailingDays before today through LeadingDays
// after it, in whole local days.
const (
	TrailingDays = 4
	LeadingDays  = 14
)

// Window is an inclusive time range [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowAround returns [now-4d 00:00:00.000, now+14d 23:59:59.999] in loc.
func WindowAround(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	return Window{
		Start: time.Date(y, m, d-TrailingDays, 0, 0, 0, 0, loc),
		End:   time.Date(y, m, d+LeadingDays, 23, 59, 59, int(999*time.Millisecond), loc),
	}
}

// Overlaps reports whether [start, end] intersects the window. All-day
// ranges are compared by calendar date only, with end exclusive.
func (w Window) Overlaps(start, end time.Time, allDay bool) bool {
	if allDay {
		first := model.CivilDate(start)
		last := lastDay(start, end)
		return !first.After(model.CivilDate(w.End)) && !last.Before(model.CivilDate(w.Start))
	}
	return timeRangesOverlap(start, end, w.Start, w.End)
}

// lastDay is the final calendar date covered by an all-day range whose end
// date is exclusive.
func lastDay(start, end time.Time) time.Time {
	first := model.CivilDate(start)
	endDate := model.CivilDate(end)
	if !endDate.After(first) {
		return first
	}
	return endDate.AddDate(0, 0, -1)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
