// Package agenda narrows an already resolved calendar window down to a
// single day for the day-by-day view. It never fetches or re-expands.
package agenda

import (
	"errors"
	"sort"
	"time"

	"stratusdash/internal/ics"
	"stratusdash/internal/model"
)

// Navigation bounds match the resolved window.
const (
	MinOffset = -ics.TrailingDays
	MaxOffset = ics.LeadingDays
)

// ErrOffsetOutOfRange is returned for a day offset outside [MinOffset, MaxOffset].
var ErrOffsetOutOfRange = errors.New("agenda: day offset out of range")

// Nav describes the day being shown and whether the view may move further.
type Nav struct {
	Offset  int       `json:"offset"`
	Date    string    `json:"date"`
	DayFrom time.Time `json:"day_start"`
	DayTo   time.Time `json:"day_end"`
	CanPrev bool      `json:"can_prev"`
	CanNext bool      `json:"can_next"`
}

// Navigation returns the navigation state for offset days from now in loc.
func Navigation(now time.Time, loc *time.Location, offset int) (Nav, error) {
	if offset < MinOffset || offset > MaxOffset {
		return Nav{}, ErrOffsetOutOfRange
	}
	from, to := dayBounds(now, loc, offset)
	return Nav{
		Offset:  offset,
		Date:    from.Format("2006-01-02"),
		DayFrom: from,
		DayTo:   to,
		CanPrev: offset > MinOffset,
		CanNext: offset < MaxOffset,
	}, nil
}

// FilterDay returns the events intersecting the local calendar day offset
// days from now, sorted by start.
//
// Timed events match when [start, end) intersects [00:00, next 00:00).
// All-day events match by date alone, read from their own fields, so the
// process time zone never moves them to a neighbouring day.
func FilterDay(events []model.ResolvedEvent, now time.Time, loc *time.Location, offset int) ([]model.ResolvedEvent, error) {
	if offset < MinOffset || offset > MaxOffset {
		return nil, ErrOffsetOutOfRange
	}
	from, to := dayBounds(now, loc, offset)
	day := model.CivilDate(from)

	out := make([]model.ResolvedEvent, 0)
	for _, ev := range events {
		if ev.Start.IsZero() {
			continue
		}
		var match bool
		if ev.AllDay() {
			match = allDayCovers(ev, day)
		} else {
			match = intersects(ev.Start, ev.End, from, to)
		}
		if match {
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

// dayBounds returns [00:00, next day 00:00) for the day offset days from now.
func dayBounds(now time.Time, loc *time.Location, offset int) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := now.In(loc).Date()
	from := time.Date(y, m, d+offset, 0, 0, 0, 0, loc)
	to := time.Date(y, m, d+offset+1, 0, 0, 0, 0, loc)
	return from, to
}

func intersects(start, end, from, to time.Time) bool {
	if !end.After(start) {
		// Zero-length: a point in time.
		return !start.Before(from) && start.Before(to)
	}
	return start.Before(to) && end.After(from)
}

func allDayCovers(ev model.ResolvedEvent, day time.Time) bool {
	first := model.CivilDate(ev.Start)
	endExcl := model.CivilDate(ev.End)
	if !endExcl.After(first) {
		endExcl = first.AddDate(0, 0, 1)
	}
	return !day.Before(first) && day.Before(endExcl)
}
