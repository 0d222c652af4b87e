package ics

import (
	"errors"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "stratusdash/internal/log"
	"stratusdash/internal/model"
)

// expandSeries enumerates the occurrences of a recurring event that start
// inside w, skipping those whose key is in overridden.
//
// Each occurrence takes its calendar date from the rule engine and its
// time of day from the series DTSTART, both read in the series' authored
// zone, and is then converted back to an instant. Building from wall-clock
// parts keeps a 09:00 meeting at 09:00 across DST changes.
func expandSeries(ev ParsedEvent, w Window, overridden map[string]struct{}, maxOcc int) []model.ResolvedEvent {
	out := make([]model.ResolvedEvent, 0)

	seriesLoc := ev.Start.Location()
	base := ev.Start.In(seriesLoc)

	// A date-only or floating UNTIL is read in the series' zone, not UTC.
	opt, err := rrule.StrToROptionInLocation(strings.TrimPrefix(ev.RawRRule, "RRULE:"), seriesLoc)
	if err != nil {
		appLog.Error("ics failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out
	}
	opt.Dtstart = base
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		appLog.Error("ics failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(seriesLoc))
	}

	occTimes := set.Between(w.Start.In(seriesLoc), w.End.In(seriesLoc), true)
	if len(occTimes) > maxOcc {
		appLog.Error("ics truncated occurrences for series due to cap",
			errors.New("max occurrences reached"),
			"uid", ev.UID,
			"cap", maxOcc,
		)
		occTimes = occTimes[:maxOcc]
	}

	seriesEnd := effectiveEnd(ev)
	duration := seriesEnd.Sub(ev.Start)
	spanDays := daysBetween(ev.Start, seriesEnd)

	for _, occ := range occTimes {
		d := occ.In(seriesLoc)

		var start, end time.Time
		if ev.AllDay {
			start = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, seriesLoc)
			end = start.AddDate(0, 0, spanDays)
		} else {
			start = time.Date(d.Year(), d.Month(), d.Day(),
				base.Hour(), base.Minute(), base.Second(), base.Nanosecond(), seriesLoc)
			end = start.Add(duration)
		}

		if !validInstant(start) {
			appLog.Error("ics dropped invalid occurrence", errors.New("invalid start instant"),
				"uid", ev.UID, "occurrence", occ.String())
			continue
		}

		key := instanceKey(ev.UID, start)
		if _, ok := overridden[key]; ok {
			continue
		}

		re := toResolved(ev, start, end)
		re.RecurrenceInstanceKey = key
		out = append(out, re)
	}

	return out
}

// daysBetween counts calendar days from start to end, at least one.
func daysBetween(start, end time.Time) int {
	n := int(model.CivilDate(end).Sub(model.CivilDate(start)).Hours() / 24)
	if n < 1 {
		return 1
	}
	return n
}
