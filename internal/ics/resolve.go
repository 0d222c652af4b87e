package ics

import (
	"sort"
	"time"

	appLog "stratusdash/internal/log"
	"stratusdash/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ResolveOptions controls how a parsed feed is flattened into a window.
type ResolveOptions struct {
	// MaxOccurrencesPerEvent caps the expansion of a single series. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Resolve flattens parsed events into the occurrences overlapping w, sorted
// by start (stable for equal starts).
//
// The first pass emits one-off events and RECURRENCE-ID records, and
// collects the (uid, instant) keys those records replace. The second pass
// expands RRULE series and skips every key collected in the first pass, so
// a modified or cancelled instance never shows up twice or reappears.
func Resolve(events []ParsedEvent, w Window, opts ResolveOptions) []model.ResolvedEvent {
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	events = latestRevisions(events)
	overridden := make(map[string]struct{})
	out := make([]model.ResolvedEvent, 0)

	// Pass 1: singletons and override instances.
	for _, ev := range events {
		if ev.Recurring() && !ev.IsOverride() {
			continue
		}
		if ev.IsOverride() {
			overridden[instanceKey(ev.UID, *ev.RecurrenceID)] = struct{}{}
		}
		if ev.Cancelled() {
			continue
		}
		if !validInstant(ev.Start) {
			continue
		}

		end := effectiveEnd(ev)
		if !w.Overlaps(ev.Start, end, ev.AllDay) {
			continue
		}

		re := toResolved(ev, ev.Start, end)
		if ev.IsOverride() {
			re.RecurrenceInstanceKey = instanceKey(ev.UID, ev.Start)
		}
		out = append(out, re)
	}

	// Pass 2: recurrence expansion.
	for _, ev := range events {
		if !ev.Recurring() || ev.IsOverride() || ev.Cancelled() {
			continue
		}
		if !validInstant(ev.Start) {
			appLog.Debug("ics series without valid DTSTART skipped", "uid", ev.UID)
			continue
		}
		out = append(out, expandSeries(ev, w, overridden, opts.MaxOccurrencesPerEvent)...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// latestRevisions keeps one record per (UID, RECURRENCE-ID), preferring the
// highest SEQUENCE and, on ties, the later record in the feed.
func latestRevisions(events []ParsedEvent) []ParsedEvent {
	type slot struct {
		idx int
		seq int
	}
	seen := make(map[string]slot, len(events))
	keep := make([]bool, len(events))

	for i, ev := range events {
		k := ev.UID
		if ev.IsOverride() {
			k = instanceKey(ev.UID, *ev.RecurrenceID)
		} else if ev.Recurring() {
			k = ev.UID + "#series"
		}
		if prev, ok := seen[k]; ok {
			if ev.Seq < prev.seq {
				continue
			}
			keep[prev.idx] = false
		}
		seen[k] = slot{idx: i, seq: ev.Seq}
		keep[i] = true
	}

	out := make([]ParsedEvent, 0, len(events))
	for i, ev := range events {
		if keep[i] {
			out = append(out, ev)
		}
	}
	return out
}

// instanceKey identifies one occurrence of a series by UID and start instant.
func instanceKey(uid string, at time.Time) string {
	return uid + "_" + at.UTC().Format("20060102T150405Z")
}

// effectiveEnd fills in a missing or inverted DTEND: all-day events last one
// day, timed events collapse to their start.
func effectiveEnd(ev ParsedEvent) time.Time {
	if ev.HasEnd && !ev.End.Before(ev.Start) && validInstant(ev.End) {
		if ev.AllDay && !model.CivilDate(ev.End).After(model.CivilDate(ev.Start)) {
			return ev.Start.AddDate(0, 0, 1)
		}
		return ev.End
	}
	if ev.AllDay {
		return ev.Start.AddDate(0, 0, 1)
	}
	return ev.Start
}

func validInstant(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	y := t.Year()
	return y >= 1 && y <= 9999
}

func toResolved(ev ParsedEvent, start, end time.Time) model.ResolvedEvent {
	dt := model.DateTypeDateTime
	if ev.AllDay {
		dt = model.DateTypeDate
	}
	var tz *string
	if ev.TZID != "" {
		name := ev.TZID
		tz = &name
	}
	return model.ResolvedEvent{
		Summary:     ev.Summary,
		Start:       start,
		End:         end,
		DateType:    dt,
		Timezone:    tz,
		Location:    ev.Location,
		Description: ev.Description,
		URL:         ev.URL,
		UID:         ev.UID,
	}
}
