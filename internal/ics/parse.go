package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	ical "github.com/arran4/golang-ical"

	appLog "stratusdash/internal/log"
)

const (
	propRecurrenceID = ical.ComponentProperty("RECURRENCE-ID")
	propStatus       = ical.ComponentProperty("STATUS")
	propURL          = ical.ComponentProperty("URL")

	statusCancelled = "CANCELLED"
)

// ParseError reports a feed that could not be parsed as iCalendar text.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "parse feed: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ParsedEvent is the normalized representation of a VEVENT as produced by
// the feed parser. Recurrences are not expanded here.
type ParsedEvent struct {
	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	URL         string
	Status      string

	// Start/End carry the authored zone as their Location. A zero Start
	// means DTSTART was missing or unreadable.
	Start  time.Time
	End    time.Time
	HasEnd bool
	AllDay bool

	// TZID is the IANA zone the event was authored in; empty for UTC and
	// floating times.
	TZID string

	RawRRule     string
	ExDates      []time.Time
	RecurrenceID *time.Time
}

// Cancelled reports STATUS:CANCELLED.
func (e ParsedEvent) Cancelled() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), statusCancelled)
}

// IsOverride reports whether the record replaces one occurrence of a series.
func (e ParsedEvent) IsOverride() bool {
	return e.RecurrenceID != nil
}

// Recurring reports whether the record carries an RRULE.
func (e ParsedEvent) Recurring() bool {
	return e.RawRRule != ""
}

// ParseFeed parses iCalendar text into VEVENT records. Floating times and
// all-day dates are placed in loc. Other component kinds are discarded.
func ParseFeed(text string, loc *time.Location) ([]ParsedEvent, error) {
	if loc == nil {
		loc = time.Local
	}
	if err := validateFeed(text); err != nil {
		return nil, &ParseError{Err: err}
	}

	cal, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	events := make([]ParsedEvent, 0)
	for _, ve := range cal.Events() {
		ev, perr := parseVEvent(ve, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Debug("ics vevent skipped", "reason", perr.Error())
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "event_count", len(events))
	return events, nil
}

// validateFeed rejects bodies that are obviously not iCalendar, such as a
// login page served in place of a private feed.
func validateFeed(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return errors.New("empty feed")
	}
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		preview := trimmed
		if len(preview) > 40 {
			preview = preview[:40]
		}
		return fmt.Errorf("expected BEGIN:VCALENDAR, got %q", preview)
	}
	return nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ParsedEvent, error) {
	var out ParsedEvent

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.UID = strings.TrimSpace(uidProp.Value)

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.URL = propValue(ve, propURL)
	out.Status = strings.ToUpper(propValue(ve, propStatus))

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		tv, err := decodeTime(p.Value, p.ICalParameters, loc)
		if err != nil {
			appLog.Debug("ics DTSTART unreadable", "uid", out.UID, "value", p.Value)
		} else {
			out.Start = tv.t
			out.AllDay = tv.allDay
			out.TZID = tv.tzid
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
		tv, err := decodeTime(p.Value, p.ICalParameters, loc)
		if err == nil {
			out.End = tv.t
			out.HasEnd = true
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimPrefix(strings.TrimSpace(p.Value), "RRULE:")
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			if tv, err := decodeTime(part, p.ICalParameters, loc); err == nil {
				out.ExDates = append(out.ExDates, tv.t)
			}
		}
	}

	if p := ve.GetProperty(propRecurrenceID); p != nil {
		if tv, err := decodeTime(p.Value, p.ICalParameters, loc); err == nil {
			rid := tv.t
			out.RecurrenceID = &rid
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, prop ical.ComponentProperty) string {
	if p := ve.GetProperty(prop); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

type timeValue struct {
	t      time.Time
	allDay bool
	tzid   string
}

// decodeTime reads an iCalendar DATE or DATE-TIME value.
//
//   - VALUE=DATE or an 8-digit value: all-day, midnight of that date in loc.
//   - trailing Z: UTC.
//   - TZID parameter: wall clock in that zone.
//   - otherwise floating: wall clock in loc.
//
// Floating values and unknown TZIDs are read in the display zone rather than
// UTC, so an unzoned series recurs at the wall-clock time the viewer sees.
func decodeTime(value string, params map[string][]string, loc *time.Location) (timeValue, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return timeValue{}, errors.New("empty time value")
	}

	isDate := strings.EqualFold(firstParam(params, "VALUE"), "DATE") || (len(v) == 8 && !strings.Contains(v, "T"))
	if isDate {
		if len(v) < 8 {
			return timeValue{}, fmt.Errorf("invalid date %q", v)
		}
		d, err := time.ParseInLocation("20060102", v[:8], loc)
		if err != nil {
			return timeValue{}, err
		}
		return timeValue{t: d, allDay: true}, nil
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return timeValue{}, err
		}
		return timeValue{t: t.UTC()}, nil
	}

	zone := loc
	tzid := ""
	if name := strings.Trim(firstParam(params, "TZID"), `"`); name != "" {
		if z, ok := lookupZone(name); ok {
			zone = z
			if !isUTCZone(z) {
				tzid = z.String()
			}
		} else {
			appLog.Debug("ics unknown TZID; treating as floating", "tzid", name)
		}
	}

	t, err := time.ParseInLocation("20060102T150405", v, zone)
	if err != nil {
		return timeValue{}, err
	}
	return timeValue{t: t, tzid: tzid}, nil
}

// lookupZone resolves an IANA name, falling back to the Windows table for
// names that slipped past the raw-text rewrite (e.g. folded lines).
func lookupZone(name string) (*time.Location, bool) {
	if name == "Local" {
		return nil, false
	}
	if z, err := time.LoadLocation(name); err == nil {
		return z, true
	}
	if iana, ok := IANAZone(name); ok {
		if z, err := time.LoadLocation(iana); err == nil {
			return z, true
		}
	}
	return nil, false
}

func isUTCZone(z *time.Location) bool {
	switch z.String() {
	case "UTC", "Etc/UTC", "Etc/GMT", "GMT", "Etc/Zulu", "Zulu", "Etc/UCT", "UCT":
		return true
	}
	return false
}

func firstParam(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}
