package model

import "time"

// DateType distinguishes all-day entries from timed ones.
type DateType string

const (
	DateTypeDate     DateType = "date"
	DateTypeDateTime DateType = "datetime"
)

// ResolvedEvent is a single UI-ready calendar entry: either a one-off event,
// a modified instance of a series, or an expanded occurrence of a series.
//
// Start and End are absolute instants. For all-day entries they sit at
// midnight of the display location and only their calendar date is
// meaningful; consumers must not shift them across zones.
type ResolvedEvent struct {
	Summary  string    `json:"summary"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	DateType DateType  `json:"dateType"`

	// Timezone is the IANA zone the event was authored in, or nil when the
	// source was UTC or floating.
	Timezone *string `json:"timezone"`

	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`

	UID string `json:"uid"`

	// RecurrenceInstanceKey identifies one occurrence of a series. Empty for
	// plain one-off events.
	RecurrenceInstanceKey string `json:"recurrenceInstanceKey,omitempty"`
}

// AllDay reports whether the event spans whole calendar days.
func (e ResolvedEvent) AllDay() bool {
	return e.DateType == DateTypeDate
}

// CivilDate returns the calendar date of t as read from t's own fields,
// encoded as midnight UTC. No zone conversion happens, so two dates compare
// equal exactly when their Y/M/D match.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
