package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "stratusdash/internal/log"
	"stratusdash/internal/metrics"
	"stratusdash/internal/model"
)

// Resolution status values reported alongside a (possibly empty) list.
const (
	StatusOK            = "ok"
	StatusNotConfigured = "not_configured"
	StatusFetchFailed   = "fetch_failed"
	StatusParseFailed   = "parse_failed"
)

// Feeder downloads the raw text of a calendar feed.
type Feeder interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Result is the outcome of resolving one feed. Events is never nil.
//
// Err is informational: the list is empty on failure either way, and callers
// that only want events can ignore it.
type Result struct {
	Events     []model.ResolvedEvent
	Window     Window
	ResolvedAt time.Time
	Err        error
	configured bool
}

// Status summarises the result for API consumers.
func (r Result) Status() string {
	var fe *FetchError
	var pe *ParseError
	switch {
	case !r.configured:
		return StatusNotConfigured
	case r.Err == nil:
		return StatusOK
	case errors.As(r.Err, &fe):
		return StatusFetchFailed
	case errors.As(r.Err, &pe):
		return StatusParseFailed
	default:
		return StatusParseFailed
	}
}

// Service fetches, parses and resolves calendar feeds.
type Service struct {
	feeder Feeder
	loc    *time.Location
	now    func() time.Time
	opts   ResolveOptions
}

// NewService creates a Service resolving windows in loc (time.Local if nil).
func NewService(feeder Feeder, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		feeder: feeder,
		loc:    loc,
		now:    time.Now,
	}
}

// WithClock replaces the clock; used by tests and the one-shot CLI.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithMaxOccurrences caps how many occurrences one series may expand to.
func (s *Service) WithMaxOccurrences(n int) *Service {
	s.opts.MaxOccurrencesPerEvent = n
	return s
}

// Location returns the display location used for windows and floating times.
func (s *Service) Location() *time.Location {
	return s.loc
}

// Resolve returns the events of the feed at url within the window around
// now. It never fails: an empty url yields an empty result without I/O, and
// fetch or parse failures are logged and yield an empty list.
func (s *Service) Resolve(ctx context.Context, url string) (res Result) {
	url = strings.TrimSpace(url)
	now := s.now()
	res = Result{
		Events:     []model.ResolvedEvent{},
		Window:     WindowAround(now, s.loc),
		ResolvedAt: now,
	}
	if url == "" {
		return res
	}
	res.configured = true

	started := time.Now()
	defer func() {
		// A parser fault must not escape to the page.
		if p := recover(); p != nil {
			err := &ParseError{Err: fmt.Errorf("panic: %v", p)}
			appLog.Error("calendar resolve panicked", err, "url", redactURL(url))
			res.Events = []model.ResolvedEvent{}
			res.Err = err
		}
		metrics.ObserveResolve(res.Status(), len(res.Events), started)
	}()

	text, err := s.feeder.Fetch(ctx, url)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{URL: url, Err: err}
		}
		appLog.Error("calendar fetch failed", err, "url", redactURL(url))
		res.Err = err
		return res
	}

	events, err := ParseFeed(RewriteWindowsTimezones(text), s.loc)
	if err != nil {
		appLog.Error("calendar parse failed", err, "url", redactURL(url))
		res.Err = err
		return res
	}

	res.Events = Resolve(events, res.Window, s.opts)
	appLog.Info("calendar resolved",
		"url", redactURL(url),
		"parsed", len(events),
		"events", len(res.Events),
		"range_start", res.Window.Start.Format(time.RFC3339),
		"range_end", res.Window.End.Format(time.RFC3339),
	)
	return res
}
