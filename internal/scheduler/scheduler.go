// Package scheduler re-warms the calendar cache on a cron schedule so page
// loads rarely wait on a feed download.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"stratusdash/internal/ics"
	appLog "stratusdash/internal/log"
)

// Refresher is the part of the feed cache the scheduler drives.
type Refresher interface {
	Refresh(ctx context.Context, url string) ics.Result
}

// Scheduler runs a refresh of the configured feed on each cron tick.
type Scheduler struct {
	cron      *cron.Cron
	refresher Refresher
	url       func() string
	timeout   time.Duration
}

// New parses schedule (standard 5-field cron) and prepares the job. url is read
// on every tick so settings changes are picked up without a restart.
func New(schedule string, refresher Refresher, url func() string, timeout time.Duration) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s := &Scheduler{
		cron:      c,
		refresher: refresher,
		url:       url,
		timeout:   timeout,
	}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("scheduler: invalid refresh schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("calendar refresh scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for a running job to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// Next reports when the refresh job runs next.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) tick() {
	url := s.url()
	if url == "" {
		return
	}
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res := s.refresher.Refresh(ctx, url)
	appLog.Debug("calendar refresh tick", "url", ics.RedactURL(url), "status", res.Status(), "events", len(res.Events))
}
