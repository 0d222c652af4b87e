package ics

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	appLog "stratusdash/internal/log"
	"stratusdash/internal/model"
)

// feed wraps VEVENT/VTODO/... bodies in a VCALENDAR with CRLF line endings.
func feed(components ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Stratus Dash//Tests//EN",
	}
	for _, c := range components {
		lines = append(lines, strings.Split(strings.TrimSpace(c), "\n")...)
	}
	lines = append(lines, "END:VCALENDAR")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

// vevent builds a VEVENT from property lines.
func vevent(props ...string) string {
	return "BEGIN:VEVENT\n" + strings.Join(props, "\n") + "\nEND:VEVENT"
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

// observeLogs routes the package logger into an in-memory observer for the
// duration of the test.
func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	appLog.Use(zap.New(core))
	t.Cleanup(func() { appLog.Use(zap.NewNop()) })
	return logs
}

func summaries(events []model.ResolvedEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Summary)
	}
	return out
}
