package agenda

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"stratusdash/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func mustLoad(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func timed(summary string, start time.Time, d time.Duration) model.ResolvedEvent {
	return model.ResolvedEvent{
		Summary:  summary,
		Start:    start,
		End:      start.Add(d),
		DateType: model.DateTypeDateTime,
		UID:      summary,
	}
}

func allDay(summary string, loc *time.Location, y int, m time.Month, d, days int) model.ResolvedEvent {
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return model.ResolvedEvent{
		Summary:  summary,
		Start:    start,
		End:      start.AddDate(0, 0, days),
		DateType: model.DateTypeDate,
		UID:      summary,
	}
}

func titles(events []model.ResolvedEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Summary)
	}
	return out
}

func TestFilterDay_Standup(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, loc)
	events := []model.ResolvedEvent{
		timed("Standup", time.Date(2024, 1, 10, 9, 0, 0, 0, loc), 15*time.Minute),
	}

	got, err := FilterDay(events, now, loc, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Standup"}, titles(got))

	for _, off := range []int{-1, 1} {
		got, err = FilterDay(events, now, loc, off)
		require.NoError(t, err)
		assert.Empty(t, got, "offset %d", off)
	}
}

func TestFilterDay_TimedBoundaries(t *testing.T) {
	loc := mustLoad(t, "Europe/Vilnius")
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, loc)
	day := time.Date(2024, 5, 20, 0, 0, 0, 0, loc)

	events := []model.ResolvedEvent{
		timed("Overnight into today", day.Add(-2*time.Hour), 3*time.Hour),
		timed("Ends at midnight", day.Add(-time.Hour), time.Hour),
		timed("Starts at next midnight", day.Add(24*time.Hour), time.Hour),
		timed("Reminder", day.Add(10*time.Hour), 0),
		timed("Lunch", day.Add(12*time.Hour), time.Hour),
	}

	got, err := FilterDay(events, now, loc, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Overnight into today", "Reminder", "Lunch"}, titles(got))
}

func TestFilterDay_AllDayIgnoresZones(t *testing.T) {
	auckland := mustLoad(t, "Pacific/Auckland")
	display := mustLoad(t, "America/Los_Angeles")
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, display)

	// Authored at Auckland midnight, which is still Jan 9 in Los Angeles.
	events := []model.ResolvedEvent{
		allDay("Holiday", auckland, 2024, 1, 10, 1),
		allDay("Conference", display, 2024, 1, 9, 3),
	}

	got, err := FilterDay(events, now, display, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Conference", "Holiday"}, titles(got))

	got, err = FilterDay(events, now, display, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Conference"}, titles(got))

	got, err = FilterDay(events, now, display, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Conference"}, titles(got))

	// The end date is exclusive.
	got, err = FilterDay(events, now, display, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFilterDay_SortedStable(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, loc)
	at := time.Date(2024, 1, 10, 9, 0, 0, 0, loc)

	events := []model.ResolvedEvent{
		timed("B", at, time.Hour),
		timed("A", at.Add(-time.Hour), time.Hour),
		timed("C", at, time.Hour),
	}
	got, err := FilterDay(events, now, loc, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, titles(got))
}

func TestFilterDay_OffsetBounds(t *testing.T) {
	now := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

	for _, off := range []int{MinOffset, 0, MaxOffset} {
		got, err := FilterDay(nil, now, time.UTC, off)
		assert.NoError(t, err, "offset %d", off)
		assert.NotNil(t, got)
	}
	for _, off := range []int{MinOffset - 1, MaxOffset + 1} {
		_, err := FilterDay(nil, now, time.UTC, off)
		assert.ErrorIs(t, err, ErrOffsetOutOfRange, "offset %d", off)
	}
}

func TestNavigation(t *testing.T) {
	loc := mustLoad(t, "Europe/Vilnius")
	now := time.Date(2024, 3, 30, 23, 30, 0, 0, loc)

	nav, err := Navigation(now, loc, 1)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-31", nav.Date)
	assert.True(t, nav.CanPrev)
	assert.True(t, nav.CanNext)
	// DST starts on 2024-03-31 in Vilnius.
	assert.Equal(t, 23*time.Hour, nav.DayTo.Sub(nav.DayFrom))

	nav, err = Navigation(now, loc, MinOffset)
	require.NoError(t, err)
	assert.False(t, nav.CanPrev)
	assert.Equal(t, "2024-03-26", nav.Date)

	nav, err = Navigation(now, loc, MaxOffset)
	require.NoError(t, err)
	assert.False(t, nav.CanNext)
	assert.Equal(t, "2024-04-13", nav.Date)

	_, err = Navigation(now, loc, MaxOffset+1)
	assert.ErrorIs(t, err, ErrOffsetOutOfRange)
}
