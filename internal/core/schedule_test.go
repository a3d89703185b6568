package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}

func TestNextRunEveryMinute(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:23:45Z")
	next := NextRun(Schedule{Kind: ScheduleEveryMinute}, now)
	assert.Equal(t, now.Add(time.Minute), next)
}

func TestNextRunEveryHour(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:23:45Z")
	next := NextRun(Schedule{Kind: ScheduleEveryHour}, now)
	assert.Equal(t, mustTime(t, "2026-03-10T15:00:00Z"), next)

	// Already at a whole hour still moves forward, never returns now.
	onTheHour := mustTime(t, "2026-03-10T14:00:00Z")
	assert.Equal(t, mustTime(t, "2026-03-10T15:00:00Z"), NextRun(Schedule{Kind: ScheduleEveryHour}, onTheHour))
}

func TestNextRunInterval(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:23:45Z")
	next := NextRun(Schedule{Kind: ScheduleInterval, Minutes: 45}, now)
	assert.Equal(t, now.Add(45*time.Minute), next)
}

func TestNextRunIntervalNonPositiveFallsBack(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:23:45Z")
	assert.Equal(t, now.Add(time.Minute), NextRun(Schedule{Kind: ScheduleInterval, Minutes: 0}, now))
	assert.Equal(t, now.Add(time.Minute), NextRun(Schedule{Kind: ScheduleInterval, Minutes: -5}, now))
}

func TestNextRunDaily(t *testing.T) {
	s := Schedule{Kind: ScheduleDaily, Time: "09:30"}

	t.Run("before today's time", func(t *testing.T) {
		now := mustTime(t, "2026-03-10T08:00:00Z")
		assert.Equal(t, mustTime(t, "2026-03-10T09:30:00Z"), NextRun(s, now))
	})

	t.Run("after today's time rolls to tomorrow", func(t *testing.T) {
		now := mustTime(t, "2026-03-10T10:00:00Z")
		assert.Equal(t, mustTime(t, "2026-03-11T09:30:00Z"), NextRun(s, now))
	})

	t.Run("exactly at the scheduled time rolls forward", func(t *testing.T) {
		now := mustTime(t, "2026-03-10T09:30:00Z")
		assert.Equal(t, mustTime(t, "2026-03-11T09:30:00Z"), NextRun(s, now))
	})
}

func TestNextRunWeekly(t *testing.T) {
	// 2026-03-10 is a Tuesday.
	s := Schedule{Kind: ScheduleWeekly, DayOfWeek: 1, Time: "08:00"} // Monday

	now := mustTime(t, "2026-03-10T12:00:00Z")
	next := NextRun(s, now)
	assert.Equal(t, mustTime(t, "2026-03-16T08:00:00Z"), next)
	assert.Equal(t, time.Monday, next.Weekday())

	t.Run("same weekday later today", func(t *testing.T) {
		tuesday := Schedule{Kind: ScheduleWeekly, DayOfWeek: 2, Time: "18:00"}
		assert.Equal(t, mustTime(t, "2026-03-10T18:00:00Z"), NextRun(tuesday, now))
	})

	t.Run("same weekday earlier today waits a full week", func(t *testing.T) {
		tuesday := Schedule{Kind: ScheduleWeekly, DayOfWeek: 2, Time: "08:00"}
		assert.Equal(t, mustTime(t, "2026-03-17T08:00:00Z"), NextRun(tuesday, now))
	})
}

func TestNextRunMonthly(t *testing.T) {
	t.Run("fixed day later this month", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, DayOfMonth: 15, Time: "10:00"}
		now := mustTime(t, "2026-03-10T12:00:00Z")
		assert.Equal(t, mustTime(t, "2026-03-15T10:00:00Z"), NextRun(s, now))
	})

	t.Run("fixed day already passed rolls to next month", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, DayOfMonth: 5, Time: "10:00"}
		now := mustTime(t, "2026-03-10T12:00:00Z")
		assert.Equal(t, mustTime(t, "2026-04-05T10:00:00Z"), NextRun(s, now))
	})

	t.Run("day 31 overflows short months", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, DayOfMonth: 31, Time: "10:00"}
		now := mustTime(t, "2026-04-01T12:00:00Z")
		// April has 30 days; day 31 normalizes to May 1st.
		assert.Equal(t, mustTime(t, "2026-05-01T10:00:00Z"), NextRun(s, now))
	})

	t.Run("last day of february", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, LastDay: true, Time: "23:00"}
		now := mustTime(t, "2026-02-10T12:00:00Z")
		assert.Equal(t, mustTime(t, "2026-02-28T23:00:00Z"), NextRun(s, now))
	})

	t.Run("last day of february in a leap year", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, LastDay: true, Time: "23:00"}
		now := mustTime(t, "2028-02-10T12:00:00Z")
		assert.Equal(t, mustTime(t, "2028-02-29T23:00:00Z"), NextRun(s, now))
	})

	t.Run("last day already passed rolls to next month's last day", func(t *testing.T) {
		s := Schedule{Kind: ScheduleMonthly, LastDay: true, Time: "08:00"}
		now := mustTime(t, "2026-01-31T09:00:00Z")
		assert.Equal(t, mustTime(t, "2026-02-28T08:00:00Z"), NextRun(s, now))
	})
}

func TestNextRunCustomCron(t *testing.T) {
	s := Schedule{Kind: ScheduleCustom, Spec: "0 9 * * 1-5"}
	// Friday evening: next weekday 09:00 is Monday.
	now := mustTime(t, "2026-03-13T18:00:00Z")
	assert.Equal(t, mustTime(t, "2026-03-16T09:00:00Z"), NextRun(s, now))
}

func TestNextRunCustomCronInvalidFallsBack(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:00:00Z")
	s := Schedule{Kind: ScheduleCustom, Spec: "not a cron"}
	assert.Equal(t, now.Add(time.Minute), NextRun(s, now))
}

func TestNextRunMalformedTimesFallBack(t *testing.T) {
	now := mustTime(t, "2026-03-10T14:00:00Z")
	fallback := now.Add(time.Minute)

	assert.Equal(t, fallback, NextRun(Schedule{Kind: ScheduleDaily, Time: "25:00"}, now))
	assert.Equal(t, fallback, NextRun(Schedule{Kind: ScheduleDaily, Time: "nope"}, now))
	assert.Equal(t, fallback, NextRun(Schedule{Kind: ScheduleWeekly, DayOfWeek: 9, Time: "08:00"}, now))
	assert.Equal(t, fallback, NextRun(Schedule{Kind: ScheduleMonthly, DayOfMonth: 0, Time: "08:00"}, now))
	assert.Equal(t, fallback, NextRun(Schedule{}, now))
}

func TestNextRunIsStrictlyAfterNow(t *testing.T) {
	now := mustTime(t, "2026-03-10T09:30:00Z")
	schedules := []Schedule{
		{Kind: ScheduleEveryMinute},
		{Kind: ScheduleEveryHour},
		{Kind: ScheduleCustom, Spec: "30 9 * * *"},
		{Kind: ScheduleInterval, Minutes: 10},
		{Kind: ScheduleDaily, Time: "09:30"},
		{Kind: ScheduleWeekly, DayOfWeek: 2, Time: "09:30"},
		{Kind: ScheduleMonthly, DayOfMonth: 10, Time: "09:30"},
		{Kind: ScheduleMonthly, LastDay: true, Time: "09:30"},
	}
	for _, s := range schedules {
		next := NextRun(s, now)
		assert.True(t, next.After(now), "schedule %s produced %s, not after %s", s.String(), next, now)
	}
}

func TestNextOccurrences(t *testing.T) {
	s := Schedule{Kind: ScheduleDaily, Time: "06:00"}
	base := mustTime(t, "2026-03-10T12:00:00Z")
	times := NextOccurrences(s, base, 3)
	require.Len(t, times, 3)
	assert.Equal(t, mustTime(t, "2026-03-11T06:00:00Z"), times[0])
	assert.Equal(t, mustTime(t, "2026-03-12T06:00:00Z"), times[1])
	assert.Equal(t, mustTime(t, "2026-03-13T06:00:00Z"), times[2])
}
