package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NextRun computes the next trigger time for a schedule from "now". It is
// a pure function: no I/O, no clock access. Anything it cannot interpret
// (unknown kinds, malformed HH:MM times, unparsable cron specs) resolves
// to now + 1 minute.
func NextRun(s Schedule, now time.Time) time.Time {
	switch s.Kind {
	case ScheduleEveryMinute:
		return now.Add(time.Minute)

	case ScheduleEveryHour:
		// Top of the next hour: minutes, seconds and below zeroed.
		y, mo, d := now.Date()
		return time.Date(y, mo, d, now.Hour()+1, 0, 0, 0, now.Location())

	case ScheduleCustom:
		cs, err := ParseCustomSpec(s.Spec)
		if err != nil {
			return now.Add(time.Minute)
		}
		return cs.Next(now)

	case ScheduleInterval:
		if s.Minutes <= 0 {
			return now.Add(time.Minute)
		}
		return now.Add(time.Duration(s.Minutes) * time.Minute)

	case ScheduleDaily:
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return now.Add(time.Minute)
		}
		y, mo, d := now.Date()
		next := time.Date(y, mo, d, h, m, 0, 0, now.Location())
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next

	case ScheduleWeekly:
		h, m, err := parseHHMM(s.Time)
		if err != nil || s.DayOfWeek < 0 || s.DayOfWeek > 6 {
			return now.Add(time.Minute)
		}
		y, mo, d := now.Date()
		next := time.Date(y, mo, d, h, m, 0, 0, now.Location())
		daysAhead := s.DayOfWeek - int(now.Weekday())
		if daysAhead < 0 || (daysAhead == 0 && !next.After(now)) {
			daysAhead += 7
		}
		return next.AddDate(0, 0, daysAhead)

	case ScheduleMonthly:
		h, m, err := parseHHMM(s.Time)
		if err != nil {
			return now.Add(time.Minute)
		}
		y, mo, _ := now.Date()
		if s.LastDay {
			// Day 0 of the following month is the last day of this one.
			next := time.Date(y, mo+1, 0, h, m, 0, 0, now.Location())
			if !next.After(now) {
				next = time.Date(y, mo+2, 0, h, m, 0, 0, now.Location())
			}
			return next
		}
		if s.DayOfMonth < 1 {
			return now.Add(time.Minute)
		}
		// Days beyond the month's length normalize into the following
		// month; that calendar overflow is the accepted policy.
		next := time.Date(y, mo, s.DayOfMonth, h, m, 0, 0, now.Location())
		if !next.After(now) {
			next = time.Date(y, mo+1, s.DayOfMonth, h, m, 0, 0, now.Location())
		}
		return next
	}

	return now.Add(time.Minute)
}

func parseHHMM(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
