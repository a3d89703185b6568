package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCustomSpec validates the five-field spec carried by a "custom:"
// schedule (minute hour day month weekday) and returns the underlying
// cron schedule. Descriptor forms ("@hourly", "@every ...") are rejected.
func ParseCustomSpec(spec string) (cron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "@") {
		return nil, fmt.Errorf("only 5-field cron specs are supported")
	}
	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec: %w", err)
	}
	return schedule, nil
}

// NextOccurrences returns the next n trigger times for a schedule from a
// base time, used by the preview surfaces.
func NextOccurrences(s Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = NextRun(s, next)
		times = append(times, next)
	}
	return times
}
