package core

import (
	"encoding/json"
	"strings"
	"time"
)

// ScheduleKind identifies how a schedule's next trigger time is derived.
type ScheduleKind string

const (
	ScheduleEveryMinute ScheduleKind = "every-minute"
	ScheduleEveryHour   ScheduleKind = "every-hour"
	ScheduleCustom      ScheduleKind = "custom"
	ScheduleInterval    ScheduleKind = "interval"
	ScheduleDaily       ScheduleKind = "daily"
	ScheduleWeekly      ScheduleKind = "weekly"
	ScheduleMonthly     ScheduleKind = "monthly"
)

const customPrefix = "custom:"

// Schedule is a recurrence descriptor. On the wire it is either a bare
// string ("every-minute", "every-hour", "custom:<five-field cron>") or a
// typed object such as {"type":"daily","time":"08:00"}. Unrecognized or
// malformed payloads are kept verbatim and evaluate as every-minute.
type Schedule struct {
	Kind       ScheduleKind
	Spec       string // cron spec carried by the custom: form
	Minutes    int    // interval
	Time       string // "HH:MM" for daily/weekly/monthly
	DayOfWeek  int    // 0 (Sunday) .. 6, weekly
	DayOfMonth int    // 1..31, monthly
	LastDay    bool   // monthly, dayOfMonth "last"

	raw json.RawMessage
}

// UnmarshalJSON never fails: a shape it cannot recognize is preserved
// as-is and falls back to the every-minute rule at evaluation time.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	*s = Schedule{}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		switch {
		case str == string(ScheduleEveryMinute):
			s.Kind = ScheduleEveryMinute
		case str == string(ScheduleEveryHour):
			s.Kind = ScheduleEveryHour
		case strings.HasPrefix(str, customPrefix):
			s.Kind = ScheduleCustom
			s.Spec = strings.TrimSpace(strings.TrimPrefix(str, customPrefix))
		default:
			s.raw = append(json.RawMessage(nil), data...)
		}
		return nil
	}

	var obj struct {
		Type       string          `json:"type"`
		Minutes    int             `json:"minutes"`
		Time       string          `json:"time"`
		DayOfWeek  *int            `json:"dayOfWeek"`
		DayOfMonth json.RawMessage `json:"dayOfMonth"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		s.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	switch ScheduleKind(obj.Type) {
	case ScheduleInterval:
		s.Kind = ScheduleInterval
		s.Minutes = obj.Minutes
	case ScheduleDaily:
		s.Kind = ScheduleDaily
		s.Time = obj.Time
	case ScheduleWeekly:
		s.Kind = ScheduleWeekly
		s.Time = obj.Time
		if obj.DayOfWeek != nil {
			s.DayOfWeek = *obj.DayOfWeek
		}
	case ScheduleMonthly:
		s.Kind = ScheduleMonthly
		s.Time = obj.Time
		if string(obj.DayOfMonth) == `"last"` {
			s.LastDay = true
		} else if len(obj.DayOfMonth) > 0 {
			_ = json.Unmarshal(obj.DayOfMonth, &s.DayOfMonth)
		}
	default:
		s.raw = append(json.RawMessage(nil), data...)
	}
	return nil
}

// MarshalJSON emits the same wire form each kind was parsed from, so
// exported data stays interchangeable with previously exported payloads.
func (s Schedule) MarshalJSON() ([]byte, error) {
	switch s.Kind {
	case ScheduleEveryMinute, ScheduleEveryHour:
		return json.Marshal(string(s.Kind))
	case ScheduleCustom:
		return json.Marshal(customPrefix + s.Spec)
	case ScheduleInterval:
		return json.Marshal(map[string]any{"type": "interval", "minutes": s.Minutes})
	case ScheduleDaily:
		return json.Marshal(map[string]any{"type": "daily", "time": s.Time})
	case ScheduleWeekly:
		return json.Marshal(map[string]any{"type": "weekly", "time": s.Time, "dayOfWeek": s.DayOfWeek})
	case ScheduleMonthly:
		day := any(s.DayOfMonth)
		if s.LastDay {
			day = "last"
		}
		return json.Marshal(map[string]any{"type": "monthly", "time": s.Time, "dayOfMonth": day})
	}
	if len(s.raw) > 0 {
		return append(json.RawMessage(nil), s.raw...), nil
	}
	return json.Marshal(string(ScheduleEveryMinute))
}

// ParseScheduleText interprets user-facing schedule input: JSON object
// payloads are decoded as-is, anything else is treated as the bare string
// form ("every-minute", "custom:*/5 * * * *", ...).
func ParseScheduleText(text string) Schedule {
	text = strings.TrimSpace(text)
	var s Schedule
	if strings.HasPrefix(text, "{") {
		_ = s.UnmarshalJSON([]byte(text))
		return s
	}
	quoted, _ := json.Marshal(text)
	_ = s.UnmarshalJSON(quoted)
	return s
}

// String renders the schedule in its wire form for logs and listings.
func (s Schedule) String() string {
	data, err := s.MarshalJSON()
	if err != nil {
		return string(ScheduleEveryMinute)
	}
	return strings.Trim(string(data), `"`)
}

// Task binds a stored command to a recurrence rule. NextRun is the single
// field the poll loop compares against the wall clock.
type Task struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	CommandID  string     `json:"commandId"`
	Schedule   Schedule   `json:"schedule"`
	Enabled    bool       `json:"enabled"`
	CreateTime time.Time  `json:"createTime"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	NextRun    time.Time  `json:"nextRun"`
}

// NewTask is the convenience constructor used by the management surfaces:
// enabled by default, timestamps assigned, NextRun left for the repository
// to compute at write time.
func NewTask(name, commandID string, schedule Schedule) *Task {
	return &Task{
		ID:         NewID(),
		Name:       name,
		CommandID:  commandID,
		Schedule:   schedule,
		Enabled:    true,
		CreateTime: time.Now().UTC(),
	}
}

// TaskPatch carries partial task updates. Nil fields are left untouched.
type TaskPatch struct {
	Name      *string
	CommandID *string
	Schedule  *Schedule
	Enabled   *bool
	LastRun   *time.Time
	NextRun   *time.Time
}

// Apply merges the patch into the task.
func (p TaskPatch) Apply(t *Task) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.CommandID != nil {
		t.CommandID = *p.CommandID
	}
	if p.Schedule != nil {
		t.Schedule = *p.Schedule
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	if p.LastRun != nil {
		v := *p.LastRun
		t.LastRun = &v
	}
	if p.NextRun != nil {
		t.NextRun = *p.NextRun
	}
}

// Command is a named, reusable snippet of executable code. Remote commands
// originate from a synced command list and are read-only locally.
type Command struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Code        string    `json:"code"`
	CreateTime  time.Time `json:"createTime"`
	IsRemote    bool      `json:"isRemote"`
	RemoteURL   string    `json:"remoteUrl,omitempty"`
}

// RunStatus describes the outcome of a single dispatch.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// Run captures one dispatch of a task.
type Run struct {
	ID        string     `json:"id"`
	TaskID    string     `json:"taskId"`
	TaskName  string     `json:"taskName"`
	Status    RunStatus  `json:"status"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	Error     *string    `json:"error,omitempty"`
	Result    *string    `json:"result,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
