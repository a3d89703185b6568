package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleUnmarshalStringForms(t *testing.T) {
	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`"every-minute"`), &s))
	assert.Equal(t, ScheduleEveryMinute, s.Kind)

	require.NoError(t, json.Unmarshal([]byte(`"every-hour"`), &s))
	assert.Equal(t, ScheduleEveryHour, s.Kind)

	require.NoError(t, json.Unmarshal([]byte(`"custom:*/5 * * * *"`), &s))
	assert.Equal(t, ScheduleCustom, s.Kind)
	assert.Equal(t, "*/5 * * * *", s.Spec)
}

func TestScheduleUnmarshalObjectForms(t *testing.T) {
	var s Schedule
	require.NoError(t, json.Unmarshal([]byte(`{"type":"interval","minutes":30}`), &s))
	assert.Equal(t, ScheduleInterval, s.Kind)
	assert.Equal(t, 30, s.Minutes)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"daily","time":"08:00"}`), &s))
	assert.Equal(t, ScheduleDaily, s.Kind)
	assert.Equal(t, "08:00", s.Time)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"weekly","dayOfWeek":0,"time":"10:15"}`), &s))
	assert.Equal(t, ScheduleWeekly, s.Kind)
	assert.Equal(t, 0, s.DayOfWeek)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"monthly","dayOfMonth":15,"time":"12:00"}`), &s))
	assert.Equal(t, ScheduleMonthly, s.Kind)
	assert.Equal(t, 15, s.DayOfMonth)
	assert.False(t, s.LastDay)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"monthly","dayOfMonth":"last","time":"12:00"}`), &s))
	assert.Equal(t, ScheduleMonthly, s.Kind)
	assert.True(t, s.LastDay)
}

func TestScheduleUnmarshalNeverFails(t *testing.T) {
	payloads := []string{
		`"no-such-rule"`,
		`{"type":"lunar","phase":"full"}`,
		`42`,
		`["every-minute"]`,
	}
	for _, payload := range payloads {
		var s Schedule
		require.NoError(t, json.Unmarshal([]byte(payload), &s), "payload %s", payload)
		// Unknown shapes evaluate as every-minute but round-trip verbatim.
		out, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, payload, string(out))
	}
}

func TestScheduleMarshalRoundTrip(t *testing.T) {
	cases := []string{
		`"every-minute"`,
		`"every-hour"`,
		`"custom:0 9 * * 1-5"`,
		`{"type":"interval","minutes":90}`,
		`{"type":"daily","time":"23:45"}`,
		`{"type":"weekly","dayOfWeek":6,"time":"07:00"}`,
		`{"type":"monthly","dayOfMonth":"last","time":"18:00"}`,
	}
	for _, wire := range cases {
		var s Schedule
		require.NoError(t, json.Unmarshal([]byte(wire), &s))
		out, err := json.Marshal(s)
		require.NoError(t, err)
		assert.JSONEq(t, wire, string(out))
	}
}

func TestParseScheduleText(t *testing.T) {
	s := ParseScheduleText("every-hour")
	assert.Equal(t, ScheduleEveryHour, s.Kind)

	s = ParseScheduleText(`{"type":"daily","time":"06:30"}`)
	assert.Equal(t, ScheduleDaily, s.Kind)
	assert.Equal(t, "06:30", s.Time)

	s = ParseScheduleText("")
	assert.Equal(t, "every-minute", s.String())
}

func TestNewTaskDefaults(t *testing.T) {
	task := NewTask("backup", "cmd-1", Schedule{Kind: ScheduleEveryHour})
	assert.NotEmpty(t, task.ID)
	assert.True(t, task.Enabled)
	assert.False(t, task.CreateTime.IsZero())
	assert.True(t, task.NextRun.IsZero())
	assert.Nil(t, task.LastRun)
}

func TestTaskPatchApply(t *testing.T) {
	task := NewTask("old", "cmd-1", Schedule{Kind: ScheduleEveryMinute})

	name := "new"
	enabled := false
	schedule := Schedule{Kind: ScheduleDaily, Time: "09:00"}
	TaskPatch{Name: &name, Enabled: &enabled, Schedule: &schedule}.Apply(task)

	assert.Equal(t, "new", task.Name)
	assert.False(t, task.Enabled)
	assert.Equal(t, ScheduleDaily, task.Schedule.Kind)
	assert.Equal(t, "cmd-1", task.CommandID, "untouched fields survive")
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}
