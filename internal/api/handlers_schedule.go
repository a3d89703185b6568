package api

import (
	"encoding/json"
	"net/http"
	"time"

	"taskpilot/internal/core"
)

type schedulePreviewRequest struct {
	Schedule json.RawMessage `json:"schedule"`
	Now      string          `json:"now,omitempty"`
	Count    int             `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Schedule  core.Schedule `json:"schedule"`
	NextTimes []string      `json:"next_times"`
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if len(req.Schedule) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "schedule is required")
		return
	}

	var schedule core.Schedule
	_ = schedule.UnmarshalJSON(req.Schedule)

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := core.NextOccurrences(schedule, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Schedule: schedule, NextTimes: formatted})
}
