package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"taskpilot/internal/core"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Name      string          `json:"name"`
	CommandID string          `json:"commandId"`
	Schedule  json.RawMessage `json:"schedule"`
	Enabled   *bool           `json:"enabled"`
}

type updateTaskRequest struct {
	Name      *string         `json:"name"`
	CommandID *string         `json:"commandId"`
	Schedule  json.RawMessage `json:"schedule"`
	Enabled   *bool           `json:"enabled"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.CommandID = strings.TrimSpace(req.CommandID)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if req.CommandID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "commandId is required")
		return
	}

	var schedule core.Schedule
	if len(req.Schedule) > 0 {
		_ = schedule.UnmarshalJSON(req.Schedule)
	} else {
		schedule = core.ParseScheduleText("")
	}

	task := core.NewTask(req.Name, req.CommandID, schedule)
	if req.Enabled != nil {
		task.Enabled = *req.Enabled
	}

	created := s.tasks.Add(r.Context(), task)
	if created == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save task")
		return
	}
	if created.Enabled {
		s.engine.AddScheduledTask(*created)
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.tasks.ListAll(r.Context())
	if enabledParam := strings.TrimSpace(r.URL.Query().Get("enabled")); enabledParam != "" {
		want := enabledParam == "true" || enabledParam == "1"
		filtered := tasks[:0]
		for _, t := range tasks {
			if t.Enabled == want {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = []core.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, ok := s.tasks.Get(r.Context(), taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.tasks.Get(r.Context(), taskID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	patch := core.TaskPatch{Enabled: req.Enabled}
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "name cannot be empty")
			return
		}
		patch.Name = &trimmed
	}
	if req.CommandID != nil {
		trimmed := strings.TrimSpace(*req.CommandID)
		if trimmed == "" {
			writeError(w, http.StatusBadRequest, "invalid_input", "commandId cannot be empty")
			return
		}
		patch.CommandID = &trimmed
	}
	if len(req.Schedule) > 0 {
		var schedule core.Schedule
		_ = schedule.UnmarshalJSON(req.Schedule)
		patch.Schedule = &schedule
	}

	if !s.tasks.Update(r.Context(), taskID, patch) {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update task")
		return
	}

	// Push the stored record into the engine rather than the raw patch: the
	// repository recomputes NextRun on schedule changes, and a re-enabled
	// task has no in-memory copy to patch.
	task, ok := s.tasks.Get(r.Context(), taskID)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load task")
		return
	}
	if task.Enabled {
		s.engine.AddScheduledTask(*task)
	} else {
		s.engine.RemoveScheduledTask(taskID)
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.tasks.Get(r.Context(), taskID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if !s.tasks.Remove(r.Context(), taskID) {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete task")
		return
	}
	s.engine.RemoveScheduledTask(taskID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	err := s.engine.RunNow(r.Context(), taskID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID, "status": "started"})
	case errors.Is(err, core.ErrTaskRunning):
		writeError(w, http.StatusConflict, "conflict", "task is already running")
	case errors.Is(err, core.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	default:
		s.logger.Error("run task now", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start task")
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.tasks.Get(r.Context(), taskID); !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}

	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	runs, err := s.runs.List(r.Context(), taskID, limit, offset)
	if err != nil {
		s.logger.Error("list runs", "task_id", taskID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	if runs == nil {
		runs = []*core.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
