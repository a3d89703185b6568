package api

import (
	"encoding/json"
	"net/http"

	"taskpilot/internal/core"
)

// exportPayload is the portable backup shape. Only local commands are
// included; remote commands are re-fetched from their source instead.
type exportPayload struct {
	Tasks    []core.Task    `json:"tasks"`
	Commands []core.Command `json:"commands"`
}

type importResponse struct {
	Tasks    int `json:"tasks"`
	Commands int `json:"commands"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	payload := exportPayload{
		Tasks:    s.tasks.ListAll(r.Context()),
		Commands: s.commands.Export(r.Context()),
	}
	if payload.Tasks == nil {
		payload.Tasks = []core.Task{}
	}
	if payload.Commands == nil {
		payload.Commands = []core.Command{}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var payload exportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	imported := importResponse{
		Commands: s.commands.Import(r.Context(), payload.Commands),
	}

	// Imported tasks get fresh identity; schedules recompute their next
	// fire time rather than trusting a stale exported value.
	for _, t := range payload.Tasks {
		if t.Name == "" || t.CommandID == "" {
			continue
		}
		task := core.NewTask(t.Name, t.CommandID, t.Schedule)
		task.Enabled = t.Enabled
		if !t.CreateTime.IsZero() {
			task.CreateTime = t.CreateTime
		}
		if added := s.tasks.Add(r.Context(), task); added != nil {
			imported.Tasks++
		}
	}
	s.engine.LoadScheduledTasks(r.Context())

	writeJSON(w, http.StatusOK, imported)
}
