package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"taskpilot/internal/core"

	"github.com/go-chi/chi/v5"
)

type createCommandRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

type remoteEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type syncResponse struct {
	Synced   int    `json:"synced"`
	LastSync string `json:"lastSync,omitempty"`
}

func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	var commands []core.Command
	switch strings.TrimSpace(r.URL.Query().Get("scope")) {
	case "local":
		commands = s.commands.GetLocal(r.Context())
	case "remote":
		commands = s.commands.RemoteCache(r.Context())
	default:
		commands = s.commands.GetAll(r.Context())
	}
	if commands == nil {
		commands = []core.Command{}
	}
	writeJSON(w, http.StatusOK, commands)
}

func (s *Server) handleCreateCommand(w http.ResponseWriter, r *http.Request) {
	var req createCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "code is required")
		return
	}

	command := s.commands.Add(r.Context(), req.Name, req.Code, req.Description)
	if command == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to save command")
		return
	}
	writeJSON(w, http.StatusCreated, command)
}

func (s *Server) handleDeleteCommand(w http.ResponseWriter, r *http.Request) {
	commandID := chi.URLParam(r, "commandID")
	if !s.commands.Remove(r.Context(), commandID) {
		writeError(w, http.StatusNotFound, "not_found", "command not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncCommands(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil || s.remoteURL == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "no remote command URL configured")
		return
	}
	count, err := s.syncer.Sync(r.Context(), s.remoteURL)
	if err != nil {
		s.logger.Error("sync remote commands", "err", err)
		writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
		return
	}
	resp := syncResponse{Synced: count}
	if last := s.commands.LastSync(r.Context()); !last.IsZero() {
		resp.LastSync = last.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetRemoteEnabled(w http.ResponseWriter, r *http.Request) {
	var req remoteEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	s.commands.SetRemoteEnabled(r.Context(), req.Enabled)
	if !req.Enabled {
		s.commands.ClearRemoteCache(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}
