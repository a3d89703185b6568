package api

import (
	"errors"
	"net/http"

	"taskpilot/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return
	}
	writeJSON(w, http.StatusOK, run)
}
