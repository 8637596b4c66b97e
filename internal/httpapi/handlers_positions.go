package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voltaforge/dlmmbot/internal/domain"
	"github.com/voltaforge/dlmmbot/internal/storage"
)

func (s *Server) listActivePositions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	rows, err := s.store.ListActivePositions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list active positions: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionDTOs(rows))
}

func (s *Server) listPositionHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	rows, err := s.store.ListPositionHistory(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list position history: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionDTOs(rows))
}

func (s *Server) listPositionsForBot(w http.ResponseWriter, r *http.Request) {
	row, _, ok := s.getOwnedBot(w, r)
	if !ok {
		return
	}
	rows, err := s.store.ListPositionsForBot(r.Context(), row.BotID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list bot positions: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, positionDTOs(rows))
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	positionID := chi.URLParam(r, "positionId")
	row, err := s.store.GetPosition(r.Context(), positionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get position: "+err.Error())
		return
	}
	if row.UserID != userID {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, positionDTOFromRow(row))
}

// closePosition handles a manual close request. The engine owns the
// actual close path; this calls it through CloseManually (the engine's
// CloseByID), which runs the close to completion on the request goroutine
// before the handler responds.
func (s *Server) closePosition(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authenticated user")
		return
	}
	positionID := chi.URLParam(r, "positionId")
	row, err := s.store.GetPosition(r.Context(), positionID)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get position: "+err.Error())
		return
	}
	if row.UserID != userID {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if row.Status != string(domain.PositionActive) {
		writeError(w, http.StatusConflict, "position is not active")
		return
	}
	if err := s.orchestrator.CloseManually(r.Context(), row.BotID, positionID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "close position: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing"})
}
