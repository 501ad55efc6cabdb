package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/nextlevelbuilder/fable/internal/state"
	"github.com/nextlevelbuilder/fable/pkg/protocol"
)

// handleNewAdventure mints a fresh adventure and returns its id and session
// token. The token is shown exactly once.
func (s *Server) handleNewAdventure(w http.ResponseWriter, r *http.Request) {
	st, err := state.Create(s.opts.Config.Adventure.AdventuresDir)
	if err != nil {
		slog.Error("gateway.adventure_create_failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create adventure"})
		return
	}

	adv := st.Adventure()
	slog.Info("gateway.adventure_created", "adventure", adv.ID)
	writeJSON(w, http.StatusOK, map[string]string{
		"adventureId":  adv.ID,
		"sessionToken": adv.SessionToken,
	})
}

// handleAdventureMetadata serves the unauthenticated public view.
func (s *Server) handleAdventureMetadata(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	md, err := state.LoadMetadata(s.opts.Config.Adventure.AdventuresDir, id)
	if err != nil {
		switch {
		case errors.Is(err, state.ErrInvalidID):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid adventure id"})
		case errors.Is(err, state.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "adventure not found"})
		default:
			slog.Error("gateway.metadata_failed", "adventure", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load adventure"})
		}
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.opts.Version,
		"protocol":          protocol.ProtocolVersion,
		"activeConnections": s.ActiveConnections(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
