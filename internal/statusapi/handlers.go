// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ManuGH/ztc/internal/approval"
)

type sessionsResponse struct {
	ProtocolVersion string `json:"protocol_version"`
	Sessions        any    `json:"sessions"`
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, sessionsResponse{
		ProtocolVersion: s.src.NegotiatedVersion(),
		Sessions:        s.src.Sessions(),
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}
	for _, info := range s.src.Sessions() {
		if info.ID == id {
			s.writeJSON(w, http.StatusOK, info)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "session not found")
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request) {
	pending := s.src.Pending()
	if pending == nil {
		pending = []approval.PendingAction{}
	}
	s.writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.src.Channels())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, detail string) {
	s.writeJSON(w, code, map[string]string{"error": detail})
}
