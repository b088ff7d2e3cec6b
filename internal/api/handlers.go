package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"seedforge/go-engine/internal/derivepool"
	"seedforge/go-engine/internal/engine"
	"seedforge/go-engine/internal/keyderive"
	"seedforge/go-engine/internal/observability"
	"seedforge/go-engine/internal/seedstream"
)

type deriveRequest struct {
	Phrase string `json:"phrase"`
	Inline bool   `json:"inline"`
}

type deriveResponse struct {
	Material *keyderive.KeyMaterial `json:"material"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return
	}
	if !s.limiter.Allow(clientKey(r), time.Now()) {
		s.writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	var req deriveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		s.writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	material, err := s.engine.DeriveKey(r.Context(), req.Phrase, engine.Options{Inline: req.Inline})
	if err != nil {
		s.writeJSON(w, r, deriveStatus(err), errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, r, http.StatusOK, deriveResponse{Material: material})
}

func deriveStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrPhraseRequired), errors.Is(err, seedstream.ErrSeedTooShort):
		return http.StatusBadRequest
	case errors.Is(err, derivepool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.engine.CacheStats())
}

func (s *Server) handleDiskInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.engine.DiskInfo())
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return
	}
	s.writeJSON(w, r, http.StatusOK, cleanupResponse{Removed: s.engine.CleanupExpired()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, r, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return
	}
	s.engine.ClearCache()
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.engine.PoolStats())
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	observability.RecordHTTPRequest(r.Method, r.URL.Path, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
