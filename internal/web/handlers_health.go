package web

import "net/http"

// handleHealth reports that the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports whether the server accepts new uploads.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":         "ready",
		"sessions":       s.sessions.Len(),
		"uploads_active": s.limiter.ActiveCount(),
	})
}
