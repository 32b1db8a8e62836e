// ABOUTME: Operational endpoints: liveness, session status and manual cleanup
// ABOUTME: Status and cleanup sit behind the optional operator auth middleware

package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/auth"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/mcp"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

// SessionStatus is the body of GET /mcp/sessions/{sessionId}/status.
type SessionStatus struct {
	session.Snapshot
	IdleSeconds int64 `json:"idleSeconds"`
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionId")

	// Peek so that polling status does not keep a session alive.
	sess, ok := s.sessions.Peek(id)
	if !ok {
		writeRPCError(w, http.StatusNotFound, mcp.JSONRPCSessionNotFound, "session not found")
		return
	}

	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, SessionStatus{
		Snapshot:    snap,
		IdleSeconds: int64(s.now().Sub(snap.LastActivityAt) / time.Second),
	})
}

// CleanupResult is the body of POST /mcp/cleanup.
type CleanupResult struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.sessions.Sweep(s.idle)
	remaining := s.sessions.Count()

	var actor identity.Identity
	if op := auth.FromContext(r.Context()); op != nil {
		actor = identity.GlobalAdmin{ID: op.PrincipalID}
	}
	if s.recorder != nil {
		s.recorder.Record(audit.Event{
			Actor:    actor,
			Action:   store.AuditSessionsCleanup,
			Resource: "sessions",
			Detail:   map[string]any{"removed": removed, "remaining": remaining},
			At:       s.now().UTC(),
		})
	}

	s.logger.Info("manual session cleanup",
		"removed", removed,
		"remaining", remaining,
	)
	writeJSON(w, http.StatusOK, CleanupResult{Removed: removed, Remaining: remaining})
}
