// ABOUTME: The /mcp/{tenantId}/{principalId} endpoint: identity, session binding and dispatch
// ABOUTME: GET answers server-info/health/capabilities; POST runs one JSON-RPC message

package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/go-chi/chi/v5"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/mcp"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

var jsonMediaType = contenttype.NewMediaType("application/json")

// handleMCP is the single MCP endpoint supporting GET, POST and OPTIONS.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		handlePreflight(w, r)
		return
	case http.MethodGet, http.MethodPost:
	default:
		w.Header().Set("Allow", allowedMethods)
		writeRPCError(w, http.StatusMethodNotAllowed, mcp.JSONRPCInvalidRequest, "method not allowed")
		return
	}

	ident, ok := s.resolveIdentity(w, r)
	if !ok {
		return
	}

	ctx, deferred := audit.WithDeferred(r.Context())
	defer deferred.Flush(s.recorder)
	r = r.WithContext(ctx)

	if r.Method == http.MethodGet {
		sess, ok := s.bindSession(w, r, ident)
		if !ok {
			return
		}
		s.handleGet(w, r, sess)
		return
	}

	req, ok := s.readRequest(w, r)
	if !ok {
		return
	}
	sess, ok := s.bindSession(w, r, ident)
	if !ok {
		return
	}

	resp := s.dispatcher.Handle(ctx, sess, req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) resolveIdentity(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	tenantID := chi.URLParam(r, "tenantId")
	principalID := chi.URLParam(r, "principalId")

	ident, err := s.resolver.Resolve(r.Context(), tenantID, principalID)
	if err == nil {
		return ident, true
	}

	var re *identity.ResolveError
	switch {
	case errors.Is(err, identity.ErrNotFound):
		msg := "principal not found"
		if errors.As(err, &re) {
			msg = re.Reason
		}
		writeRPCError(w, http.StatusNotFound, mcp.JSONRPCInvalidRequest, msg)
	case errors.Is(err, identity.ErrForbidden):
		msg := "forbidden"
		if errors.As(err, &re) {
			msg = re.Reason
		}
		writeRPCError(w, http.StatusForbidden, mcp.JSONRPCInvalidRequest, msg)
	default:
		s.logger.Error("identity resolution failed",
			"tenant_id", tenantID,
			"principal_id", principalID,
			"error", err,
		)
		writeRPCError(w, http.StatusInternalServerError, mcp.JSONRPCInternalError, "internal error")
	}
	return nil, false
}

// bindSession resumes the session named by the request header or creates
// a new one, echoing its id in the response header.
func (s *Server) bindSession(w http.ResponseWriter, r *http.Request, ident identity.Identity) (*session.Session, bool) {
	if id := r.Header.Get(SessionHeader); id != "" {
		sess, err := s.sessions.Resume(id, ident)
		if err != nil {
			s.logger.Debug("unknown MCP session", "session_id", id, "principal_id", ident.PrincipalID())
			writeRPCError(w, http.StatusNotFound, mcp.JSONRPCSessionNotFound, "session not found")
			return nil, false
		}
		w.Header().Set(SessionHeader, sess.ID())
		return sess, true
	}

	sess := s.sessions.Create(ident)
	w.Header().Set(SessionHeader, sess.ID())

	audit.Defer(r.Context(), audit.Event{
		Actor:    ident,
		Action:   store.AuditSessionCreate,
		Resource: "session/" + sess.ID(),
		At:       s.now().UTC(),
	})
	return sess, true
}

// readRequest validates the POST body and decodes one JSON-RPC message.
func (s *Server) readRequest(w http.ResponseWriter, r *http.Request) (*mcp.JSONRPCRequest, bool) {
	if r.Header.Get("Content-Type") != "" {
		ctype, err := contenttype.GetMediaType(r)
		if err != nil || !ctype.Matches(jsonMediaType) {
			writeRPCError(w, http.StatusUnsupportedMediaType, mcp.JSONRPCInvalidRequest, "content-type must be application/json")
			return nil, false
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > MaxRequestBodySize {
		writeRPCError(w, http.StatusRequestEntityTooLarge, mcp.JSONRPCInvalidRequest, "request body too large")
		return nil, false
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "batch requests are not supported")
		return nil, false
	}

	var req mcp.JSONRPCRequest
	if err := json.Unmarshal(trimmed, &req); err != nil {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "invalid JSON")
		return nil, false
	}
	if req.JSONRPC != "2.0" {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "invalid JSON-RPC version")
		return nil, false
	}
	if !req.HasValidID() {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "id must be a string, number or null")
		return nil, false
	}
	if req.Method == "" {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidRequest, "method is required")
		return nil, false
	}
	return &req, true
}

type identityView struct {
	PrincipalID string        `json:"principalId"`
	Kind        identity.Kind `json:"kind"`
	TenantID    string        `json:"tenantId,omitempty"`
}

func viewOf(ident identity.Identity) identityView {
	return identityView{PrincipalID: ident.PrincipalID(), Kind: ident.Kind(), TenantID: ident.TenantID()}
}

// handleGet answers the read-only GET actions. It never runs the method table.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	protocolVersion := sess.ProtocolVersion()
	if protocolVersion == "" {
		protocolVersion = mcp.LatestProtocolVersion
	}

	switch r.URL.Query().Get("action") {
	case "server-info":
		writeJSON(w, http.StatusOK, map[string]any{
			"serverInfo":      s.dispatcher.ServerInfo(),
			"protocolVersion": protocolVersion,
			"capabilities":    s.dispatcher.Capabilities(),
			"sessionId":       sess.ID(),
			"sessionState":    sess.State(),
			"identity":        viewOf(sess.Identity()),
		})
	case "health":
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"sessionId": sess.ID(),
			"sessions":  s.sessions.Count(),
			"timestamp": s.now().UTC().Format(time.RFC3339),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"name":            s.dispatcher.ServerInfo().Name,
			"version":         s.dispatcher.ServerInfo().Version,
			"protocolVersion": protocolVersion,
			"capabilities":    s.dispatcher.Capabilities(),
			"transport":       "http",
			"sessionId":       sess.ID(),
		})
	}
}
