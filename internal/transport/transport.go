// ABOUTME: HTTP transport binding MCP sessions to requests on /mcp/{tenantId}/{principalId}
// ABOUTME: Builds the chi router with CORS, discovery, session status and cleanup endpoints

package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/mcp"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

// SessionHeader carries the session id in both directions.
const SessionHeader = "Mcp-Session-Id"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// IdentityResolver classifies the caller from the path segments.
type IdentityResolver interface {
	Resolve(ctx context.Context, tenantSegment, principalSegment string) (identity.Identity, error)
}

// Dispatcher runs JSON-RPC messages against a session.
type Dispatcher interface {
	Handle(ctx context.Context, sess *session.Session, req *mcp.JSONRPCRequest) *mcp.JSONRPCResponse
	ServerInfo() mcp.ServerInfo
	Capabilities() map[string]any
}

// DiscoveryDirectory is the directory subset used by discovery.
type DiscoveryDirectory interface {
	GetTenant(ctx context.Context, id string) (*store.Tenant, error)
	ListTenants(ctx context.Context, f store.TenantFilter) ([]store.Tenant, error)
	FindAccountsByEmail(ctx context.Context, email string) ([]store.Account, error)
}

// Observer counts responses per route.
type Observer interface {
	HTTPRequest(route string, status int)
}

// Config holds configuration for the transport.
type Config struct {
	Resolver   IdentityResolver
	Sessions   *session.Registry
	Dispatcher Dispatcher
	Directory  DiscoveryDirectory
	Recorder   *audit.Recorder
	Logger     *slog.Logger
	Observer   Observer

	// IdleTimeout is used by the cleanup endpoint.
	IdleTimeout time.Duration

	// PublicURL prefixes discovery URLs; derived from the request when empty.
	PublicURL string

	// OpsAuth guards the session status and cleanup endpoints. Nil leaves
	// them open.
	OpsAuth func(http.Handler) http.Handler

	// MetricsPath and MetricsHandler mount a metrics endpoint when both are set.
	MetricsPath    string
	MetricsHandler http.Handler

	Now func() time.Time
}

// Server is the HTTP handler for the gateway.
type Server struct {
	resolver   IdentityResolver
	sessions   *session.Registry
	dispatcher Dispatcher
	directory  DiscoveryDirectory
	recorder   *audit.Recorder
	logger     *slog.Logger
	observer   Observer
	idle       time.Duration
	publicURL  string
	now        func() time.Time

	router chi.Router
}

// New creates the transport and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Resolver == nil {
		return nil, errors.New("identity resolver is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session registry is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	idle := cfg.IdleTimeout
	if idle <= 0 {
		idle = 24 * time.Hour
	}

	s := &Server{
		resolver:   cfg.Resolver,
		sessions:   cfg.Sessions,
		dispatcher: cfg.Dispatcher,
		directory:  cfg.Directory,
		recorder:   cfg.Recorder,
		logger:     logger.With("component", "transport"),
		observer:   cfg.Observer,
		idle:       idle,
		publicURL:  strings.TrimRight(cfg.PublicURL, "/"),
		now:        now,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(s.observe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(w, http.StatusNotFound, mcp.JSONRPCInvalidRequest, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(w, http.StatusMethodNotAllowed, mcp.JSONRPCInvalidRequest, "method not allowed")
	})

	r.Get("/health", s.handleHealth)
	if cfg.MetricsPath != "" && cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}

	r.Get("/mcp/discover", s.handleDiscover)
	r.Options("/mcp/discover", handlePreflight)

	r.Group(func(r chi.Router) {
		if cfg.OpsAuth != nil {
			r.Use(cfg.OpsAuth)
		} else {
			s.logger.Warn("session status and cleanup endpoints are unauthenticated; set auth.jwt_secret to protect them")
		}
		r.Get("/mcp/sessions/{sessionId}/status", s.handleSessionStatus)
		r.Post("/mcp/cleanup", s.handleCleanup)
	})

	r.HandleFunc("/mcp/{tenantId}/{principalId}", s.handleMCP)

	s.router = r
	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

const (
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version"
)

// corsMiddleware applies permissive CORS headers to every response.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", allowedMethods)
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Set("Access-Control-Expose-Headers", SessionHeader)
		next.ServeHTTP(w, r)
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}

// observe logs each request and reports its status per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		if s.observer != nil {
			s.observer.HTTPRequest(route, status)
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", s.now().Sub(start),
		)
	})
}
