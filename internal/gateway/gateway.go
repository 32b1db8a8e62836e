// ABOUTME: Gateway orchestrator that wires the store, sessions, dispatcher and HTTP transport
// ABOUTME: Manages listener setup (TCP or tsnet), the session sweeper and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/auth"
	"github.com/2389/ewelink-gateway/internal/config"
	"github.com/2389/ewelink-gateway/internal/devices"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/mcp"
	"github.com/2389/ewelink-gateway/internal/metrics"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
	"github.com/2389/ewelink-gateway/internal/transport"
)

// Version is reported as the MCP server version.
var Version = "1.0.0"

const shutdownTimeout = 5 * time.Second

// Gateway owns every long-lived component of the server.
type Gateway struct {
	config      *config.Config
	store       store.Store
	sessions    *session.Registry
	recorder    *audit.Recorder
	redis       *redis.Client
	registry    *prometheus.Registry
	metrics     *metrics.Metrics
	transport   *transport.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// initStore opens the SQLite store, honoring EWELINK_GATEWAY_DB_PATH.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("EWELINK_GATEWAY_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newAuditSink selects the audit backend. The returned client is non-nil
// only for the redis backend and must be closed on shutdown.
func newAuditSink(cfg config.AuditConfig, s store.AuditStore, logger *slog.Logger) (audit.Sink, *redis.Client, error) {
	switch cfg.Backend {
	case "none":
		logger.Warn("audit logging disabled")
		return audit.Discard{}, nil, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sink, err := audit.NewRedisSink(audit.RedisConfig{Client: client, Stream: cfg.Redis.Stream})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("creating redis audit sink: %w", err)
		}
		logger.Info("audit events written to redis", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
		return sink, client, nil
	default:
		return audit.NewStoreSink(s), nil, nil
	}
}

// newDeviceProvider builds the eWeLink client, or a provider that reports
// every principal as unlinked when no app is configured.
func newDeviceProvider(cfg config.EwelinkConfig, tokens devices.TokenSaver, logger *slog.Logger) (devices.Provider, error) {
	if cfg.AppID == "" {
		logger.Warn("ewelink.app_id not set - device tools will report accounts as not connected")
		return devices.Unconfigured{}, nil
	}

	client, err := devices.NewClient(devices.ClientConfig{
		AppID:     cfg.AppID,
		AppSecret: cfg.AppSecret,
		Region:    cfg.Region,
		BaseURL:   cfg.APIBaseURL,
		TokenURL:  cfg.TokenURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Tokens:    tokens,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating eWeLink client: %w", err)
	}
	return client, nil
}

// opsAuth returns the operator middleware when a JWT secret is configured.
func opsAuth(cfg config.AuthConfig, admins auth.AdminLookup, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.JWTSecret == "" {
		return nil, nil
	}
	verifier, err := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	logger.Info("operator auth enabled for session status and cleanup")
	return auth.RequireGlobalAdmin(admins, verifier, logger.With("component", "auth")), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	sqlStore, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw := &Gateway{
		config: cfg,
		store:  sqlStore,
		logger: logger.With("component", "gateway"),
	}
	if err := gw.build(sqlStore, logger); err != nil {
		_ = gw.closeComponents(context.Background())
		return nil, err
	}
	return gw, nil
}

func (g *Gateway) build(sqlStore *store.SQLiteStore, logger *slog.Logger) error {
	cfg := g.config

	g.registry, g.metrics = metrics.NewRegistry()

	g.sessions = session.NewRegistry(
		session.WithObserver(g.metrics),
		session.WithActivityRecorder(sqlStore),
		session.WithLogger(logger.With("component", "sessions")),
	)
	g.metrics.WatchSessions(g.sessions.Count)

	sink, redisClient, err := newAuditSink(cfg.Audit, sqlStore, logger)
	if err != nil {
		return err
	}
	g.redis = redisClient
	g.recorder = audit.NewRecorder(sink, cfg.Audit.QueueSize, logger)
	g.metrics.WatchAudit(g.recorder.Dropped, g.recorder.Failed)

	provider, err := newDeviceProvider(cfg.Ewelink, sqlStore, logger)
	if err != nil {
		return err
	}

	dispatcher, err := mcp.New(mcp.Config{
		Directory:       sqlStore,
		Credentials:     sqlStore,
		Devices:         provider,
		Logger:          logger.With("component", "mcp"),
		Observer:        g.metrics,
		ServerVersion:   Version,
		StrictLifecycle: cfg.Sessions.StrictLifecycle,
	})
	if err != nil {
		return fmt.Errorf("creating MCP dispatcher: %w", err)
	}

	guard, err := opsAuth(cfg.Auth, sqlStore, logger)
	if err != nil {
		return err
	}

	tcfg := transport.Config{
		Resolver:    identity.NewResolver(sqlStore),
		Sessions:    g.sessions,
		Dispatcher:  dispatcher,
		Directory:   sqlStore,
		Recorder:    g.recorder,
		Logger:      logger,
		Observer:    g.metrics,
		IdleTimeout: cfg.Sessions.IdleTimeout,
		PublicURL:   cfg.Server.PublicURL,
		OpsAuth:     guard,
	}
	if cfg.Metrics.Enabled {
		tcfg.MetricsPath = cfg.Metrics.Path
		tcfg.MetricsHandler = metrics.HandlerFor(g.registry)
		logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	g.transport, err = transport.New(tcfg)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.transport,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Handler returns the HTTP handler serving every gateway route.
func (g *Gateway) Handler() http.Handler {
	return g.transport
}

// Sessions returns the live session registry.
func (g *Gateway) Sessions() *session.Registry {
	return g.sessions
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}

	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run starts the HTTP server and the session sweeper and blocks until ctx
// is canceled. Returns nil on graceful shutdown or the server's error.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	g.sessions.Start(ctx, g.config.Sessions.SweepInterval, g.config.Sessions.IdleTimeout)

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	// The run context is already canceled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ewelink-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :80, :443 or a funnel.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, drains background work and closes the store.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	errs = append(errs, g.closeComponents(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// closeComponents releases everything New created, in dependency order.
// Safe on a partially built gateway.
func (g *Gateway) closeComponents(ctx context.Context) []error {
	var errs []error

	if g.sessions != nil {
		g.sessions.Close()
		g.sessions.WaitNotifications(ctx)
	}
	if g.recorder != nil {
		errs = appendCloseError(errs, "audit drain", g.recorder.Close(ctx))
	}
	if g.redis != nil {
		errs = appendCloseError(errs, "redis close", g.redis.Close())
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}
	return errs
}
