// ABOUTME: Entry point for the ewelink-gateway MCP server
// ABOUTME: Provides serve, init, bootstrap and health subcommands

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/ewelink-gateway/internal/auth"
	"github.com/2389/ewelink-gateway/internal/config"
	"github.com/2389/ewelink-gateway/internal/gateway"
	"github.com/2389/ewelink-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   ┌─┐┬ ┬┌─┐┬  ┬┌┐┌┬┌─  ┌─┐┌─┐┌┬┐┌─┐┬ ┬┌─┐┬ ┬
   ├┤ │││├┤ │  ││││├┴┐  │ ┬├─┤ │ ├┤ │││├─┤└┬┘
   └─┘└┴┘└─┘┴─┘┴┘└┘┴ ┴  └─┘┴ ┴ ┴ └─┘└┴┘┴ ┴ ┴
`

// getConfigPath returns the path to the gateway config file.
// Priority: EWELINK_GATEWAY_CONFIG env var > XDG_CONFIG_HOME/ewelink-gateway/gateway.yaml > ~/.config/ewelink-gateway/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("EWELINK_GATEWAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ewelink-gateway", "gateway.yaml")
}

// getDataPath returns the path to the data directory.
// Priority: XDG_DATA_HOME/ewelink-gateway > ~/.local/share/ewelink-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "ewelink-gateway")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: ewelink-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                              Start the gateway server")
		fmt.Println("  init                               Create a new config file interactively")
		fmt.Println("  bootstrap --email EMAIL --name N   Create the first global admin and an operator token")
		fmt.Println("  health                             Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("MCP:       %s/mcp/{tenantId}/{principalId}\n", cfg.BaseURL())
	green.Print("    ▶ ")
	fmt.Printf("Audit:     %s\n", cfg.Audit.Backend)
	if cfg.Ewelink.AppID == "" {
		yellow.Print("    ▶ ")
		fmt.Printf("eWeLink:   not configured\n")
	} else {
		green.Print("    ▶ ")
		fmt.Printf("eWeLink:   region %s\n", cfg.Ewelink.Region)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting ewelink-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gateway.Version = version
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{level: level, mu: &sync.Mutex{}}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	write := func(a slog.Attr) {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprint(color.Output, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{mu: h.mu, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, level: h.level, attrs: h.attrs, groups: newGroups}
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := cfg.BaseURL() + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// bootstrapArgs holds the parsed bootstrap flags.
type bootstrapArgs struct {
	email string
	name  string
}

// parseBootstrapArgs accepts "--flag value" and "--flag=value" forms.
func parseBootstrapArgs(args []string) (bootstrapArgs, error) {
	var out bootstrapArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var key, value string
		if k, v, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(k, "-") {
			key, value = k, v
		} else {
			key = arg
			if !strings.HasPrefix(key, "-") {
				return out, fmt.Errorf("unexpected argument: %s", arg)
			}
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", key)
			}
			value = args[i+1]
			i++
		}

		switch key {
		case "--email", "-e":
			out.email = value
		case "--name", "-n":
			out.name = value
		default:
			return out, fmt.Errorf("unknown flag: %s", key)
		}
	}

	out.email = strings.TrimSpace(out.email)
	out.name = strings.TrimSpace(out.name)
	if out.email == "" {
		return out, errors.New("--email flag is required")
	}
	if _, err := mail.ParseAddress(out.email); err != nil {
		return out, fmt.Errorf("invalid email %q: %w", out.email, err)
	}
	if len(out.name) > 100 {
		return out, errors.New("display name exceeds maximum length of 100 characters")
	}
	return out, nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database and the first global admin
// 3. Generates an operator JWT for that admin
func runBootstrap(ctx context.Context, rawArgs []string) error {
	args, err := parseBootstrapArgs(rawArgs)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	var cfg *config.Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeBootstrapConfig(configPath, filepath.Join(dataPath, "gateway.db")); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err = config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	existing, err := s.FindAccountsByEmail(ctx, args.email)
	if err != nil {
		return fmt.Errorf("checking existing accounts: %w", err)
	}
	for _, a := range existing {
		if a.Kind == store.KindGlobalAdmin {
			return fmt.Errorf("bootstrap already complete: global admin %s exists for %s", a.ID, args.email)
		}
	}

	admin := &store.Account{
		ID:        uuid.New().String(),
		Kind:      store.KindGlobalAdmin,
		Email:     args.email,
		Name:      args.name,
		Status:    store.AccountActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateAccount(ctx, admin); err != nil {
		return fmt.Errorf("creating global admin: %w", err)
	}

	green.Printf("  ✓ Created global admin: %s\n", admin.Email)

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	// Default TTL: 30 days
	tokenTTL := 30 * 24 * time.Hour
	expiresAt := time.Now().Add(tokenTTL).UTC()

	token, err := verifier.Generate(admin.ID, tokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Global Admin")
	cyan.Println("  ------------")
	fmt.Printf("  ID:       %s\n", admin.ID)
	fmt.Printf("  Email:    %s\n", admin.Email)
	if admin.Name != "" {
		fmt.Printf("  Name:     %s\n", admin.Name)
	}
	fmt.Printf("  MCP URL:  %s/mcp/global/%s\n", cfg.BaseURL(), admin.ID)
	fmt.Printf("  Token:    %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    ewelink-gateway serve")
	fmt.Printf("    curl -X POST -H \"Authorization: Bearer $(cat %s)\" %s/mcp/cleanup\n", tokenPath, cfg.BaseURL())
	fmt.Println()

	return nil
}

// newJWTSecret returns a random base64 secret longer than auth.MinSecretLength.
func newJWTSecret() (string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(secretBytes), nil
}

// writeBootstrapConfig writes a minimal config with a random JWT secret.
func writeBootstrapConfig(configPath, dbPath string) error {
	jwtSecret, err := newJWTSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	configContent := fmt.Sprintf(`# ewelink-gateway configuration
# Generated by ewelink-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

sessions:
  idle_timeout: "24h"
  sweep_interval: "1h"

audit:
  backend: "sqlite"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("ewelink-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	publicURL := prompt(reader, "Public URL for discovery (leave empty to derive)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- eWeLink Configuration ---")
	appID := prompt(reader, "eWeLink app id (leave empty to disable device tools)", "")
	var appSecret, region string
	if appID != "" {
		appSecret = prompt(reader, "eWeLink app secret", "")
		region = prompt(reader, "eWeLink region (us/eu/as/cn)", config.DefaultEwelinkRegion)
	}

	fmt.Println("\n--- Audit Configuration ---")
	auditBackend := prompt(reader, "Audit backend (sqlite/redis/none)", "sqlite")
	var redisAddr string
	if auditBackend == "redis" {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "ewelink-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	jwtSecret, err := newJWTSecret()
	if err != nil {
		return err
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# ewelink-gateway configuration\n")
	cfg.WriteString("# Generated by ewelink-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if publicURL != "" {
		fmt.Fprintf(&cfg, "  public_url: %q\n", publicURL)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  jwt_secret: %q\n", jwtSecret)
	cfg.WriteString("\n")

	cfg.WriteString("sessions:\n")
	cfg.WriteString("  idle_timeout: \"24h\"\n")
	cfg.WriteString("  sweep_interval: \"1h\"\n")
	cfg.WriteString("  strict_lifecycle: false\n")
	cfg.WriteString("\n")

	if appID != "" {
		cfg.WriteString("ewelink:\n")
		fmt.Fprintf(&cfg, "  app_id: %q\n", appID)
		fmt.Fprintf(&cfg, "  app_secret: %q\n", appSecret)
		fmt.Fprintf(&cfg, "  region: %q\n", region)
		cfg.WriteString("\n")
	}

	cfg.WriteString("audit:\n")
	fmt.Fprintf(&cfg, "  backend: %q\n", auditBackend)
	if redisAddr != "" {
		cfg.WriteString("  redis:\n")
		fmt.Fprintf(&cfg, "    addr: %q\n", redisAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  ewelink-gateway bootstrap --email you@example.com")
	fmt.Println("  ewelink-gateway serve")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
