// ABOUTME: Protocol dispatcher running one JSON-RPC message against an MCP session
// ABOUTME: Owns the initialize handshake, method routing and the catalogs of tools, resources and prompts

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/ewelink-gateway/internal/devices"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

// Observer is notified after each handled request and tool call.
// Code is zero for successful responses.
type Observer interface {
	RequestHandled(method string, code int, elapsed time.Duration)
	ToolCalled(tool string, isError bool)
}

// Config holds configuration for the dispatcher.
type Config struct {
	Directory   store.Directory
	Credentials devices.CredentialSource
	Devices     devices.Provider
	Logger      *slog.Logger
	Observer    Observer

	// ServerName and ServerVersion are reported in initialize.
	ServerName    string
	ServerVersion string

	// StrictLifecycle rejects non-lifecycle requests before the handshake completes.
	StrictLifecycle bool

	// Tools are appended to the built-in tool table. A tool with a nil
	// Handler is listed but reports NotImplemented when called.
	Tools []Tool

	Now func() time.Time
}

// Dispatcher routes JSON-RPC messages. It holds no per-session state; all
// session data lives on the *session.Session passed to Handle.
type Dispatcher struct {
	directory   store.Directory
	credentials devices.CredentialSource
	devices     devices.Provider
	logger      *slog.Logger
	observer    Observer
	info        ServerInfo
	strict      bool
	now         func() time.Time

	tools     []Tool
	toolIndex map[string]*Tool
}

// New creates a dispatcher with the given configuration.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Directory == nil {
		return nil, errors.New("directory is required")
	}
	if cfg.Devices == nil {
		return nil, errors.New("device provider is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	info := ServerInfo{Name: cfg.ServerName, Version: cfg.ServerVersion}
	if info.Name == "" {
		info.Name = "ewelink-gateway"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	d := &Dispatcher{
		directory:   cfg.Directory,
		credentials: cfg.Credentials,
		devices:     cfg.Devices,
		logger:      logger.With("component", "mcp"),
		observer:    cfg.Observer,
		info:        info,
		strict:      cfg.StrictLifecycle,
		now:         now,
	}

	d.tools = append(d.builtinTools(), cfg.Tools...)
	d.toolIndex = make(map[string]*Tool, len(d.tools))
	for i := range d.tools {
		t := &d.tools[i]
		if t.Name == "" {
			return nil, errors.New("tool name is required")
		}
		if _, dup := d.toolIndex[t.Name]; dup {
			return nil, errors.New("duplicate tool: " + t.Name)
		}
		if len(t.InputSchema) == 0 {
			t.InputSchema = json.RawMessage(`{"type":"object"}`)
		}
		d.toolIndex[t.Name] = t
	}

	return d, nil
}

// ServerInfo returns the name and version reported to clients.
func (d *Dispatcher) ServerInfo() ServerInfo { return d.info }

// Capabilities returns the server capability object advertised in initialize.
func (d *Dispatcher) Capabilities() map[string]any {
	return map[string]any{
		"tools":     map[string]any{"listChanged": false},
		"resources": map[string]any{"subscribe": false, "listChanged": false},
		"prompts":   map[string]any{"listChanged": false},
	}
}

const instructions = "Use list_devices to discover the caller's eWeLink devices, " +
	"get_device_status to read their state and control_device to change it."

// methods that pass the strict lifecycle check
var lifecycleMethods = map[string]bool{
	"initialize":                true,
	"initialized":               true,
	"notifications/initialized": true,
	"ping":                      true,
}

// Handle runs one message against sess. It returns nil for notifications.
func (d *Dispatcher) Handle(ctx context.Context, sess *session.Session, req *JSONRPCRequest) *JSONRPCResponse {
	start := d.now()

	if req.IsNotification() {
		d.handleNotification(sess, req)
		return nil
	}

	resp := d.route(ctx, sess, req)

	if d.observer != nil {
		code := 0
		if resp.Error != nil {
			code = resp.Error.Code
		}
		d.observer.RequestHandled(metricMethod(req.Method), code, d.now().Sub(start))
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, req *JSONRPCRequest) *JSONRPCResponse {
	if d.strict && !lifecycleMethods[req.Method] && sess.State() != session.StateInitialized {
		return NewError(req.ID, JSONRPCInvalidRequest, "session not initialized")
	}

	d.logger.Debug("MCP request",
		"method", req.Method,
		"session_id", sess.ID(),
	)

	switch req.Method {
	case "initialize":
		return d.handleInitialize(sess, req)
	case "initialized", "notifications/initialized":
		d.markInitialized(sess)
		return NewResult(req.ID, map[string]any{})
	case "ping":
		return NewResult(req.ID, map[string]string{"status": "pong"})
	case "tools/list":
		return NewResult(req.ID, d.listTools(sess))
	case "tools/call":
		return d.handleToolsCall(ctx, sess, req)
	case "resources/list":
		return NewResult(req.ID, map[string]any{"resources": resourceCatalog})
	case "resources/read":
		return d.handleResourcesRead(ctx, sess, req)
	case "prompts/list":
		return NewResult(req.ID, map[string]any{"prompts": promptCatalog})
	case "prompts/get":
		return d.handlePromptsGet(req)
	default:
		return NewError(req.ID, JSONRPCMethodNotFound, "method not found: "+req.Method)
	}
}

func (d *Dispatcher) handleNotification(sess *session.Session, req *JSONRPCRequest) {
	switch req.Method {
	case "initialized", "notifications/initialized":
		d.markInitialized(sess)
	default:
		d.logger.Debug("accepted MCP notification", "method", req.Method, "session_id", sess.ID())
	}
}

func (d *Dispatcher) markInitialized(sess *session.Session) {
	if sess.MarkInitialized() {
		d.logger.Debug("MCP session initialized", "session_id", sess.ID())
	} else {
		d.logger.Debug("initialized before initialize, ignoring", "session_id", sess.ID())
	}
}

func (d *Dispatcher) handleInitialize(sess *session.Session, req *JSONRPCRequest) *JSONRPCResponse {
	var params InitializeParams
	if len(req.Params) > 0 && string(req.Params) != "null" {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, JSONRPCInvalidParams, "invalid initialize params")
		}
	}

	version := NegotiateProtocolVersion(params.ProtocolVersion)

	var info *session.ClientInfo
	if params.ClientInfo != nil {
		info = &session.ClientInfo{Name: params.ClientInfo.Name, Version: params.ClientInfo.Version}
	}
	sess.RecordInitialize(version, params.Capabilities, info)

	d.logger.Info("MCP session initialize",
		"session_id", sess.ID(),
		"requested_version", params.ProtocolVersion,
		"protocol_version", version,
	)

	return NewResult(req.ID, InitializeResult{
		ProtocolVersion: version,
		Capabilities:    d.Capabilities(),
		ServerInfo:      d.info,
		Instructions:    instructions,
	})
}

// known methods are reported by name, anything else as "other"
func metricMethod(method string) string {
	switch method {
	case "initialize", "initialized", "notifications/initialized", "ping", "tools/list", "tools/call",
		"resources/list", "resources/read", "prompts/list", "prompts/get":
		return method
	}
	return "other"
}
