// ABOUTME: MCP tool table with reflected input schemas and per-identity visibility
// ABOUTME: Device tools call the eWeLink provider; admin tools re-check the caller's identity

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/devices"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

// ToolCall is the input to a ToolHandler.
type ToolCall struct {
	Session   *session.Session
	Identity  identity.Identity
	Arguments json.RawMessage
}

// ToolHandler executes a tool. Returning an *InvalidParamsError produces a
// JSON-RPC -32602 response; any other error becomes an isError result.
type ToolHandler func(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error)

// Tool is one entry in the tool table.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Visible limits tools/list; nil means every identity sees the tool.
	Visible func(identity.Identity) bool
	Handler ToolHandler
}

// InvalidParamsError reports a malformed or missing tool argument.
type InvalidParamsError struct {
	Message string
}

func (e *InvalidParamsError) Error() string { return e.Message }

func invalidParams(format string, args ...any) error {
	return &InvalidParamsError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotImplemented is reported for tools registered without a handler.
var ErrNotImplemented = errors.New("not implemented")

var errForbiddenTool = errors.New("forbidden")

// schemaFor reflects T into an inline JSON schema object.
func schemaFor[T any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(T))
	s.Version = ""
	s.ID = ""
	data, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

type listDevicesArgs struct {
	Online *bool `json:"online,omitempty" jsonschema:"description=Only return devices that are online (true) or offline (false)"`
}

type deviceArgs struct {
	DeviceID string `json:"deviceId" jsonschema:"description=eWeLink device id"`
}

type controlDeviceArgs struct {
	DeviceID string         `json:"deviceId" jsonschema:"description=eWeLink device id"`
	Params   map[string]any `json:"params" jsonschema:"description=Device parameters to set such as switch=on"`
}

type listTenantsArgs struct {
	Status string `json:"status,omitempty" jsonschema:"enum=pending,enum=approved,enum=rejected,enum=suspended,description=Only return tenants in this status"`
	Domain string `json:"domain,omitempty" jsonschema:"description=Only return tenants with this email domain"`
}

type noArgs struct{}

func isGlobalAdmin(id identity.Identity) bool {
	_, ok := id.(identity.GlobalAdmin)
	return ok
}

func isTenantAdmin(id identity.Identity) bool {
	_, ok := id.(identity.TenantAdmin)
	return ok
}

func (d *Dispatcher) builtinTools() []Tool {
	return []Tool{
		{
			Name:        "list_devices",
			Description: "List the eWeLink devices linked to your account",
			InputSchema: schemaFor[listDevicesArgs](),
			Handler:     d.toolListDevices,
		},
		{
			Name:        "get_device",
			Description: "Get details for one eWeLink device",
			InputSchema: schemaFor[deviceArgs](),
			Handler:     d.toolGetDevice,
		},
		{
			Name:        "control_device",
			Description: "Change parameters of an eWeLink device, for example turning a switch on or off",
			InputSchema: schemaFor[controlDeviceArgs](),
			Handler:     d.toolControlDevice,
		},
		{
			Name:        "get_device_status",
			Description: "Read the current parameters of an eWeLink device",
			InputSchema: schemaFor[deviceArgs](),
			Handler:     d.toolGetDeviceStatus,
		},
		{
			Name:        "list_tenants",
			Description: "List tenants (global administrators only)",
			InputSchema: schemaFor[listTenantsArgs](),
			Visible:     isGlobalAdmin,
			Handler:     d.toolListTenants,
		},
		{
			Name:        "list_tenant_users",
			Description: "List users in your tenant (tenant administrators only)",
			InputSchema: schemaFor[noArgs](),
			Visible:     isTenantAdmin,
			Handler:     d.toolListTenantUsers,
		},
	}
}

func (d *Dispatcher) listTools(sess *session.Session) MCPListToolsResult {
	ident := sess.Identity()
	result := MCPListToolsResult{Tools: make([]MCPToolInfo, 0, len(d.tools))}
	for _, t := range d.tools {
		if t.Visible != nil && !t.Visible(ident) {
			continue
		}
		result.Tools = append(result.Tools, MCPToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	d.logger.Debug("tools/list",
		"count", len(result.Tools),
		"identity_kind", ident.Kind(),
	)
	return result
}

// handleToolsCall handles tools/call requests.
func (d *Dispatcher) handleToolsCall(ctx context.Context, sess *session.Session, req *JSONRPCRequest) *JSONRPCResponse {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}
	if params.Name == "" {
		return NewError(req.ID, JSONRPCInvalidParams, "tool name is required")
	}

	tool, ok := d.toolIndex[params.Name]
	if !ok {
		d.observeTool("unknown", true)
		return NewResult(req.ID, errorResult("unknown tool: "+params.Name))
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	d.logger.Debug("tools/call",
		"tool_name", tool.Name,
		"session_id", sess.ID(),
	)

	result, err := d.runTool(ctx, tool, &ToolCall{Session: sess, Identity: sess.Identity(), Arguments: args})
	if err != nil {
		var ip *InvalidParamsError
		if errors.As(err, &ip) {
			d.observeTool(tool.Name, true)
			return NewError(req.ID, JSONRPCInvalidParams, ip.Message)
		}
		d.logger.Warn("tool execution failed",
			"tool_name", tool.Name,
			"session_id", sess.ID(),
			"error", err,
		)
		result = errorResult(toolFailureMessage(tool.Name, err))
	}

	d.observeTool(tool.Name, result.IsError)
	return NewResult(req.ID, result)
}

// runTool invokes the handler, turning panics into errors.
func (d *Dispatcher) runTool(ctx context.Context, tool *Tool, call *ToolCall) (result *MCPCallToolResult, err error) {
	if tool.Handler == nil {
		return nil, ErrNotImplemented
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked",
				"tool_name", tool.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			result, err = nil, fmt.Errorf("tool %s failed unexpectedly", tool.Name)
		}
	}()

	result, err = tool.Handler(ctx, call)
	if err == nil && result == nil {
		result = textResult("")
	}
	return result, err
}

func (d *Dispatcher) observeTool(name string, isError bool) {
	if d.observer != nil {
		d.observer.ToolCalled(name, isError)
	}
}

func toolFailureMessage(tool string, err error) string {
	var apiErr *devices.APIError
	switch {
	case errors.Is(err, ErrNotImplemented):
		return "tool " + tool + " is not implemented"
	case errors.Is(err, devices.ErrNotLinked):
		return devices.ErrNotLinked.Error() + "; link an eWeLink account first"
	case errors.Is(err, devices.ErrDeviceNotFound):
		return "device not found"
	case errors.Is(err, errForbiddenTool):
		return err.Error()
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "device cloud request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	}
	return err.Error()
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams("invalid arguments: %v", err)
	}
	return nil
}

func jsonResult(v any) (*MCPCallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding tool result: %w", err)
	}
	return textResult(string(data)), nil
}

func (d *Dispatcher) credential(ctx context.Context, ident identity.Identity) (*store.DeviceCredential, error) {
	return devices.LookupCredential(ctx, d.credentials, ident.PrincipalID())
}

func (d *Dispatcher) toolListDevices(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	var args listDevicesArgs
	if err := decodeArgs(call.Arguments, &args); err != nil {
		return nil, err
	}
	cred, err := d.credential(ctx, call.Identity)
	if err != nil {
		return nil, err
	}

	list, err := d.devices.ListDevices(ctx, cred)
	if err != nil {
		return nil, err
	}
	if args.Online != nil {
		filtered := list[:0]
		for _, dev := range list {
			if dev.Online == *args.Online {
				filtered = append(filtered, dev)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []devices.Device{}
	}
	return jsonResult(map[string]any{"devices": list, "total": len(list)})
}

func requireDeviceID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalidParams("deviceId is required")
	}
	return id, nil
}

func (d *Dispatcher) toolGetDevice(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	var args deviceArgs
	if err := decodeArgs(call.Arguments, &args); err != nil {
		return nil, err
	}
	id, err := requireDeviceID(args.DeviceID)
	if err != nil {
		return nil, err
	}
	cred, err := d.credential(ctx, call.Identity)
	if err != nil {
		return nil, err
	}

	dev, err := d.devices.GetDevice(ctx, cred, id)
	if err != nil {
		return nil, err
	}
	return jsonResult(dev)
}

func (d *Dispatcher) toolGetDeviceStatus(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	var args deviceArgs
	if err := decodeArgs(call.Arguments, &args); err != nil {
		return nil, err
	}
	id, err := requireDeviceID(args.DeviceID)
	if err != nil {
		return nil, err
	}
	cred, err := d.credential(ctx, call.Identity)
	if err != nil {
		return nil, err
	}

	params, err := d.devices.GetStatus(ctx, cred, id)
	if err != nil {
		return nil, err
	}
	return jsonResult(map[string]any{"deviceId": id, "params": params})
}

func (d *Dispatcher) toolControlDevice(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	var args controlDeviceArgs
	if err := decodeArgs(call.Arguments, &args); err != nil {
		return nil, err
	}
	id, err := requireDeviceID(args.DeviceID)
	if err != nil {
		return nil, err
	}
	if len(args.Params) == 0 {
		return nil, invalidParams("params is required")
	}
	cred, err := d.credential(ctx, call.Identity)
	if err != nil {
		return nil, err
	}

	if err := d.devices.Control(ctx, cred, id, args.Params); err != nil {
		return nil, err
	}

	audit.Defer(ctx, audit.Event{
		Actor:    call.Identity,
		Action:   store.AuditDeviceControl,
		Resource: "device/" + id,
		Detail:   map[string]any{"params": args.Params, "session_id": call.Session.ID()},
		At:       d.now().UTC(),
	})

	return jsonResult(map[string]any{"deviceId": id, "applied": args.Params, "status": "ok"})
}

type tenantView struct {
	ID        string `json:"tenantId"`
	Name      string `json:"name"`
	Domain    string `json:"domain,omitempty"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func (d *Dispatcher) toolListTenants(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	if !isGlobalAdmin(call.Identity) {
		return nil, fmt.Errorf("%w: list_tenants requires a global administrator", errForbiddenTool)
	}

	var args listTenantsArgs
	if err := decodeArgs(call.Arguments, &args); err != nil {
		return nil, err
	}

	filter := store.TenantFilter{Domain: args.Domain}
	if args.Status != "" {
		status := store.TenantStatus(args.Status)
		switch status {
		case store.TenantPending, store.TenantApproved, store.TenantRejected, store.TenantSuspended:
		default:
			return nil, invalidParams("unknown tenant status %q", args.Status)
		}
		filter.Status = &status
	}

	tenants, err := d.directory.ListTenants(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}

	out := make([]tenantView, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, tenantView{
			ID:        t.ID,
			Name:      t.Name,
			Domain:    t.Domain,
			Status:    string(t.Status),
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	audit.Defer(ctx, audit.Event{
		Actor:    call.Identity,
		Action:   store.AuditTenantsList,
		Resource: "tenants",
		Detail:   map[string]any{"count": len(out)},
		At:       d.now().UTC(),
	})

	return jsonResult(map[string]any{"tenants": out, "total": len(out)})
}

type userView struct {
	ID           string  `json:"userId"`
	Email        string  `json:"email"`
	Name         string  `json:"name,omitempty"`
	Status       string  `json:"status"`
	LastActiveAt *string `json:"lastActiveAt,omitempty"`
}

func (d *Dispatcher) toolListTenantUsers(ctx context.Context, call *ToolCall) (*MCPCallToolResult, error) {
	admin, ok := call.Identity.(identity.TenantAdmin)
	if !ok {
		return nil, fmt.Errorf("%w: list_tenant_users requires a tenant administrator", errForbiddenTool)
	}

	// The tenant comes from the session identity, never from arguments.
	users, err := d.directory.ListTenantUsers(ctx, admin.Tenant)
	if err != nil {
		return nil, fmt.Errorf("listing tenant users: %w", err)
	}

	out := make([]userView, 0, len(users))
	for _, u := range users {
		v := userView{ID: u.ID, Email: u.Email, Name: u.Name, Status: string(u.Status)}
		if u.LastActiveAt != nil {
			s := u.LastActiveAt.UTC().Format(time.RFC3339)
			v.LastActiveAt = &s
		}
		out = append(out, v)
	}

	audit.Defer(ctx, audit.Event{
		Actor:    call.Identity,
		Action:   store.AuditTenantUsersList,
		Resource: "tenant/" + admin.Tenant + "/users",
		Detail:   map[string]any{"count": len(out)},
		At:       d.now().UTC(),
	})

	return jsonResult(map[string]any{"tenantId": admin.Tenant, "users": out, "total": len(out)})
}
