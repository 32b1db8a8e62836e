// ABOUTME: Fixed MCP resource catalog for the caller's devices and profile
// ABOUTME: resources/read returns JSON text; unknown URIs are invalid params

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/ewelink-gateway/internal/audit"
	"github.com/2389/ewelink-gateway/internal/devices"
	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/session"
	"github.com/2389/ewelink-gateway/internal/store"
)

const (
	ResourceDevices = "ewelink://devices"
	ResourceProfile = "ewelink://user/profile"
)

var resourceCatalog = []MCPResourceInfo{
	{
		URI:         ResourceDevices,
		Name:        "Devices",
		Description: "eWeLink devices linked to the caller's account",
		MimeType:    "application/json",
	},
	{
		URI:         ResourceProfile,
		Name:        "User profile",
		Description: "The calling principal and its eWeLink link state",
		MimeType:    "application/json",
	},
}

type readResourceParams struct {
	URI string `json:"uri"`
}

func (d *Dispatcher) handleResourcesRead(ctx context.Context, sess *session.Session, req *JSONRPCRequest) *JSONRPCResponse {
	var params readResourceParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewError(req.ID, JSONRPCInvalidParams, "invalid params")
		}
	}

	var (
		body any
		err  error
	)
	switch params.URI {
	case ResourceDevices:
		body, err = d.readDevices(ctx, sess.Identity())
	case ResourceProfile:
		body, err = d.readProfile(ctx, sess.Identity())
	case "":
		return NewError(req.ID, JSONRPCInvalidParams, "uri is required")
	default:
		return NewError(req.ID, JSONRPCInvalidParams, "unknown resource: "+params.URI)
	}
	if err != nil {
		d.logger.Warn("resource read failed",
			"uri", params.URI,
			"session_id", sess.ID(),
			"error", err,
		)
		msg := "failed to read resource"
		if errors.Is(err, devices.ErrNotLinked) {
			msg = devices.ErrNotLinked.Error()
		}
		return NewError(req.ID, JSONRPCInternalError, msg)
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return NewError(req.ID, JSONRPCInternalError, "failed to encode resource")
	}

	audit.Defer(ctx, audit.Event{
		Actor:    sess.Identity(),
		Action:   store.AuditResourceRead,
		Resource: params.URI,
		At:       d.now().UTC(),
	})

	return NewResult(req.ID, map[string]any{
		"contents": []MCPResourceContents{{
			URI:      params.URI,
			MimeType: "application/json",
			Text:     string(data),
		}},
	})
}

func (d *Dispatcher) readDevices(ctx context.Context, ident identity.Identity) (any, error) {
	cred, err := d.credential(ctx, ident)
	if err != nil {
		return nil, err
	}
	list, err := d.devices.ListDevices(ctx, cred)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []devices.Device{}
	}
	return map[string]any{"devices": list, "total": len(list)}, nil
}

type profileView struct {
	PrincipalID  string  `json:"principalId"`
	Kind         string  `json:"kind"`
	TenantID     string  `json:"tenantId,omitempty"`
	Email        string  `json:"email"`
	Name         string  `json:"name,omitempty"`
	Status       string  `json:"status"`
	LastActiveAt *string `json:"lastActiveAt,omitempty"`
	Linked       bool    `json:"ewelinkLinked"`
	Region       string  `json:"ewelinkRegion,omitempty"`
}

func (d *Dispatcher) readProfile(ctx context.Context, ident identity.Identity) (any, error) {
	var (
		acct *store.Account
		err  error
	)
	switch id := ident.(type) {
	case identity.GlobalAdmin:
		acct, err = d.directory.GetGlobalAdmin(ctx, id.ID)
	case identity.TenantAdmin:
		acct, err = d.directory.GetTenantAdmin(ctx, id.ID, id.Tenant)
	case identity.TenantUser:
		acct, err = d.directory.GetTenantUser(ctx, id.ID, id.Tenant)
	default:
		return nil, fmt.Errorf("unknown identity %T", ident)
	}
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	view := profileView{
		PrincipalID: acct.ID,
		Kind:        string(ident.Kind()),
		TenantID:    ident.TenantID(),
		Email:       acct.Email,
		Name:        acct.Name,
		Status:      string(acct.Status),
	}
	if acct.LastActiveAt != nil {
		s := acct.LastActiveAt.UTC().Format(time.RFC3339)
		view.LastActiveAt = &s
	}

	cred, err := d.credential(ctx, ident)
	switch {
	case err == nil:
		view.Linked = true
		view.Region = cred.Region
	case errors.Is(err, devices.ErrNotLinked):
	default:
		return nil, err
	}
	return view, nil
}
