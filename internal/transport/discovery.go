// ABOUTME: Discovery endpoint listing the MCP URLs an email address may use
// ABOUTME: Global admins get the global endpoint, listed once per approved tenant

package transport

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/ewelink-gateway/internal/identity"
	"github.com/2389/ewelink-gateway/internal/mcp"
	"github.com/2389/ewelink-gateway/internal/store"
)

// DiscoveredServer is one MCP endpoint the caller can connect to. Global
// admins only resolve under the global segment, so their per-tenant entries
// carry the global URL with the tenant they administer.
type DiscoveredServer struct {
	URL         string `json:"url"`
	TenantID    string `json:"tenantId"`
	TenantName  string `json:"tenantName"`
	PrincipalID string `json:"principalId"`
	Role        string `json:"role"`

	domain string
}

// DiscoveryResponse is the body of GET /mcp/discover.
type DiscoveryResponse struct {
	Servers         []DiscoveredServer `json:"servers"`
	Total           int                `json:"total"`
	ProtocolVersion string             `json:"protocolVersion"`
}

const globalTenantName = "Global administration"

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := strings.TrimSpace(q.Get("email"))
	if email == "" {
		writeRPCError(w, http.StatusBadRequest, mcp.JSONRPCInvalidParams, "email is required")
		return
	}
	domainFilter := strings.ToLower(strings.TrimSpace(q.Get("tenantDomain")))

	ctx := r.Context()
	accounts, err := s.directory.FindAccountsByEmail(ctx, email)
	if err != nil {
		s.logger.Error("discovery lookup failed", "error", err)
		writeRPCError(w, http.StatusInternalServerError, mcp.JSONRPCInternalError, "internal error")
		return
	}

	base := s.baseURL(r)
	seen := make(map[string]bool)
	servers := []DiscoveredServer{}
	add := func(ds DiscoveredServer) {
		if domainFilter != "" && ds.domain != domainFilter {
			return
		}
		key := ds.URL + "\x00" + ds.TenantID
		if seen[key] {
			return
		}
		seen[key] = true
		servers = append(servers, ds)
	}
	endpoint := func(tenantID, principalID string) string {
		return base + "/mcp/" + url.PathEscape(tenantID) + "/" + url.PathEscape(principalID)
	}

	var approved []store.Tenant
	approvedLoaded := false

	for _, acct := range accounts {
		if !acct.Active() {
			continue
		}

		switch acct.Kind {
		case store.KindGlobalAdmin:
			globalURL := endpoint(identity.GlobalTenant, acct.ID)
			add(DiscoveredServer{
				URL:         globalURL,
				TenantID:    identity.GlobalTenant,
				TenantName:  globalTenantName,
				PrincipalID: acct.ID,
				Role:        string(acct.Kind),
			})

			if !approvedLoaded {
				status := store.TenantApproved
				approved, err = s.directory.ListTenants(ctx, store.TenantFilter{Status: &status})
				if err != nil {
					s.logger.Error("discovery tenant listing failed", "error", err)
					writeRPCError(w, http.StatusInternalServerError, mcp.JSONRPCInternalError, "internal error")
					return
				}
				approvedLoaded = true
			}
			for _, t := range approved {
				add(DiscoveredServer{
					URL:         globalURL,
					TenantID:    t.ID,
					TenantName:  t.Name,
					PrincipalID: acct.ID,
					Role:        string(acct.Kind),
					domain:      strings.ToLower(t.Domain),
				})
			}

		case store.KindTenantAdmin, store.KindTenantUser:
			t, err := s.directory.GetTenant(ctx, acct.TenantID)
			if err != nil {
				s.logger.Warn("discovery skipped account with unreadable tenant",
					"principal_id", acct.ID,
					"tenant_id", acct.TenantID,
					"error", err,
				)
				continue
			}
			if t.Status != store.TenantApproved {
				continue
			}
			add(DiscoveredServer{
				URL:         endpoint(t.ID, acct.ID),
				TenantID:    t.ID,
				TenantName:  t.Name,
				PrincipalID: acct.ID,
				Role:        string(acct.Kind),
				domain:      strings.ToLower(t.Domain),
			})
		}
	}

	writeJSON(w, http.StatusOK, DiscoveryResponse{
		Servers:         servers,
		Total:           len(servers),
		ProtocolVersion: mcp.LatestProtocolVersion,
	})
}

// baseURL returns the configured public URL or one derived from the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.publicURL != "" {
		return s.publicURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
