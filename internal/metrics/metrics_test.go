// ABOUTME: Tests for the gateway Prometheus collectors and exposition handler
// ABOUTME: Uses client_golang testutil against a private registry

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ewelink-gateway/internal/identity"
)

func TestObserverHooks(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.SessionCreated(identity.KindTenantUser)
	m.SessionCreated(identity.KindTenantUser)
	m.SessionCreated(identity.KindGlobalAdmin)
	m.SessionsExpired(3)
	m.RequestHandled("tools/call", 0, 20*time.Millisecond)
	m.RequestHandled("other", -32601, time.Millisecond)
	m.ToolCalled("list_devices", true)
	m.HTTPRequest("mcp", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsCreated.WithLabelValues("tenant_user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsCreated.WithLabelValues("global_admin")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SessionsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("tools/call", "0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("other", "-32601")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("list_devices", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("mcp", "200")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RPCDuration))
}

func TestWatchers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	live := 4
	m.WatchSessions(func() int { return live })
	m.WatchAudit(func() uint64 { return 2 }, func() uint64 { return 1 })

	expected := `
# HELP ewelink_gateway_sessions_active Number of live MCP sessions
# TYPE ewelink_gateway_sessions_active gauge
ewelink_gateway_sessions_active 4
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ewelink_gateway_sessions_active"))

	live = 1
	expected = strings.Replace(expected, "active 4", "active 1", 1)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ewelink_gateway_sessions_active"))

	count, err := testutil.GatherAndCount(reg, "ewelink_gateway_audit_events_dropped_total", "ewelink_gateway_audit_events_failed_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestHandlerFor(t *testing.T) {
	reg, m := NewRegistry()
	m.ToolCalled("control_device", false)

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `ewelink_gateway_tool_calls_total{is_error="false",tool="control_device"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
