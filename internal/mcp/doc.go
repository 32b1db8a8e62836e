// Package mcp implements the Model Context Protocol method set for the
// eWeLink gateway.
//
// # Overview
//
// The Dispatcher runs one JSON-RPC 2.0 message against a session. It does not
// know about HTTP; the transport package decodes the request, looks up or
// creates the session and writes whatever Handle returns. Notifications
// (messages without an id, or with a null id) return nil.
//
// # Lifecycle
//
//	initialize                  records client info, returns server capabilities
//	notifications/initialized   completes the handshake if initialize was seen
//
// An initialized notification that arrives before initialize is accepted and
// ignored. With StrictLifecycle set, other requests before the handshake
// completes are rejected with -32600.
//
// # Tools
//
// Every identity sees list_devices, get_device, control_device and
// get_device_status. Global administrators also see list_tenants; tenant
// administrators also see list_tenant_users. Admin tools check the identity
// again when called.
//
// Tool failures are reported as results with isError set:
//
//	{
//	  "jsonrpc": "2.0",
//	  "id": 3,
//	  "result": {
//	    "content": [{"type": "text", "text": "eWeLink account not connected; link an eWeLink account first"}],
//	    "isError": true
//	  }
//	}
//
// Missing required arguments are JSON-RPC -32602 errors instead.
//
// # Resources and prompts
//
// Resources are ewelink://devices and ewelink://user/profile. Prompts are
// device_overview and control_device_assistant.
package mcp
