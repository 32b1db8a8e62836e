// Package audit records who did what through the MCP surface.
//
// Handlers never write audit entries directly. They call Defer with the
// request context; the transport creates the collector with WithDeferred and
// flushes it into the Recorder after the response has been written. The
// Recorder queues events for a single worker that writes them to a Sink
// (SQLite audit_log or a Redis stream). A full queue drops the event with a
// warning, and sink errors are logged. Neither ever reaches the client.
package audit
