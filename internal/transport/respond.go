// ABOUTME: JSON response helpers for the transport
// ABOUTME: Error bodies are JSON-RPC shaped with a null id

package transport

import (
	"encoding/json"
	"net/http"

	"github.com/2389/ewelink-gateway/internal/mcp"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, mcp.NewError(nil, code, message))
}
