// ABOUTME: HTTP middleware for JWT authentication on operational endpoints
// ABOUTME: Requires a bearer token whose subject is an active global administrator

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/ewelink-gateway/internal/store"
)

// AdminLookup loads global administrator records.
type AdminLookup interface {
	GetGlobalAdmin(ctx context.Context, id string) (*store.Account, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireGlobalAdmin creates an HTTP middleware that admits only requests
// carrying a valid token for an active global administrator. The Operator
// is added to the request context.
func RequireGlobalAdmin(admins AdminLookup, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeError(w, http.StatusUnauthorized, errMsg)
				return
			}

			principalID, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					writeError(w, http.StatusUnauthorized, "token expired")
					return
				}
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			admin, err := admins.GetGlobalAdmin(r.Context(), principalID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					writeError(w, http.StatusUnauthorized, "principal not found")
					return
				}
				logger.Error("failed to load global admin", "principal_id", principalID, "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			if !admin.Active() {
				writeError(w, http.StatusForbidden, "global admin inactive")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), operatorFrom(admin))))
		})
	}
}
