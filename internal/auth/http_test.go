// ABOUTME: Tests for the operator HTTP middleware
// ABOUTME: Covers token extraction, validation, admin lookup and inactive admins

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/2389/ewelink-gateway/internal/store"
)

type brokenAdmins struct{}

func (brokenAdmins) GetGlobalAdmin(context.Context, string) (*store.Account, error) {
	return nil, errors.New("database is locked")
}

func seedAdmins(t *testing.T) *store.MockStore {
	t.Helper()
	s := store.NewMockStore()
	ctx := context.Background()
	for _, a := range []store.Account{
		{ID: "root", Kind: store.KindGlobalAdmin, Email: "root@ops.test", Name: "Root"},
		{ID: "retired", Kind: store.KindGlobalAdmin, Email: "old@ops.test", Status: store.AccountInactive},
	} {
		a := a
		if err := s.CreateAccount(ctx, &a); err != nil {
			t.Fatalf("CreateAccount() error = %v", err)
		}
	}
	return s
}

func TestRequireGlobalAdmin(t *testing.T) {
	verifier := newTestVerifier(t)
	admins := seedAdmins(t)

	tokenFor := func(sub string, ttl time.Duration) string {
		tok, err := verifier.Generate(sub, ttl)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		return "Bearer " + tok
	}

	tests := []struct {
		name       string
		admins     AdminLookup
		header     string
		wantStatus int
		wantError  string
	}{
		{"valid admin", admins, tokenFor("root", time.Hour), http.StatusOK, ""},
		{"missing header", admins, "", http.StatusUnauthorized, "missing authorization header"},
		{"basic auth", admins, "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "invalid authorization header format"},
		{"empty bearer", admins, "Bearer ", http.StatusUnauthorized, "empty token"},
		{"garbage token", admins, "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"expired token", admins, tokenFor("root", -time.Minute), http.StatusUnauthorized, "token expired"},
		{"unknown principal", admins, tokenFor("ghost", time.Hour), http.StatusUnauthorized, "principal not found"},
		{"inactive admin", admins, tokenFor("retired", time.Hour), http.StatusForbidden, "global admin inactive"},
		{"directory failure", brokenAdmins{}, tokenFor("root", time.Hour), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *Operator
			handler := RequireGlobalAdmin(tt.admins, verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = FromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/mcp/cleanup", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantError == "" {
				if got == nil || got.PrincipalID != "root" || got.Email != "root@ops.test" {
					t.Errorf("operator = %+v, want root", got)
				}
				return
			}

			if got != nil {
				t.Error("handler should not have run")
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	if op := FromContext(context.Background()); op != nil {
		t.Errorf("FromContext() = %+v, want nil", op)
	}
	ctx := WithOperator(context.Background(), &Operator{PrincipalID: "root"})
	if op := FromContext(ctx); op == nil || op.PrincipalID != "root" {
		t.Errorf("FromContext() = %+v, want root", op)
	}
}
