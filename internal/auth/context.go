// ABOUTME: Operator context for tracking the authenticated global admin through handlers
// ABOUTME: Provides WithOperator/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/2389/ewelink-gateway/internal/store"
)

// Operator is the global administrator authenticated for an operational request.
type Operator struct {
	PrincipalID string
	Email       string
	Name        string
}

func operatorFrom(a *store.Account) *Operator {
	return &Operator{PrincipalID: a.ID, Email: a.Email, Name: a.Name}
}

// operatorKey is the key type for storing Operator in context.Context.
type operatorKey struct{}

// WithOperator returns a new context with the Operator attached.
func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, operatorKey{}, op)
}

// FromContext retrieves the Operator from the context, returning nil if not present.
func FromContext(ctx context.Context) *Operator {
	op, _ := ctx.Value(operatorKey{}).(*Operator)
	return op
}
