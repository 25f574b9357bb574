package middleware

import (
	"context"

	"github.com/angelmondragon/kiosk-backend/pkg/enums"
)

type contextKey string

const (
	ctxUserID contextKey = "user_id"
	ctxRole   contextKey = "actor_role"
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxUserID).(string); ok {
		return v
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRole).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects the user identifier into the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxUserID, userID)
}

// WithRole injects the operator role into the context.
func WithRole(ctx context.Context, role enums.OperatorRole) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxRole, string(role))
}

// RoleFromClaims resolves the operator role that Auth stored on the request
// context. It is the role lookup used by the shipped permission checker.
func RoleFromClaims(ctx context.Context, userID string) (enums.OperatorRole, bool) {
	if userID == "" || UserIDFromContext(ctx) != userID {
		return "", false
	}
	role, err := enums.ParseOperatorRole(RoleFromContext(ctx))
	if err != nil {
		return "", false
	}
	return role, true
}
