// Package auth provides bearer-token authentication and role checks for the REST API.
package auth

import "context"

// Roles carried in token claims.
const (
	RoleAdmin    = "admin"
	RoleApprover = "approver"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

type contextKey string

// Context keys under which GraphQL resolvers find the caller.
const (
	UserKey contextKey = "username"
	RoleKey contextKey = "role"
)

// Identity is the authenticated caller.
type Identity struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserFromContext returns the caller stored under UserKey.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(UserKey).(string)
	return u, ok && u != ""
}
