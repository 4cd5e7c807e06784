package crawler

import "context"

// Role labels what a fetch is for. It only affects metrics and logs.
type Role string

// Fetch roles.
const (
	RoleSeed    Role = "seed"
	RoleItem    Role = "item"
	RoleComment Role = "comment"
	RoleStory   Role = "story"
)

type roleKey struct{}

// WithRole tags ctx so the Fetcher can label the request.
func WithRole(ctx context.Context, role Role) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role stored in ctx, or "unknown".
func RoleFrom(ctx context.Context) Role {
	if role, ok := ctx.Value(roleKey{}).(Role); ok {
		return role
	}
	return "unknown"
}
