// Package requestctx carries the authenticated caller through a request.
package requestctx

import (
	"context"
	"slices"
)

// Permissions granted through auth tokens.
const (
	PermissionAdmin        = "admin"
	PermissionProfileAdmin = "profileadmin"
)

// User is the caller of a request. The zero value is the anonymous user.
type User struct {
	UUID        string
	Login       string
	Permissions []string
	// Projects lists the keys of private projects the user may browse.
	Projects []string
}

// LoggedIn reports whether the user is authenticated.
func (u User) LoggedIn() bool {
	return u.UUID != ""
}

// HasPermission reports whether the user holds perm. Admins hold every
// permission.
func (u User) HasPermission(perm string) bool {
	return slices.Contains(u.Permissions, PermissionAdmin) || slices.Contains(u.Permissions, perm)
}

// CanBrowse reports whether the user may see a project.
func (u User) CanBrowse(projectKey string, private bool) bool {
	if !private {
		return true
	}
	if !u.LoggedIn() {
		return false
	}
	return u.HasPermission(PermissionAdmin) || slices.Contains(u.Projects, projectKey)
}

type userContextKey struct{}

// WithUser stores the caller in ctx.
func WithUser(ctx context.Context, user User) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the caller stored in ctx, anonymous when absent.
func UserFromContext(ctx context.Context) User {
	if ctx == nil {
		return User{}
	}
	user, _ := ctx.Value(userContextKey{}).(User)
	return user
}

// UserIDFromContext returns the caller's UUID, empty for anonymous callers.
func UserIDFromContext(ctx context.Context) string {
	return UserFromContext(ctx).UUID
}
