package auth

import "context"

// Roles recognized by the administrative surface. The kernel's own
// grantor/grantee/controller/executor distinctions (spec glossary) are
// enforced inside each component against the *addresses* embedded in its
// state; these roles only gate which HTTP operator can ask the kernel to
// perform a controller-level action (revoke an authorization, pause or
// revoke a channel, configure a directory domain, and so on) on the
// operator's behalf.
const (
	RoleController = "controller"
	RoleOperator   = "operator"
	RoleViewer     = "viewer"
)

// RequireRole fails with ErrUnauthorized unless the context carries role.
func RequireRole(ctx context.Context, role string) error {
	if HasRole(ctx, role) {
		return nil
	}
	return ErrUnauthorized
}

// RequireAnyRole fails with ErrUnauthorized unless the context carries at
// least one of roles.
func RequireAnyRole(ctx context.Context, roles ...string) error {
	for _, role := range roles {
		if HasRole(ctx, role) {
			return nil
		}
	}
	return ErrUnauthorized
}
