package auth

import "errors"

// ErrUnauthorized is returned by RequireRole/RequireAnyRole when the
// context's role set does not satisfy the requirement.
var ErrUnauthorized = errors.New("auth: unauthorized")
