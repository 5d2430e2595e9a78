package httpapi

import (
	"net/http"
	"strings"

	"github.com/flowkernel/kernel/internal/audit"
	"github.com/flowkernel/kernel/internal/auth"
)

// authenticated parses the bearer JWT, requires role, attaches the
// resulting identity to the request context, and audit-logs the
// outcome.
func (a *API) authenticated(role string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		claims, err := auth.ParseAndValidate(token)
		if err != nil {
			_ = audit.LogEvent(r.Context(), "auth_denied", map[string]any{"path": r.URL.Path, "reason": "invalid_token"})
			writeJSON(w, http.StatusUnauthorized, errBody("invalid or missing token"))
			return
		}

		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Roles)
		if err := auth.RequireAnyRole(ctx, role, auth.RoleController); err != nil {
			_ = audit.LogEvent(ctx, "auth_denied", map[string]any{"path": r.URL.Path, "reason": "forbidden", "user_id": claims.Subject})
			writeJSON(w, http.StatusForbidden, errBody("forbidden"))
			return
		}

		_ = audit.LogEvent(ctx, "auth_granted", map[string]any{"path": r.URL.Path})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
