// Package admin gates admin-only route groups on the resolved directory role.
// Services still authorize every operation; this only keeps non-admin traffic
// off the admin surface early.
package admin

import (
	"log/slog"
	"net/http"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/httputil"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/requestcontext"
)

// RequireAdmin must run after auth.RequireAuth or auth.OptionalAuth.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.AccountID(ctx).IsNil() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
				return
			}
			if role := requestcontext.Role(ctx); role != id.RoleAdmin {
				logger.WarnContext(ctx, "admin route denied",
					"role", role,
					"account_id", requestcontext.AccountID(ctx),
					"request_id", request.GetRequestID(ctx),
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
