// Package auth authenticates bearer tokens and resolves the caller's directory
// role so handlers can build an explicit actor.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "replate/pkg/domain"
	dErrors "replate/pkg/domain-errors"
	"replate/pkg/platform/httputil"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// RoleResolver looks up the role tag recorded for an account.
// A NotFound error means the account has not registered yet.
type RoleResolver interface {
	GetRole(ctx context.Context, accountID id.AccountID) (id.Role, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	AccountID string
	Email     string
	Name      string
	JTI       string
}

type claimsKey struct{}

// Claims returns the validated token claims, or nil when the request is anonymous.
func Claims(ctx context.Context) *JWTClaims {
	c, _ := ctx.Value(claimsKey{}).(*JWTClaims)
	return c
}

// WithClaims injects claims into a context. Used by tests.
func WithClaims(ctx context.Context, c *JWTClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(validator JWTValidator, roles RoleResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return authenticate(validator, roles, logger, true)
}

// OptionalAuth resolves the caller when a bearer token is present and passes
// anonymous requests through untouched. Invalid tokens are still rejected.
func OptionalAuth(validator JWTValidator, roles RoleResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return authenticate(validator, roles, logger, false)
}

func authenticate(validator JWTValidator, roles RoleResolver, logger *slog.Logger, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := request.GetRequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				if !required {
					next.ServeHTTP(w, r)
					return
				}
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "Missing or invalid Authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "Invalid or expired token"))
				return
			}

			accountID, err := id.ParseAccountID(claims.AccountID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed subject",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "Invalid or expired token"))
				return
			}

			ctx = requestcontext.WithAccountID(ctx, accountID)
			ctx = WithClaims(ctx, claims)

			role, err := roles.GetRole(ctx, accountID)
			switch {
			case err == nil:
				ctx = requestcontext.WithRole(ctx, role)
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				// Unregistered account: identity known, no role yet.
			default:
				logger.ErrorContext(ctx, "failed to resolve role",
					"error", err,
					"account_id", accountID,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to resolve role"))
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
