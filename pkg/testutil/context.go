package testutil

import (
	"net/http"

	id "replate/pkg/domain"
	"replate/pkg/requestcontext"
)

// WithActor adds an authenticated account and its resolved role to the request
// context, which is what auth.RequireAuth leaves behind.
func WithActor(req *http.Request, accountID id.AccountID, role id.Role) *http.Request {
	ctx := requestcontext.WithAccountID(req.Context(), accountID)
	if role != "" {
		ctx = requestcontext.WithRole(ctx, role)
	}
	return req.WithContext(ctx)
}

// WithAccount adds an account without a role, as for a token whose holder has
// not registered yet.
func WithAccount(req *http.Request, accountID id.AccountID) *http.Request {
	return req.WithContext(requestcontext.WithAccountID(req.Context(), accountID))
}
