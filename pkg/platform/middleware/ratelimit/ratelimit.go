// Package ratelimit throttles state-changing requests per caller with a
// sliding window. Reads are never limited.
package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"replate/pkg/platform/httputil"
	request "replate/pkg/platform/middleware/request"
	"replate/pkg/requestcontext"
)

// Result is the outcome of one admission check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the whole number of seconds until the window frees a slot.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds() + 0.999)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter admits or refuses one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Middleware applies one limit to every write from the same caller.
type Middleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	logger  *slog.Logger
}

// New returns a middleware admitting limit writes per window. A non-positive
// limit disables it.
func New(limiter Limiter, limit int, window time.Duration, logger *slog.Logger) *Middleware {
	return &Middleware{limiter: limiter, limit: limit, window: window, logger: logger}
}

type exceededBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	RetryAfter       int    `json:"retry_after"`
}

// Writes limits POST, PUT, PATCH and DELETE. Authenticated callers are keyed
// by account, anonymous ones by client IP. Limiter failures fail open.
func (m *Middleware) Writes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 || isRead(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := callerKey(ctx)

		res, err := m.limiter.Allow(ctx, key, m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "rate limit check failed",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			retry := res.RetryAfter(time.Now())
			m.logger.WarnContext(ctx, "write rate limit exceeded",
				"key", key,
				"request_id", request.GetRequestID(ctx),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteJSON(w, http.StatusTooManyRequests, exceededBody{
				Error:            "rate_limit_exceeded",
				ErrorDescription: "too many write requests, try again later",
				RetryAfter:       retry,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isRead(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func callerKey(ctx context.Context) string {
	if accountID := requestcontext.AccountID(ctx); !accountID.IsNil() {
		return "account:" + accountID.String()
	}
	return "ip:" + requestcontext.ClientIP(ctx)
}
