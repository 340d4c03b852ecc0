package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// IdentityFunc extracts the rate-limit identity from a request. The
// transport supplies one that prefers agent id, then email, then the
// request source address.
type IdentityFunc func(r *http.Request) string

// RemoteAddrIdentity is the lowest-precedence identity source.
func RemoteAddrIdentity(r *http.Request) string {
	return r.RemoteAddr
}

// Middleware enforces the given class limit on the wrapped handler.
// Rate-limit headers are set on every response, including denials.
func Middleware(limiter *Limiter, class Class, identity IdentityFunc) func(http.Handler) http.Handler {
	if identity == nil {
		identity = RemoteAddrIdentity
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := identity(r)
			if id == "" {
				id = r.RemoteAddr
			}

			decision, err := limiter.Check(r.Context(), class, id)
			if decision != nil {
				SetHeaders(w, decision)
			}
			if err != nil && decision == nil {
				// Identity/class programming errors: reject plainly.
				http.Error(w, "rate limit check failed", http.StatusInternalServerError)
				return
			}

			if !decision.Allowed {
				WriteLimited(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders sets the standard rate-limit headers.
func SetHeaders(w http.ResponseWriter, d *Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// WriteLimited writes the standard 429 denial body.
func WriteLimited(w http.ResponseWriter, d *Decision) {
	reset := d.ResetInSeconds()
	w.Header().Set("Retry-After", strconv.FormatInt(reset, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":            "rate_limit_exceeded",
		"message":          "too many requests, please retry later",
		"limit":            d.Limit,
		"remaining":        d.Remaining,
		"reset_in_seconds": reset,
	})
}
