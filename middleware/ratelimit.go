// Package middleware wires the engine's request rate limiter into net/http.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	authguard "github.com/finbudget/authguard"
)

// Options customizes identity extraction. Zero-valued fields get defaults.
type Options struct {
	// UserID returns the authenticated user for the request, if any. When
	// nil, requests are limited by address only.
	UserID func(*http.Request) (string, bool)
	// ClientIP extracts the caller address. The default trusts only the
	// transport-level peer (RemoteAddr); deployments behind a proxy supply
	// their own.
	ClientIP func(*http.Request) string
}

// RateLimit returns middleware that checks every request against the
// engine's budgets before the handler runs. The identity set is the client
// address plus the authenticated user when present, so rotating one while
// holding the other constant buys nothing. Denials answer 429 with a
// Retry-After header rounded up to whole seconds (minimum 1).
func RateLimit(engine *authguard.Engine, opts Options) func(http.Handler) http.Handler {
	userID := opts.UserID
	clientIP := opts.ClientIP
	if clientIP == nil {
		clientIP = remoteIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identities := []authguard.CallerIdentity{
				authguard.ByAddress(clientIP(r)),
			}
			if userID != nil {
				if id, ok := userID(r); ok {
					identities = append(identities, authguard.ByUser(id))
				}
			}

			decision := engine.CheckRequest(identities, authguard.ClassForMethod(r.Method))
			if !decision.Allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(decision.RetryAfter), 10))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds ceiling-rounds to whole seconds, never below 1: a
// Retry-After of 0 invites an immediate retry that will also be denied.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
