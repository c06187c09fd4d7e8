package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClientIP extracts the real client address, reading from the rightmost
// trusted proxy position in X-Forwarded-For to prevent spoofing.
// With trustedProxyCount 0 the header is ignored.
func ClientIP(r *http.Request, trustedProxyCount int) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" && trustedProxyCount > 0 {
		parts := strings.Split(xff, ",")
		// The rightmost entry added by our infrastructure is at
		// index len(parts) - trustedProxyCount.
		idx := len(parts) - trustedProxyCount
		if idx >= 0 && idx < len(parts) {
			if ip := strings.TrimSpace(parts[idx]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RetryAfterSeconds formats d for the Retry-After header, rounding up to at
// least one second.
func RetryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type limitedResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Middleware throttles every request by client address using store.
// Store errors fail open: the request proceeds and the error is logged.
func Middleware(store Store, trustedProxyCount int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r, trustedProxyCount)
			d, err := store.Admit(r.Context(), "api:"+ip, time.Now())
			if err != nil {
				slog.Warn("api rate limit check failed", "error", err, "ip", ip)
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				w.Header().Set("Retry-After", RetryAfterSeconds(d.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				if err := json.NewEncoder(w).Encode(limitedResponse{
					Success: false,
					Message: "Trop de requêtes. Veuillez réessayer plus tard.",
				}); err != nil {
					slog.Warn("failed to write rate limit response", "error", err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
