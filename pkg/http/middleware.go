// Package http pkg/http/middleware.go
package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/playpulse/presenced/pkg/models"
)

// CommonMiddleware applies the CORS policy and answers preflight requests.
func CommonMiddleware(next http.Handler, corsConfig models.CORSConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowed := allowedOrigin(origin, corsConfig.AllowedOrigins); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Set("Access-Control-Allow-Credentials", strconv.FormatBool(corsConfig.AllowCredentials))
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// allowedOrigin returns the Allow-Origin header value for the request
// origin, or "" when the origin is not permitted. An empty allowed list
// permits everything.
func allowedOrigin(origin string, allowedOrigins []string) string {
	if len(allowedOrigins) == 0 {
		return "*"
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return "*"
		}

		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}

	return ""
}

// OriginAllowed reports whether the request origin may open a WebSocket.
// Requests without an Origin header are allowed, matching the middleware.
func OriginAllowed(r *http.Request, corsConfig models.CORSConfig) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	return allowedOrigin(origin, corsConfig.AllowedOrigins) != ""
}
