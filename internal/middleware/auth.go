package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const ClientKey contextKey = "client"

// openPaths are health checks that never require a key
var openPaths = map[string]bool{
	"/health": true,
	"/ready":  true,
	"/live":   true,
}

// APIKeyAuth validates API key from Authorization or X-API-Key header.
// validKeys maps key -> client name; an empty map disables auth.
func APIKeyAuth(validKeys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(validKeys) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if openPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			// Support "Bearer <key>", "<key>" and X-API-Key
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
			}
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			// constant-time comparison
			var (
				client  string
				matched bool
			)
			for key, name := range validKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					client, matched = name, true
					break
				}
			}
			if !matched {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), ClientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the authenticated client name, "" when auth is off
func ClientFromContext(ctx context.Context) string {
	if client, ok := ctx.Value(ClientKey).(string); ok {
		return client
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
