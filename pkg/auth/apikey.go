// Package auth provides API key authentication for the gateway's HTTP
// transport.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey is one accepted key with a display name for logging.
type APIKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

// APIKeyMiddleware rejects requests that do not carry one of the configured
// keys in the X-API-Key header or as a bearer token. With no keys
// configured it passes every request through.
func APIKeyMiddleware(keys []APIKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" || !matchKey(keys, token) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken pulls the credential from X-API-Key or Authorization: Bearer.
func extractToken(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	return ""
}

// matchKey compares token against every configured key in constant time.
func matchKey(keys []APIKey, token string) bool {
	matched := false
	for i := range keys {
		if subtle.ConstantTimeCompare([]byte(keys[i].Key), []byte(token)) == 1 {
			matched = true
		}
	}
	return matched
}
