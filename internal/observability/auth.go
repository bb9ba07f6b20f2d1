package observability

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

var publicPaths = map[string]bool{
	"/healthz": true,
	"/version": true,
}

// APIKey guards every route with the gateway key, accepted as X-API-Key or a
// bearer token. Health probes and any path under publicPrefixes stay open.
// An empty key disables the check.
func APIKey(requiredKey string, publicPrefixes ...string) func(http.Handler) http.Handler {
	required := strings.TrimSpace(requiredKey)
	if required == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path, publicPrefixes) {
				next.ServeHTTP(w, r)
				return
			}
			if subtle.ConstantTimeCompare([]byte(credential(r)), []byte(required)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error": map[string]any{
						"code":    "unauthorized",
						"message": "missing or invalid api key",
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isPublic(path string, prefixes []string) bool {
	if publicPaths[path] {
		return true
	}
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
