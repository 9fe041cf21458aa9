package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"docsync-go/internal/api/response"
	"docsync-go/internal/config"
)

type contextKey string

// KeyNameKey holds the name of the API key that authenticated the request.
const KeyNameKey contextKey = "api_key_name"

// Auth returns a middleware that accepts requests carrying one of keys,
// either in X-API-Key or as a bearer token. Keys are compared by SHA-256.
func Auth(keys []config.APIKeyConfig) func(http.Handler) http.Handler {
	digests := make([][]byte, len(keys))
	for i, k := range keys {
		d, err := hex.DecodeString(strings.ToLower(k.KeySHA256))
		if err == nil && len(d) == sha256.Size {
			digests[i] = d
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			sum := sha256.Sum256([]byte(key))
			name := ""
			for i, d := range digests {
				if d != nil && subtle.ConstantTimeCompare(sum[:], d) == 1 {
					name = keys[i].Name
				}
			}
			if name == "" {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), KeyNameKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyName returns the authenticated key name, or "" outside Auth.
func KeyName(ctx context.Context) string {
	name, _ := ctx.Value(KeyNameKey).(string)
	return name
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
