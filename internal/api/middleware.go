package api

import (
	"crypto/subtle"
	"net/http"
)

// requireAPIKey guards the consumer-facing endpoints with a shared key
// carried in the X-API-Key header. Comparison is constant-time.
func requireAPIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-API-Key")
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
