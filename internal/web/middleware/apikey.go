package middleware

import "net/http"

// HeaderAPIKey is the request header carrying the API key.
const HeaderAPIKey = "X-API-Key"

// RequireKey is middleware that checks the API key header against the
// configured key. An empty key leaves the API open, the single-kiosk
// default where the service binds to localhost.
func RequireKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get(HeaderAPIKey) != key {
				http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
