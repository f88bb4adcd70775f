package middleware

import "net/http"

// CorsMiddleware applies the gateway's fixed, fully-permissive CORS policy:
// any origin, GET/POST/OPTIONS, Content-Type only. This gateway has no
// multi-tenant origin allowlist to enforce, unlike the dashboard proxy this
// middleware was adapted from.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
