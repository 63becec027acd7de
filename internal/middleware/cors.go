// Package middleware holds HTTP middleware for the interview API that chi
// does not already provide.
package middleware

import "net/http"

// CORS answers cross-origin requests from the interview frontend. An entry
// of "*" admits any origin; credentials are only granted to origins listed
// explicitly, since pairing Allow-Credentials with an echoed wildcard origin
// opens the API to CSRF.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if originAllowed(allowedOrigins, origin, true) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				if originAllowed(allowedOrigins, origin, false) {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin string, wildcardOK bool) bool {
	for _, o := range allowed {
		if o == origin || (wildcardOK && o == "*") {
			return true
		}
	}
	return false
}
