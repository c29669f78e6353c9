package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, PUT, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, Last-Event-ID"
	// Retry-After lets browser dashboards back off when rate limited.
	corsExposed = "Retry-After"
	corsMaxAge  = "600"
)

// CORS lets browser dashboards on other origins read the API. An empty list
// or a "*" entry allows any origin. Origins compare case-insensitively and
// ignore a trailing slash. Only preflights, i.e. OPTIONS carrying
// Access-Control-Request-Method, are answered here.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		o = normalizeOrigin(o)
		if o == "*" {
			allowAll = true
			continue
		}
		if o != "" {
			allowed[o] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			_, ok := allowed[normalizeOrigin(origin)]
			if ok || allowAll {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", corsExposed)
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				if ok || allowAll {
					h.Set("Access-Control-Allow-Methods", corsMethods)
					h.Set("Access-Control-Allow-Headers", corsHeaders)
					h.Set("Access-Control-Max-Age", corsMaxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(o), "/"))
}
