package middleware

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and sets the allow headers the browser
// extension client needs. An empty origin list or "*" allows any origin;
// an entry of the form "scheme://*" allows any origin with that scheme.
func CORS(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	allowed := func(origin string) bool {
		if allowAll {
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(o, origin) {
				return true
			}
			if prefix, ok := strings.CutSuffix(o, "*"); ok && strings.HasSuffix(prefix, "://") &&
				strings.HasPrefix(strings.ToLower(origin), strings.ToLower(prefix)) {
				return true
			}
		}
		return false
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed(origin) {
				h := w.Header()
				if allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
