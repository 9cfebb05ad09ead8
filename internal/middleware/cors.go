// Package middleware provides HTTP middleware for the SalesBot API.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/salesbot/internal/identity"
)

const corsMaxAge = 10 * time.Minute

var (
	corsMethods = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	// Last-Event-ID lets browsers resume the chat event stream.
	corsHeaders = strings.Join([]string{"Content-Type", identity.SessionHeaderName, "Last-Event-ID"}, ", ")
)

// CORS returns middleware that handles CORS headers. "*" admits any origin
// but never with credentials, so the identity cookie only crosses to listed
// origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			w.Header().Add("Vary", "Origin")

			explicit := origin != "" && slices.Contains(allowedOrigins, origin)
			if explicit || (wildcard && origin != "") {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				h.Set("Access-Control-Expose-Headers", "X-Request-Id")
				h.Set("Access-Control-Max-Age", strconv.Itoa(int(corsMaxAge.Seconds())))
				if explicit {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
