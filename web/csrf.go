package web

import (
	"fmt"
	"log/slog"
	"net/http"
)

// preventCSRF uses Go's 1.25 cross-origin protection middleware.
func preventCSRF(next http.Handler) http.Handler {
	cop := http.NewCrossOriginProtection()
	cop.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("CSRF check failed"))
	}))
	return cop.Handler(next)
}

// enforceCSRF wraps preventCSRF and ensures that any browser or agent that does
// not send the Sec-Fetch-Site or Origin headers is rejected for state changing
// requests, such as the create customer form.
func enforceCSRF(logger *slog.Logger, next http.Handler) http.Handler {

	standardCSRF := preventCSRF(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		// Ignore non-data changing methods.
		if r.Method == "GET" || r.Method == "HEAD" || r.Method == "OPTIONS" || r.Method == "TRACE" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Sec-Fetch-Site") == "" && r.Header.Get("Origin") == "" {
			logger.Warn(fmt.Sprintf("Rejected request from %s: missing Sec-Fetch-Site and Origin headers", r.RemoteAddr))
			http.Error(w, "Agent or browser not supported.", http.StatusForbidden)
			return
		}

		standardCSRF.ServeHTTP(w, r)
	})
}
