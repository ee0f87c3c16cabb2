package middleware

import (
	"fmt"
	"net/http"
)

// PrivateCache marks GET responses cacheable by the caller only. Review
// visibility depends on the viewer, so shared caches must not store them.
func PrivateCache(maxAge int) func(http.Handler) http.Handler {
	value := fmt.Sprintf("private, max-age=%d", maxAge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				w.Header().Set("Cache-Control", value)
				w.Header().Add("Vary", UserIDHeader)
			}
			next.ServeHTTP(w, r)
		})
	}
}
