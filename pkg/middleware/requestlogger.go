package middleware

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/stocklot-review/pkg/logger"
)

// RequestLogger stores a logger enriched with correlation, user and trace IDs
// in the request context. Mount it after RequestLogging, Tracing and
// GatewayIdentity.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := UserIDFromContext(ctx); id != "" {
				ctx = logger.WithUserID(ctx, id)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
