package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/stocklot-review/internal/jobs"
	"github.com/utafrali/stocklot-review/internal/service"
	"github.com/utafrali/stocklot-review/pkg/health"
	"github.com/utafrali/stocklot-review/pkg/middleware"
)

// JobsRole is the token role allowed to trigger internal jobs.
const JobsRole = "jobs"

// RouterConfig holds the router options that come from configuration.
type RouterConfig struct {
	// JobsJWTSecret enables /internal/jobs when set.
	JobsJWTSecret string
	// StatsMaxAge is the private cache lifetime of read endpoints, in seconds.
	StatsMaxAge int
}

// NewRouter creates a chi router with all review service routes registered.
func NewRouter(
	reviewService *service.ReviewService,
	runner jobs.Runner,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("review"))
	r.Use(middleware.Tracing("review"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	reviewHandler := NewReviewHandler(reviewService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		r.Use(middleware.GatewayIdentity)

		r.Route("/reviews", func(r chi.Router) {
			r.Use(ContentTypeJSON)

			r.Get("/eligibility", reviewHandler.CheckEligibility)
			r.Post("/", reviewHandler.CreateReview)
			r.Get("/{id}", reviewHandler.GetReview)
			r.Patch("/{id}", reviewHandler.UpdateReview)
			r.Delete("/{id}", reviewHandler.DeleteReview)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.PrivateCache(cfg.StatsMaxAge))

			r.Get("/users/{userId}/reviews", reviewHandler.ListUserReviews)
			r.Get("/sellers/{id}/rating-stats", reviewHandler.GetSellerStats)
			r.Get("/buyers/{id}/rating-stats", reviewHandler.GetBuyerStats)
		})
	})

	if cfg.JobsJWTSecret != "" && runner != nil {
		jobsHandler := NewJobsHandler(runner, logger)

		r.Route("/internal/jobs", func(r chi.Router) {
			r.Use(middleware.Auth(middleware.JWTValidator(cfg.JobsJWTSecret)))
			r.Use(middleware.RequireRole(JobsRole))

			r.Post("/unblind", jobsHandler.Unblind)
			r.Post("/recompute", jobsHandler.Recompute)
		})
	} else {
		logger.Info("internal job endpoints disabled: no jobs secret configured")
	}

	return r
}
