package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/service"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
	"github.com/utafrali/stocklot-review/pkg/httputil"
	"github.com/utafrali/stocklot-review/pkg/middleware"
	"github.com/utafrali/stocklot-review/pkg/pagination"
)

const maxBodyBytes = 1 << 20

// ReviewHandler handles HTTP requests for review endpoints.
type ReviewHandler struct {
	service *service.ReviewService
	logger  *slog.Logger
}

// NewReviewHandler creates a new review HTTP handler.
func NewReviewHandler(svc *service.ReviewService, logger *slog.Logger) *ReviewHandler {
	return &ReviewHandler{
		service: svc,
		logger:  logger,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.Validation("body", "is not valid JSON: "+err.Error())
	}
	return nil
}

// CheckEligibility handles GET /api/v1/reviews/eligibility
func (h *ReviewHandler) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.service.CheckEligibility(r.Context(), q.Get("order_group_id"), q.Get("direction"), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// CreateReview handles POST /api/v1/reviews
func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var in service.CreateReviewInput
	if err := decodeBody(w, r, &in); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.service.CreateReview(r.Context(), &in, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusCreated, res)
}

// GetReview handles GET /api/v1/reviews/{id}
func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	review, err := h.service.GetReview(r.Context(), id.String(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// UpdateReview handles PATCH /api/v1/reviews/{id}
func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var patch service.ReviewPatch
	if err := decodeBody(w, r, &patch); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	review, err := h.service.UpdateReview(r.Context(), id.String(), &patch, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, review)
}

// DeleteReview handles DELETE /api/v1/reviews/{id}
func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, "id", chi.URLParam(r, "id"))
	if !ok {
		return
	}

	if err := h.service.DeleteReview(r.Context(), id.String(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListUserReviews handles GET /api/v1/users/{userId}/reviews. Without a
// direction it lists the reviews the user received as a seller.
func (h *ReviewHandler) ListUserReviews(w http.ResponseWriter, r *http.Request) {
	direction := domain.DirectionBuyerOnSeller
	if v := r.URL.Query().Get("direction"); v != "" {
		d, err := domain.ParseDirection(v)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		direction = d
	}
	p := pagination.FromRequest(r)

	reviews, total, err := h.service.ListReviewsForSubject(r.Context(), chi.URLParam(r, "userId"), direction,
		middleware.UserIDFromContext(r.Context()), p.Page, p.PerPage)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(reviews, total, p))
}

// GetSellerStats handles GET /api/v1/sellers/{id}/rating-stats
func (h *ReviewHandler) GetSellerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetSellerStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stats)
}

// GetBuyerStats handles GET /api/v1/buyers/{id}/rating-stats
func (h *ReviewHandler) GetBuyerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetBuyerStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, stats)
}
