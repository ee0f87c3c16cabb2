package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/internal/repository"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// CheckEligibility reports whether reviewerID may review the order in
// direction right now.
func (s *ReviewService) CheckEligibility(ctx context.Context, orderGroupID, direction, reviewerID string) (domain.EligibilityResult, error) {
	if reviewerID == "" {
		return domain.EligibilityResult{}, apperrors.Unauthorized("missing user identity")
	}
	orderGroupID = strings.TrimSpace(orderGroupID)
	if orderGroupID == "" {
		return domain.EligibilityResult{}, apperrors.Validation("order_group_id", "is required")
	}
	d, err := domain.ParseDirection(direction)
	if err != nil {
		return domain.EligibilityResult{}, err
	}
	return s.eligibility.CheckAt(ctx, orderGroupID, reviewerID, d, s.now()), nil
}

// GetReview returns a review the viewer is allowed to read. Reviews hidden
// by moderation or the blind window are reported as not found.
func (s *ReviewService) GetReview(ctx context.Context, id, viewerID string) (*domain.Review, error) {
	review, err := s.store.Repositories().Reviews.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("review", id)
		}
		return nil, fmt.Errorf("get review by id: %w", err)
	}
	if !review.VisibleTo(viewerID, s.now()) {
		return nil, apperrors.NotFound("review", id)
	}
	return review, nil
}

// ListReviewsForSubject returns a page of the reviews about subjectID that
// the viewer may read, newest first, and the total count.
func (s *ReviewService) ListReviewsForSubject(ctx context.Context, subjectID string, direction domain.Direction, viewerID string, page, perPage int) ([]domain.Review, int, error) {
	if subjectID == "" {
		return nil, 0, apperrors.Validation("user_id", "is required")
	}
	if !direction.Valid() {
		return nil, 0, apperrors.Validation("direction", "must be BUYER_ON_SELLER or SELLER_ON_BUYER")
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	reviews, total, err := s.store.Repositories().Reviews.ListVisibleForSubject(ctx, repository.SubjectFilter{
		SubjectID: subjectID,
		Direction: direction,
		ViewerID:  viewerID,
		Now:       s.now(),
		Limit:     perPage,
		Offset:    (page - 1) * perPage,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list reviews for subject: %w", err)
	}
	return reviews, total, nil
}

// GetSellerStats returns the stored seller stats, or the empty "no ratings
// yet" record.
func (s *ReviewService) GetSellerStats(ctx context.Context, sellerID string) (*domain.SellerRatingStats, error) {
	stats, err := s.store.Repositories().Stats.GetSellerStats(ctx, sellerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &domain.SellerRatingStats{SellerID: sellerID}, nil
		}
		return nil, fmt.Errorf("get seller stats: %w", err)
	}
	return stats, nil
}

// GetBuyerStats returns the stored buyer stats, or the empty "no ratings
// yet" record.
func (s *ReviewService) GetBuyerStats(ctx context.Context, buyerID string) (*domain.BuyerRatingStats, error) {
	stats, err := s.store.Repositories().Stats.GetBuyerStats(ctx, buyerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return &domain.BuyerRatingStats{BuyerID: buyerID}, nil
		}
		return nil, fmt.Errorf("get buyer stats: %w", err)
	}
	return stats, nil
}

// RefreshBuyerStats recomputes a buyer's rating and reliability score, e.g.
// after an order was cancelled or a dispute closed.
func (s *ReviewService) RefreshBuyerStats(ctx context.Context, buyerID string) error {
	if buyerID == "" {
		return apperrors.Validation("buyer_id", "is required")
	}
	now := s.now()
	inputs, err := s.aggregator.Prepare(ctx, buyerID, domain.DirectionSellerOnBuyer)
	if err != nil {
		return fmt.Errorf("refresh buyer stats: %w", err)
	}
	err = s.store.WithinTx(ctx, func(repos repository.Repositories) error {
		_, err := s.aggregator.Recompute(ctx, repos, buyerID, domain.DirectionSellerOnBuyer, inputs, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("refresh buyer stats: %w", err)
	}
	s.logger.InfoContext(ctx, "buyer stats refreshed", slog.String("buyer_id", buyerID))
	return nil
}
