// Package eligibility decides whether a user may review the other party of
// an order.
package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/utafrali/stocklot-review/internal/domain"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// OrderReader loads an order by id. A missing order is reported with an
// error matching apperrors.ErrNotFound.
type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// DisputeChecker reports whether an order has an OPEN or INVESTIGATING dispute.
type DisputeChecker interface {
	HasActiveDispute(ctx context.Context, orderID string) (bool, error)
}

// KYCReader returns a user's verification level.
type KYCReader interface {
	GetKYCLevel(ctx context.Context, userID string) (int, error)
}

// ReviewLookup reports whether a review already exists for the triple.
type ReviewLookup interface {
	ExistsForTriple(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction) (bool, error)
}

// Config holds eligibility thresholds.
type Config struct {
	ReviewWindow time.Duration
	MinKYCLevel  int
}

// DefaultConfig returns a 90 day review window and KYC level 1.
func DefaultConfig() Config {
	return Config{ReviewWindow: 90 * 24 * time.Hour, MinKYCLevel: 1}
}

// Checker evaluates the eligibility predicates in a fixed order and stops at
// the first failure. It never returns an error: collaborator failures yield
// ELIGIBILITY_CHECK_FAILED.
type Checker struct {
	orders   OrderReader
	disputes DisputeChecker
	kyc      KYCReader
	reviews  ReviewLookup
	cfg      Config
	logger   *slog.Logger
}

// NewChecker creates a Checker.
func NewChecker(orders OrderReader, disputes DisputeChecker, kyc KYCReader, reviews ReviewLookup, cfg Config, logger *slog.Logger) *Checker {
	return &Checker{
		orders:   orders,
		disputes: disputes,
		kyc:      kyc,
		reviews:  reviews,
		cfg:      cfg,
		logger:   logger,
	}
}

// Check evaluates eligibility at the current time.
func (c *Checker) Check(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction) domain.EligibilityResult {
	return c.CheckAt(ctx, orderGroupID, reviewerID, direction, time.Now().UTC())
}

// CheckAt evaluates eligibility as of now.
func (c *Checker) CheckAt(ctx context.Context, orderGroupID, reviewerID string, direction domain.Direction, now time.Time) domain.EligibilityResult {
	res := domain.EligibilityResult{OrderGroupID: orderGroupID, Direction: direction}

	order, err := c.orders.GetOrder(ctx, orderGroupID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return c.reject(ctx, res, domain.ReasonOrderNotFound)
		}
		return c.failed(ctx, res, "order lookup", err)
	}

	role := order.RoleOf(reviewerID)
	if role == domain.RoleNone {
		return c.reject(ctx, res, domain.ReasonNotOrderParty)
	}
	res.ReviewerRole = role
	if domain.DirectionFor(role) != direction {
		return c.reject(ctx, res, domain.ReasonDirectionMismatch)
	}
	res.SubjectUserID = order.Counterparty(direction)

	if !order.IsFulfilled() {
		return c.reject(ctx, res, domain.ReasonOrderNotCompleted)
	}
	if order.EscrowStatus != nil && *order.EscrowStatus != domain.EscrowReleased {
		return c.reject(ctx, res, domain.ReasonEscrowNotReleased)
	}

	disputed, err := c.disputes.HasActiveDispute(ctx, order.ID)
	if err != nil {
		return c.failed(ctx, res, "dispute lookup", err)
	}
	if disputed {
		return c.reject(ctx, res, domain.ReasonDisputeOpen)
	}

	if at := order.FulfilledAt(); at != nil && now.Sub(*at) > c.cfg.ReviewWindow {
		return c.reject(ctx, res, domain.ReasonReviewWindowExpired)
	}

	level, err := c.kyc.GetKYCLevel(ctx, reviewerID)
	if err != nil {
		return c.failed(ctx, res, "kyc lookup", err)
	}
	if level < c.cfg.MinKYCLevel {
		return c.reject(ctx, res, domain.ReasonKYCInsufficient)
	}

	exists, err := c.reviews.ExistsForTriple(ctx, orderGroupID, reviewerID, direction)
	if err != nil {
		return c.failed(ctx, res, "review lookup", err)
	}
	if exists {
		return c.reject(ctx, res, domain.ReasonAlreadyReviewed)
	}

	res.Eligible = true
	return res
}

func (c *Checker) reject(ctx context.Context, res domain.EligibilityResult, reason string) domain.EligibilityResult {
	res.Eligible = false
	res.Reason = reason
	c.logger.DebugContext(ctx, "review not eligible",
		slog.String("order_group_id", res.OrderGroupID),
		slog.String("reason", reason),
	)
	return res
}

func (c *Checker) failed(ctx context.Context, res domain.EligibilityResult, step string, err error) domain.EligibilityResult {
	c.logger.WarnContext(ctx, "eligibility check failed",
		slog.String("order_group_id", res.OrderGroupID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
	res.Eligible = false
	res.Reason = domain.ReasonEligibilityCheckFailed
	return res
}
