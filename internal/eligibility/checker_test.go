package eligibility

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/utafrali/stocklot-review/internal/domain"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// --- Mocks ---

type mockOrders struct{ mock.Mock }

func (m *mockOrders) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

type mockDisputes struct{ mock.Mock }

func (m *mockDisputes) HasActiveDispute(ctx context.Context, orderID string) (bool, error) {
	args := m.Called(ctx, orderID)
	return args.Bool(0), args.Error(1)
}

type mockKYC struct{ mock.Mock }

func (m *mockKYC) GetKYCLevel(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type mockReviews struct{ mock.Mock }

func (m *mockReviews) ExistsForTriple(ctx context.Context, orderID, reviewerID string, d domain.Direction) (bool, error) {
	args := m.Called(ctx, orderID, reviewerID, d)
	return args.Bool(0), args.Error(1)
}

// --- Scenario ---

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// scenario describes collaborator state. The zero-modified baseline passes
// every predicate.
type scenario struct {
	order      *domain.Order
	orderErr   error
	disputed   bool
	disputeErr error
	kycLevel   int
	kycErr     error
	exists     bool
	existsErr  error
	reviewerID string
	direction  domain.Direction
}

func baseline() scenario {
	delivered := now.Add(-48 * time.Hour)
	released := domain.EscrowReleased
	return scenario{
		order: &domain.Order{
			ID:           "order-1",
			BuyerID:      "buyer-1",
			SellerID:     "seller-1",
			Status:       domain.OrderStatusDelivered,
			EscrowStatus: &released,
			DeliveredAt:  &delivered,
		},
		kycLevel:   1,
		reviewerID: "buyer-1",
		direction:  domain.DirectionBuyerOnSeller,
	}
}

func (s scenario) run(t *testing.T) domain.EligibilityResult {
	t.Helper()
	orders := new(mockOrders)
	disputes := new(mockDisputes)
	kyc := new(mockKYC)
	reviews := new(mockReviews)

	if s.orderErr != nil {
		orders.On("GetOrder", mock.Anything, "order-1").Return(nil, s.orderErr)
	} else {
		orders.On("GetOrder", mock.Anything, "order-1").Return(s.order, nil)
	}
	disputes.On("HasActiveDispute", mock.Anything, "order-1").Return(s.disputed, s.disputeErr).Maybe()
	kyc.On("GetKYCLevel", mock.Anything, s.reviewerID).Return(s.kycLevel, s.kycErr).Maybe()
	reviews.On("ExistsForTriple", mock.Anything, "order-1", s.reviewerID, s.direction).Return(s.exists, s.existsErr).Maybe()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c := NewChecker(orders, disputes, kyc, reviews, DefaultConfig(), logger)
	res := c.CheckAt(context.Background(), "order-1", s.reviewerID, s.direction, now)

	orders.AssertExpectations(t)
	return res
}

// --- Tests ---

func TestCheckAt_AllPredicatesPass(t *testing.T) {
	res := baseline().run(t)

	assert.True(t, res.Eligible)
	assert.Empty(t, res.Reason)
	assert.Equal(t, domain.RoleBuyer, res.ReviewerRole)
	assert.Equal(t, "seller-1", res.SubjectUserID)
}

func TestCheckAt_SellerReviewsBuyer(t *testing.T) {
	s := baseline()
	s.reviewerID = "seller-1"
	s.direction = domain.DirectionSellerOnBuyer
	res := s.run(t)

	assert.True(t, res.Eligible)
	assert.Equal(t, "buyer-1", res.SubjectUserID)
}

func TestCheckAt_SinglePredicateFlips(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *scenario)
		reason string
	}{
		{"order missing", func(s *scenario) { s.orderErr = apperrors.NotFound("order", "order-1") }, domain.ReasonOrderNotFound},
		{"stranger", func(s *scenario) { s.reviewerID = "someone-else" }, domain.ReasonNotOrderParty},
		{"wrong role", func(s *scenario) { s.direction = domain.DirectionSellerOnBuyer }, domain.ReasonDirectionMismatch},
		{"undelivered", func(s *scenario) { s.order.Status = domain.OrderStatusShipped }, domain.ReasonOrderNotCompleted},
		{"escrow held", func(s *scenario) {
			held := "HELD"
			s.order.EscrowStatus = &held
		}, domain.ReasonEscrowNotReleased},
		{"open dispute", func(s *scenario) { s.disputed = true }, domain.ReasonDisputeOpen},
		{"expired window", func(s *scenario) {
			old := now.Add(-91 * 24 * time.Hour)
			s.order.DeliveredAt = &old
		}, domain.ReasonReviewWindowExpired},
		{"insufficient kyc", func(s *scenario) { s.kycLevel = 0 }, domain.ReasonKYCInsufficient},
		{"duplicate", func(s *scenario) { s.exists = true }, domain.ReasonAlreadyReviewed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseline()
			tt.mutate(&s)
			res := s.run(t)

			assert.False(t, res.Eligible)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestCheckAt_CollaboratorErrorsFailClosed(t *testing.T) {
	boom := errors.New("connection refused")
	tests := []struct {
		name   string
		mutate func(s *scenario)
	}{
		{"orders", func(s *scenario) { s.orderErr = boom }},
		{"disputes", func(s *scenario) { s.disputeErr = boom }},
		{"kyc", func(s *scenario) { s.kycErr = boom }},
		{"reviews", func(s *scenario) { s.existsErr = boom }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseline()
			tt.mutate(&s)
			res := s.run(t)

			assert.False(t, res.Eligible)
			assert.Equal(t, domain.ReasonEligibilityCheckFailed, res.Reason)
		})
	}
}

func TestCheckAt_EscrowUntrackedPasses(t *testing.T) {
	s := baseline()
	s.order.EscrowStatus = nil
	assert.True(t, s.run(t).Eligible)
}

func TestCheckAt_WindowFallsBackToCompletedAt(t *testing.T) {
	s := baseline()
	completed := now.Add(-100 * 24 * time.Hour)
	s.order.DeliveredAt = nil
	s.order.CompletedAt = &completed
	s.order.Status = domain.OrderStatusComplete

	res := s.run(t)
	assert.Equal(t, domain.ReasonReviewWindowExpired, res.Reason)
}

func TestCheckAt_WindowBoundaryIsInclusive(t *testing.T) {
	s := baseline()
	edge := now.Add(-90 * 24 * time.Hour)
	s.order.DeliveredAt = &edge
	assert.True(t, s.run(t).Eligible)
}
