package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocklot-review/internal/domain"
)

type stubOrders struct {
	orders []domain.Order
	err    error
	limit  int
}

func (s *stubOrders) ListBuyerOrders(_ context.Context, _ string, _ []domain.OrderStatus, limit int) ([]domain.Order, error) {
	s.limit = limit
	return s.orders, s.err
}

type stubDisputes struct {
	resolved int
	err      error
	ids      []string
}

func (s *stubDisputes) CountResolvedDisputes(_ context.Context, ids []string) (int, error) {
	s.ids = ids
	return s.resolved, s.err
}

func orders(statuses ...domain.OrderStatus) []domain.Order {
	out := make([]domain.Order, len(statuses))
	for i, st := range statuses {
		out[i] = domain.Order{ID: fmt.Sprintf("o-%d", i), Status: st}
	}
	return out
}

func scoreOf(s *Scorer, buyerID string, bayes float64) (Breakdown, error) {
	sig, err := s.Signals(context.Background(), buyerID)
	if err != nil {
		return Breakdown{}, err
	}
	return sig.Breakdown(bayes), nil
}

func TestCompute_Formula(t *testing.T) {
	// 0.30*(4.5*20) + 0.35*(0.8*100) + 0.20*(0.9*100) + 0.15*(0.5*100)
	// = 27 + 28 + 18 + 7.5
	assert.InDelta(t, 80.5, Compute(4.5, 0.8, 0.1, 0.5, 10), 1e-9)
	assert.InDelta(t, 100.0, Compute(5, 1, 0, 1, 3), 1e-9)
	assert.InDelta(t, 0.0, Compute(0, 0, 1, 0, 3), 1e-9)
}

func TestCompute_NewBuyerFloor(t *testing.T) {
	// 0.30*(1*20) + 0 + 0.20*100 + 0.15*50 = 6 + 20 + 7.5 = 33.5
	assert.Equal(t, NewBuyerFloor, Compute(1, 0, 0, 0.5, 0))
	// Above the floor the computed value wins: 0.30*100 + 20 + 7.5 = 57.5
	assert.InDelta(t, 57.5, Compute(5, 0, 0, 0.5, 0), 1e-9)
}

func TestScorer_ZeroOrdersNeverBelowFloor(t *testing.T) {
	s := NewScorer(&stubOrders{}, &stubDisputes{}, nil)

	for _, bayes := range []float64{0, 1, 2.5, 3.9} {
		b, err := scoreOf(s, "buyer-1", bayes)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.Score, NewBuyerFloor)
		assert.Zero(t, b.OrdersConsidered)
	}
}

func TestScorer_WithHistory(t *testing.T) {
	o := &stubOrders{orders: orders(
		domain.OrderStatusComplete,
		domain.OrderStatusComplete,
		domain.OrderStatusDelivered,
		domain.OrderStatusCancelled,
	)}
	d := &stubDisputes{resolved: 1}
	s := NewScorer(o, d, StaticPromptness(0.5))

	b, err := scoreOf(s, "buyer-1", 4.0)
	require.NoError(t, err)

	assert.Equal(t, MaxOrdersConsidered, o.limit)
	assert.Len(t, d.ids, 4)
	assert.Equal(t, 4, b.OrdersConsidered)
	assert.InDelta(t, 0.75, b.PaymentCompletionRate, 1e-9)
	assert.InDelta(t, 0.25, b.DisputeRate, 1e-9)
	// 24 + 26.25 + 15 + 7.5
	assert.InDelta(t, 72.75, b.Score, 1e-9)
	assert.False(t, b.Floored)
}

func TestScorer_CapsOrdersConsidered(t *testing.T) {
	many := make([]domain.OrderStatus, 60)
	for i := range many {
		many[i] = domain.OrderStatusComplete
	}
	s := NewScorer(&stubOrders{orders: orders(many...)}, &stubDisputes{}, nil)

	b, err := scoreOf(s, "buyer-1", 4)
	require.NoError(t, err)
	assert.Equal(t, MaxOrdersConsidered, b.OrdersConsidered)
}

func TestScorer_Errors(t *testing.T) {
	boom := errors.New("unreachable")

	_, err := NewScorer(&stubOrders{err: boom}, &stubDisputes{}, nil).Signals(context.Background(), "b")
	assert.ErrorIs(t, err, boom)

	_, err = NewScorer(&stubOrders{orders: orders(domain.OrderStatusPaid)}, &stubDisputes{err: boom}, nil).
		Signals(context.Background(), "b")
	assert.ErrorIs(t, err, boom)
}

func TestSignals_BreakdownIsPure(t *testing.T) {
	sig := Signals{PaymentCompletionRate: 0.8, DisputeRate: 0.1, Promptness: 0.5, OrdersConsidered: 10}

	b := sig.Breakdown(4.5)
	assert.InDelta(t, 80.5, b.Score, 1e-9)
	assert.InDelta(t, 4.5, b.Bayes, 1e-9)
	assert.Equal(t, 10, b.OrdersConsidered)
	assert.Equal(t, b, sig.Breakdown(4.5))
}
