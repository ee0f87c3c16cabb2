// Package reliability computes the buyer reliability score.
package reliability

import (
	"context"
	"fmt"
	"math"

	"github.com/utafrali/stocklot-review/internal/domain"
)

// Scoring constants.
const (
	MaxOrdersConsidered = 50
	NewBuyerFloor       = 50.0

	weightRating     = 0.30
	weightPayment    = 0.35
	weightDisputes   = 0.20
	weightPromptness = 0.15
)

// ConsideredStatuses are the order statuses that count towards the score.
var ConsideredStatuses = []domain.OrderStatus{
	domain.OrderStatusPaid,
	domain.OrderStatusDelivered,
	domain.OrderStatusComplete,
	domain.OrderStatusCancelled,
}

// OrderHistory lists a buyer's most recent orders, newest first.
type OrderHistory interface {
	ListBuyerOrders(ctx context.Context, buyerID string, statuses []domain.OrderStatus, limit int) ([]domain.Order, error)
}

// DisputeCounter counts RESOLVED or CLOSED disputes over a set of orders.
type DisputeCounter interface {
	CountResolvedDisputes(ctx context.Context, orderIDs []string) (int, error)
}

// PromptnessSignal rates how promptly a buyer confirms deliveries, in [0,1].
type PromptnessSignal interface {
	Promptness(ctx context.Context, buyerID string, orders []domain.Order) (float64, error)
}

// StaticPromptness returns the same promptness for every buyer.
type StaticPromptness float64

// Promptness implements PromptnessSignal.
func (s StaticPromptness) Promptness(context.Context, string, []domain.Order) (float64, error) {
	return float64(s), nil
}

// Breakdown is a reliability score with its inputs.
type Breakdown struct {
	Score                 float64 `json:"score"`
	Bayes                 float64 `json:"bayes"`
	PaymentCompletionRate float64 `json:"payment_completion_rate"`
	DisputeRate           float64 `json:"dispute_rate"`
	Promptness            float64 `json:"promptness"`
	OrdersConsidered      int     `json:"orders_considered"`
	Floored               bool    `json:"floored"`
}

// Scorer computes buyer reliability.
type Scorer struct {
	orders     OrderHistory
	disputes   DisputeCounter
	promptness PromptnessSignal
}

// NewScorer creates a Scorer. A nil promptness signal defaults to
// StaticPromptness(0.5).
func NewScorer(orders OrderHistory, disputes DisputeCounter, promptness PromptnessSignal) *Scorer {
	if promptness == nil {
		promptness = StaticPromptness(0.5)
	}
	return &Scorer{orders: orders, disputes: disputes, promptness: promptness}
}

// Signals are the order-history inputs of a buyer's score. They come from
// other services, so callers load them before opening a transaction.
type Signals struct {
	PaymentCompletionRate float64
	DisputeRate           float64
	Promptness            float64
	OrdersConsidered      int
}

// Signals loads the buyer's recent orders, resolved disputes and promptness.
func (s *Scorer) Signals(ctx context.Context, buyerID string) (Signals, error) {
	orders, err := s.orders.ListBuyerOrders(ctx, buyerID, ConsideredStatuses, MaxOrdersConsidered)
	if err != nil {
		return Signals{}, fmt.Errorf("list buyer orders: %w", err)
	}
	if len(orders) > MaxOrdersConsidered {
		orders = orders[:MaxOrdersConsidered]
	}

	sig := Signals{OrdersConsidered: len(orders)}

	if n := len(orders); n > 0 {
		completed := 0
		ids := make([]string, 0, n)
		for _, o := range orders {
			if o.Status != domain.OrderStatusCancelled {
				completed++
			}
			ids = append(ids, o.ID)
		}
		sig.PaymentCompletionRate = float64(completed) / float64(n)

		resolved, err := s.disputes.CountResolvedDisputes(ctx, ids)
		if err != nil {
			return Signals{}, fmt.Errorf("count disputes: %w", err)
		}
		sig.DisputeRate = math.Min(float64(resolved)/float64(n), 1)
	}

	prompt, err := s.promptness.Promptness(ctx, buyerID, orders)
	if err != nil {
		return Signals{}, fmt.Errorf("promptness signal: %w", err)
	}
	sig.Promptness = clamp(prompt, 0, 1)
	return sig, nil
}

// Breakdown scores the signals against the buyer's Bayesian rating.
func (sig Signals) Breakdown(bayes float64) Breakdown {
	b := Breakdown{
		Bayes:                 bayes,
		PaymentCompletionRate: sig.PaymentCompletionRate,
		DisputeRate:           sig.DisputeRate,
		Promptness:            sig.Promptness,
		OrdersConsidered:      sig.OrdersConsidered,
	}
	b.Score = Compute(bayes, b.PaymentCompletionRate, b.DisputeRate, b.Promptness, b.OrdersConsidered)
	b.Floored = b.OrdersConsidered == 0 && b.Score == NewBuyerFloor
	return b
}

// Compute applies the reliability formula. Buyers without orders never score
// below NewBuyerFloor.
func Compute(bayes, paymentCompletionRate, disputeRate, promptness float64, orders int) float64 {
	score := weightRating*(bayes*20) +
		weightPayment*(paymentCompletionRate*100) +
		weightDisputes*((1-disputeRate)*100) +
		weightPromptness*(promptness*100)
	score = clamp(score, 0, 100)
	if orders == 0 {
		score = math.Max(score, NewBuyerFloor)
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
