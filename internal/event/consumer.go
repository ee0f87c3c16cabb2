package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/stocklot-review/pkg/kafka"
)

// Kafka topics consumed by the review service.
var (
	TopicOrderCancelled  = pkgkafka.Topic("order", "cancelled")
	TopicDisputeResolved = pkgkafka.Topic("dispute", "resolved")
)

// BuyerRefresher recomputes a buyer's stats and reliability score.
type BuyerRefresher interface {
	RefreshBuyerStats(ctx context.Context, buyerID string) error
}

// OrderCancelledData is the expected payload of an order.cancelled event.
type OrderCancelledData struct {
	OrderID string `json:"order_id"`
	BuyerID string `json:"buyer_id"`
}

// DisputeResolvedData is the expected payload of a dispute.resolved event.
type DisputeResolvedData struct {
	DisputeID string `json:"dispute_id"`
	OrderID   string `json:"order_id"`
	BuyerID   string `json:"buyer_id"`
	Status    string `json:"status"`
}

// Consumer refreshes buyer reliability when order or dispute history changes.
type Consumer struct {
	service BuyerRefresher
	logger  *slog.Logger
}

// NewConsumer creates a new event consumer for the review service.
func NewConsumer(service BuyerRefresher, logger *slog.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

// HandleOrderCancelled refreshes the buyer of a cancelled order.
func (c *Consumer) HandleOrderCancelled(ctx context.Context, event *pkgkafka.Event) error {
	var data OrderCancelledData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal order.cancelled data: %w", err)
	}
	return c.refresh(ctx, event, data.OrderID, data.BuyerID)
}

// HandleDisputeResolved refreshes the buyer of an order whose dispute closed.
func (c *Consumer) HandleDisputeResolved(ctx context.Context, event *pkgkafka.Event) error {
	var data DisputeResolvedData
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("unmarshal dispute.resolved data: %w", err)
	}
	return c.refresh(ctx, event, data.OrderID, data.BuyerID)
}

func (c *Consumer) refresh(ctx context.Context, event *pkgkafka.Event, orderID, buyerID string) error {
	if buyerID == "" {
		c.logger.WarnContext(ctx, "event without buyer_id, skipping",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
			slog.String("order_id", orderID),
		)
		return nil
	}

	c.logger.InfoContext(ctx, "refreshing buyer reliability",
		slog.String("event_type", event.EventType),
		slog.String("order_id", orderID),
		slog.String("buyer_id", buyerID),
	)

	if err := c.service.RefreshBuyerStats(ctx, buyerID); err != nil {
		return fmt.Errorf("refresh buyer %s: %w", buyerID, err)
	}
	return nil
}
