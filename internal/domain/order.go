package domain

import "time"

// OrderStatus mirrors the order service's status values.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusComplete  OrderStatus = "COMPLETE"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// EscrowReleased is the only escrow status that allows a review.
const EscrowReleased = "RELEASED"

// Dispute statuses as reported by the dispute service.
const (
	DisputeOpen          = "OPEN"
	DisputeInvestigating = "INVESTIGATING"
	DisputeResolved      = "RESOLVED"
	DisputeClosed        = "CLOSED"
)

// Role of a user on an order.
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

// Order is the read model of an order group owned by the order service.
type Order struct {
	ID           string      `json:"id"`
	BuyerID      string      `json:"buyer_id"`
	SellerID     string      `json:"seller_id"`
	Status       OrderStatus `json:"status"`
	EscrowStatus *string     `json:"escrow_status,omitempty"`
	DeliveredAt  *time.Time  `json:"delivered_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// RoleOf returns the role userID plays on the order.
func (o *Order) RoleOf(userID string) Role {
	switch userID {
	case "":
		return RoleNone
	case o.BuyerID:
		return RoleBuyer
	case o.SellerID:
		return RoleSeller
	default:
		return RoleNone
	}
}

// Counterparty returns the reviewed user for a review in direction d.
func (o *Order) Counterparty(d Direction) string {
	if d == DirectionBuyerOnSeller {
		return o.SellerID
	}
	return o.BuyerID
}

// FulfilledAt is the delivery time, falling back to completion time. It is
// nil when neither is known.
func (o *Order) FulfilledAt() *time.Time {
	if o.DeliveredAt != nil {
		return o.DeliveredAt
	}
	return o.CompletedAt
}

// IsFulfilled reports whether the order reached DELIVERED or COMPLETE.
func (o *Order) IsFulfilled() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusComplete
}

// DirectionFor returns the only direction a user in role may submit.
func DirectionFor(role Role) Direction {
	switch role {
	case RoleBuyer:
		return DirectionBuyerOnSeller
	case RoleSeller:
		return DirectionSellerOnBuyer
	default:
		return ""
	}
}
