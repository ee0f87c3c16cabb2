package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/pkg/httpclient"
)

const orderService = "order-service"

// OrderClient reads orders from the order service.
type OrderClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewOrderClient creates an OrderClient for the service at baseURL.
func NewOrderClient(doer httpclient.Doer, baseURL string) *OrderClient {
	return &OrderClient{doer: doer, baseURL: trimBase(baseURL)}
}

// GetOrder returns one order group. A 404 surfaces as apperrors.ErrNotFound.
func (c *OrderClient) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := getData[*domain.Order](ctx, c.doer, c.baseURL+"/api/v1/orders/"+url.PathEscape(orderID), orderService)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o == nil {
		return nil, fmt.Errorf("get order %s: empty response", orderID)
	}
	return o, nil
}

// ListBuyerOrders returns up to limit of the buyer's orders in statuses,
// newest first.
func (c *OrderClient) ListBuyerOrders(ctx context.Context, buyerID string, statuses []domain.OrderStatus, limit int) ([]domain.Order, error) {
	q := url.Values{}
	q.Set("buyer_id", buyerID)
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		q.Set("status", strings.Join(names, ","))
	}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "-created_at")

	orders, err := getData[[]domain.Order](ctx, c.doer, c.baseURL+"/api/v1/orders?"+q.Encode(), orderService)
	if err != nil {
		return nil, fmt.Errorf("list orders of buyer %s: %w", buyerID, err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}
