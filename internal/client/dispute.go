package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/utafrali/stocklot-review/internal/domain"
	"github.com/utafrali/stocklot-review/pkg/httpclient"
)

const disputeService = "dispute-service"

type disputeDTO struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type countRequest struct {
	OrderIDs []string `json:"order_ids"`
	Statuses []string `json:"statuses"`
}

type countResponse struct {
	Count int `json:"count"`
}

// DisputeClient reads dispute state from the dispute service.
type DisputeClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewDisputeClient creates a DisputeClient for the service at baseURL.
func NewDisputeClient(doer httpclient.Doer, baseURL string) *DisputeClient {
	return &DisputeClient{doer: doer, baseURL: trimBase(baseURL)}
}

// HasActiveDispute reports whether the order has an OPEN or INVESTIGATING
// dispute.
func (c *DisputeClient) HasActiveDispute(ctx context.Context, orderID string) (bool, error) {
	disputes, err := getData[[]disputeDTO](ctx, c.doer, c.baseURL+"/api/v1/orders/"+url.PathEscape(orderID)+"/disputes", disputeService)
	if err != nil {
		return false, fmt.Errorf("list disputes of order %s: %w", orderID, err)
	}
	for _, d := range disputes {
		if d.Status == domain.DisputeOpen || d.Status == domain.DisputeInvestigating {
			return true, nil
		}
	}
	return false, nil
}

// CountResolvedDisputes counts RESOLVED or CLOSED disputes over orderIDs.
func (c *DisputeClient) CountResolvedDisputes(ctx context.Context, orderIDs []string) (int, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	res, err := postData[countResponse](ctx, c.doer, c.baseURL+"/api/v1/disputes/count", disputeService, countRequest{
		OrderIDs: orderIDs,
		Statuses: []string{domain.DisputeResolved, domain.DisputeClosed},
	})
	if err != nil {
		return 0, fmt.Errorf("count resolved disputes: %w", err)
	}
	return res.Count, nil
}
