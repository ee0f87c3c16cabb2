package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/utafrali/stocklot-review/pkg/httpclient"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

const kycService = "kyc-service"

type kycDTO struct {
	UserID string `json:"user_id"`
	Level  int    `json:"level"`
}

// KYCClient reads verification levels from the KYC service.
type KYCClient struct {
	doer    httpclient.Doer
	baseURL string
}

// NewKYCClient creates a KYCClient for the service at baseURL.
func NewKYCClient(doer httpclient.Doer, baseURL string) *KYCClient {
	return &KYCClient{doer: doer, baseURL: trimBase(baseURL)}
}

// GetKYCLevel returns the user's verification level. A user the KYC service
// does not know is level 0.
func (c *KYCClient) GetKYCLevel(ctx context.Context, userID string) (int, error) {
	k, err := getData[kycDTO](ctx, c.doer, c.baseURL+"/api/v1/users/"+url.PathEscape(userID)+"/kyc", kycService)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get kyc level of %s: %w", userID, err)
	}
	return k.Level, nil
}
