package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/utafrali/stocklot-review/pkg/httpclient"
)

const providerName = "moderation-provider"

// HTTPProvider calls a JSON moderation endpoint:
//
//	POST {endpoint} {"text": "..."} -> {"toxicity_score": 0.1, "flagged": false, "categories": []}
type HTTPProvider struct {
	doer     httpclient.Doer
	endpoint string
	apiKey   string
}

// NewHTTPProvider creates a provider. doer is expected to carry retries,
// circuit breaking and rate limiting.
func NewHTTPProvider(doer httpclient.Doer, endpoint, apiKey string) *HTTPProvider {
	return &HTTPProvider{doer: doer, endpoint: strings.TrimRight(endpoint, "/"), apiKey: apiKey}
}

type moderateRequest struct {
	Text string `json:"text"`
}

// Moderate implements Provider.
func (p *HTTPProvider) Moderate(ctx context.Context, text string) (*Result, error) {
	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var res Result
	if err := httpclient.PostJSON(ctx, p.doer, p.endpoint, providerName, moderateRequest{Text: text}, &res, headers); err != nil {
		return nil, fmt.Errorf("moderate: %w", err)
	}
	return &res, nil
}
