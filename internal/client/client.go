// Package client talks to the marketplace services that own orders,
// disputes and KYC. Every call goes through an httpclient.Doer, usually a
// circuit breaker wrapping a retrying client.
package client

import (
	"context"
	"net/http"
	"strings"

	"github.com/utafrali/stocklot-review/pkg/httpclient"
	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
)

// CircuitOpenFallback turns an open breaker into a structured 503 instead
// of the raw ErrCircuitOpen.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("downstream service is temporarily unavailable")
}

// envelope is the {"data": ...} wrapper every marketplace service responds with.
type envelope[T any] struct {
	Data T `json:"data"`
}

func getData[T any](ctx context.Context, d httpclient.Doer, url, service string) (T, error) {
	var env envelope[T]
	err := httpclient.GetJSON(ctx, d, url, service, &env)
	return env.Data, err
}

func postData[T any](ctx context.Context, d httpclient.Doer, url, service string, in any) (T, error) {
	var env envelope[T]
	err := httpclient.PostJSON(ctx, d, url, service, in, &env, nil)
	return env.Data, err
}

func trimBase(u string) string {
	return strings.TrimRight(u, "/")
}
