package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocklot-review/internal/config"
	"github.com/utafrali/stocklot-review/internal/domain"
	handler "github.com/utafrali/stocklot-review/internal/handler/http"
	"github.com/utafrali/stocklot-review/internal/moderation"
	"github.com/utafrali/stocklot-review/pkg/middleware"
)

const (
	orderGroupID = "og-100"
	buyerID      = "buyer-100"
	sellerID     = "seller-100"
	jobsSecret   = "app-test-secret"
)

// fakeMarketplace serves the order, dispute and KYC endpoints the review
// service reads.
func fakeMarketplace(t *testing.T) *httptest.Server {
	t.Helper()
	delivered := time.Now().UTC().Add(-24 * time.Hour)
	released := domain.EscrowReleased
	order := domain.Order{
		ID:           orderGroupID,
		BuyerID:      buyerID,
		SellerID:     sellerID,
		Status:       domain.OrderStatusComplete,
		EscrowStatus: &released,
		DeliveredAt:  &delivered,
		CreatedAt:    delivered.Add(-72 * time.Hour),
	}

	write := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
	}

	r := chi.NewRouter()
	r.Get("/api/v1/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "id") != orderGroupID {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"order not found"}}`))
			return
		}
		write(w, order)
	})
	r.Get("/api/v1/orders", func(w http.ResponseWriter, r *http.Request) {
		write(w, []domain.Order{order})
	})
	r.Get("/api/v1/orders/{id}/disputes", func(w http.ResponseWriter, r *http.Request) {
		write(w, []any{})
	})
	r.Post("/api/v1/disputes/count", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]int{"count": 0})
	})
	r.Get("/api/v1/users/{id}/kyc", func(w http.ResponseWriter, r *http.Request) {
		write(w, map[string]any{"user_id": chi.URLParam(r, "id"), "level": 2})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("STORAGE_DRIVER", config.StorageMemory)

	cfg, err := config.Load()
	require.NoError(t, err)

	marketplace := fakeMarketplace(t)
	cfg.OrderServiceURL = marketplace.URL
	cfg.DisputeServiceURL = marketplace.URL
	cfg.UserServiceURL = marketplace.URL
	cfg.RedisHost = ""
	cfg.EventsEnabled = false
	cfg.JobsEnabled = false
	cfg.JobsJWTSecret = jobsSecret

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := NewApp(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	return a
}

func call(t *testing.T, a *App, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set(middleware.UserIDHeader, userID)
	}
	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestApp_Health(t *testing.T) {
	a := newTestApp(t)

	status, _ := call(t, a, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, a, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestApp_DuoReviewFlow(t *testing.T) {
	a := newTestApp(t)

	// Buyer posts first and stays blind.
	status, body := call(t, a, http.MethodPost, "/api/v1/reviews", buyerID, map[string]any{
		"order_group_id": orderGroupID,
		"direction":      "BUYER_ON_SELLER",
		"rating":         5,
		"body":           "Healthy heifers, delivered on time.",
	})
	require.Equal(t, http.StatusCreated, status, body)
	buyerReview := body["data"].(map[string]any)
	assert.NotNil(t, buyerReview["blind_until"])
	buyerReviewID := buyerReview["review_id"].(string)

	// The seller cannot read it yet.
	status, _ = call(t, a, http.MethodGet, "/api/v1/reviews/"+buyerReviewID, sellerID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Seller checks eligibility, then posts.
	status, body = call(t, a, http.MethodGet,
		"/api/v1/reviews/eligibility?order_group_id="+orderGroupID+"&direction=SELLER_ON_BUYER", sellerID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["data"].(map[string]any)["eligible"])

	status, body = call(t, a, http.MethodPost, "/api/v1/reviews", sellerID, map[string]any{
		"order_group_id": orderGroupID,
		"direction":      "SELLER_ON_BUYER",
		"rating":         4,
		"body":           "Paid promptly.",
	})
	require.Equal(t, http.StatusCreated, status, body)

	// Both are now visible.
	status, body = call(t, a, http.MethodGet, "/api/v1/reviews/"+buyerReviewID, sellerID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, body["data"].(map[string]any)["blind_until"])

	status, body = call(t, a, http.MethodGet, "/api/v1/sellers/"+sellerID+"/rating-stats", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["ratings_count"])

	// A second buyer review for the same order is a duplicate.
	status, body = call(t, a, http.MethodPost, "/api/v1/reviews", buyerID, map[string]any{
		"order_group_id": orderGroupID,
		"direction":      "BUYER_ON_SELLER",
		"rating":         1,
	})
	assert.Equal(t, http.StatusConflict, status, body)
}

func TestApp_JobsEndpoint(t *testing.T) {
	a := newTestApp(t)

	token, err := middleware.IssueServiceToken(jobsSecret, "reviewjobs", handler.JobsRole, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/recompute", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	n, err := a.Jobs().UnblindExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModerationGateway_OpenBreakerDegradesWithoutCalling(t *testing.T) {
	var hits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(provider.Close)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.ModerationEndpoint = provider.URL
	cfg.CBMinRequests = 2
	cfg.CBFailureRatio = 0.5
	cfg.CBTimeout = 60

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	gateway := (&App{cfg: cfg, logger: logger}).newModerationGateway()
	content := moderation.Content{Body: "Calves arrived thin."}

	for i := 0; i < 2; i++ {
		v := gateway.Moderate(context.Background(), content)
		assert.Equal(t, moderation.OutcomeDegraded, v.Outcome)
	}
	tripped := hits.Load()
	assert.Positive(t, tripped)

	start := time.Now()
	for i := 0; i < 3; i++ {
		v := gateway.Moderate(context.Background(), content)
		assert.Equal(t, moderation.OutcomeDegraded, v.Outcome)
		assert.True(t, v.Flagged)
	}
	assert.Equal(t, tripped, hits.Load())
	assert.Less(t, time.Since(start), time.Second)
}
