package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocklot-review/pkg/logger"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJWTValidator_AcceptsIssuedToken(t *testing.T) {
	token, err := IssueServiceToken("s3cret", "reviewjobs", "service", time.Minute)
	require.NoError(t, err)

	claims, err := JWTValidator("s3cret")(token)
	require.NoError(t, err)
	assert.Equal(t, "reviewjobs", claims.Subject)
	assert.Equal(t, "service", claims.Role)
}

func TestJWTValidator_Rejects(t *testing.T) {
	wrongKey, _ := IssueServiceToken("other", "reviewjobs", "service", time.Minute)
	expired, _ := IssueServiceToken("s3cret", "reviewjobs", "service", -time.Minute)
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("s3cret"))

	validate := JWTValidator("s3cret")
	for name, tok := range map[string]string{"wrong key": wrongKey, "expired": expired, "no exp": noExp, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			_, err := validate(tok)
			assert.Error(t, err)
		})
	}
}

func TestAuthAndRequireRole(t *testing.T) {
	h := Auth(JWTValidator("s3cret"))(RequireRole("service")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "reviewjobs", UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/jobs/unblind", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	userToken, _ := IssueServiceToken("s3cret", "buyer-1", "user", time.Minute)
	req := httptest.NewRequest(http.MethodPost, "/internal/jobs/unblind", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	svcToken, _ := IssueServiceToken("s3cret", "reviewjobs", "service", time.Minute)
	req = httptest.NewRequest(http.MethodPost, "/internal/jobs/unblind", nil)
	req.Header.Set("Authorization", "bearer "+svcToken)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGatewayIdentity(t *testing.T) {
	var seen string
	h := GatewayIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, " seller-9 ")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "seller-9", seen)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
}

func TestRecovery_Returns500Envelope(t *testing.T) {
	h := Recovery(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", body["error"]["code"])
}

func TestRequestLogging_PropagatesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter("review-service", "info", &buf)

	var inner string
	h := RequestLogging(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/x", nil)
	req.Header.Set(CorrelationIDHeader, "corr-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-1", inner)
	assert.Equal(t, "corr-1", rec.Header().Get(CorrelationIDHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
}

func TestRequestLogger_StoresEnrichedLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter("review-service", "info", &buf)

	h := GatewayIdentity(RequestLogger(base)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Info("inside")
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserIDHeader, "buyer-3")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "buyer-3", line["user_id"])
}

func TestPrometheusMetrics_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics("review-test"))
	r.Get("/api/v1/reviews/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reviews/abc", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPrivateCache(t *testing.T) {
	h := PrivateCache(30)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "private, max-age=30", rec.Header().Get("Cache-Control"))
	assert.Equal(t, UserIDHeader, rec.Header().Get("Vary"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
}
