package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
	"github.com/utafrali/stocklot-review/pkg/logger"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusCreated, map[string]string{"review_id": "r-1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data":{"review_id":"r-1"}}`, rec.Body.String())
}

func TestWriteError_AppErrorCarriesReason(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews", nil)
	req = req.WithContext(logger.WithCorrelationID(req.Context(), "corr-9"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, fmt.Errorf("create: %w", apperrors.NotEligible("DISPUTE_OPEN", "order has an open dispute")), quiet())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeNotEligible, body.Code)
	assert.Equal(t, "DISPUTE_OPEN", body.Reason)
	assert.Equal(t, "corr-9", body.RequestID)
}

func TestWriteError_SentinelMapsStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), fmt.Errorf("get: %w", apperrors.ErrNotFound), quiet())

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)
}

func TestWriteError_InternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: relation reviews does not exist"), quiet())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperrors.CodeInternal, body.Code)
	assert.Equal(t, "an internal error occurred", body.Message)
}

func TestWriteError_WrappedInternalAppErrorHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), apperrors.Internal(errors.New("tx aborted")), quiet())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "tx aborted")
}

func TestParseUUID(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := ParseUUID(rec, "id", "not-a-uuid")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "id", decodeError(t, rec).Reason)

	id, ok := ParseUUID(httptest.NewRecorder(), "id", "0b6c5b52-3f0e-4c47-9d52-7f5c2b0c1a11")
	assert.True(t, ok)
	assert.Equal(t, "0b6c5b52-3f0e-4c47-9d52-7f5c2b0c1a11", id.String())
}
