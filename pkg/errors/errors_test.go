package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrAlreadyExists, ErrInvalidInput, ErrUnauthorized,
		ErrForbidden, ErrInternal, ErrConflict, ErrServiceUnavail,
		ErrNotEligible, ErrWindowExpired, ErrCounterpartyPosted,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	inner := fmt.Errorf("db connection lost")
	appErr := &AppError{Code: CodeInternal, Message: "something broke", Err: inner}
	assert.Equal(t, "INTERNAL_ERROR: something broke: db connection lost", appErr.Error())

	plain := &AppError{Code: CodeNotFound, Message: "review not found"}
	assert.Equal(t, "NOT_FOUND: review not found", plain.Error())

	withReason := &AppError{Code: CodeNotEligible, Message: "cannot review", Reason: "DISPUTE_OPEN"}
	assert.Equal(t, "NOT_ELIGIBLE: cannot review (DISPUTE_OPEN)", withReason.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	appErr := &AppError{Code: CodeNotFound, Message: "nope", Err: ErrNotFound}
	assert.True(t, errors.Is(appErr, ErrNotFound))
	assert.Nil(t, (&AppError{Code: "TEST"}).Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("review", "r-1"), CodeNotFound, http.StatusNotFound, ErrNotFound},
		{"already exists", AlreadyExists("review", "id", "r-1"), CodeAlreadyExists, http.StatusConflict, ErrAlreadyExists},
		{"invalid input", InvalidInput("bad"), CodeInvalidInput, http.StatusBadRequest, ErrInvalidInput},
		{"validation", Validation("rating", "must be between 1 and 5"), CodeValidation, http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("no token"), CodeUnauthorized, http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("not yours"), CodeForbidden, http.StatusForbidden, ErrForbidden},
		{"conflict", Conflict("busy"), CodeConflict, http.StatusConflict, ErrConflict},
		{"unavailable", ServiceUnavailable("down"), CodeServiceUnavailable, http.StatusServiceUnavailable, ErrServiceUnavail},
		{"not eligible", NotEligible("DISPUTE_OPEN", "open dispute"), CodeNotEligible, http.StatusUnprocessableEntity, ErrNotEligible},
		{"duplicate", NotEligible("ALREADY_REVIEWED", "duplicate"), CodeNotEligible, http.StatusConflict, ErrNotEligible},
		{"window expired", WindowExpired("too late"), CodeWindowExpired, http.StatusConflict, ErrWindowExpired},
		{"counterparty", CounterpartyPosted("locked"), CodeCounterpartyPosted, http.StatusConflict, ErrCounterpartyPosted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.ErrorIs(t, tt.err, tt.sentinel)
		})
	}
}

func TestValidation_ReasonIsField(t *testing.T) {
	err := Validation("rating", "must be between 1 and 5")
	assert.Equal(t, "rating", err.Reason)
	assert.Equal(t, "rating must be between 1 and 5", err.Message)
}

func TestInternal_WrapsCause(t *testing.T) {
	cause := errors.New("tx aborted")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "an internal error occurred", err.Message)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeWindowExpired, CodeOf(fmt.Errorf("update: %w", WindowExpired("x"))))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("wrap: %w", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrAlreadyExists))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrCounterpartyPosted))
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(ErrNotEligible))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrInvalidInput))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrServiceUnavail))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("unknown")))
	assert.Equal(t, http.StatusForbidden, HTTPStatus(Forbidden("x")))
}

func TestWrap(t *testing.T) {
	err := Wrap(ErrNotFound, "load review")
	assert.Equal(t, "load review: resource not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
}
