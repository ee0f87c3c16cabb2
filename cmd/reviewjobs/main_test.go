package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stocklot-review/internal/domain"
	handler "github.com/utafrali/stocklot-review/internal/handler/http"
	"github.com/utafrali/stocklot-review/internal/jobs"
)

type stubRunner struct {
	unblinded int64
	summary   *jobs.RecomputeSummary
	err       error
}

func (s *stubRunner) UnblindExpired(context.Context) (int64, error) {
	return s.unblinded, s.err
}

func (s *stubRunner) RecomputeAll(context.Context) (*jobs.RecomputeSummary, error) {
	return s.summary, s.err
}

func TestRun_Unblind(t *testing.T) {
	res, err := run(context.Background(), &stubRunner{unblinded: 4}, jobs.JobUnblind)
	require.NoError(t, err)
	assert.Equal(t, handler.UnblindResult{Unblinded: 4}, res)
}

func TestRun_PartialRecomputeKeepsSummary(t *testing.T) {
	summary := &jobs.RecomputeSummary{
		Subjects: map[domain.Direction]int{domain.DirectionBuyerOnSeller: 3},
		Failed:   1,
	}
	failure := errors.New("subject s-2 failed")

	res, err := run(context.Background(), &stubRunner{summary: summary, err: failure}, jobs.JobRecompute)
	assert.ErrorIs(t, err, failure)
	assert.Same(t, summary, res)
}

func TestRun_RecomputeFailure(t *testing.T) {
	res, err := run(context.Background(), &stubRunner{err: errors.New("db down")}, jobs.JobRecompute)
	require.Error(t, err)
	assert.Nil(t, res)
}

func TestRun_UnknownJob(t *testing.T) {
	_, err := run(context.Background(), &stubRunner{}, "vacuum")
	assert.ErrorContains(t, err, "unknown job")
}

func TestRunRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/jobs/unblind", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"unblinded":2}}`))
	}))
	defer srv.Close()

	res, err := runRemote(context.Background(), srv.URL+"/", "secret", jobs.JobUnblind)
	require.NoError(t, err)

	raw, ok := res.(json.RawMessage)
	require.True(t, ok)
	var out handler.UnblindResult
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, int64(2), out.Unblinded)
}

func TestRunRemote_RequiresSecret(t *testing.T) {
	_, err := runRemote(context.Background(), "http://localhost:8012", "", jobs.JobUnblind)
	assert.ErrorContains(t, err, "--jobs-secret")
}
