package httpadapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/couchcryptid/fim-rem-etl/internal/adapter/httpadapter"
	"github.com/couchcryptid/fim-rem-etl/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRuns struct {
	err  error
	last *domain.RunSummary
}

func (m *mockRuns) CheckReadiness(_ context.Context) error { return m.err }

func (m *mockRuns) LastRun() (domain.RunSummary, bool) {
	if m.last == nil {
		return domain.RunSummary{}, false
	}
	return *m.last, true
}

func serve(t *testing.T, runs *mockRuns, path string) *httptest.ResponseRecorder {
	t.Helper()
	srv := httpadapter.NewServer(":0", runs, slog.New(slog.DiscardHandler))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(t, &mockRuns{err: errors.New("running")}, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyz(t *testing.T) {
	assert.Equal(t, http.StatusOK, serve(t, &mockRuns{}, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, &mockRuns{err: errors.New("no run yet")}, "/readyz").Code)
}

func TestRunsLatest(t *testing.T) {
	rec := serve(t, &mockRuns{}, "/runs/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, &mockRuns{last: &domain.RunSummary{RunID: "run-1", Features: 4}}, "/runs/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body domain.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "run-1", body.RunID)
	assert.Equal(t, 4, body.Features)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(t, &mockRuns{}, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
