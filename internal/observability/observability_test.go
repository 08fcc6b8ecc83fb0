package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONByDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "info", "")

	logger.Info("stage layer written", "stage", 25)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "stage layer written", line["msg"])
	assert.InDelta(t, 25.0, line["stage"], 0)
}

func TestNewLogger_TextAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")

	logger.Info("hidden")
	logger.Warn("skipping item", "kind", "tile")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"skipping item\"")
	assert.Contains(t, out, "kind=tile")
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetricsForTesting()

	m.ObserveTileCache(true)
	m.ObserveTileCache(false)
	m.ObserveTileCache(false)
	m.ObserveSkip("tile")

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.TileCache.WithLabelValues("hit")), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.TileCache.WithLabelValues("miss")), 0)
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ItemsSkipped.WithLabelValues("tile")), 0)
	assert.Len(t, m.Collectors(), 13)
}

func TestMetrics_Push(t *testing.T) {
	var method, path string
	var body []byte
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	m := NewMetricsForTesting()
	m.StageLayersBuilt.Add(3)

	require.NoError(t, m.Push(context.Background(), gw.URL, "fim_rem"))

	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/metrics/job/fim_rem"), path)
	assert.NotEmpty(t, body)
}

func TestMetrics_PushError(t *testing.T) {
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gw.Close()

	err := NewMetricsForTesting().Push(context.Background(), gw.URL, "fim_rem")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push metrics")
}
