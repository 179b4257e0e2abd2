package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divorcecast/internal/config"
	apperrors "divorcecast/internal/errors"
	"divorcecast/internal/services"
	ws "divorcecast/internal/websocket"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func modelSeries(n int) string {
	var b strings.Builder
	b.WriteString("ds,Divorce\n")
	start := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := 1000 + 4*float64(i) + 80*math.Sin(2*math.Pi*float64(i)/12)
		fmt.Fprintf(&b, "%s,%.1f\n", start.AddDate(0, i, 0).Format("2006-01-02"), v)
	}
	return b.String()
}

func testFiles() map[string]string {
	return map[string]string{
		"divorce_all_model.csv":                modelSeries(36),
		"monthly_marriage_divorce_wide_BE.csv": "Year_BE,Province,Marriage,Divorce\n2560,กรุงเทพมหานคร,1000,400\n2561,กรุงเทพมหานคร,900,420\n",
		"sarimax_metrics.csv":                  "round,train,test,mae,rmse,mape\n1,24,12,10,12,5\n",
	}
}

func testConfig(t *testing.T, files map[string]string) *config.Config {
	t.Helper()
	base := t.TempDir()
	dataDir := filepath.Join(base, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), []byte(content), 0644))
	}

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Paths.BaseDir = base
	cfg.Security.RateLimit.Enabled = false
	cfg.Cache.Watch = false
	cfg.Cache.WarmSchedule = ""
	cfg.Forecast.TuneSamples = 2
	cfg.Forecast.TuneConcurrency = 1
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	a, err := New(cfg, testLogger(), nil)
	require.NoError(t, err)
	t.Cleanup(a.WebSocketHub.Stop)
	return a
}

func serve(a *Application, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	return rec
}

func TestNew_Routes(t *testing.T) {
	a := newTestApp(t, testConfig(t, testFiles()))

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
	}{
		{"health", http.MethodGet, "/api/health", "", http.StatusOK},
		{"liveness", http.MethodGet, "/api/health/live", "", http.StatusOK},
		{"readiness", http.MethodGet, "/api/health/ready", "", http.StatusOK},
		{"version", http.MethodGet, "/api/version", "", http.StatusOK},
		{"data status", http.MethodGet, "/api/data/status", "", http.StatusOK},
		{"series", http.MethodGet, "/api/data/series", "", http.StatusOK},
		{"schemes", http.MethodGet, "/api/regions/schemes", "", http.StatusOK},
		{"region summary", http.MethodGet, "/api/regions/summary", "", http.StatusOK},
		{"forecast metrics", http.MethodGet, "/api/forecast/metrics", "", http.StatusOK},
		{"stored forecast missing", http.MethodGet, "/api/forecast/saturating/stored", "", http.StatusNotFound},
		{"bad horizon", http.MethodGet, "/api/forecast/saturating?horizon=13", "", http.StatusBadRequest},
		{"tune out of range", http.MethodPost, "/api/forecast/tune", `{"samples":50}`, http.StatusBadRequest},
		{"cache metrics", http.MethodGet, "/api/metrics/cache", "", http.StatusOK},
		{"websocket metrics", http.MethodGet, "/api/metrics/websocket", "", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/unknown", "", http.StatusNotFound},
		{"prometheus disabled", http.MethodGet, "/metrics", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			rec := serve(a, tt.method, tt.target, body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestNew_SecurityAndRequestIDHeaders(t *testing.T) {
	a := newTestApp(t, testConfig(t, testFiles()))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:8501")
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "http://localhost:8501", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadiness_MissingRegionalFile(t *testing.T) {
	files := testFiles()
	delete(files, "monthly_marriage_divorce_wide_BE.csv")
	a := newTestApp(t, testConfig(t, files))

	rec := serve(a, http.MethodGet, "/api/health/ready", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status services.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "not_ready", status.Status)
}

func TestNew_InvalidWarmSchedule(t *testing.T) {
	cfg := testConfig(t, testFiles())
	cfg.Cache.WarmSchedule = "every tuesday"

	_, err := New(cfg, testLogger(), nil)
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeConfig, appErr.Type)
}

func TestNew_UnknownCacheBackend(t *testing.T) {
	cfg := testConfig(t, testFiles())
	cfg.Cache.Backend = "memcached"

	_, err := New(cfg, testLogger(), nil)
	assert.Error(t, err)
}

func TestWarmCache_FillsCache(t *testing.T) {
	a := newTestApp(t, testConfig(t, testFiles()))

	before := a.Cache.Stats()
	a.warmCache()
	after := a.Cache.Stats()

	assert.Greater(t, after.Sets, before.Sets)

	rec := serve(a, http.MethodGet, "/api/forecast/saturating", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Greater(t, a.Cache.Stats().Hits, after.Hits)
}

func TestWebSocket_Welcome(t *testing.T) {
	a := newTestApp(t, testConfig(t, testFiles()))
	a.WebSocketHub.Start()

	srv := httptest.NewServer(a.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.EventConnection, msg.Type)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig(t, testFiles())
	cfg.Cache.Watch = true
	cfg.Cache.WarmSchedule = "@every 1h"
	a, err := New(cfg, testLogger(), nil)
	require.NoError(t, err)
	require.NotNil(t, a.Watcher)
	require.NotNil(t, a.Scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx, cancel))
	assert.True(t, a.WebSocketHub.Stats().Running)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	assert.NoError(t, a.Stop(stopCtx))
}
