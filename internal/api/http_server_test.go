package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"sachet/internal/agent"
	"sachet/internal/config"
	"sachet/internal/connectivity"
	"sachet/internal/events"
	"sachet/internal/models"
	"sachet/internal/queue"
	"sachet/internal/store"
	"sachet/internal/syncer"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUploader struct {
	fail bool
}

func (u *stubUploader) Upload(ctx context.Context, report *models.HazardReport) error {
	if u.fail {
		return fmt.Errorf("upload report %d: http 500", report.ID)
	}
	return nil
}

type testAPI struct {
	server *httptest.Server
	conn   *connectivity.Manual
	queue  *queue.Manager
}

func setupAPI(t *testing.T, cfg config.APIConfig, online bool) *testAPI {
	logger := zerolog.Nop()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewBus()
	conn := connectivity.NewManual(online)
	q := queue.NewManager(st, conn, bus, &logger)
	engine := syncer.New(q, &stubUploader{}, conn, bus, &logger)
	a := agent.New(q, engine, conn, bus, time.Hour, &logger)

	srv := NewHTTPServer(cfg, false, q, a, conn, &logger)
	ts := httptest.NewServer(srv.server.Handler)
	t.Cleanup(ts.Close)

	return &testAPI{server: ts, conn: conn, queue: q}
}

func openConfig() config.APIConfig {
	return config.APIConfig{
		Port:      0,
		Auth:      config.APIAuthConfig{Enabled: false, HeaderAPIKey: "x-api-key"},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 100},
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSaveReportEndpoint(t *testing.T) {
	api := setupAPI(t, openConfig(), false)

	resp := postJSON(t, api.server.URL+"/api/v1/reports", map[string]any{
		"hazard_type": "High Waves",
		"description": "x",
		"latitude":    13.08,
		"longitude":   80.27,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "pending", body["sync_status"])

	pending, err := api.queue.GetPendingReports(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].CreatedOffline)
}

func TestSaveReportEndpoint_Validation(t *testing.T) {
	api := setupAPI(t, openConfig(), true)

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing hazard type", body: map[string]any{"description": "x"}},
		{name: "missing description", body: map[string]any{"hazard_type": "Flood"}},
		{name: "latitude out of range", body: map[string]any{"hazard_type": "Flood", "description": "x", "latitude": 91.0}},
		{name: "unknown field", body: map[string]any{"hazard_type": "Flood", "description": "x", "bogus": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, api.server.URL+"/api/v1/reports", tt.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestPendingAndStatusEndpoints(t *testing.T) {
	api := setupAPI(t, openConfig(), true)
	ctx := context.Background()

	_, err := api.queue.SaveReport(ctx, models.ReportPayload{HazardType: "Flood", Description: "x"})
	require.NoError(t, err)

	resp, err := http.Get(api.server.URL + "/api/v1/reports/pending")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["reports"], 1)

	resp, err = http.Get(api.server.URL + "/api/v1/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decodeBody(t, resp)
	assert.Equal(t, true, status["online"])
	assert.Equal(t, float64(1), status["pending_count"])
}

func TestSyncEndpoint(t *testing.T) {
	api := setupAPI(t, openConfig(), true)
	ctx := context.Background()

	_, err := api.queue.SaveReport(ctx, models.ReportPayload{HazardType: "Flood", Description: "x"})
	require.NoError(t, err)

	resp := postJSON(t, api.server.URL+"/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(1), body["succeeded"])
	assert.Equal(t, float64(0), body["failed"])

	pending, err := api.queue.GetPendingReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSyncEndpoint_OfflineGuard(t *testing.T) {
	api := setupAPI(t, openConfig(), false)

	resp := postJSON(t, api.server.URL+"/api/v1/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["skipped"])
	assert.Equal(t, "offline", body["reason"])
}

func TestAuth(t *testing.T) {
	cfg := openConfig()
	cfg.Auth = config.APIAuthConfig{Enabled: true, HeaderAPIKey: "x-api-key", APIKey: "secret"}
	api := setupAPI(t, cfg, true)

	resp, err := http.Get(api.server.URL + "/api/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, api.server.URL+"/api/v1/status", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for probes.
	resp, err = http.Get(api.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimit(t *testing.T) {
	cfg := openConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 1, Burst: 1}
	api := setupAPI(t, cfg, true)

	resp, err := http.Get(api.server.URL + "/api/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(api.server.URL + "/api/v1/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRequestIDHeader(t *testing.T) {
	api := setupAPI(t, openConfig(), true)

	resp, err := http.Get(api.server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("x-request-id"))
}

func TestExportEndpoint(t *testing.T) {
	api := setupAPI(t, openConfig(), true)

	_, err := api.queue.SaveReport(context.Background(), models.ReportPayload{HazardType: "Flood", Description: "x"})
	require.NoError(t, err)

	resp, err := http.Get(api.server.URL + "/api/v1/reports/export")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "hazard-reports-")
}
