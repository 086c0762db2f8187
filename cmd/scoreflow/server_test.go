package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api"
	"github.com/BaSui01/scoreflow/config"
	"github.com/BaSui01/scoreflow/internal/metrics"
)

func testServerConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.HTTPPort = 0
	cfg.Server.MetricsPort = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Batching.TimeoutMs = 5
	cfg.Workers.StartupTimeout = 5 * time.Second
	cfg.Workers.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	srv := NewServer(cfg, "", zap.NewNop(), zap.NewAtomicLevel())
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

// loopback 把 ":port" 形式的监听地址转为可拨号的 URL
func loopback(t *testing.T, addr string) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	return "http://127.0.0.1:" + port
}

func TestServer_ScoreEndToEnd(t *testing.T) {
	srv := startTestServer(t, testServerConfig())
	base := loopback(t, srv.httpManager.ListenAddr())

	body := `{"pairs":[{"query":"go batching","document":"dynamic batching in go"},{"query":"go batching","document":"unrelated text"}]}`
	resp, err := http.Post(base+"/api/v1/score", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var out api.ScoreResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Scores, 2)
	assert.Greater(t, out.Scores[0], out.Scores[1], "overlapping document should score higher")

	summary := srv.collector.Summary()
	assert.Equal(t, int64(1), summary.Count)
	assert.Equal(t, int64(2), summary.QueryCount)
	assert.Contains(t, summary.Stages, metrics.StageNetworkReceive)
	assert.Contains(t, summary.Stages, metrics.StageInference)
}

func TestServer_HealthAndModel(t *testing.T) {
	srv := startTestServer(t, testServerConfig())
	base := loopback(t, srv.httpManager.ListenAddr())

	for _, path := range []string{"/health", "/ready", "/version", "/api/v1/model", "/api/v1/stats", "/api/v1/metrics/summary"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err, path)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServer_PrometheusEndpoint(t *testing.T) {
	srv := startTestServer(t, testServerConfig())
	base := loopback(t, srv.httpManager.ListenAddr())

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = http.Get(loopback(t, srv.metricsManager.ListenAddr()) + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(text), "scoreflow_http_requests_total")
	assert.Contains(t, string(text), "go_goroutines")
}

func TestServer_APIKeyProtectsScore(t *testing.T) {
	cfg := testServerConfig()
	cfg.Server.APIKeys = []string{"secret-key"}
	srv := startTestServer(t, cfg)
	base := loopback(t, srv.httpManager.ListenAddr())

	body := `{"pairs":[{"query":"q","document":"d"}]}`
	resp, err := http.Post(base+"/api/v1/score", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, base+"/api/v1/score", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 健康检查免认证
	resp, err = http.Get(base + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_ShutdownStopsScheduler(t *testing.T) {
	srv := NewServer(testServerConfig(), "", zap.NewNop(), zap.NewAtomicLevel())
	require.NoError(t, srv.Start(context.Background()))
	require.True(t, srv.scheduler.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)

	assert.False(t, srv.scheduler.Ready())
	assert.False(t, srv.httpManager.IsRunning())
}

func TestServer_StartFailsOnBadBackend(t *testing.T) {
	cfg := testServerConfig()
	cfg.Backend.Kind = "nope"
	srv := NewServer(cfg, "", zap.NewNop(), zap.NewAtomicLevel())
	err := srv.Start(context.Background())
	require.Error(t, err)
	assert.Nil(t, srv.httpManager, "HTTP must not listen when the scheduler cannot start")

	srv.Shutdown(context.Background())
}

func TestInitLogger(t *testing.T) {
	logger, level := initLogger(config.LogConfig{Level: "warn", Format: "console", OutputPaths: []string{"stderr"}})
	require.NotNil(t, logger)
	assert.Equal(t, "warn", level.String())

	_, level = initLogger(config.LogConfig{Level: "bogus"})
	assert.Equal(t, "info", level.String())
}
