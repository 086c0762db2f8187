package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/tokenizer"
)

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, WorkersConfig{}, cfg.Workers)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.Equal(t, tokenizer.DefaultConfig(), cfg.Tokenizer)
	assert.Equal(t, backend.DefaultConfig(), cfg.Backend)
}

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 9091, cfg.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.AllowQueryAPIKey)
	assert.False(t, cfg.JWT.Enabled())
	assert.Empty(t, cfg.APIKeys)
}

func TestDefaultBatchingConfig(t *testing.T) {
	cfg := DefaultBatchingConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 32, cfg.MaxBatchSize)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout())
	assert.False(t, cfg.LengthAwareBatching)
	assert.Equal(t, []int{64, 128, 256, 512}, cfg.BucketBounds)
	assert.Equal(t, "chars", cfg.LengthMetric)
}

func TestDefaultWorkersConfig(t *testing.T) {
	cfg := DefaultWorkersConfig()
	assert.Positive(t, cfg.Tokenizer.Count)
	assert.Positive(t, cfg.Model.Count)
	assert.Equal(t, 60*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
	assert.Zero(t, cfg.ReloadInterval)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "scoreflow", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 1e-9)
}

func TestJWTConfig_Enabled(t *testing.T) {
	assert.True(t, JWTConfig{Secret: "s"}.Enabled())
	assert.True(t, JWTConfig{PublicKey: "pem"}.Enabled())
	assert.False(t, JWTConfig{Issuer: "iss"}.Enabled())
}
