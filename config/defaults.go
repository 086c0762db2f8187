// =============================================================================
// 📦 ScoreFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/batch"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/tokenizer"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Batching:  DefaultBatchingConfig(),
		Workers:   DefaultWorkersConfig(),
		Tokenizer: tokenizer.DefaultConfig(),
		Backend:   backend.DefaultConfig(),
		Metrics:   metrics.DefaultConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		MaxBodyBytes:       10 << 20,
		MaxPairsPerRequest: 1024,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
	}
}

// DefaultBatchingConfig 返回默认批处理配置
func DefaultBatchingConfig() BatchingConfig {
	return BatchingConfig{
		Enabled:             true,
		MaxBatchSize:        32,
		TimeoutMs:           100,
		LengthAwareBatching: false,
		BucketBounds:        []int{64, 128, 256, 512},
		LengthMetric:        batch.LengthMetricChars,
		OutputBuffer:        64,
	}
}

// DefaultWorkersConfig 返回默认 Worker 池配置
func DefaultWorkersConfig() WorkersConfig {
	return WorkersConfig{
		Tokenizer: StageConfig{
			Count:          2,
			QueueSize:      64,
			EnqueueTimeout: time.Second,
		},
		Model: StageConfig{
			Count:          1,
			QueueSize:      16,
			EnqueueTimeout: 5 * time.Second,
		},
		StartupTimeout:  60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "scoreflow",
		SampleRate:   0.1,
	}
}
