// =============================================================================
// 📦 ScoreFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SCOREFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/batch"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/internal/pool"
	"github.com/BaSui01/scoreflow/pipeline"
	"github.com/BaSui01/scoreflow/tokenizer"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 ScoreFlow 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Batching 动态批处理配置
	Batching BatchingConfig `yaml:"batching" env:"BATCHING"`

	// Workers 分词/模型 Worker 池配置
	Workers WorkersConfig `yaml:"workers" env:"WORKERS"`

	// Tokenizer 分词器配置
	Tokenizer tokenizer.Config `yaml:"tokenizer" env:"TOKENIZER"`

	// Backend 模型后端配置
	Backend backend.Config `yaml:"backend" env:"BACKEND"`

	// Metrics 指标窗口配置
	Metrics metrics.Config `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体上限（字节）
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 单次请求最多 pair 数，0 表示不限制
	MaxPairsPerRequest int `yaml:"max_pairs_per_request" env:"MAX_PAIRS_PER_REQUEST"`
	// TLS 证书，二者都配置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 每 IP 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// API Key 列表，为空时不启用 API Key 认证
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 是否允许通过 ?api_key= 传递
	AllowQueryAPIKey bool `yaml:"allow_query_api_key" env:"ALLOW_QUERY_API_KEY"`
	// CORS 允许的来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 认证配置，Secret 与 PublicKey 都为空时不启用
type JWTConfig struct {
	// HS256 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RS256 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	Issuer    string `yaml:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 返回是否配置了任一验证密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// BatchingConfig 动态批处理配置
type BatchingConfig struct {
	// 关闭后每个请求单独成批
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 每批最多 pair 数
	MaxBatchSize int `yaml:"max_batch_size" env:"MAX_BATCH_SIZE"`
	// 批次从第一个 pair 开始最多等待的毫秒数
	TimeoutMs int `yaml:"timeout_ms" env:"TIMEOUT_MS"`
	// 按长度分桶
	LengthAwareBatching bool `yaml:"length_aware_batching" env:"LENGTH_AWARE_BATCHING"`
	// 分桶上界（严格递增）
	BucketBounds []int `yaml:"bucket_bounds" env:"BUCKET_BOUNDS"`
	// 长度度量: chars, tokens
	LengthMetric string `yaml:"length_metric" env:"LENGTH_METRIC"`
	// 已关闭批次的缓冲区大小
	OutputBuffer int `yaml:"output_buffer" env:"OUTPUT_BUFFER"`
}

// Timeout 返回批次超时
func (b BatchingConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// StageConfig 单个 Worker 池配置
type StageConfig struct {
	// Worker 数
	Count int `yaml:"count" env:"COUNT"`
	// 队列容量
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 队列满时最长等待
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout" env:"ENQUEUE_TIMEOUT"`
}

// WorkersConfig Worker 池配置
type WorkersConfig struct {
	Tokenizer StageConfig `yaml:"tokenizer" env:"TOKENIZER"`
	Model     StageConfig `yaml:"model" env:"MODEL"`
	// 所有 Worker 初始化完成的时限
	StartupTimeout time.Duration `yaml:"startup_timeout" env:"STARTUP_TIMEOUT"`
	// 每个池停止的时限
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
	// 配置文件轮询间隔，用于运行时调整日志级别；0 表示关闭
	ReloadInterval time.Duration `yaml:"reload_interval" env:"RELOAD_INTERVAL"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SCOREFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		switch field.Type().Elem().Kind() {
		case reflect.String:
			field.Set(reflect.ValueOf(parts))
		case reflect.Int:
			ints := make([]int, len(parts))
			for i, p := range parts {
				n, err := strconv.Atoi(p)
				if err != nil {
					return err
				}
				ints[i] = n
			}
			field.Set(reflect.ValueOf(ints))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	if c.Batching.MaxBatchSize <= 0 {
		errs = append(errs, "batching.max_batch_size must be positive")
	}
	if c.Batching.TimeoutMs < 0 {
		errs = append(errs, "batching.timeout_ms must not be negative")
	}
	for i := 1; i < len(c.Batching.BucketBounds); i++ {
		if c.Batching.BucketBounds[i] <= c.Batching.BucketBounds[i-1] {
			errs = append(errs, "batching.bucket_bounds must be strictly ascending")
			break
		}
	}
	switch c.Batching.LengthMetric {
	case "", batch.LengthMetricChars, batch.LengthMetricTokens:
	default:
		errs = append(errs, fmt.Sprintf("unknown batching.length_metric %q", c.Batching.LengthMetric))
	}

	if c.Workers.Tokenizer.Count <= 0 {
		errs = append(errs, "workers.tokenizer.count must be positive")
	}
	if c.Workers.Model.Count <= 0 {
		errs = append(errs, "workers.model.count must be positive")
	}
	if c.Workers.Tokenizer.QueueSize < 0 || c.Workers.Model.QueueSize < 0 {
		errs = append(errs, "workers queue_size must not be negative")
	}
	if c.Workers.StartupTimeout <= 0 {
		errs = append(errs, "workers.startup_timeout must be positive")
	}

	switch c.Tokenizer.Kind {
	case "", tokenizer.KindEstimator, tokenizer.KindTiktoken:
	default:
		errs = append(errs, fmt.Sprintf("unknown tokenizer.kind %q", c.Tokenizer.Kind))
	}
	switch c.Backend.Kind {
	case backend.KindOverlap:
	case backend.KindRemote:
		if c.Backend.Remote.BaseURL == "" {
			errs = append(errs, "backend.remote.base_url is required for remote backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown backend.kind %q", c.Backend.Kind))
	}

	if c.Metrics.WindowSize <= 0 {
		errs = append(errs, "metrics.window_size must be positive")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ToPipelineConfig 转换为调度器配置
func (c *Config) ToPipelineConfig() pipeline.Config {
	return pipeline.Config{
		BatchingEnabled: c.Batching.Enabled,
		Batch: batch.Config{
			MaxBatchSize: c.Batching.MaxBatchSize,
			Timeout:      c.Batching.Timeout(),
			LengthAware:  c.Batching.LengthAwareBatching,
			BucketBounds: c.Batching.BucketBounds,
			OutputBuffer: c.Batching.OutputBuffer,
		},
		LengthMetric: c.Batching.LengthMetric,
		Tokenizer:    c.Tokenizer,
		TokenizerPool: pool.Config{
			Name:           pool.KindTokenizer,
			Kind:           pool.KindTokenizer,
			Workers:        c.Workers.Tokenizer.Count,
			QueueSize:      c.Workers.Tokenizer.QueueSize,
			EnqueueTimeout: c.Workers.Tokenizer.EnqueueTimeout,
		},
		ModelPool: pool.Config{
			Name:           pool.KindModel,
			Kind:           pool.KindModel,
			Workers:        c.Workers.Model.Count,
			QueueSize:      c.Workers.Model.QueueSize,
			EnqueueTimeout: c.Workers.Model.EnqueueTimeout,
		},
		StartupTimeout:  c.Workers.StartupTimeout,
		ShutdownTimeout: c.Workers.ShutdownTimeout,
	}
}
