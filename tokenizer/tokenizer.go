package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer is the unified encoding interface used by the tokenizer stage.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// Encode 将文本转换为 token ID 列表.
	Encode(text string) ([]int, error)

	// MaxTokens 返回模型的最大序列长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Tokenizer kinds.
const (
	KindEstimator = "estimator"
	KindTiktoken  = "tiktoken"
)

// Config selects and configures a tokenizer.
type Config struct {
	Kind      string `json:"kind" yaml:"kind" env:"KIND"`
	Model     string `json:"model" yaml:"model" env:"MODEL"`
	MaxTokens int    `json:"max_tokens" yaml:"max_tokens" env:"MAX_TOKENS"`
	// CacheSize is the per-worker token cache capacity; 0 disables it.
	CacheSize int `json:"cache_size" yaml:"cache_size" env:"CACHE_SIZE"`
}

// DefaultConfig returns the estimator with a 512-token window.
func DefaultConfig() Config {
	return Config{
		Kind:      KindEstimator,
		Model:     "cross-encoder",
		MaxTokens: 512,
		CacheSize: 4096,
	}
}

// New builds the tokenizer described by cfg.
func New(cfg Config) (Tokenizer, error) {
	switch strings.ToLower(cfg.Kind) {
	case "", KindEstimator:
		return NewEstimatorTokenizer(cfg.Model, cfg.MaxTokens), nil
	case KindTiktoken:
		t, err := NewTiktokenTokenizer(cfg.Model)
		if err != nil {
			return nil, err
		}
		if cfg.MaxTokens > 0 {
			t.maxTokens = cfg.MaxTokens
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer kind: %s", cfg.Kind)
	}
}
