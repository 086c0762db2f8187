package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/types"
)

// Backend is the model capability the model stage drives. One instance is
// owned by one model worker.
type Backend interface {
	// Load acquires the model (weights, remote session). Called once.
	Load(ctx context.Context) error
	// Warmup runs a throwaway inference after Load.
	Warmup(ctx context.Context) error
	// Infer returns one score per pair, in batch order.
	Infer(ctx context.Context, batch *types.TokenizedBatch) ([]float64, error)
	ModelInfo() types.ModelInfo
}

// MemoryProber is implemented by backends that can report device memory.
// ok=false means the reading is unavailable, not that usage is zero.
type MemoryProber interface {
	MemoryMB() (mb float64, ok bool)
}

// Factory builds the backend for model worker id.
type Factory func(id int) (Backend, error)

// Backend kinds.
const (
	KindOverlap = "overlap"
	KindRemote  = "remote"
)

// Config configures the model backend.
type Config struct {
	Kind        string        `json:"kind" yaml:"kind" env:"KIND"`
	Model       string        `json:"model" yaml:"model" env:"MODEL"`
	Device      string        `json:"device" yaml:"device" env:"DEVICE"`
	MaxSequence int           `json:"max_sequence" yaml:"max_sequence" env:"MAX_SEQUENCE"`
	LoadDelay   time.Duration `json:"load_delay" yaml:"load_delay" env:"LOAD_DELAY"`
	Remote      RemoteConfig  `json:"remote" yaml:"remote" env:"REMOTE"`
}

// RemoteConfig configures RemoteBackend.
type RemoteConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `json:"api_key" yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`
}

// DefaultConfig returns the in-process overlap scorer on CPU.
func DefaultConfig() Config {
	return Config{
		Kind:        KindOverlap,
		Model:       "overlap-v1",
		Device:      "cpu",
		MaxSequence: 512,
		Remote: RemoteConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// NewFactory returns a factory building one backend per model worker.
func NewFactory(cfg Config, logger *zap.Logger) (Factory, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(cfg.Kind) {
	case "", KindOverlap:
		return func(id int) (Backend, error) {
			return NewOverlapBackend(cfg, logger.With(zap.Int("worker_id", id))), nil
		}, nil
	case KindRemote:
		if cfg.Remote.BaseURL == "" {
			return nil, fmt.Errorf("remote backend requires base_url")
		}
		return func(id int) (Backend, error) {
			return NewRemoteBackend(cfg, logger.With(zap.Int("worker_id", id))), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.Kind)
	}
}

func unavailable(msg string, cause error) *types.Error {
	return types.NewError(types.ErrBackendUnavailable, msg).
		WithCause(cause).
		WithRetryable(true).
		WithStage("inference")
}
