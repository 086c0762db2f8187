package backend

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/types"
)

// OverlapBackend scores a pair by how much of the query's token set appears
// in the document, damped by document length. Deterministic and
// dependency-free, it stands in for a cross-encoder.
type OverlapBackend struct {
	cfg    Config
	logger *zap.Logger
	loaded atomic.Bool
}

// NewOverlapBackend creates an overlap scorer.
func NewOverlapBackend(cfg Config, logger *zap.Logger) *OverlapBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OverlapBackend{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "overlap_backend")),
	}
}

func (b *OverlapBackend) Load(ctx context.Context) error {
	if b.cfg.LoadDelay > 0 {
		select {
		case <-time.After(b.cfg.LoadDelay):
		case <-ctx.Done():
			return fmt.Errorf("load %s: %w", b.cfg.Model, ctx.Err())
		}
	}
	b.loaded.Store(true)
	b.logger.Debug("model loaded", zap.String("model", b.cfg.Model))
	return nil
}

func (b *OverlapBackend) Warmup(ctx context.Context) error {
	_, err := b.Infer(ctx, &types.TokenizedBatch{
		BatchID: "warmup",
		Pairs: []types.TokenizedPair{{
			QueryTokens:    []int{1, 2},
			DocumentTokens: []int{2, 3},
			Length:         4,
		}},
	})
	return err
}

func (b *OverlapBackend) Infer(ctx context.Context, batch *types.TokenizedBatch) ([]float64, error) {
	if !b.loaded.Load() {
		return nil, unavailable("model not loaded", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scores := make([]float64, batch.Len())
	for i, p := range batch.Pairs {
		scores[i] = OverlapScore(p.QueryTokens, p.DocumentTokens)
	}
	return scores, nil
}

// OverlapScore is |Q ∩ D| / |Q| scaled by 1/(1+log(1+|D|/64)). Empty
// queries score 0.
func OverlapScore(query, document []int) float64 {
	if len(query) == 0 {
		return 0
	}
	docSet := make(map[int]struct{}, len(document))
	for _, id := range document {
		docSet[id] = struct{}{}
	}
	qSet := make(map[int]struct{}, len(query))
	hits := 0
	for _, id := range query {
		if _, dup := qSet[id]; dup {
			continue
		}
		qSet[id] = struct{}{}
		if _, ok := docSet[id]; ok {
			hits++
		}
	}
	coverage := float64(hits) / float64(len(qSet))
	return coverage / (1 + math.Log1p(float64(len(document))/64))
}

func (b *OverlapBackend) ModelInfo() types.ModelInfo {
	return types.ModelInfo{
		Name:        b.cfg.Model,
		Backend:     KindOverlap,
		Device:      b.cfg.Device,
		MaxSequence: b.cfg.MaxSequence,
	}
}

// MemoryMB reports Go heap usage on cpu. Other devices have no driver
// query here, so the reading is unknown.
func (b *OverlapBackend) MemoryMB() (float64, bool) {
	if b.cfg.Device != "cpu" {
		return 0, false
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return float64(ms.HeapAlloc) / (1 << 20), true
}
