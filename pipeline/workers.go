package pipeline

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/batch"
	"github.com/BaSui01/scoreflow/internal/pool"
	"github.com/BaSui01/scoreflow/tokenizer"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🔤 分词 Worker
// =============================================================================

// tokenizerWorker turns a closed batch into a padded-length-aware
// TokenizedBatch. Owned by one pool goroutine.
type tokenizerWorker struct {
	id      int
	cfg     tokenizer.Config
	tok     tokenizer.Tokenizer
	cache   *lru.Cache[string, []int]
	lengths *pool.SlicePool[int]
	logger  *zap.Logger
}

func newTokenizerFactory(cfg tokenizer.Config, lengths *pool.SlicePool[int], logger *zap.Logger) pool.Factory[*batch.Batch, *types.TokenizedBatch] {
	return func(id int) (pool.Worker[*batch.Batch, *types.TokenizedBatch], error) {
		return &tokenizerWorker{
			id:      id,
			cfg:     cfg,
			lengths: lengths,
			logger:  logger.With(zap.Int("worker_id", id)),
		}, nil
	}
}

func (w *tokenizerWorker) Initialize(ctx context.Context) error {
	tok, err := tokenizer.New(w.cfg)
	if err != nil {
		return err
	}
	// tiktoken fetches its BPE ranks lazily; pay for it at startup.
	if tt, ok := tok.(*tokenizer.TiktokenTokenizer); ok {
		if err := tt.Init(); err != nil {
			return err
		}
	}
	if w.cfg.CacheSize > 0 {
		cache, err := lru.New[string, []int](w.cfg.CacheSize)
		if err != nil {
			return fmt.Errorf("create token cache: %w", err)
		}
		w.cache = cache
	}
	w.tok = tok
	w.logger.Debug("tokenizer worker ready", zap.String("tokenizer", tok.Name()))
	return ctx.Err()
}

func (w *tokenizerWorker) Process(_ context.Context, b *batch.Batch) (*types.TokenizedBatch, error) {
	pairs := b.Pairs()
	out := &types.TokenizedBatch{
		BatchID: b.ID,
		Pairs:   make([]types.TokenizedPair, len(pairs)),
	}

	lengths := w.lengths.Get()
	defer func() { w.lengths.Put(lengths) }()

	maxLen := w.tok.MaxTokens()
	for i, p := range pairs {
		q, err := w.encode(p.Query)
		if err != nil {
			return nil, err
		}
		d, err := w.encode(p.Document)
		if err != nil {
			return nil, err
		}
		q, d = truncatePair(q, d, maxLen)
		out.Pairs[i] = types.TokenizedPair{
			Query:          p.Query,
			Document:       p.Document,
			QueryTokens:    q,
			DocumentTokens: d,
			Length:         len(q) + len(d),
		}
		lengths = append(lengths, len(q)+len(d))
	}

	out.MaxLength, out.TotalTokens, out.PaddingRatio = types.PaddingRatio(lengths)
	return out, nil
}

func (w *tokenizerWorker) encode(text string) ([]int, error) {
	if w.cache != nil {
		if ids, ok := w.cache.Get(text); ok {
			return ids, nil
		}
	}
	ids, err := w.tok.Encode(text)
	if err != nil {
		return nil, types.NewError(types.ErrTokenizerError, "encode failed").
			WithStage(pool.KindTokenizer).
			WithCause(err)
	}
	if w.cache != nil {
		w.cache.Add(text, ids)
	}
	return ids, nil
}

// MemoryMB is unknown: tokenization holds no device memory.
func (w *tokenizerWorker) MemoryMB() (float64, bool) {
	return 0, false
}

// truncatePair trims the document first, then the query, so the pair fits
// maxLen tokens. maxLen <= 0 disables truncation. Slices are never written.
func truncatePair(q, d []int, maxLen int) ([]int, []int) {
	if maxLen <= 0 || len(q)+len(d) <= maxLen {
		return q, d
	}
	if len(q) >= maxLen {
		return q[:maxLen], d[:0]
	}
	return q, d[:maxLen-len(q)]
}

// =============================================================================
// 🧠 模型 Worker
// =============================================================================

// modelWorker owns one backend instance.
type modelWorker struct {
	id      int
	backend backend.Backend
	logger  *zap.Logger
}

func newModelFactory(newBackend backend.Factory, onInfo func(types.ModelInfo), logger *zap.Logger) pool.Factory[*types.TokenizedBatch, []float64] {
	return func(id int) (pool.Worker[*types.TokenizedBatch, []float64], error) {
		b, err := newBackend(id)
		if err != nil {
			return nil, err
		}
		if onInfo != nil {
			onInfo(b.ModelInfo())
		}
		return &modelWorker{
			id:      id,
			backend: b,
			logger:  logger.With(zap.Int("worker_id", id)),
		}, nil
	}
}

func (w *modelWorker) Initialize(ctx context.Context) error {
	if err := w.backend.Load(ctx); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	if err := w.backend.Warmup(ctx); err != nil {
		return fmt.Errorf("warmup model: %w", err)
	}
	info := w.backend.ModelInfo()
	w.logger.Debug("model worker ready",
		zap.String("model", info.Name),
		zap.String("device", info.Device),
	)
	return nil
}

func (w *modelWorker) Process(ctx context.Context, tb *types.TokenizedBatch) ([]float64, error) {
	scores, err := w.backend.Infer(ctx, tb)
	if err != nil {
		return nil, err
	}
	if len(scores) != tb.Len() {
		return nil, fmt.Errorf("backend returned %d scores for %d pairs", len(scores), tb.Len())
	}
	return scores, nil
}

func (w *modelWorker) MemoryMB() (float64, bool) {
	if p, ok := w.backend.(backend.MemoryProber); ok {
		return p.MemoryMB()
	}
	return 0, false
}
