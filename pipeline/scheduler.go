package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/batch"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/internal/pool"
	"github.com/BaSui01/scoreflow/tokenizer"
	"github.com/BaSui01/scoreflow/types"
)

const instrumentationName = "github.com/BaSui01/scoreflow/pipeline"

// Recorder is the measurement sink the scheduler and its pools report to.
// *metrics.Collector implements it.
type Recorder interface {
	pool.Recorder
	RecordStageTimings(timings map[string]float64)
	RecordRequest(queries int, latencyMs float64)
	RecordBatch(bucket, size int, reason string, paddingRatio float64)
	RecordQueueDepth(stage string, depth int)
}

// Config configures the scheduler and its stages.
type Config struct {
	BatchingEnabled bool             `json:"batching_enabled" yaml:"batching_enabled"`
	Batch           batch.Config     `json:"batch" yaml:"batch"`
	LengthMetric    string           `json:"length_metric" yaml:"length_metric"`
	Tokenizer       tokenizer.Config `json:"tokenizer" yaml:"tokenizer"`
	TokenizerPool   pool.Config      `json:"tokenizer_pool" yaml:"tokenizer_pool"`
	ModelPool       pool.Config      `json:"model_pool" yaml:"model_pool"`
	StartupTimeout  time.Duration    `json:"startup_timeout" yaml:"startup_timeout"`
	ShutdownTimeout time.Duration    `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchingEnabled: true,
		Batch:           batch.DefaultConfig(),
		LengthMetric:    batch.LengthMetricChars,
		Tokenizer:       tokenizer.DefaultConfig(),
		TokenizerPool:   pool.DefaultConfig(pool.KindTokenizer),
		ModelPool:       pool.DefaultConfig(pool.KindModel),
		StartupTimeout:  60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Scheduler runs admission → batch formation → tokenizer pool → model pool
// → result delivery.
type Scheduler struct {
	cfg        Config
	newBackend backend.Factory
	recorder   Recorder
	logger     *zap.Logger
	tracer     trace.Tracer

	tokPool   *pool.Pool[*batch.Batch, *types.TokenizedBatch]
	modelPool *pool.Pool[*types.TokenizedBatch, []float64]
	former    *batch.Former

	// mu orders admissions against Stop: dispatches register with batches
	// under the read lock, Stop flips stopping under the write lock.
	mu       sync.RWMutex
	started  bool
	stopping bool

	inflightMu sync.Mutex
	inflight   map[string]*WorkUnit

	runCtx       context.Context
	runCancel    context.CancelFunc
	dispatchDone chan struct{}
	batches      sync.WaitGroup

	modelInfo atomic.Pointer[types.ModelInfo]

	dispatched atomic.Int64
	failed     atomic.Int64
}

// NewScheduler creates a scheduler. A nil recorder discards measurements.
func NewScheduler(cfg Config, newBackend backend.Factory, recorder Recorder, logger *zap.Logger) (*Scheduler, error) {
	if newBackend == nil {
		return nil, errors.New("backend factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.TokenizerPool.Kind == "" {
		cfg.TokenizerPool.Kind = pool.KindTokenizer
	}
	if cfg.ModelPool.Kind == "" {
		cfg.ModelPool.Kind = pool.KindModel
	}

	s := &Scheduler{
		cfg:        cfg,
		newBackend: newBackend,
		recorder:   recorder,
		logger:     logger.With(zap.String("component", "scheduler")),
		tracer:     otel.Tracer(instrumentationName),
		inflight:   make(map[string]*WorkUnit),
	}

	lengths := pool.NewSlicePool[int](max(cfg.Batch.MaxBatchSize, 1))
	s.tokPool = pool.New(cfg.TokenizerPool, newTokenizerFactory(cfg.Tokenizer, lengths, logger), recorder, logger)
	s.modelPool = pool.New(cfg.ModelPool, newModelFactory(newBackend, s.storeModelInfo, logger), recorder, logger)

	if cfg.BatchingEnabled {
		former, err := batch.NewFormer(cfg.Batch, batch.NewLengthFunc(cfg.LengthMetric, cfg.Tokenizer.MaxTokens), logger)
		if err != nil {
			return nil, fmt.Errorf("create batch former: %w", err)
		}
		s.former = former
	}
	return s, nil
}

func (s *Scheduler) storeModelInfo(info types.ModelInfo) {
	s.modelInfo.CompareAndSwap(nil, &info)
}

// Start initializes both pools and begins dispatching. On failure every
// started pool is stopped again.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	if err := s.modelPool.Start(ctx, s.cfg.StartupTimeout); err != nil {
		return err
	}
	if err := s.tokPool.Start(ctx, s.cfg.StartupTimeout); err != nil {
		s.logStop(s.modelPool.Stop(s.cfg.ShutdownTimeout), pool.KindModel)
		return err
	}

	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	if s.former != nil {
		s.dispatchDone = make(chan struct{})
		go s.dispatchLoop()
	}
	s.started = true

	s.logger.Info("scheduler started",
		zap.Bool("batching", s.cfg.BatchingEnabled),
		zap.Int("max_batch_size", s.cfg.Batch.MaxBatchSize),
		zap.Duration("batch_timeout", s.cfg.Batch.Timeout),
		zap.Bool("length_aware", s.cfg.Batch.LengthAware),
		zap.Int("tokenizer_workers", s.cfg.TokenizerPool.Workers),
		zap.Int("model_workers", s.cfg.ModelPool.Workers),
	)
	return nil
}

// Schedule scores pairs and blocks until they are resolved or ctx is done.
// arrival is when the request was first observed; the returned latency is
// completion minus arrival, in milliseconds.
func (s *Scheduler) Schedule(ctx context.Context, pairs []types.Pair, arrival time.Time) ([]float64, float64, error) {
	if len(pairs) == 0 {
		return []float64{}, sinceMs(arrival), nil
	}

	unit := newWorkUnit(pairs, arrival)
	if err := s.admit(unit); err != nil {
		return nil, 0, err
	}

	select {
	case <-unit.Done():
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}

	scores, err := unit.Result()
	latency := float64(unit.CompletedAt().Sub(arrival)) / float64(time.Millisecond)
	if err != nil {
		return nil, latency, err
	}
	s.recorder.RecordRequest(len(pairs), latency)
	return scores, latency, nil
}

func (s *Scheduler) admit(unit *WorkUnit) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopping {
		if s.former != nil && s.stopping {
			return types.NewError(types.ErrFormerClosed, "scheduler is shutting down").WithStage("batching")
		}
		return types.NewError(types.ErrPoolStopped, "scheduler is not running")
	}

	s.track(unit)
	if s.former == nil {
		s.dispatch(batch.NewDirect(unit))
		return nil
	}
	if err := s.former.Admit(unit); err != nil {
		s.untrack(unit)
		return err
	}
	return nil
}

func (s *Scheduler) dispatchLoop() {
	defer close(s.dispatchDone)
	for b := range s.former.Batches() {
		s.dispatch(b)
	}
}

// dispatch hands b to the tokenizer pool in call order and runs the rest
// of its pipeline on a separate goroutine.
func (s *Scheduler) dispatch(b *batch.Batch) {
	now := time.Now()
	s.dispatched.Add(1)

	for _, u := range b.Units() {
		s.recorder.RecordStageTimings(map[string]float64{
			metrics.StageQueueWait: float64(now.Sub(u.(*WorkUnit).Arrival())) / float64(time.Millisecond),
		})
	}
	s.recorder.RecordQueueDepth(pool.KindTokenizer, s.tokPool.QueueDepth())
	s.recorder.RecordQueueDepth(pool.KindModel, s.modelPool.QueueDepth())

	ctx, span := s.tracer.Start(s.runCtx, "pipeline.tokenize", trace.WithAttributes(batchAttributes(b)...))
	fut, err := s.tokPool.SubmitAsync(ctx, b)
	if err != nil {
		endSpan(span, err)
		s.complete(b, nil, types.InferenceFailed(pool.KindTokenizer, err))
		return
	}

	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		s.run(ctx, span, b, fut, now)
	}()
}

func (s *Scheduler) run(ctx context.Context, span trace.Span, b *batch.Batch, fut *pool.Future[*types.TokenizedBatch], dispatchedAt time.Time) {
	tb, err := fut.Wait(ctx)
	endSpan(span, err)
	tokenizeMs := sinceMs(dispatchedAt)
	if err != nil {
		s.complete(b, nil, types.InferenceFailed(pool.KindTokenizer, err))
		return
	}
	s.recorder.RecordBatch(b.Bucket, b.Size, string(b.Reason), tb.PaddingRatio)

	ictx, ispan := s.tracer.Start(s.runCtx, "pipeline.inference", trace.WithAttributes(batchAttributes(b)...))
	ispan.SetAttributes(
		attribute.Int("batch.max_length", tb.MaxLength),
		attribute.Float64("batch.padding_ratio", tb.PaddingRatio),
	)
	start := time.Now()
	scores, err := s.modelPool.Submit(ictx, tb)
	endSpan(ispan, err)
	if err != nil {
		s.complete(b, nil, types.InferenceFailed(pool.KindModel, err))
		return
	}

	s.recorder.RecordStageTimings(map[string]float64{
		metrics.StageTokenize:  tokenizeMs,
		metrics.StageInference: sinceMs(start),
	})
	s.complete(b, scores, nil)
}

// complete de-interleaves scores onto the batch's units in segment order,
// or fails every unit with err.
func (s *Scheduler) complete(b *batch.Batch, scores []float64, err error) {
	if err == nil && len(scores) != b.Size {
		err = types.InferenceFailed(pool.KindModel,
			fmt.Errorf("got %d scores for batch of %d pairs", len(scores), b.Size))
	}
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("batch failed",
			zap.String("batch_id", b.ID),
			zap.Int("size", b.Size),
			zap.String("reason", string(b.Reason)),
			zap.Error(err),
		)
		for _, u := range b.Units() {
			unit := u.(*WorkUnit)
			unit.fail(err)
			s.untrack(unit)
		}
		return
	}

	offset := 0
	for _, seg := range b.Segments {
		unit := seg.Unit.(*WorkUnit)
		n := len(seg.Indices)
		if unit.deliver(seg.Indices, scores[offset:offset+n]) {
			s.untrack(unit)
		}
		offset += n
	}
}

// Stop closes admission, waits for in-flight batches and stops both pools.
// Pool shutdown timeouts are logged, not returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	var errs []error
	if s.former != nil {
		s.former.Close()
		select {
		case <-s.dispatchDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for dispatch: %w", ctx.Err()))
		}
	}

	drained := make(chan struct{})
	go func() {
		s.batches.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for in-flight batches: %w", ctx.Err()))
	}

	s.logStop(s.tokPool.Stop(s.cfg.ShutdownTimeout), pool.KindTokenizer)
	s.logStop(s.modelPool.Stop(s.cfg.ShutdownTimeout), pool.KindModel)
	s.runCancel()

	stopped := types.NewError(types.ErrPoolStopped, "scheduler stopped before unit completed")
	s.inflightMu.Lock()
	leftover := make([]*WorkUnit, 0, len(s.inflight))
	for _, u := range s.inflight {
		leftover = append(leftover, u)
	}
	s.inflight = make(map[string]*WorkUnit)
	s.inflightMu.Unlock()
	for _, u := range leftover {
		u.fail(stopped)
	}

	s.logger.Info("scheduler stopped",
		zap.Int64("batches", s.dispatched.Load()),
		zap.Int64("failed_batches", s.failed.Load()),
		zap.Int("abandoned_units", len(leftover)),
	)
	return errors.Join(errs...)
}

func (s *Scheduler) logStop(err error, kind string) {
	if err == nil {
		return
	}
	if types.HasCode(err, types.ErrShutdownTimeout) {
		s.logger.Warn("pool shutdown timed out", zap.String("kind", kind), zap.Error(err))
		return
	}
	s.logger.Error("pool shutdown failed", zap.String("kind", kind), zap.Error(err))
}

// Ready reports whether the scheduler accepts requests.
func (s *Scheduler) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopping
}

// ModelInfo describes the model served by the model pool, once built.
func (s *Scheduler) ModelInfo() (types.ModelInfo, bool) {
	if info := s.modelInfo.Load(); info != nil {
		return *info, true
	}
	return types.ModelInfo{}, false
}

// Stats is a scheduler snapshot.
type Stats struct {
	Ready         bool         `json:"ready"`
	Batching      bool         `json:"batching"`
	InFlight      int          `json:"in_flight"`
	Dispatched    int64        `json:"dispatched_batches"`
	FailedBatches int64        `json:"failed_batches"`
	Former        *batch.Stats `json:"former,omitempty"`
	TokenizerPool pool.Stats   `json:"tokenizer_pool"`
	ModelPool     pool.Stats   `json:"model_pool"`
}

// Stats returns a snapshot of the scheduler and its stages.
func (s *Scheduler) Stats() Stats {
	s.inflightMu.Lock()
	inflight := len(s.inflight)
	s.inflightMu.Unlock()

	st := Stats{
		Ready:         s.Ready(),
		Batching:      s.former != nil,
		InFlight:      inflight,
		Dispatched:    s.dispatched.Load(),
		FailedBatches: s.failed.Load(),
		TokenizerPool: s.tokPool.Stats(),
		ModelPool:     s.modelPool.Stats(),
	}
	if s.former != nil {
		fs := s.former.Stats()
		st.Former = &fs
	}
	return st
}

func (s *Scheduler) track(u *WorkUnit) {
	s.inflightMu.Lock()
	s.inflight[u.ID()] = u
	s.inflightMu.Unlock()
}

func (s *Scheduler) untrack(u *WorkUnit) {
	s.inflightMu.Lock()
	delete(s.inflight, u.ID())
	s.inflightMu.Unlock()
}

func batchAttributes(b *batch.Batch) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("batch.id", b.ID),
		attribute.Int("batch.size", b.Size),
		attribute.Int("batch.bucket", b.Bucket),
		attribute.String("batch.reason", string(b.Reason)),
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sinceMs(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

type nopRecorder struct{}

func (nopRecorder) RecordWorker(string, int, time.Duration, error) {}
func (nopRecorder) RecordWorkerMemory(string, int, float64)        {}
func (nopRecorder) RecordStageTimings(map[string]float64)          {}
func (nopRecorder) RecordRequest(int, float64)                     {}
func (nopRecorder) RecordBatch(int, int, string, float64)          {}
func (nopRecorder) RecordQueueDepth(string, int)                   {}
