package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/scoreflow/types"
)

// Worker kinds.
const (
	KindTokenizer = "tokenizer"
	KindModel     = "model"
)

// Worker is the capability set a stage worker exposes. A worker is owned by
// exactly one pool goroutine; implementations need no internal locking.
type Worker[In, Out any] interface {
	// Initialize loads worker state (tokenizer, model handle). Called once.
	Initialize(ctx context.Context) error
	// Process executes one unit of work.
	Process(ctx context.Context, item In) (Out, error)
	// MemoryMB reports device memory in use. ok=false means unknown.
	MemoryMB() (mb float64, ok bool)
}

// Factory builds the worker with the given id.
type Factory[In, Out any] func(id int) (Worker[In, Out], error)

// Recorder receives per-worker measurements.
type Recorder interface {
	RecordWorker(kind string, workerID int, latency time.Duration, err error)
	RecordWorkerMemory(kind string, workerID int, mb float64)
}

// Config configures a stage pool.
type Config struct {
	Name           string        `json:"name" yaml:"name"`
	Kind           string        `json:"kind" yaml:"kind"`
	Workers        int           `json:"workers" yaml:"workers"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
	EnqueueTimeout time.Duration `json:"enqueue_timeout" yaml:"enqueue_timeout"`
}

// DefaultConfig returns sensible defaults for the given worker kind.
func DefaultConfig(kind string) Config {
	return Config{
		Name:           kind,
		Kind:           kind,
		Workers:        2,
		QueueSize:      64,
		EnqueueTimeout: time.Second,
	}
}

type result[Out any] struct {
	value Out
	err   error
}

type task[In, Out any] struct {
	ctx    context.Context
	item   In
	result chan result[Out]
}

// Future is the pending result of an enqueued item.
type Future[Out any] struct {
	result  chan result[Out]
	stopped <-chan struct{}
	kind    string
}

// Wait blocks until the item is processed, the pool stops without
// processing it, or ctx is done.
func (f *Future[Out]) Wait(ctx context.Context) (Out, error) {
	var zero Out
	select {
	case r := <-f.result:
		return r.value, r.err
	case <-f.stopped:
		select {
		case r := <-f.result:
			return r.value, r.err
		default:
		}
		return zero, stoppedError(f.kind, "pool stopped before processing item")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type slot[In, Out any] struct {
	id        int
	worker    Worker[In, Out]
	state     atomic.Int32
	processed atomic.Int64
	failed    atomic.Int64
	busyNanos atomic.Int64
	memBits   atomic.Uint64
	memKnown  atomic.Bool
}

// Pool is a fixed-size pool of stateful workers pulling from a bounded queue.
type Pool[In, Out any] struct {
	cfg      Config
	factory  Factory[In, Out]
	recorder Recorder
	logger   *zap.Logger

	queue chan *task[In, Out]
	slots []*slot[In, Out]

	mu      sync.Mutex
	started atomic.Bool
	stopped atomic.Bool

	workerCtx context.Context
	cancel    context.CancelFunc
	quit      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New creates a pool. Workers are built and initialized by Start.
func New[In, Out any](cfg Config, factory Factory[In, Out], recorder Recorder, logger *zap.Logger) *Pool[In, Out] {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Kind
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[In, Out]{
		cfg:       cfg,
		factory:   factory,
		recorder:  recorder,
		logger:    logger.With(zap.String("component", "stage_pool"), zap.String("pool", cfg.Name)),
		queue:     make(chan *task[In, Out], cfg.QueueSize),
		workerCtx: ctx,
		cancel:    cancel,
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start builds every worker and runs Initialize on each exactly once,
// concurrently. It blocks until all workers are ready or timeout elapses.
func (p *Pool[In, Out]) Start(ctx context.Context, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped.Load() {
		return stoppedError(p.cfg.Kind, "pool already stopped")
	}
	if p.started.Load() {
		return fmt.Errorf("pool %s already started", p.cfg.Name)
	}

	slots := make([]*slot[In, Out], p.cfg.Workers)
	for i := range slots {
		w, err := p.factory(i)
		if err != nil {
			return fmt.Errorf("create %s worker %d: %w", p.cfg.Kind, i, err)
		}
		slots[i] = &slot[In, Out]{id: i, worker: w}
	}
	p.slots = slots

	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(initCtx)
	for _, s := range slots {
		s := s
		g.Go(func() error {
			if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
				return fmt.Errorf("%s worker %d: unexpected state %s", p.cfg.Kind, s.id, WorkerState(s.state.Load()))
			}
			if err := s.worker.Initialize(gctx); err != nil {
				return fmt.Errorf("%s worker %d initialize: %w", p.cfg.Kind, s.id, err)
			}
			s.state.CompareAndSwap(int32(StateInitializing), int32(StateReady))
			return nil
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.Wait() }()

	var err error
	select {
	case err = <-errCh:
	case <-initCtx.Done():
		err = initCtx.Err()
	}

	if err != nil {
		p.abortStart()
		if errors.Is(initCtx.Err(), context.DeadlineExceeded) {
			return types.NewError(types.ErrStartupTimeout,
				fmt.Sprintf("%s pool: workers not ready within %s", p.cfg.Name, timeout)).
				WithStage(p.cfg.Kind).
				WithCause(err)
		}
		return fmt.Errorf("start %s pool: %w", p.cfg.Name, err)
	}

	for _, s := range slots {
		p.wg.Add(1)
		go p.run(s)
	}
	p.started.Store(true)

	p.logger.Info("stage pool started",
		zap.String("kind", p.cfg.Kind),
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_size", p.cfg.QueueSize),
	)
	return nil
}

// abortStart stops workers of a failed startup. Workers still inside
// Initialize observe the cancelled context and never become ready.
func (p *Pool[In, Out]) abortStart() {
	for _, s := range p.slots {
		s.state.Store(int32(StateStopped))
	}
	p.stopped.Store(true)
	p.cancel()
	close(p.quit)
	close(p.done)
}

// Submit enqueues item and blocks until a worker returns its result.
func (p *Pool[In, Out]) Submit(ctx context.Context, item In) (Out, error) {
	f, err := p.SubmitAsync(ctx, item)
	if err != nil {
		var zero Out
		return zero, err
	}
	return f.Wait(ctx)
}

// SubmitAsync enqueues item and returns without waiting for processing.
// When the queue is full it waits up to EnqueueTimeout before failing
// with POOL_SATURATED.
func (p *Pool[In, Out]) SubmitAsync(ctx context.Context, item In) (*Future[Out], error) {
	if p.stopped.Load() {
		return nil, stoppedError(p.cfg.Kind, "submit after shutdown")
	}
	if !p.started.Load() {
		return nil, stoppedError(p.cfg.Kind, "pool not started")
	}

	p.submitted.Add(1)
	t := &task[In, Out]{ctx: ctx, item: item, result: make(chan result[Out], 1)}
	f := &Future[Out]{result: t.result, stopped: p.done, kind: p.cfg.Kind}

	select {
	case p.queue <- t:
		return f, nil
	default:
	}

	if p.cfg.EnqueueTimeout <= 0 {
		p.rejected.Add(1)
		return nil, p.saturatedError()
	}

	timer := time.NewTimer(p.cfg.EnqueueTimeout)
	defer timer.Stop()

	select {
	case p.queue <- t:
		return f, nil
	case <-timer.C:
		p.rejected.Add(1)
		return nil, p.saturatedError()
	case <-p.quit:
		p.rejected.Add(1)
		return nil, stoppedError(p.cfg.Kind, "submit after shutdown")
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, ctx.Err()
	}
}

func (p *Pool[In, Out]) run(s *slot[In, Out]) {
	defer p.wg.Done()
	defer s.state.Store(int32(StateStopped))

	for {
		select {
		case t := <-p.queue:
			p.execute(s, t)
		case <-p.quit:
			for {
				select {
				case t := <-p.queue:
					p.execute(s, t)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool[In, Out]) execute(s *slot[In, Out], t *task[In, Out]) {
	var zero Out
	if p.workerCtx.Err() != nil {
		t.result <- result[Out]{value: zero, err: stoppedError(p.cfg.Kind, "pool force-stopped")}
		return
	}
	if err := t.ctx.Err(); err != nil {
		t.result <- result[Out]{value: zero, err: err}
		return
	}

	s.state.Store(int32(StateBusy))
	start := time.Now()
	out, err := p.process(s, t.item)
	latency := time.Since(start)
	s.state.CompareAndSwap(int32(StateBusy), int32(StateReady))

	s.busyNanos.Add(int64(latency))
	if err != nil {
		s.failed.Add(1)
		p.failed.Add(1)
	} else {
		s.processed.Add(1)
		p.completed.Add(1)
	}

	p.observe(func() {
		if p.recorder != nil {
			p.recorder.RecordWorker(p.cfg.Kind, s.id, latency, err)
		}
	})
	p.probeMemory(s)

	t.result <- result[Out]{value: out, err: err}
}

func (p *Pool[In, Out]) process(s *slot[In, Out], item In) (out Out, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker panicked",
				zap.Int("worker_id", s.id),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("%s worker %d panicked: %v", p.cfg.Kind, s.id, r)
		}
	}()
	return s.worker.Process(p.workerCtx, item)
}

// probeMemory is best effort; a failing probe leaves the reading unknown.
func (p *Pool[In, Out]) probeMemory(s *slot[In, Out]) {
	p.observe(func() {
		mb, ok := s.worker.MemoryMB()
		if !ok {
			return
		}
		s.memBits.Store(math.Float64bits(mb))
		s.memKnown.Store(true)
		if p.recorder != nil {
			p.recorder.RecordWorkerMemory(p.cfg.Kind, s.id, mb)
		}
	})
}

// observe runs a side-channel measurement, never letting it fail the item.
func (p *Pool[In, Out]) observe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("measurement failed", zap.Any("panic", r))
		}
	}()
	fn()
}

// Stop signals workers to drain the queue and exit. If they do not finish
// within timeout the worker context is cancelled, unprocessed items fail
// with POOL_STOPPED and a SHUTDOWN_TIMEOUT error is returned.
func (p *Pool[In, Out]) Stop(timeout time.Duration) error {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return nil
	}
	p.stopped.Store(true)
	close(p.quit)
	p.mu.Unlock()

	if !p.started.Load() {
		p.cancel()
		close(p.done)
		return nil
	}

	exited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(exited)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		p.cancel()
		close(p.done)
		p.logger.Info("stage pool stopped",
			zap.Int64("completed", p.completed.Load()),
			zap.Int64("failed", p.failed.Load()),
		)
		return nil
	case <-timer.C:
		p.cancel()
		close(p.done)
		err := types.NewError(types.ErrShutdownTimeout,
			fmt.Sprintf("%s pool: workers still running after %s", p.cfg.Name, timeout)).
			WithStage(p.cfg.Kind)
		p.logger.Warn("stage pool force-stopped", zap.Error(err))
		return err
	}
}

// QueueDepth returns the number of items waiting for a worker.
func (p *Pool[In, Out]) QueueDepth() int {
	return len(p.queue)
}

// Kind returns the worker kind of this pool.
func (p *Pool[In, Out]) Kind() string {
	return p.cfg.Kind
}

// Ready reports whether the pool started and has not been stopped.
func (p *Pool[In, Out]) Ready() bool {
	return p.started.Load() && !p.stopped.Load()
}

// Stats returns pool statistics.
func (p *Pool[In, Out]) Stats() Stats {
	p.mu.Lock()
	slots := p.slots
	p.mu.Unlock()

	workers := make([]WorkerStats, 0, len(slots))
	for _, s := range slots {
		ws := WorkerStats{
			ID:        s.id,
			Kind:      p.cfg.Kind,
			State:     WorkerState(s.state.Load()).String(),
			Processed: s.processed.Load(),
			Failed:    s.failed.Load(),
		}
		if n := ws.Processed + ws.Failed; n > 0 {
			ws.AvgLatencyMs = float64(s.busyNanos.Load()) / float64(n) / float64(time.Millisecond)
		}
		if s.memKnown.Load() {
			mb := math.Float64frombits(s.memBits.Load())
			ws.MemoryMB = &mb
		}
		workers = append(workers, ws)
	}

	return Stats{
		Name:          p.cfg.Name,
		Kind:          p.cfg.Kind,
		Workers:       len(slots),
		Queued:        len(p.queue),
		QueueCapacity: cap(p.queue),
		Submitted:     p.submitted.Load(),
		Completed:     p.completed.Load(),
		Failed:        p.failed.Load(),
		Rejected:      p.rejected.Load(),
		WorkerStats:   workers,
	}
}

func (p *Pool[In, Out]) saturatedError() error {
	return types.NewError(types.ErrPoolSaturated,
		fmt.Sprintf("%s pool queue full after %s", p.cfg.Name, p.cfg.EnqueueTimeout)).
		WithStage(p.cfg.Kind).
		WithRetryable(true)
}

func stoppedError(kind, msg string) error {
	return types.NewError(types.ErrPoolStopped, msg).WithStage(kind)
}

// Stats contains pool statistics.
type Stats struct {
	Name          string        `json:"name"`
	Kind          string        `json:"kind"`
	Workers       int           `json:"workers"`
	Queued        int           `json:"queued"`
	QueueCapacity int           `json:"queue_capacity"`
	Submitted     int64         `json:"submitted"`
	Completed     int64         `json:"completed"`
	Failed        int64         `json:"failed"`
	Rejected      int64         `json:"rejected"`
	WorkerStats   []WorkerStats `json:"worker_stats"`
}

// WorkerStats is a snapshot of one worker.
type WorkerStats struct {
	ID           int      `json:"id"`
	Kind         string   `json:"kind"`
	State        string   `json:"state"`
	Processed    int64    `json:"processed"`
	Failed       int64    `json:"failed"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	MemoryMB     *float64 `json:"memory_mb,omitempty"`
}
