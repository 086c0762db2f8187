package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/testutil"
	"github.com/BaSui01/scoreflow/types"
)

// fakeWorker doubles its input. gate, when set, blocks Process until closed.
type fakeWorker struct {
	id        int
	initDelay time.Duration
	initErr   error
	gate      chan struct{}
	panicOn   int
	mem       float64
	memOK     bool
	inits     *atomic.Int32
}

func (w *fakeWorker) Initialize(ctx context.Context) error {
	if w.inits != nil {
		w.inits.Add(1)
	}
	if w.initDelay > 0 {
		select {
		case <-time.After(w.initDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return w.initErr
}

func (w *fakeWorker) Process(ctx context.Context, item int) (int, error) {
	if w.panicOn != 0 && item == w.panicOn {
		panic("boom")
	}
	if w.gate != nil {
		select {
		case <-w.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if item < 0 {
		return 0, errors.New("negative input")
	}
	return item * 2, nil
}

func (w *fakeWorker) MemoryMB() (float64, bool) {
	return w.mem, w.memOK
}

type recordedCall struct {
	kind    string
	id      int
	latency time.Duration
	err     error
}

type fakeRecorder struct {
	mu     sync.Mutex
	calls  []recordedCall
	memory map[int]float64
}

func (r *fakeRecorder) RecordWorker(kind string, id int, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{kind: kind, id: id, latency: latency, err: err})
}

func (r *fakeRecorder) RecordWorkerMemory(kind string, id int, mb float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memory == nil {
		r.memory = make(map[int]float64)
	}
	r.memory[id] = mb
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func newTestPool(cfg Config, build func(id int) *fakeWorker, rec Recorder) *Pool[int, int] {
	return New[int, int](cfg, func(id int) (Worker[int, int], error) {
		w := build(id)
		w.id = id
		return w, nil
	}, rec, zap.NewNop())
}

func TestPool_StartSubmitStop(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := &fakeRecorder{}
	var inits atomic.Int32

	cfg := Config{Name: "tok", Kind: KindTokenizer, Workers: 3, QueueSize: 8, EnqueueTimeout: time.Second}
	p := newTestPool(cfg, func(int) *fakeWorker { return &fakeWorker{inits: &inits} }, rec)

	require.NoError(t, p.Start(ctx, time.Second))
	assert.True(t, p.Ready())
	assert.Equal(t, int32(3), inits.Load(), "each worker initializes exactly once")

	for _, ws := range p.Stats().WorkerStats {
		assert.Equal(t, "ready", ws.State)
	}

	for i := 1; i <= 10; i++ {
		out, err := p.Submit(ctx, i)
		require.NoError(t, err)
		assert.Equal(t, i*2, out)
	}

	assert.Equal(t, 10, rec.count())
	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Completed)
	assert.Equal(t, KindTokenizer, stats.Kind)

	require.NoError(t, p.Stop(time.Second))
	assert.False(t, p.Ready())
	for _, ws := range p.Stats().WorkerStats {
		assert.Equal(t, "stopped", ws.State)
	}

	_, err := p.Submit(ctx, 1)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrPoolStopped))

	// Double stop is a no-op.
	assert.NoError(t, p.Stop(time.Second))
}

func TestPool_SubmitBeforeStart(t *testing.T) {
	p := newTestPool(DefaultConfig(KindModel), func(int) *fakeWorker { return &fakeWorker{} }, nil)

	_, err := p.Submit(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, types.ErrPoolStopped, types.GetErrorCode(err))
}

func TestPool_StartupTimeout(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := Config{Kind: KindModel, Workers: 3, QueueSize: 1}
	p := newTestPool(cfg, func(id int) *fakeWorker {
		if id == 2 {
			return &fakeWorker{initDelay: time.Second}
		}
		return &fakeWorker{}
	}, nil)

	start := time.Now()
	err := p.Start(ctx, 50*time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, types.HasCode(err, types.ErrStartupTimeout), "got %v", err)

	for _, ws := range p.Stats().WorkerStats {
		assert.Equal(t, "stopped", ws.State)
	}

	_, err = p.Submit(ctx, 1)
	assert.True(t, types.HasCode(err, types.ErrPoolStopped))
}

func TestPool_InitializeError(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := Config{Kind: KindModel, Workers: 2}
	p := newTestPool(cfg, func(id int) *fakeWorker {
		return &fakeWorker{initErr: fmt.Errorf("weights missing for %d", id)}
	}, nil)

	err := p.Start(ctx, time.Second)
	require.Error(t, err)
	assert.False(t, types.HasCode(err, types.ErrStartupTimeout))
	assert.Contains(t, err.Error(), "weights missing")
	assert.False(t, p.Ready())
}

func TestPool_SaturationBackpressure(t *testing.T) {
	ctx := testutil.TestContext(t)
	gate := make(chan struct{})
	cfg := Config{Kind: KindTokenizer, Workers: 2, QueueSize: 2, EnqueueTimeout: 30 * time.Millisecond}
	p := newTestPool(cfg, func(int) *fakeWorker { return &fakeWorker{gate: gate} }, nil)
	require.NoError(t, p.Start(ctx, time.Second))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	// Fill both workers, then the queue.
	var futures []*Future[int]
	for i := 1; i <= 2; i++ {
		f, err := p.SubmitAsync(ctx, i)
		require.NoError(t, err)
		futures = append(futures, f)
	}
	require.True(t, testutil.WaitFor(func() bool { return p.QueueDepth() == 0 && busyWorkers(p) == 2 }, 2*time.Second))
	for i := 3; i <= 4; i++ {
		f, err := p.SubmitAsync(ctx, i)
		require.NoError(t, err)
		futures = append(futures, f)
	}

	// Everything beyond workers+queue fails instead of hanging.
	var wg sync.WaitGroup
	var saturated atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(ctx, 100)
			if types.HasCode(err, types.ErrPoolSaturated) && types.IsRetryable(err) {
				saturated.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), saturated.Load())
	assert.Equal(t, int64(3), p.Stats().Rejected)

	close(gate)
	for i, f := range futures {
		out, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, (i+1)*2, out)
	}
}

func busyWorkers(p *Pool[int, int]) int {
	n := 0
	for _, ws := range p.Stats().WorkerStats {
		if ws.State == "busy" {
			n++
		}
	}
	return n
}

func TestPool_StopDrainsQueue(t *testing.T) {
	ctx := testutil.TestContext(t)
	gate := make(chan struct{})
	cfg := Config{Kind: KindModel, Workers: 1, QueueSize: 5, EnqueueTimeout: time.Second}
	p := newTestPool(cfg, func(int) *fakeWorker { return &fakeWorker{gate: gate} }, nil)
	require.NoError(t, p.Start(ctx, time.Second))

	var futures []*Future[int]
	for i := 1; i <= 5; i++ {
		f, err := p.SubmitAsync(ctx, i)
		require.NoError(t, err)
		futures = append(futures, f)
	}

	stopErr := make(chan error, 1)
	go func() { stopErr <- p.Stop(5 * time.Second) }()
	close(gate)

	for i, f := range futures {
		out, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, (i+1)*2, out)
	}
	err, ok := testutil.WaitForChannel(stopErr, 5*time.Second)
	require.True(t, ok)
	assert.NoError(t, err)
}

func TestPool_StopTimeoutForcesStragglers(t *testing.T) {
	ctx := testutil.TestContext(t)
	gate := make(chan struct{}) // never closed
	cfg := Config{Kind: KindModel, Workers: 1, QueueSize: 2, EnqueueTimeout: time.Second}
	p := newTestPool(cfg, func(int) *fakeWorker { return &fakeWorker{gate: gate} }, nil)
	require.NoError(t, p.Start(ctx, time.Second))

	inflight, err := p.SubmitAsync(ctx, 1)
	require.NoError(t, err)
	require.True(t, testutil.WaitFor(func() bool { return busyWorkers(p) == 1 }, 2*time.Second))
	queued, err := p.SubmitAsync(ctx, 2)
	require.NoError(t, err)

	err = p.Stop(30 * time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, types.ErrShutdownTimeout, types.GetErrorCode(err))

	_, err = inflight.Wait(ctx)
	assert.Error(t, err, "force-stopped worker observes cancellation")

	_, err = queued.Wait(ctx)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.ErrPoolStopped))
}

func TestPool_ProcessErrorAndPanic(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := &fakeRecorder{}
	cfg := Config{Kind: KindModel, Workers: 1, QueueSize: 1, EnqueueTimeout: time.Second}
	p := newTestPool(cfg, func(int) *fakeWorker { return &fakeWorker{panicOn: 7} }, rec)
	require.NoError(t, p.Start(ctx, time.Second))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	_, err := p.Submit(ctx, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative input")

	_, err = p.Submit(ctx, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	out, err := p.Submit(ctx, 3)
	require.NoError(t, err, "worker survives a panic")
	assert.Equal(t, 6, out)

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, 3, rec.count())
}

func TestPool_MemoryProbe(t *testing.T) {
	ctx := testutil.TestContext(t)
	rec := &fakeRecorder{}
	cfg := Config{Kind: KindModel, Workers: 2, QueueSize: 4, EnqueueTimeout: time.Second}
	p := newTestPool(cfg, func(id int) *fakeWorker {
		if id == 0 {
			return &fakeWorker{mem: 512, memOK: true}
		}
		return &fakeWorker{}
	}, rec)
	require.NoError(t, p.Start(ctx, time.Second))
	t.Cleanup(func() { _ = p.Stop(time.Second) })

	for i := 1; i <= 8; i++ {
		_, err := p.Submit(ctx, i)
		require.NoError(t, err)
	}

	for _, ws := range p.Stats().WorkerStats {
		if ws.ID == 0 && ws.Processed > 0 {
			require.NotNil(t, ws.MemoryMB)
			assert.Equal(t, 512.0, *ws.MemoryMB)
		}
		if ws.ID == 1 {
			assert.Nil(t, ws.MemoryMB, "unknown memory is reported as absent, not zero")
		}
	}
}

func TestWorkerState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "busy", StateBusy.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", WorkerState(42).String())
}
