package batch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/types"
)

// Config configures the batch former.
type Config struct {
	MaxBatchSize int           `json:"max_batch_size" yaml:"max_batch_size"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	LengthAware  bool          `json:"length_aware" yaml:"length_aware"`
	BucketBounds []int         `json:"bucket_bounds" yaml:"bucket_bounds"`
	OutputBuffer int           `json:"output_buffer" yaml:"output_buffer"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 32,
		Timeout:      100 * time.Millisecond,
		LengthAware:  false,
		BucketBounds: []int{64, 128, 256, 512},
		OutputBuffer: 64,
	}
}

// bucket holds one forming batch. gen identifies the forming batch a timer
// was armed for.
type bucket struct {
	mu      sync.Mutex
	index   int
	forming *Batch
	gen     uint64
	timer   *time.Timer
}

// Former accumulates admitted units into size/time bounded batches.
type Former struct {
	cfg      Config
	lengthFn LengthFunc
	logger   *zap.Logger

	buckets []*bucket
	out     chan *Batch

	// closeMu is held shared by admissions and timer closes, exclusively
	// by Close, so nothing sends on out after it is closed.
	closeMu sync.RWMutex
	closed  bool

	admittedPairs atomic.Int64
	admittedUnits atomic.Int64
	bySize        atomic.Int64
	byTimeout     atomic.Int64
	byShutdown    atomic.Int64
}

// NewFormer creates a former. lengthFn is only consulted in length-aware
// mode; nil means RuneLength.
func NewFormer(cfg Config, lengthFn LengthFunc, logger *zap.Logger) (*Former, error) {
	if cfg.MaxBatchSize <= 0 {
		return nil, fmt.Errorf("max batch size must be > 0, got %d", cfg.MaxBatchSize)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("batch timeout must be >= 0, got %s", cfg.Timeout)
	}
	for i := 1; i < len(cfg.BucketBounds); i++ {
		if cfg.BucketBounds[i] <= cfg.BucketBounds[i-1] {
			return nil, fmt.Errorf("bucket bounds must be strictly ascending: %v", cfg.BucketBounds)
		}
	}
	if lengthFn == nil {
		lengthFn = RuneLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := 1
	if cfg.LengthAware && len(cfg.BucketBounds) > 0 {
		n = len(cfg.BucketBounds)
	} else {
		cfg.LengthAware = false
	}
	buckets := make([]*bucket, n)
	for i := range buckets {
		buckets[i] = &bucket{index: i}
		if !cfg.LengthAware {
			buckets[i].index = -1
		}
	}

	return &Former{
		cfg:      cfg,
		lengthFn: lengthFn,
		logger:   logger.With(zap.String("component", "batch_former")),
		buckets:  buckets,
		out:      make(chan *Batch, cfg.OutputBuffer),
	}, nil
}

// Batches returns closed batches, FIFO per bucket. The channel is closed
// by Close after the last flush.
func (f *Former) Batches() <-chan *Batch {
	return f.out
}

// Admit appends unit's pairs to the forming batch of their bucket. It
// blocks while the output channel is full.
func (f *Former) Admit(unit Admittable) error {
	f.closeMu.RLock()
	defer f.closeMu.RUnlock()

	if f.closed {
		return types.NewError(types.ErrFormerClosed, "batch former closed").WithStage("batching")
	}

	pairs := unit.Pairs()
	if len(pairs) == 0 {
		return nil
	}
	f.admittedUnits.Add(1)
	f.admittedPairs.Add(int64(len(pairs)))

	if !f.cfg.LengthAware {
		f.appendPairs(f.buckets[0], unit, allIndices(len(pairs)))
		return nil
	}

	// Group by bucket, keeping admission order inside each group.
	groups := make([][]int, len(f.buckets))
	var order []int
	for i, p := range pairs {
		b := Bucket(f.lengthFn(p), f.cfg.BucketBounds)
		if groups[b] == nil {
			order = append(order, b)
		}
		groups[b] = append(groups[b], i)
	}
	for _, b := range order {
		f.appendPairs(f.buckets[b], unit, groups[b])
	}
	return nil
}

func (f *Former) appendPairs(b *bucket, unit Admittable, indices []int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, idx := range indices {
		now := time.Now()
		if b.forming == nil {
			b.forming = newBatch(b.index, now)
			b.gen++
			if f.cfg.Timeout > 0 {
				gen := b.gen
				b.timer = time.AfterFunc(f.cfg.Timeout, func() { f.expire(b, gen) })
			}
		}
		b.forming.append(unit, idx)
		if b.forming.Size >= f.cfg.MaxBatchSize {
			f.closeLocked(b, ReasonSizeReached, now)
		}
	}

	// Size wins when both triggers hold; the time check runs once per unit.
	if b.forming != nil {
		if now := time.Now(); now.Sub(b.forming.StartedAt) >= f.cfg.Timeout {
			f.closeLocked(b, ReasonTimeoutReached, now)
		}
	}
}

// expire is the timer path: it closes the batch it was armed for, if that
// batch is still forming.
func (f *Former) expire(b *bucket, gen uint64) {
	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	if f.closed {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.forming == nil || b.gen != gen {
		return
	}
	f.closeLocked(b, ReasonTimeoutReached, time.Now())
}

// closeLocked seals the forming batch and hands it off. Must hold b.mu.
func (f *Former) closeLocked(b *bucket, reason CloseReason, now time.Time) {
	batch := b.forming
	b.forming = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	batch.ClosedAt = now
	batch.Reason = reason
	switch reason {
	case ReasonSizeReached:
		f.bySize.Add(1)
	case ReasonTimeoutReached:
		f.byTimeout.Add(1)
	case ReasonShutdown:
		f.byShutdown.Add(1)
	}

	f.logger.Debug("batch closed",
		zap.String("batch_id", batch.ID),
		zap.Int("bucket", batch.Bucket),
		zap.Int("size", batch.Size),
		zap.String("reason", string(reason)),
		zap.Duration("wait", batch.Wait()),
	)
	f.out <- batch
}

// Close rejects further admissions, flushes forming batches with reason
// shutdown and closes the output channel. Safe to call more than once.
func (f *Former) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if f.closed {
		return
	}
	f.closed = true

	flushed := 0
	for _, b := range f.buckets {
		b.mu.Lock()
		if b.forming != nil {
			f.closeLocked(b, ReasonShutdown, time.Now())
			flushed++
		}
		b.mu.Unlock()
	}
	close(f.out)

	f.logger.Info("batch former closed", zap.Int("flushed", flushed))
}

// Stats returns former statistics.
func (f *Former) Stats() Stats {
	forming := make([]int, len(f.buckets))
	for i, b := range f.buckets {
		b.mu.Lock()
		if b.forming != nil {
			forming[i] = b.forming.Size
		}
		b.mu.Unlock()
	}
	return Stats{
		AdmittedUnits: f.admittedUnits.Load(),
		AdmittedPairs: f.admittedPairs.Load(),
		ClosedBySize:  f.bySize.Load(),
		ClosedByTime:  f.byTimeout.Load(),
		Flushed:       f.byShutdown.Load(),
		FormingPairs:  forming,
	}
}

// Stats contains former statistics.
type Stats struct {
	AdmittedUnits int64 `json:"admitted_units"`
	AdmittedPairs int64 `json:"admitted_pairs"`
	ClosedBySize  int64 `json:"closed_by_size"`
	ClosedByTime  int64 `json:"closed_by_timeout"`
	Flushed       int64 `json:"flushed"`
	FormingPairs  []int `json:"forming_pairs"`
}

func allIndices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
