package metrics

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/BaSui01/scoreflow/internal/metrics"

// Stage names recorded by the pipeline and the HTTP layer.
const (
	StageQueueWait      = "queue_wait"
	StageTokenize       = "tokenize"
	StageInference      = "inference"
	StageNetworkReceive = "network_receive"
	StageNetworkSend    = "network_send"
)

// Config configures the collector.
type Config struct {
	Namespace  string `json:"namespace" yaml:"namespace" env:"NAMESPACE"`
	WindowSize int    `json:"window_size" yaml:"window_size" env:"WINDOW_SIZE"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:  "scoreflow",
		WindowSize: 10000,
	}
}

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 是流水线的指标事件汇聚点。
// 由进程启动时创建一次并注入各阶段；记录操作从不阻塞或失败调用方。
type Collector struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu          sync.Mutex
	requests    *window
	stages      map[string]*window
	stageCounts map[string]int64
	count       int64
	queries     int64
	workers     map[workerKey]*workerStat
	batches     batchStat
	queueDepths map[string]int

	// Prometheus 镜像
	requestsTotal   prometheus.Counter
	queriesTotal    prometheus.Counter
	requestDuration prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	workerProcessed *prometheus.CounterVec
	workerDuration  *prometheus.HistogramVec
	workerMemory    *prometheus.GaugeVec
	batchesTotal    *prometheus.CounterVec
	batchSize       prometheus.Histogram
	batchPadding    prometheus.Histogram
	queueDepth      *prometheus.GaugeVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// OTel 镜像
	otelStage metric.Float64Histogram
}

type workerKey struct {
	kind string
	id   int
}

type workerStat struct {
	processed int64
	failed    int64
	latency   time.Duration
	memoryMB  *float64
}

type batchStat struct {
	count    int64
	pairs    int64
	padding  float64
	byReason map[string]int64
	byBucket map[string]int64
}

// NewCollector creates a collector registering its Prometheus mirror on reg.
// A nil reg keeps the mirror unregistered.
func NewCollector(cfg Config, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultConfig().Namespace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Collector{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "metrics")),
		now:    time.Now,
	}
	c.resetLocked()

	factory := promauto.With(reg)
	ns := cfg.Namespace

	c.requestsTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "requests_total",
		Help:      "Total number of scheduled scoring requests",
	})
	c.queriesTotal = factory.NewCounter(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "queries_total",
		Help:      "Total number of scored query/document pairs",
	})
	c.requestDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "request_duration_seconds",
		Help:      "End-to-end request latency in seconds",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})
	c.stageDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "stage_duration_seconds",
		Help:      "Per-stage latency in seconds",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"stage"})
	c.workerProcessed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "worker_processed_total",
		Help:      "Items processed by stage workers",
	}, []string{"kind", "worker", "status"})
	c.workerDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "worker_process_duration_seconds",
		Help:      "Stage worker process latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})
	c.workerMemory = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "worker_memory_mb",
		Help:      "Device memory reported by stage workers",
	}, []string{"kind", "worker"})
	c.batchesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "batches_total",
		Help:      "Closed batches by close reason",
	}, []string{"reason"})
	c.batchSize = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "batch_size_pairs",
		Help:      "Pairs per dispatched batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 9),
	})
	c.batchPadding = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "batch_padding_ratio",
		Help:      "Padded tokens over total tokens per batch",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
	c.queueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns,
		Name:      "queue_depth",
		Help:      "Items waiting in a stage queue",
	}, []string{"stage"})

	c.httpRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	c.httpRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	hist, err := otel.Meter(instrumentationName).Float64Histogram("scoreflow.stage.duration",
		metric.WithDescription("Per-stage latency"),
		metric.WithUnit("ms"))
	if err != nil {
		c.logger.Warn("otel stage histogram unavailable", zap.Error(err))
	} else {
		c.otelStage = hist
	}

	c.logger.Info("metrics collector initialized",
		zap.String("namespace", ns),
		zap.Int("window_size", cfg.WindowSize),
	)
	return c
}

// safe runs a recording step; panics are logged and dropped.
func (c *Collector) safe(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("metrics recording failed", zap.String("op", op), zap.Any("panic", r))
		}
	}()
	fn()
}

// =============================================================================
// 🎯 阶段与请求
// =============================================================================

// RecordStageTimings folds each named duration (ms) into its stage window.
func (c *Collector) RecordStageTimings(timings map[string]float64) {
	c.safe("stage_timings", func() {
		now := c.now()
		c.mu.Lock()
		for name, ms := range timings {
			w, ok := c.stages[name]
			if !ok {
				w = newWindow(c.cfg.WindowSize)
				c.stages[name] = w
			}
			w.add(sample{value: ms, at: now})
			c.stageCounts[name]++
		}
		c.mu.Unlock()

		for name, ms := range timings {
			c.stageDuration.WithLabelValues(name).Observe(ms / 1000)
			if c.otelStage != nil {
				c.otelStage.Record(context.Background(), ms,
					metric.WithAttributes(attribute.String("stage", name)))
			}
		}
	})
}

// RecordRequest records one end-to-end request carrying queries pairs.
func (c *Collector) RecordRequest(queries int, latencyMs float64) {
	c.safe("request", func() {
		now := c.now()
		c.mu.Lock()
		c.requests.add(sample{value: latencyMs, queries: queries, at: now})
		c.count++
		c.queries += int64(queries)
		c.mu.Unlock()

		c.requestsTotal.Inc()
		c.queriesTotal.Add(float64(queries))
		c.requestDuration.Observe(latencyMs / 1000)
	})
}

// =============================================================================
// 👷 Worker
// =============================================================================

// RecordWorker records one worker Process call.
func (c *Collector) RecordWorker(kind string, workerID int, latency time.Duration, err error) {
	c.safe("worker", func() {
		c.mu.Lock()
		ws := c.workerLocked(kind, workerID)
		if err != nil {
			ws.failed++
		} else {
			ws.processed++
		}
		ws.latency += latency
		c.mu.Unlock()

		status := "ok"
		if err != nil {
			status = "error"
		}
		c.workerProcessed.WithLabelValues(kind, strconv.Itoa(workerID), status).Inc()
		c.workerDuration.WithLabelValues(kind).Observe(latency.Seconds())
	})
}

// RecordWorkerMemory records a device memory reading.
func (c *Collector) RecordWorkerMemory(kind string, workerID int, mb float64) {
	c.safe("worker_memory", func() {
		c.mu.Lock()
		v := mb
		c.workerLocked(kind, workerID).memoryMB = &v
		c.mu.Unlock()

		c.workerMemory.WithLabelValues(kind, strconv.Itoa(workerID)).Set(mb)
	})
}

func (c *Collector) workerLocked(kind string, id int) *workerStat {
	k := workerKey{kind: kind, id: id}
	ws, ok := c.workers[k]
	if !ok {
		ws = &workerStat{}
		c.workers[k] = ws
	}
	return ws
}

// =============================================================================
// 📦 批次与队列
// =============================================================================

// RecordBatch records a dispatched batch. bucket is -1 without length buckets.
func (c *Collector) RecordBatch(bucket, size int, reason string, paddingRatio float64) {
	c.safe("batch", func() {
		c.mu.Lock()
		c.batches.count++
		c.batches.pairs += int64(size)
		c.batches.padding += paddingRatio
		c.batches.byReason[reason]++
		c.batches.byBucket[strconv.Itoa(bucket)]++
		c.mu.Unlock()

		c.batchesTotal.WithLabelValues(reason).Inc()
		c.batchSize.Observe(float64(size))
		c.batchPadding.Observe(paddingRatio)
	})
}

// RecordQueueDepth records the current depth of a stage queue.
func (c *Collector) RecordQueueDepth(stage string, depth int) {
	c.safe("queue_depth", func() {
		c.mu.Lock()
		c.queueDepths[stage] = depth
		c.mu.Unlock()

		c.queueDepth.WithLabelValues(stage).Set(float64(depth))
	})
}

// =============================================================================
// 🌐 HTTP 指标
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.safe("http_request", func() {
		c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
		c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// =============================================================================
// 📋 快照
// =============================================================================

// Summary is an aggregate snapshot over the retained windows.
type Summary struct {
	// Count is the number of requests recorded since the last reset.
	Count int64   `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
	// ThroughputQPS is window queries over the window's wall-clock span.
	ThroughputQPS float64 `json:"throughput_qps"`
	// QueryCount is the number of pairs recorded since the last reset.
	QueryCount int64 `json:"query_count"`
	WindowSize int   `json:"window_size"`

	Stages      map[string]StageSummary `json:"stages"`
	Workers     []WorkerSummary         `json:"workers"`
	Batches     BatchSummary            `json:"batches"`
	QueueDepths map[string]int          `json:"queue_depths"`
}

// StageSummary is the latency distribution of one named stage.
type StageSummary struct {
	Count int64   `json:"count"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// WorkerSummary is the per-worker view. MemoryMB is nil when unknown.
type WorkerSummary struct {
	Kind         string   `json:"kind"`
	ID           int      `json:"id"`
	Processed    int64    `json:"processed"`
	Failed       int64    `json:"failed"`
	AvgLatencyMs float64  `json:"avg_latency_ms"`
	MemoryMB     *float64 `json:"memory_mb,omitempty"`
}

// BatchSummary aggregates dispatched batches.
type BatchSummary struct {
	Batches         int64            `json:"batches"`
	AvgSize         float64          `json:"avg_size"`
	AvgPaddingRatio float64          `json:"avg_padding_ratio"`
	ByReason        map[string]int64 `json:"by_reason"`
	ByBucket        map[string]int64 `json:"by_bucket"`
}

// Summary returns the current snapshot.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := c.requests.samples()
	d := distributionOf(reqs)
	s := Summary{
		Count:         c.count,
		AvgMs:         d.avg,
		P50Ms:         d.p50,
		P95Ms:         d.p95,
		P99Ms:         d.p99,
		ThroughputQPS: throughput(reqs),
		QueryCount:    c.queries,
		WindowSize:    len(reqs),
		Stages:        make(map[string]StageSummary, len(c.stages)),
		QueueDepths:   make(map[string]int, len(c.queueDepths)),
	}

	for name, w := range c.stages {
		sd := distributionOf(w.samples())
		s.Stages[name] = StageSummary{
			Count: c.stageCounts[name],
			AvgMs: sd.avg,
			P50Ms: sd.p50,
			P95Ms: sd.p95,
			P99Ms: sd.p99,
		}
	}

	for k, ws := range c.workers {
		wsum := WorkerSummary{
			Kind:      k.kind,
			ID:        k.id,
			Processed: ws.processed,
			Failed:    ws.failed,
			MemoryMB:  ws.memoryMB,
		}
		if n := ws.processed + ws.failed; n > 0 {
			wsum.AvgLatencyMs = float64(ws.latency) / float64(n) / float64(time.Millisecond)
		}
		s.Workers = append(s.Workers, wsum)
	}
	sort.Slice(s.Workers, func(i, j int) bool {
		if s.Workers[i].Kind != s.Workers[j].Kind {
			return s.Workers[i].Kind < s.Workers[j].Kind
		}
		return s.Workers[i].ID < s.Workers[j].ID
	})

	s.Batches = BatchSummary{
		Batches:  c.batches.count,
		ByReason: make(map[string]int64, len(c.batches.byReason)),
		ByBucket: make(map[string]int64, len(c.batches.byBucket)),
	}
	if c.batches.count > 0 {
		s.Batches.AvgSize = float64(c.batches.pairs) / float64(c.batches.count)
		s.Batches.AvgPaddingRatio = c.batches.padding / float64(c.batches.count)
	}
	for r, n := range c.batches.byReason {
		s.Batches.ByReason[r] = n
	}
	for b, n := range c.batches.byBucket {
		s.Batches.ByBucket[b] = n
	}
	for stage, depth := range c.queueDepths {
		s.QueueDepths[stage] = depth
	}
	return s
}

// Reset clears every window and counter. The Prometheus mirror is
// cumulative and is not reset.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.logger.Info("metrics reset")
}

func (c *Collector) resetLocked() {
	c.requests = newWindow(c.cfg.WindowSize)
	c.stages = make(map[string]*window)
	c.stageCounts = make(map[string]int64)
	c.count = 0
	c.queries = 0
	c.workers = make(map[workerKey]*workerStat)
	c.batches = batchStat{
		byReason: make(map[string]int64),
		byBucket: make(map[string]int64),
	}
	c.queueDepths = make(map[string]int)
}

// throughput is queries in ss over the span between oldest and newest
// sample. Fewer than two distinct timestamps give 0.
func throughput(ss []sample) float64 {
	if len(ss) < 2 {
		return 0
	}
	span := ss[len(ss)-1].at.Sub(ss[0].at).Seconds()
	if span <= 0 {
		return 0
	}
	total := 0
	for _, s := range ss {
		total += s.queries
	}
	return float64(total) / span
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
