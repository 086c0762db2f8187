// MockBackend 是评分后端的测试模拟实现。
//
// 支持确定性打分、延迟、闸门阻塞、错误注入与调用记录。
package mocks

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BaSui01/scoreflow/types"
)

// --- MockBackend 结构 ---

// ScoreFunc 为单个 pair 打分。
type ScoreFunc func(query, document string) float64

// MockBackend 是 backend.Backend 的模拟实现
type MockBackend struct {
	mu sync.RWMutex

	scoreFn ScoreFunc
	info    types.ModelInfo

	// 行为控制
	delay     time.Duration
	loadDelay time.Duration
	gate      chan struct{}
	loadErr   error
	inferErr  error
	failWhen  func(batch *types.TokenizedBatch) bool
	wrongSize bool
	memoryMB  float64
	memoryOK  bool

	// 调用记录
	loads   int
	warmups int
	calls   []MockInferCall
}

// MockInferCall 记录单次 Infer 调用
type MockInferCall struct {
	BatchID string
	Size    int
	Pairs   []types.Pair
}

// NewMockBackend 创建新的 MockBackend
func NewMockBackend() *MockBackend {
	return &MockBackend{
		scoreFn: DefaultScore,
		info: types.ModelInfo{
			Name:        "mock-scorer",
			Backend:     "mock",
			Device:      "cpu",
			MaxSequence: 512,
		},
	}
}

// DefaultScore 对 (query, document) 做 FNV 哈希并映射到 [0, 1)。
// 相同输入总是得到相同分数，不同 pair 几乎不会碰撞。
func DefaultScore(query, document string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(document))
	return float64(h.Sum64()%1_000_000) / 1_000_000
}

// --- Builder 方法 ---

// WithScoreFunc 设置打分函数
func (m *MockBackend) WithScoreFunc(fn ScoreFunc) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreFn = fn
	return m
}

// WithDelay 设置每次 Infer 的模拟延迟
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithLoadDelay 设置 Load 的模拟延迟（用于启动超时测试）
func (m *MockBackend) WithLoadDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadDelay = d
	return m
}

// WithGate 设置闸门：Infer 在 gate 关闭前阻塞
func (m *MockBackend) WithGate(gate chan struct{}) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
	return m
}

// WithLoadError 设置 Load 返回的错误
func (m *MockBackend) WithLoadError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
	return m
}

// WithError 设置 Infer 返回的错误
func (m *MockBackend) WithError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inferErr = err
	return m
}

// FailWhen 对满足条件的批次返回 WithError 设置的错误
func (m *MockBackend) FailWhen(pred func(batch *types.TokenizedBatch) bool) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWhen = pred
	return m
}

// WithWrongScoreCount 让 Infer 少返回一个分数
func (m *MockBackend) WithWrongScoreCount() *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wrongSize = true
	return m
}

// WithMemory 设置显存探测读数
func (m *MockBackend) WithMemory(mb float64) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memoryMB = mb
	m.memoryOK = true
	return m
}

// --- Backend 接口实现 ---

// Load 模拟模型加载
func (m *MockBackend) Load(ctx context.Context) error {
	m.mu.Lock()
	m.loads++
	delay, err := m.loadDelay, m.loadErr
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Warmup 模拟预热
func (m *MockBackend) Warmup(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmups++
	return nil
}

// Infer 为批次中每个 pair 打分，顺序与输入一致
func (m *MockBackend) Infer(ctx context.Context, batch *types.TokenizedBatch) ([]float64, error) {
	m.mu.RLock()
	delay, gate, scoreFn := m.delay, m.gate, m.scoreFn
	inferErr, failWhen, wrongSize := m.inferErr, m.failWhen, m.wrongSize
	m.mu.RUnlock()

	call := MockInferCall{BatchID: batch.BatchID, Size: batch.Len()}
	for _, p := range batch.Pairs {
		call.Pairs = append(call.Pairs, types.Pair{Query: p.Query, Document: p.Document})
	}
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if inferErr != nil && (failWhen == nil || failWhen(batch)) {
		return nil, inferErr
	}

	scores := make([]float64, 0, batch.Len())
	for _, p := range batch.Pairs {
		scores = append(scores, scoreFn(p.Query, p.Document))
	}
	if wrongSize && len(scores) > 0 {
		scores = scores[:len(scores)-1]
	}
	return scores, nil
}

// ModelInfo 返回模型信息
func (m *MockBackend) ModelInfo() types.ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info
}

// MemoryMB 返回显存读数；未设置时为未知
func (m *MockBackend) MemoryMB() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryMB, m.memoryOK
}

// --- 调用记录 ---

// Calls 返回所有 Infer 调用记录
func (m *MockBackend) Calls() []MockInferCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockInferCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// InferCount 返回 Infer 调用次数
func (m *MockBackend) InferCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LoadCount 返回 Load 调用次数
func (m *MockBackend) LoadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// WarmupCount 返回 Warmup 调用次数
func (m *MockBackend) WarmupCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warmups
}

// Reset 清空调用记录
func (m *MockBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = 0
	m.warmups = 0
	m.calls = nil
}
