package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/batch"
	"github.com/BaSui01/scoreflow/internal/pool"
	"github.com/BaSui01/scoreflow/testutil"
	"github.com/BaSui01/scoreflow/testutil/mocks"
	"github.com/BaSui01/scoreflow/tokenizer"
	"github.com/BaSui01/scoreflow/types"
)

func TestTruncatePair(t *testing.T) {
	q := []int{1, 2, 3}
	d := []int{4, 5, 6, 7}

	tests := []struct {
		name   string
		maxLen int
		wantQ  int
		wantD  int
	}{
		{"no limit", 0, 3, 4},
		{"fits", 7, 3, 4},
		{"document trimmed", 5, 3, 2},
		{"query fills budget", 3, 3, 0},
		{"query trimmed", 2, 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gq, gd := truncatePair(q, d, tt.maxLen)
			assert.Len(t, gq, tt.wantQ)
			assert.Len(t, gd, tt.wantD)
		})
	}
	assert.Equal(t, []int{4, 5, 6, 7}, d, "input is not modified")
}

func TestTokenizerWorker_Process(t *testing.T) {
	ctx := testutil.TestContext(t)
	cfg := tokenizer.Config{Kind: tokenizer.KindEstimator, MaxTokens: 4, CacheSize: 16}
	factory := newTokenizerFactory(cfg, pool.NewSlicePool[int](4), zap.NewNop())

	w, err := factory(0)
	require.NoError(t, err)
	require.NoError(t, w.Initialize(ctx))

	u := &stubUnit{id: "u", pairs: []types.Pair{
		{Query: "cat", Document: "dog"},
		{Query: "cat", Document: "a long document that will be truncated"},
	}}
	b := batch.NewDirect(u)

	tb, err := w.Process(ctx, b)
	require.NoError(t, err)
	require.Equal(t, 2, tb.Len())
	assert.Equal(t, b.ID, tb.BatchID)
	assert.Equal(t, 2, tb.Pairs[0].Length)
	assert.Equal(t, 4, tb.Pairs[1].Length)
	assert.Equal(t, 4, tb.MaxLength)
	assert.Equal(t, 6, tb.TotalTokens)
	assert.InDelta(t, 0.25, tb.PaddingRatio, 1e-9)
	assert.Equal(t, "dog", tb.Pairs[0].Document)

	tw := w.(*tokenizerWorker)
	assert.True(t, tw.cache.Contains("cat"))
	_, ok := w.MemoryMB()
	assert.False(t, ok)
}

func TestTokenizerWorker_UnknownKind(t *testing.T) {
	factory := newTokenizerFactory(tokenizer.Config{Kind: "wordpiece"}, pool.NewSlicePool[int](1), zap.NewNop())
	w, err := factory(0)
	require.NoError(t, err)
	assert.Error(t, w.Initialize(testutil.TestContext(t)))
}

func TestModelWorker(t *testing.T) {
	ctx := testutil.TestContext(t)
	mock := mocks.NewMockBackend().WithMemory(1024)
	var info types.ModelInfo
	factory := newModelFactory(func(int) (backend.Backend, error) { return mock, nil }, func(i types.ModelInfo) { info = i }, zap.NewNop())

	w, err := factory(3)
	require.NoError(t, err)
	assert.Equal(t, "mock-scorer", info.Name)

	require.NoError(t, w.Initialize(ctx))
	assert.Equal(t, 1, mock.LoadCount())
	assert.Equal(t, 1, mock.WarmupCount())

	tb := &types.TokenizedBatch{Pairs: []types.TokenizedPair{{Query: "q", Document: "d"}}}
	scores, err := w.Process(ctx, tb)
	require.NoError(t, err)
	assert.Equal(t, []float64{mocks.DefaultScore("q", "d")}, scores)

	mb, ok := w.MemoryMB()
	assert.True(t, ok)
	assert.Equal(t, 1024.0, mb)

	mock.WithWrongScoreCount()
	_, err = w.Process(ctx, tb)
	assert.Error(t, err)
}

type stubUnit struct {
	id    string
	pairs []types.Pair
}

func (u *stubUnit) ID() string          { return u.id }
func (u *stubUnit) Pairs() []types.Pair { return u.pairs }
