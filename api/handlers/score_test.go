package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api"
	"github.com/BaSui01/scoreflow/backend"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/pipeline"
	"github.com/BaSui01/scoreflow/testutil"
	"github.com/BaSui01/scoreflow/testutil/mocks"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🧪 测试辅助类型
// =============================================================================

type fakeScorer struct {
	mu      sync.Mutex
	got     []types.Pair
	arrival time.Time
	err     error
}

func (f *fakeScorer) Schedule(_ context.Context, pairs []types.Pair, arrival time.Time) ([]float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = pairs
	f.arrival = arrival
	if f.err != nil {
		return nil, 0, f.err
	}
	scores := make([]float64, len(pairs))
	for i, p := range pairs {
		scores[i] = mocks.DefaultScore(p.Query, p.Document)
	}
	return scores, 1.5, nil
}

type stageLog struct {
	mu      sync.Mutex
	timings []map[string]float64
}

func (s *stageLog) RecordStageTimings(t map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings = append(s.timings, t)
}

func scoreRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/v1/score", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// =============================================================================
// 🧪 ScoreHandler 测试
// =============================================================================

func TestScoreHandler_Success(t *testing.T) {
	scorer := &fakeScorer{}
	stages := &stageLog{}
	h := NewScoreHandler(scorer, stages, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleScore(w, scoreRequest(`{"pairs":[{"query":"q1","document":"d1"},{"query":"q2","document":"d2"}]}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ScoreResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []float64{mocks.DefaultScore("q1", "d1"), mocks.DefaultScore("q2", "d2")}, resp.Scores)
	assert.Equal(t, 1.5, resp.LatencyMs)

	require.Len(t, scorer.got, 2)
	assert.Equal(t, types.Pair{Query: "q2", Document: "d2"}, scorer.got[1])
	assert.False(t, scorer.arrival.IsZero())

	require.Len(t, stages.timings, 1)
	assert.Contains(t, stages.timings[0], metrics.StageNetworkReceive)
	assert.Contains(t, stages.timings[0], metrics.StageNetworkSend)
}

func TestScoreHandler_EmptyPairs(t *testing.T) {
	h := NewScoreHandler(&fakeScorer{}, nil, zap.NewNop())

	w := httptest.NewRecorder()
	h.HandleScore(w, scoreRequest(`{"pairs":[]}`))

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.ScoreResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Scores)
}

func TestScoreHandler_RequestErrors(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		ctype      string
		body       string
		opts       []ScoreOption
		wantStatus int
	}{
		{name: "wrong method", method: http.MethodGet, ctype: "application/json", body: `{}`, wantStatus: http.StatusMethodNotAllowed},
		{name: "wrong content type", method: http.MethodPost, ctype: "text/plain", body: `{}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "malformed JSON", method: http.MethodPost, ctype: "application/json", body: `{"pairs":`, wantStatus: http.StatusBadRequest},
		{name: "missing pairs", method: http.MethodPost, ctype: "application/json", body: `{}`, wantStatus: http.StatusBadRequest},
		{
			name:       "too many pairs",
			method:     http.MethodPost,
			ctype:      "application/json",
			body:       `{"pairs":[{"query":"a","document":"b"},{"query":"c","document":"d"}]}`,
			opts:       []ScoreOption{WithMaxPairs(1)},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "body too large",
			method:     http.MethodPost,
			ctype:      "application/json",
			body:       `{"pairs":[{"query":"` + strings.Repeat("x", 512) + `","document":"b"}]}`,
			opts:       []ScoreOption{WithMaxBodyBytes(128)},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &fakeScorer{}
			h := NewScoreHandler(scorer, nil, zap.NewNop(), tt.opts...)

			r := httptest.NewRequest(tt.method, "/api/v1/score", strings.NewReader(tt.body))
			r.Header.Set("Content-Type", tt.ctype)
			w := httptest.NewRecorder()
			h.HandleScore(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Nil(t, scorer.got, "scheduler must not be reached")
		})
	}
}

func TestScoreHandler_SchedulerErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:       "saturated",
			err:        types.InferenceFailed("model", types.NewError(types.ErrPoolSaturated, "full").WithRetryable(true)),
			wantStatus: http.StatusBadGateway,
			wantCode:   types.ErrInferenceFailed,
		},
		{
			name:       "stopped",
			err:        types.NewError(types.ErrPoolStopped, "stopped"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   types.ErrPoolStopped,
		},
		{
			name:       "former closed",
			err:        types.NewError(types.ErrFormerClosed, "closed"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   types.ErrFormerClosed,
		},
		{
			name:       "untyped",
			err:        errors.New("unexpected"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   types.ErrInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := &stageLog{}
			h := NewScoreHandler(&fakeScorer{err: tt.err}, stages, zap.NewNop())

			w := httptest.NewRecorder()
			h.HandleScore(w, scoreRequest(`{"pairs":[{"query":"q","document":"d"}]}`))

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
			assert.Empty(t, stages.timings, "failed requests record no network timings")
		})
	}
}

func TestScoreHandler_WithScheduler(t *testing.T) {
	cfg := pipeline.DefaultConfig()
	cfg.Batch.MaxBatchSize = 4
	cfg.Batch.Timeout = 5 * time.Millisecond
	cfg.StartupTimeout = 2 * time.Second

	mock := mocks.NewMockBackend()
	sched, err := pipeline.NewScheduler(cfg, func(int) (backend.Backend, error) { return mock, nil }, nil, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, sched.Start(testutil.TestContext(t)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
	})

	h := NewScoreHandler(sched, nil, zap.NewNop())
	pairs := testutil.MarkedPairs("http", 6)
	body := api.ScoreRequest{Pairs: make([]api.PairInput, len(pairs))}
	want := make([]float64, len(pairs))
	for i, p := range pairs {
		body.Pairs[i] = api.PairInput{Query: p.Query, Document: p.Document}
		want[i] = mocks.DefaultScore(p.Query, p.Document)
	}

	w := httptest.NewRecorder()
	h.HandleScore(w, scoreRequest(testutil.MustJSON(body)))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp api.ScoreResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	testutil.AssertScoresEqual(t, want, resp.Scores)
	assert.GreaterOrEqual(t, resp.LatencyMs, 0.0)
}
