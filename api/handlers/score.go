package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/api"
	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/types"
)

// =============================================================================
// 🎯 评分接口 Handler
// =============================================================================

// Scorer 是评分调度入口，*pipeline.Scheduler 实现了它
type Scorer interface {
	Schedule(ctx context.Context, pairs []types.Pair, arrival time.Time) ([]float64, float64, error)
}

// StageRecorder 记录网络阶段耗时
type StageRecorder interface {
	RecordStageTimings(timings map[string]float64)
}

// ScoreHandler 评分接口处理器
type ScoreHandler struct {
	scorer       Scorer
	recorder     StageRecorder
	maxPairs     int
	maxBodyBytes int64
	logger       *zap.Logger
}

// ScoreOption 配置 ScoreHandler
type ScoreOption func(*ScoreHandler)

// WithMaxPairs 限制单次请求的 pair 数，0 表示不限制
func WithMaxPairs(n int) ScoreOption {
	return func(h *ScoreHandler) { h.maxPairs = n }
}

// WithMaxBodyBytes 限制请求体大小
func WithMaxBodyBytes(n int64) ScoreOption {
	return func(h *ScoreHandler) { h.maxBodyBytes = n }
}

// NewScoreHandler 创建评分处理器，recorder 可为 nil
func NewScoreHandler(scorer Scorer, recorder StageRecorder, logger *zap.Logger, opts ...ScoreOption) *ScoreHandler {
	h := &ScoreHandler{
		scorer:       scorer,
		recorder:     recorder,
		maxBodyBytes: 10 << 20,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleScore 处理评分请求
// @Summary 评分
// @Description 为 query/document 对打分，分数顺序与请求一致
// @Tags 评分
// @Accept json
// @Produce json
// @Param request body api.ScoreRequest true "评分请求"
// @Success 200 {object} api.ScoreResponse "评分结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 502 {object} Response "推理失败"
// @Failure 503 {object} Response "服务繁忙或未就绪"
// @Security ApiKeyAuth
// @Router /api/v1/score [post]
func (h *ScoreHandler) HandleScore(w http.ResponseWriter, r *http.Request) {
	// 请求到达时刻即延迟起点
	arrival := time.Now()

	if !RequireMethod(w, r, http.MethodPost, h.logger) || !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ScoreRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}
	if err := h.validate(&req); err != nil {
		WriteRequestError(w, r, err, h.logger)
		return
	}
	received := time.Now()

	scores, latencyMs, err := h.scorer.Schedule(r.Context(), req.ToPairs(), arrival)
	if err != nil {
		WriteRequestError(w, r, ToAPIError(err), h.logger)
		return
	}

	sendStart := time.Now()
	WriteJSON(w, http.StatusOK, api.ScoreResponse{
		Scores:    scores,
		LatencyMs: latencyMs,
	})

	if h.recorder != nil {
		h.recorder.RecordStageTimings(map[string]float64{
			metrics.StageNetworkReceive: millis(received.Sub(arrival)),
			metrics.StageNetworkSend:    millis(time.Since(sendStart)),
		})
	}
}

func (h *ScoreHandler) validate(req *api.ScoreRequest) *types.Error {
	if req.Pairs == nil {
		return types.NewError(types.ErrInvalidRequest, "pairs is required")
	}
	if h.maxPairs > 0 && len(req.Pairs) > h.maxPairs {
		return types.NewError(types.ErrInvalidRequest,
			fmt.Sprintf("too many pairs: %d > %d", len(req.Pairs), h.maxPairs)).
			WithHTTPStatus(http.StatusRequestEntityTooLarge)
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
