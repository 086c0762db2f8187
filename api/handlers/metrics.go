package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/metrics"
	"github.com/BaSui01/scoreflow/pipeline"
)

// =============================================================================
// 📊 指标与状态 Handler
// =============================================================================

// SummaryProvider 提供指标汇总，*metrics.Collector 实现了它
type SummaryProvider interface {
	Summary() metrics.Summary
	Reset()
}

// StatsProvider 提供调度器快照，*pipeline.Scheduler 实现了它
type StatsProvider interface {
	Stats() pipeline.Stats
}

// MetricsHandler 指标接口处理器
type MetricsHandler struct {
	summary SummaryProvider
	stats   StatsProvider
	logger  *zap.Logger
}

// NewMetricsHandler 创建指标处理器，stats 可为 nil
func NewMetricsHandler(summary SummaryProvider, stats StatsProvider, logger *zap.Logger) *MetricsHandler {
	return &MetricsHandler{summary: summary, stats: stats, logger: logger}
}

// HandleSummary 返回延迟、阶段耗时与吞吐汇总
// @Summary 指标汇总
// @Tags 指标
// @Produce json
// @Success 200 {object} metrics.Summary
// @Router /api/v1/metrics/summary [get]
func (h *MetricsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	WriteJSON(w, http.StatusOK, h.summary.Summary())
}

// HandleReset 清空汇总窗口，Prometheus 计数器不受影响
// @Summary 重置指标
// @Tags 指标
// @Produce json
// @Success 200 {object} Response
// @Router /api/v1/metrics/reset [post]
func (h *MetricsHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost, h.logger) {
		return
	}
	h.summary.Reset()
	h.logger.Info("metrics summary reset")
	WriteSuccess(w, map[string]string{"status": "reset"})
}

// HandleStats 返回调度器与 Worker 池快照
// @Summary 调度器状态
// @Tags 指标
// @Produce json
// @Success 200 {object} pipeline.Stats
// @Router /api/v1/stats [get]
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, h.logger) {
		return
	}
	if h.stats == nil {
		WriteErrorMessage(w, http.StatusNotFound, "NOT_FOUND", "stats not available", h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, h.stats.Stats())
}
