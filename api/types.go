package api

import "github.com/BaSui01/scoreflow/types"

// =============================================================================
// 评分接口类型
// =============================================================================

// ScoreRequest 评分请求。
// @Description 评分请求结构
type ScoreRequest struct {
	// 待评分的 query/document 对，按顺序返回分数
	Pairs []PairInput `json:"pairs"`
}

// PairInput 单个 query/document 对。
type PairInput struct {
	Query    string `json:"query" example:"what is dynamic batching"`
	Document string `json:"document" example:"Dynamic batching groups concurrent requests."`
}

// ScoreResponse 评分响应。
// @Description 评分响应结构
type ScoreResponse struct {
	// 与请求中 pairs 一一对应的分数
	Scores []float64 `json:"scores"`
	// 从请求到达到结果就绪的毫秒数
	LatencyMs float64 `json:"latency_ms" example:"12.5"`
}

// ToPairs 转换为调度器输入
func (r *ScoreRequest) ToPairs() []types.Pair {
	pairs := make([]types.Pair, len(r.Pairs))
	for i, p := range r.Pairs {
		pairs[i] = types.Pair{Query: p.Query, Document: p.Document}
	}
	return pairs
}

// =============================================================================
// 服务信息
// =============================================================================

// ModelResponse 描述当前加载的模型。
type ModelResponse struct {
	Model           types.ModelInfo `json:"model"`
	BatchingEnabled bool            `json:"batching_enabled"`
	MaxBatchSize    int             `json:"max_batch_size"`
	BatchTimeoutMs  int             `json:"batch_timeout_ms"`
	LengthAware     bool            `json:"length_aware_batching"`
}
