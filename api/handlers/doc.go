// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 ScoreFlow HTTP API 的请求处理器实现。

# 概述

handlers 包是评分流水线外层的薄服务层：解码请求、调用调度器、
编码响应，并把网络收发耗时（network_receive / network_send）
回写到指标收集器。所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ScoreHandler    — POST /api/v1/score，到达时刻在入口处记录
  - MetricsHandler  — 指标汇总、重置与调度器快照
  - HealthHandler   — /health, /healthz, /ready, /version, /api/v1/model
  - Response        — 统一 JSON 响应结构（success + data + error + timestamp）
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码与字节数

# 错误映射

INVALID_REQUEST → 400；POOL_SATURATED、POOL_STOPPED、FORMER_CLOSED、
STARTUP_TIMEOUT → 503（可重试时附带 Retry-After）；INFERENCE_FAILED → 502。
*/
package handlers
