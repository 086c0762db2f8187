// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 ScoreFlow 评分服务的可执行入口。

# 概述

cmd/scoreflow 装配配置、日志、遥测、指标收集器与评分调度器，
在两个端口上分别提供评分 API 与 Prometheus 指标。

# 子命令

  - serve   — 启动服务，--config 指定 YAML 配置文件
  - health  — 探测 /health 或 /ready
  - version — 输出构建信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

# 中间件链

Recovery → RequestID → SecurityHeaders → OTelTracing → MetricsMiddleware →
RequestLogger → CORS → APIKeyAuth → JWTAuth → RateLimiter。
认证与限流仅在配置时启用。

# 关闭顺序

收到 SIGINT/SIGTERM 后：停止配置重载 → HTTP 排空 → 调度器停止（冲刷正在形成的批次）
→ 指标端口 → 遥测 flush。
*/
package main
