// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 scoreflow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 batch、pipeline、backend、
api 等上层模块提供统一的类型契约。

# 核心类型

  - Pair              — 一个 query/document 输入对
  - TokenizedPair     — 分词阶段输出的单个输入对
  - TokenizedBatch    — 模型阶段的批量输入，保持准入顺序
  - ModelInfo         — 后端模型描述
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable 与阶段标记

# 错误分类

  - STARTUP_TIMEOUT   — Worker 池未能在时限内完成初始化
  - POOL_SATURATED    — 输入队列已满且超过入队超时，可重试
  - POOL_STOPPED      — 池关闭后提交
  - FORMER_CLOSED     — 批处理关闭后准入
  - INFERENCE_FAILED  — 批次级失败，批内所有请求一起失败
  - SHUTDOWN_TIMEOUT  — 关闭超时，仅记录日志

HasCode 会沿 Cause 链查找错误码，INFERENCE_FAILED 包裹的底层原因
（例如 POOL_SATURATED）因此仍可被调用方识别。
*/
package types
