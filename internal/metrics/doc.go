// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供评分流水线的指标采集（MetricsCollector）。

# 概述

Collector 在进程启动时创建一次，通过构造函数注入到 Worker 池与调度器，
不存在包级全局实例。它维护有界滚动窗口，按需计算精确的
nearest-rank 百分位，并把同一批事件镜像到 Prometheus 与 OpenTelemetry。

# 核心类型

  - Collector：事件汇聚点，记录阶段耗时、请求、Worker、批次与队列深度。
  - Summary：{count, avg_ms, p50_ms, p95_ms, p99_ms, throughput_qps, query_count}
    以及分阶段、分 Worker、批次统计。

# 语义

  - count 与 query_count 为自上次 Reset 以来的累计值，单调不减。
  - 百分位与 throughput_qps 只基于保留窗口；throughput_qps 为窗口内
    查询总数除以窗口最早与最新样本的时间跨度。
  - 记录操作从不向调用方返回错误；panic 会被恢复并记录日志。
  - Prometheus 镜像为累计指标，Reset 不影响。
*/
package metrics
