// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
包 batch 实现动态批次形成（BatchFormer）。

# 概述

Former 将准入的 WorkUnit 的 pair 追加到正在形成的批次中，按
“数量达到上限”或“等待超时”两个条件之一关闭批次，并按 FIFO 顺序
输出到 Batches() 通道。

# 关闭规则

  - 每追加一个 pair 后先检查数量：达到 MaxBatchSize 以 size-reached 关闭（优先）。
  - 否则检查自 formation-start 起的耗时：达到 Timeout 以 timeout-reached 关闭。
  - 每个形成中的批次持有一个 time.AfterFunc 定时器，无后续准入时也会按时关闭。
  - 剩余容量不足以容纳整个 unit 时，unit 被拆分到同一桶的连续批次中。

# 长度分桶

开启 LengthAware 后，每个 pair 通过纯函数 Bucket 分配到静态长度桶，
每个桶拥有独立的形成批次、锁与定时器；超过最大边界的 pair 落入最后一个桶。
桶之间没有全局公平策略与顺序保证。
*/
package batch
