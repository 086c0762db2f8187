// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
包 pool 提供流水线阶段共用的固定大小 Worker 池。

# 概述

分词阶段（CPU 密集）与模型阶段（可能为 GPU 密集）共享同一套生命周期
与背压语义，二者只在 Worker.Process 的实现与 MemoryMB 的显存上报上不同。

# 核心类型

  - Worker[In, Out]：阶段 Worker 能力集合 {Initialize, Process, MemoryMB}。
  - Pool[In, Out]：固定数量 Worker + 有界输入队列。
  - Future[Out]：SubmitAsync 返回的待定结果。
  - SlicePool[T]：批次间复用的临时切片池。

# 生命周期

	uninitialized → initializing → ready → (busy ⇄ ready)* → stopped

  - Start：并发初始化全部 Worker，超时返回 STARTUP_TIMEOUT 并停止已启动的 Worker。
  - Submit / SubmitAsync：队列满且超过 EnqueueTimeout 返回 POOL_SATURATED；
    关闭后提交返回 POOL_STOPPED。
  - Stop：排空队列后退出；超时则取消 Worker 上下文，返回 SHUTDOWN_TIMEOUT（非致命）。
*/
package pool
