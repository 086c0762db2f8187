// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
包 pipeline 实现评分流水线调度器（PipelineScheduler）。

# 概述

Scheduler.Schedule 是网络层使用的唯一入口：它把请求包装为 WorkUnit，
交给 batch.Former 形成批次，批次依次经过分词 Worker 池与模型 Worker 池，
最终把分数按准入顺序拆回各自的 WorkUnit 并唤醒调用方。

# 数据流

	Schedule → WorkUnit → Former → 分发协程 → 分词池 → 模型池 → 结果拆分

  - 批次按 Former 输出顺序通过单个分发协程提交到分词池（SubmitAsync），
    之后每个批次在独立协程中完成分词与推理。
  - 关闭批处理时，每个 WorkUnit 自成一个 direct 批次，流水线与延迟统计不变。
  - 任一阶段失败（分词、后端、饱和、已停止）都会以 INFERENCE_FAILED
    写入该批次内的全部 WorkUnit，不存在部分成功。

# 指标

每个批次记录 queue_wait（到达至分发）、tokenize、inference 阶段耗时，
分发时采样两个池的队列深度；成功请求记录端到端延迟。
每个阶段创建一个 OTel span（pipeline.tokenize / pipeline.inference）。
*/
package pipeline
