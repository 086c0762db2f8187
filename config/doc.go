// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

// Package config 提供 ScoreFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → SCOREFLOW_* 环境变量 的顺序叠加，
// 并可通过 ToPipelineConfig 转换为调度器配置。
// Watcher 轮询配置文件，在运行时应用日志级别变更。
package config
