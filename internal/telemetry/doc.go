// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

// Package telemetry 负责 OpenTelemetry SDK 的初始化与关闭。
// 调度器与 HTTP 中间件只依赖全局 otel API；遥测禁用时全局 provider 保持 noop，
// 不会连接任何外部服务。
package telemetry
