// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

// Package tlsutil 提供统一的 TLS 设置：评分服务的 HTTPS 监听，
// 以及远程评分后端的 HTTP 客户端（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
