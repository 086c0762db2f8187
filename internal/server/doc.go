// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package server 管理 ScoreFlow 的 HTTP 监听生命周期。

评分 API 与 Prometheus 指标各占一个 Manager：Start 非阻塞地绑定端口并在后台
提供服务，ListenAddr 返回实际绑定地址（端口为 0 时有用），Shutdown 在超时内
排空在途请求，Errors 上报监听异常退出。配置了 TLSConfig 时以 HTTPS 提供服务。
*/
package server
