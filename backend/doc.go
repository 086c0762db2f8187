// Package backend 定义模型后端接口及两个参考实现：
// 进程内的 OverlapBackend（基于 token 重叠的确定性打分器）与
// 通过 HTTP 调用远端评分服务的 RemoteBackend。
package backend
