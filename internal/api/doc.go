// Package api 暴露 ChainPilot 的 HTTP 接口：同步对话、会话管理、异步任务、
// 工具列表以及 /metrics 与 /healthz。
package api
