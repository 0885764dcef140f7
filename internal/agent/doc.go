// Package agent 实现对话编排器：把一条自然语言消息依次推进到检索、推理、
// 工具调度与回复阶段，并把每一步记录到会话历史中。
package agent
