package llm

import (
	"context"
	"encoding/json"

	xerrors "ChainPilot/internal/errors"
)

// Role 表示消息的发送方。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message 是发送给推理服务的一条历史消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCall 非空表示助手在这一轮请求调用工具。
	ToolCall *ToolCallRequest `json:"tool_call,omitempty"`
	// ToolCallID 关联工具结果与对应的调用请求。
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolSpec 以 JSON Schema 描述一个可调用的工具。
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// KnowledgeCard 表示提供给大模型的知识切片。
type KnowledgeCard struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Request 描述一次推理调用的完整输入。
type Request struct {
	System    string          `json:"system"`
	Messages  []Message       `json:"messages"`
	Tools     []ToolSpec      `json:"tools"`
	Knowledge []KnowledgeCard `json:"knowledge,omitempty"`
	// Ungrounded 表示检索失败，回答不应声称引用了文档。
	Ungrounded bool `json:"ungrounded,omitempty"`
}

// Result 是推理结果，只有 TextResult 与 ToolCallRequest 两种取值。
type Result interface {
	isResult()
}

// TextResult 是最终的文字回复。
type TextResult struct {
	Text string `json:"text"`
}

// ToolCallRequest 是一次结构化工具调用请求。
type ToolCallRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	RawArgs json.RawMessage `json:"arguments"`
}

func (TextResult) isResult()      {}
func (ToolCallRequest) isResult() {}

// Reasoner 定义推理能力的统一接口。
type Reasoner interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

const (
	// CodeReasoningUnavailable 表示推理服务暂时不可用（超时、限流、5xx）。
	CodeReasoningUnavailable xerrors.Code = "REASONING_UNAVAILABLE"
	// CodeReasoningFailure 表示推理服务返回了无法使用的结果。
	CodeReasoningFailure xerrors.Code = "REASONING_FAILURE"
)

func init() {
	xerrors.Register(CodeReasoningUnavailable, xerrors.Attributes{
		Message:   "reasoning service unavailable",
		Severity:  xerrors.SeverityWarning,
		Category:  xerrors.CategoryReasoning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeReasoningFailure, xerrors.Attributes{
		Message:  "reasoning service returned an unusable response",
		Severity: xerrors.SeverityWarning,
		Category: xerrors.CategoryReasoning,
	})
}

// Unavailable 包装可重试的推理错误。
func Unavailable(cause error, message string) error {
	return xerrors.Wrap(CodeReasoningUnavailable, cause, message)
}

// Failure 包装不可重试的推理错误。
func Failure(cause error, message string) error {
	if cause == nil {
		return xerrors.New(CodeReasoningFailure, message)
	}
	return xerrors.Wrap(CodeReasoningFailure, cause, message)
}
