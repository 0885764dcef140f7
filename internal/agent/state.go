package agent

import (
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
)

// State 表示编排器在处理一条消息时所处的阶段。
type State string

const (
	StateAwaitingInput      State = "awaiting_input"
	StateGrounding          State = "grounding"
	StateReasoning          State = "reasoning"
	StateToolDispatch       State = "tool_dispatch"
	StateAwaitingToolResult State = "awaiting_tool_result"
	StateResponding         State = "responding"
)

// Classification 区分纯问答与需要调用工具的消息。
type Classification string

const (
	Informational Classification = "informational"
	ToolAssisted  Classification = "tool_assisted"
)

// Reply 是一次 Handle 的结果。
type Reply struct {
	SessionID      string                   `json:"session_id"`
	Text           string                   `json:"reply"`
	Classification Classification           `json:"classification"`
	States         []State                  `json:"states"`
	Invocations    []session.ToolInvocation `json:"invocations,omitempty"`
	Ungrounded     bool                     `json:"ungrounded,omitempty"`
	// Code 记录导致非正常回复的错误码，例如澄清、预算耗尽或推理失败。
	Code string `json:"code,omitempty"`
}

// CodeBudgetExceeded 表示单条消息的工具调用次数已达上限。
const CodeBudgetExceeded xerrors.Code = "BUDGET_EXCEEDED"

func init() {
	xerrors.Register(CodeBudgetExceeded, xerrors.Attributes{
		Message:  "tool call budget exhausted",
		Severity: xerrors.SeverityInfo,
		Category: xerrors.CategoryBudget,
	})
}
