package session

import (
	"bytes"
	"encoding/json"
	"maps"
	"time"
)

// Role 表示 Turn 的发言方。
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// Kind 区分 Turn 对应的编排阶段。
type Kind string

const (
	KindUtterance  Kind = "utterance"
	KindGrounding  Kind = "grounding"
	KindToolCall   Kind = "tool_call"
	KindDispatch   Kind = "dispatch"
	KindToolResult Kind = "tool_result"
	KindSettlement Kind = "settlement"
	KindReply      Kind = "reply"
	// KindTurnEnd 标记一条消息处理结束，会话回到等待输入。
	KindTurnEnd    Kind = "turn_end"
)

// Turn 是会话历史中的一条不可变记录。
type Turn struct {
	Index         int             `json:"index"`
	Role          Role            `json:"role"`
	Kind          Kind            `json:"kind"`
	Content       string          `json:"content"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	InvocationSeq int             `json:"invocation_seq,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Status 表示工具调用的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrorDescriptor 记录失败调用的错误码与描述。
type ErrorDescriptor struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Settlement 记录调用被取消后，后台操作最终的真实结果。
type Settlement struct {
	Status  Status           `json:"status"`
	Summary string           `json:"summary,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *ErrorDescriptor `json:"error,omitempty"`
	At      time.Time        `json:"at"`
}

// ToolInvocation 是一次经过校验的工具调用。
type ToolInvocation struct {
	Seq        int               `json:"seq"`
	Tool       string            `json:"tool"`
	Args       map[string]string `json:"args"`
	Status     Status            `json:"status"`
	Summary    string            `json:"summary,omitempty"`
	Result     json.RawMessage   `json:"result,omitempty"`
	Error      *ErrorDescriptor  `json:"error,omitempty"`
	Settlement *Settlement       `json:"settlement,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at,omitempty"`
}

// Transcript 是会话的深拷贝快照。
type Transcript struct {
	ID          string            `json:"id"`
	Turns       []Turn            `json:"turns"`
	Invocations []ToolInvocation  `json:"invocations"`
	Aliases     map[string]string `json:"aliases"`
}

func (t Turn) clone() Turn {
	t.Payload = bytes.Clone(t.Payload)
	return t
}

func (inv ToolInvocation) clone() ToolInvocation {
	inv.Args = maps.Clone(inv.Args)
	inv.Result = bytes.Clone(inv.Result)
	if inv.Error != nil {
		e := *inv.Error
		inv.Error = &e
	}
	if inv.Settlement != nil {
		s := *inv.Settlement
		s.Result = bytes.Clone(s.Result)
		if s.Error != nil {
			e := *s.Error
			s.Error = &e
		}
		inv.Settlement = &s
	}
	return inv
}
