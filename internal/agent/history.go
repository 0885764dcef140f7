package agent

import (
	"ChainPilot/internal/llm"
	"ChainPilot/internal/session"
)

const defaultHistoryMessages = 20

// history 将此前的会话记录转换为推理消息，只保留用户消息、回复与结算通知。
// 早先消息中的工具往返已体现在回复里，不再重复发送。
func history(turns []session.Turn, limit int) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case session.KindUtterance:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case session.KindReply, session.KindSettlement:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}
