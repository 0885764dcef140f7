package session

import "context"

// Recorder 接收会话的每一次变更，用于审计持久化。实现需要并发安全。
type Recorder interface {
	RecordTurn(ctx context.Context, sessionID string, turn Turn) error
	RecordInvocation(ctx context.Context, sessionID string, inv ToolInvocation) error
	RecordReset(ctx context.Context, sessionID string) error
}

type nopRecorder struct{}

func (nopRecorder) RecordTurn(context.Context, string, Turn) error                 { return nil }
func (nopRecorder) RecordInvocation(context.Context, string, ToolInvocation) error { return nil }
func (nopRecorder) RecordReset(context.Context, string) error                      { return nil }
