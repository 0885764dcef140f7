package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/session"
)

const (
	insertTurnSQL = `INSERT INTO session_turns
    (session_id, reset_id, turn_index, role, kind, content, payload, invocation_seq, created_at)
    VALUES (?, 0, ?, ?, ?, ?, ?, ?, ?)`

	upsertInvocationSQL = `INSERT INTO tool_invocations
    (session_id, reset_id, seq, tool, args, status, summary, result, error_code, error_message, settlement, started_at, finished_at)
    VALUES (?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE status = VALUES(status), summary = VALUES(summary), result = VALUES(result),
    error_code = VALUES(error_code), error_message = VALUES(error_message),
    settlement = VALUES(settlement), finished_at = VALUES(finished_at)`

	insertResetSQL       = `INSERT INTO session_resets (session_id, reset_at) VALUES (?, ?)`
	archiveTurnsSQL      = `UPDATE session_turns SET reset_id = ? WHERE session_id = ? AND reset_id = 0`
	archiveInvocationSQL = `UPDATE tool_invocations SET reset_id = ? WHERE session_id = ? AND reset_id = 0`
)

// SessionRecorder 实现 session.Recorder。当前会话的记录 reset_id 为 0，
// 重置时整体归档到对应的 session_resets 记录下。
type SessionRecorder struct {
	db  *sql.DB
	now func() time.Time
}

var _ session.Recorder = (*SessionRecorder)(nil)

// NewSessionRecorder 建立连接并执行迁移。
func NewSessionRecorder(ctx context.Context, cfg Config) (*SessionRecorder, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化会话审计存储失败")
	}
	if !cfg.SkipMigrations {
		if err := migrate(ctx, db, embeddedMigrations()); err != nil {
			db.Close()
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "执行数据库迁移失败")
		}
	}
	return NewSessionRecorderWithDB(db), nil
}

// NewSessionRecorderWithDB 使用已有连接池。
func NewSessionRecorderWithDB(db *sql.DB) *SessionRecorder {
	return &SessionRecorder{db: db, now: time.Now}
}

// RecordTurn 写入一条 Turn。
func (r *SessionRecorder) RecordTurn(ctx context.Context, sessionID string, turn session.Turn) error {
	_, err := r.db.ExecContext(ctx, insertTurnSQL,
		sessionID, turn.Index, string(turn.Role), string(turn.Kind), turn.Content,
		nullJSON(turn.Payload), turn.InvocationSeq, turn.CreatedAt.UnixMilli())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入会话 %s 的 Turn %d 失败", sessionID, turn.Index))
	}
	return nil
}

// RecordInvocation 写入或更新一次工具调用。
func (r *SessionRecorder) RecordInvocation(ctx context.Context, sessionID string, inv session.ToolInvocation) error {
	args, err := json.Marshal(inv.Args)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化调用参数失败")
	}
	var settlement []byte
	if inv.Settlement != nil {
		if settlement, err = json.Marshal(inv.Settlement); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化结算记录失败")
		}
	}
	var code, message sql.NullString
	if inv.Error != nil {
		code = sql.NullString{String: inv.Error.Code, Valid: true}
		message = sql.NullString{String: inv.Error.Message, Valid: true}
	}
	var finished int64
	if !inv.FinishedAt.IsZero() {
		finished = inv.FinishedAt.UnixMilli()
	}

	_, err = r.db.ExecContext(ctx, upsertInvocationSQL,
		sessionID, inv.Seq, inv.Tool, string(args), string(inv.Status),
		sql.NullString{String: inv.Summary, Valid: inv.Summary != ""},
		nullJSON(inv.Result), code, message, nullJSON(settlement),
		inv.StartedAt.UnixMilli(), finished)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入会话 %s 的调用 #%d 失败", sessionID, inv.Seq))
	}
	return nil
}

// RecordReset 记录重置事件并归档当前会话的全部记录。
func (r *SessionRecorder) RecordReset(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	res, err := tx.ExecContext(ctx, insertResetSQL, sessionID, r.now().UnixMilli())
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入重置记录失败")
	}
	resetID, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取重置记录 ID 失败")
	}
	for _, stmt := range []string{archiveTurnsSQL, archiveInvocationSQL} {
		if _, err := tx.ExecContext(ctx, stmt, resetID, sessionID); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "归档会话记录失败")
		}
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Close 关闭连接池。
func (r *SessionRecorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
