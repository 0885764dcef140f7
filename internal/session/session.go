package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Session 保存单个会话的历史、工具调用与别名表。
//
// 同一会话的编排循环由 Manager 串行化；Session 自身的锁只保护数据，
// 允许后台结算与快照读取并发进行。
type Session struct {
	id       string
	recorder Recorder
	now      func() time.Time

	mu          sync.Mutex
	turns       []Turn
	invocations []ToolInvocation
	aliases     map[string]common.Address
}

func newSession(id string, recorder Recorder, now func() time.Time, aliases map[string]common.Address) *Session {
	s := &Session{
		id:       id,
		recorder: recorder,
		now:      now,
		aliases:  make(map[string]common.Address, len(aliases)),
	}
	for alias, addr := range aliases {
		s.aliases[normalizeAlias(alias)] = addr
	}
	return s
}

// ID 返回会话标识。
func (s *Session) ID() string { return s.id }

// Append 追加一条 Turn，返回带有序号与时间的副本。引用调用记录的 Turn
// 只能在调用进入终态之后追加。
func (s *Session) Append(ctx context.Context, turn Turn) (Turn, error) {
	s.mu.Lock()
	if turn.InvocationSeq != 0 {
		inv, err := s.invocationLocked(turn.InvocationSeq)
		if err != nil {
			s.mu.Unlock()
			return Turn{}, err
		}
		if !inv.Status.Terminal() {
			s.mu.Unlock()
			return Turn{}, xerrors.New(xerrors.CodeInvariantViolation,
				fmt.Sprintf("工具调用 #%d 尚未结束，不能追加结果", turn.InvocationSeq))
		}
	}
	turn.Index = len(s.turns)
	turn.CreatedAt = s.now()
	stored := turn.clone()
	s.turns = append(s.turns, stored)
	s.mu.Unlock()

	s.record(ctx, func(ctx context.Context) error { return s.recorder.RecordTurn(ctx, s.id, stored.clone()) })
	return turn, nil
}

// AppendJSON 追加一条带结构化载荷的 Turn。
func (s *Session) AppendJSON(ctx context.Context, turn Turn, payload any) (Turn, error) {
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Turn{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化 Turn 载荷失败")
		}
		turn.Payload = raw
	}
	return s.Append(ctx, turn)
}

// BeginInvocation 分配下一个调用序号并记录为 pending。
func (s *Session) BeginInvocation(ctx context.Context, tool string, args map[string]string) (ToolInvocation, error) {
	s.mu.Lock()
	seq := len(s.invocations) + 1
	if n := len(s.invocations); n > 0 && s.invocations[n-1].Seq != n {
		s.mu.Unlock()
		return ToolInvocation{}, xerrors.New(xerrors.CodeInvariantViolation,
			fmt.Sprintf("调用序号不连续：第 %d 条记录的序号为 %d", n, s.invocations[n-1].Seq))
	}
	inv := ToolInvocation{
		Seq:       seq,
		Tool:      tool,
		Args:      args,
		Status:    StatusPending,
		StartedAt: s.now(),
	}
	inv = inv.clone()
	s.invocations = append(s.invocations, inv)
	s.mu.Unlock()

	s.recordInvocation(ctx, inv)
	return inv.clone(), nil
}

// Complete 将 pending 调用标记为成功。
func (s *Session) Complete(ctx context.Context, seq int, summary string, result json.RawMessage) (ToolInvocation, error) {
	return s.finish(ctx, seq, func(inv *ToolInvocation) {
		inv.Status = StatusSucceeded
		inv.Summary = summary
		inv.Result = result
	})
}

// Fail 将 pending 调用标记为失败。
func (s *Session) Fail(ctx context.Context, seq int, code xerrors.Code, message string) (ToolInvocation, error) {
	return s.finish(ctx, seq, func(inv *ToolInvocation) {
		inv.Status = StatusFailed
		inv.Error = &ErrorDescriptor{Code: string(code), Message: message}
	})
}

func (s *Session) finish(ctx context.Context, seq int, apply func(*ToolInvocation)) (ToolInvocation, error) {
	s.mu.Lock()
	inv, err := s.invocationLocked(seq)
	if err != nil {
		s.mu.Unlock()
		return ToolInvocation{}, err
	}
	if inv.Status != StatusPending {
		s.mu.Unlock()
		return ToolInvocation{}, xerrors.New(xerrors.CodeInvariantViolation,
			fmt.Sprintf("工具调用 #%d 已处于 %s 状态", seq, inv.Status))
	}
	apply(inv)
	inv.FinishedAt = s.now()
	out := inv.clone()
	s.mu.Unlock()

	s.recordInvocation(ctx, out)
	return out.clone(), nil
}

// Settle 记录已结束调用的后台最终结果，并追加一条 settlement Turn。
func (s *Session) Settle(ctx context.Context, seq int, settlement Settlement, content string) (ToolInvocation, error) {
	s.mu.Lock()
	inv, err := s.invocationLocked(seq)
	if err != nil {
		s.mu.Unlock()
		return ToolInvocation{}, err
	}
	if !inv.Status.Terminal() {
		s.mu.Unlock()
		return ToolInvocation{}, xerrors.New(xerrors.CodeInvariantViolation,
			fmt.Sprintf("工具调用 #%d 尚未结束，不能结算", seq))
	}
	if inv.Settlement != nil {
		s.mu.Unlock()
		return ToolInvocation{}, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具调用 #%d 已结算", seq))
	}
	settlement.At = s.now()
	inv.Settlement = &settlement
	out := inv.clone()
	s.mu.Unlock()

	s.recordInvocation(ctx, out)
	if _, err := s.AppendJSON(ctx, Turn{
		Role:          RoleToolResult,
		Kind:          KindSettlement,
		Content:       content,
		InvocationSeq: seq,
	}, settlement); err != nil {
		return out, err
	}
	return out.clone(), nil
}

func (s *Session) invocationLocked(seq int) (*ToolInvocation, error) {
	if seq < 1 || seq > len(s.invocations) {
		return nil, xerrors.New(xerrors.CodeInvariantViolation, fmt.Sprintf("工具调用 #%d 不存在", seq))
	}
	inv := &s.invocations[seq-1]
	if inv.Seq != seq {
		return nil, xerrors.New(xerrors.CodeInvariantViolation,
			fmt.Sprintf("调用序号错位：位置 %d 的序号为 %d", seq, inv.Seq))
	}
	return inv, nil
}

// Bind 将别名绑定到地址。别名不区分大小写；已绑定到其他地址时返回冲突。
func (s *Session) Bind(alias string, addr common.Address) error {
	key := normalizeAlias(alias)
	if key == "" || strings.HasPrefix(key, "0x") {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%q 不能作为别名", alias))
	}
	if addr == (common.Address{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "别名不能绑定到零地址")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.aliases[key]; ok && existing != addr {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("%s is already bound to %s", key, existing.Hex()),
			xerrors.WithMetadata("alias", key))
	}
	s.aliases[key] = addr
	return nil
}

// Resolve 查询别名对应的地址。
func (s *Session) Resolve(alias string) (common.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.aliases[normalizeAlias(alias)]
	return addr, ok
}

// AliasesOf 返回绑定到 addr 的全部别名，按字母排序。
func (s *Session) AliasesOf(addr common.Address) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for alias, bound := range s.aliases {
		if bound == addr {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Turns 返回历史记录副本。
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.clone()
	}
	return out
}

// Invocations 返回调用记录副本。
func (s *Session) Invocations() []ToolInvocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolInvocation, len(s.invocations))
	for i, inv := range s.invocations {
		out[i] = inv.clone()
	}
	return out
}

// Invocation 返回指定序号的调用记录。
func (s *Session) Invocation(seq int) (ToolInvocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, err := s.invocationLocked(seq)
	if err != nil {
		return ToolInvocation{}, false
	}
	return inv.clone(), true
}

// Transcript 返回完整快照。
func (s *Session) Transcript() Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Transcript{
		ID:          s.id,
		Turns:       make([]Turn, len(s.turns)),
		Invocations: make([]ToolInvocation, len(s.invocations)),
		Aliases:     make(map[string]string, len(s.aliases)),
	}
	for i, turn := range s.turns {
		t.Turns[i] = turn.clone()
	}
	for i, inv := range s.invocations {
		t.Invocations[i] = inv.clone()
	}
	for alias, addr := range s.aliases {
		t.Aliases[alias] = addr.Hex()
	}
	return t
}

func (s *Session) recordInvocation(ctx context.Context, inv ToolInvocation) {
	s.record(ctx, func(ctx context.Context) error { return s.recorder.RecordInvocation(ctx, s.id, inv.clone()) })
	if inv.Status.Terminal() {
		attrs := []any{
			slog.String("session_id", s.id),
			slog.Int("seq", inv.Seq),
			slog.String("tool", inv.Tool),
			slog.String("status", string(inv.Status)),
		}
		if inv.Error != nil {
			attrs = append(attrs, slog.String("error_code", inv.Error.Code))
		}
		if inv.Settlement != nil {
			attrs = append(attrs, slog.String("settlement", string(inv.Settlement.Status)))
		}
		logger.Audit().Info("tool invocation", attrs...)
	}
}

// record 在会话锁之外调用审计接口；失败只记录日志，不影响会话状态。
func (s *Session) record(ctx context.Context, fn func(context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	if err := fn(ctx); err != nil {
		logger.Named("session").Warn("写入会话审计记录失败",
			slog.String("session_id", s.id), slog.Any("error", err))
	}
}

func normalizeAlias(alias string) string {
	return strings.ToLower(strings.TrimSpace(alias))
}
