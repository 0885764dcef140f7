package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Option 配置 Manager。
type Option func(*Manager)

// WithRecorder 设置审计记录器。
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithDefaultAliases 设置新会话默认注入的别名。
func WithDefaultAliases(aliases map[string]common.Address) Option {
	return func(m *Manager) {
		m.defaults = make(map[string]common.Address, len(aliases))
		for alias, addr := range aliases {
			m.defaults[normalizeAlias(alias)] = addr
		}
	}
}

// WithClock 替换时间源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

type entry struct {
	session *Session
	// lock 容量为 1，用 channel 实现可被 context 取消的互斥。
	lock chan struct{}
}

// Manager 管理进程内的全部会话。
type Manager struct {
	recorder Recorder
	defaults map[string]common.Address
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager 创建 Manager。
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		recorder: nopRecorder{},
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Acquire 获取会话的独占权，不存在时隐式创建。release 必须被调用且只调用一次。
func (m *Manager) Acquire(ctx context.Context, id string) (*Session, func(), error) {
	if id == "" {
		return nil, nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	for {
		e := m.entry(id)
		select {
		case e.lock <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "等待会话锁时请求被取消")
		}
		// 等待期间会话可能已被重置，此时重新获取新的会话。
		m.mu.Lock()
		current := m.sessions[id]
		m.mu.Unlock()
		if current != e {
			<-e.lock
			continue
		}
		var once sync.Once
		release := func() { once.Do(func() { <-e.lock }) }
		return e.session, release, nil
	}
}

func (m *Manager) entry(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		e = &entry{
			session: newSession(id, m.recorder, m.now, m.defaults),
			lock:    make(chan struct{}, 1),
		}
		m.sessions[id] = e
		logger.Named("session").Debug("创建会话", slog.String("session_id", id))
	}
	return e
}

// Get 返回已存在的会话，不会创建新会话。
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Reset 等待进行中的请求结束后销毁会话。会话不存在时返回 NOT_FOUND。
func (m *Manager) Reset(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "会话不存在", xerrors.WithMetadata("session_id", id))
	}
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeCancelled, ctx.Err(), "等待会话锁时请求被取消")
	}
	m.mu.Lock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	<-e.lock

	if err := m.recorder.RecordReset(context.WithoutCancel(ctx), id); err != nil {
		logger.Named("session").Warn("写入会话重置记录失败", slog.String("session_id", id), slog.Any("error", err))
	}
	logger.Audit().Info("session reset", slog.String("session_id", id))
	return nil
}

// Snapshot 返回会话快照。
func (m *Manager) Snapshot(id string) (Transcript, bool) {
	s, ok := m.Get(id)
	if !ok {
		return Transcript{}, false
	}
	return s.Transcript(), true
}

// IDs 返回当前全部会话 ID。
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
