package job

import (
	"context"

	xerrors "ChainPilot/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim 将 pending 或可重试的失败任务切换为 running 并增加尝试次数。
	Claim(ctx context.Context, id string) (*Job, error)
	MarkSucceeded(ctx context.Context, id string, result Result) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Job, error)
	Close() error
}

// ListOptions 控制列表查询。
type ListOptions struct {
	Limit     int
	SessionID string
	Statuses  []Status
}

// Normalize 填充默认值并过滤非法状态。
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	var statuses []Status
	seen := make(map[Status]struct{}, len(o.Statuses))
	for _, s := range o.Statuses {
		if _, dup := seen[s]; dup || !IsValidStatus(s) {
			continue
		}
		seen[s] = struct{}{}
		statuses = append(statuses, s)
	}
	o.Statuses = statuses
	return o
}

// Matches 判断任务是否满足过滤条件。
func (o ListOptions) Matches(j *Job) bool {
	if o.SessionID != "" && j.SessionID != o.SessionID {
		return false
	}
	if len(o.Statuses) == 0 {
		return true
	}
	for _, s := range o.Statuses {
		if j.Status == s {
			return true
		}
	}
	return false
}

// ClaimTransition 对任务执行领取逻辑，供各存储实现共用。
func ClaimTransition(j *Job, now int64) error {
	switch j.Status {
	case StatusSucceeded:
		return ErrJobCompleted
	case StatusRunning:
		return ErrJobConflict
	}
	if j.Attempts >= j.MaxRetries {
		return ErrJobExhausted
	}
	j.Status = StatusRunning
	j.Attempts++
	j.LastError = ""
	j.ErrorCode = ""
	j.UpdatedAt = now
	return nil
}
