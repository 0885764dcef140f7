package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/job"
)

// maxClaimAttempts 限制乐观锁冲突时的重试次数。
const maxClaimAttempts = 5

// Config 描述 Redis 任务存储的连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// JobStore 实现 job.Store。
type JobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

var _ job.Store = (*JobStore)(nil)

// NewJobStore 连接 Redis 并返回任务存储。
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return NewJobStoreWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewJobStoreWithClient 复用已有客户端。ttl 为 0 时任务不过期。
func NewJobStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *JobStore {
	if prefix == "" {
		prefix = "chainpilot"
	}
	return &JobStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *JobStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *JobStore) indexKey() string        { return s.prefix + ":jobs" }

// Create 实现 job.Store。
func (s *JobStore) Create(ctx context.Context, j *job.Job) error {
	if j == nil || j.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}
	now := s.now().UnixMilli()
	if j.CreatedAt == 0 {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	raw, err := json.Marshal(j)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化任务失败")
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(j.ID), raw, s.ttl).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	if !ok {
		return job.ErrJobConflict
	}
	if err := s.client.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(j.CreatedAt), Member: j.ID}).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务索引失败")
	}
	return nil
}

// Get 实现 job.Store。
func (s *JobStore) Get(ctx context.Context, id string) (*job.Job, error) {
	return s.load(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *JobStore) load(ctx context.Context, c getter, id string) (*job.Job, error) {
	raw, err := c.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}
	var j job.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("任务 %s 数据损坏", id))
	}
	return &j, nil
}

// update 在 WATCH 事务中读取、修改并写回任务。
func (s *JobStore) update(ctx context.Context, id string, mutate func(*job.Job) error) (*job.Job, error) {
	key := s.jobKey(id)
	var (
		out       *job.Job
		mutateErr error
	)
	txf := func(tx *redis.Tx) error {
		j, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if mutateErr = mutate(j); mutateErr != nil {
			out = j
			return nil
		}
		raw, err := json.Marshal(j)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, redis.KeepTTL)
			return nil
		})
		out = j
		return err
	}
	for range maxClaimAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, ok := xerrors.From(err); ok {
				return nil, err
			}
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
		}
		return out, mutateErr
	}
	return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("任务 %s 并发更新冲突", id))
}

// Claim 实现 job.Store。
func (s *JobStore) Claim(ctx context.Context, id string) (*job.Job, error) {
	return s.update(ctx, id, func(j *job.Job) error {
		return job.ClaimTransition(j, s.now().UnixMilli())
	})
}

// MarkSucceeded 实现 job.Store。
func (s *JobStore) MarkSucceeded(ctx context.Context, id string, result job.Result) error {
	_, err := s.update(ctx, id, func(j *job.Job) error {
		j.Status = job.StatusSucceeded
		j.Result = &result
		j.LastError = ""
		j.ErrorCode = ""
		j.UpdatedAt = s.now().UnixMilli()
		return nil
	})
	return err
}

// MarkFailed 实现 job.Store。
func (s *JobStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	_, err := s.update(ctx, id, func(j *job.Job) error {
		j.Status = job.StatusFailed
		j.LastError = lastError
		j.ErrorCode = string(code)
		if terminal && j.Attempts < j.MaxRetries {
			j.Attempts = j.MaxRetries
		}
		j.UpdatedAt = s.now().UnixMilli()
		return nil
	})
	return err
}

// List 按创建时间倒序扫描索引，顺带清理已过期任务的索引项。
func (s *JobStore) List(ctx context.Context, opts job.ListOptions) ([]*job.Job, error) {
	opts = opts.Normalize()
	const page = 100
	var (
		out   []*job.Job
		stale []any
	)
	for start := int64(0); len(out) < opts.Limit; start += page {
		ids, err := s.client.ZRevRange(ctx, s.indexKey(), start, start+page-1).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务索引失败")
		}
		if len(ids) == 0 {
			break
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = s.jobKey(id)
		}
		values, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取任务失败")
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				stale = append(stale, ids[i])
				continue
			}
			var j job.Job
			if err := json.Unmarshal([]byte(raw), &j); err != nil {
				continue
			}
			if opts.Matches(&j) && len(out) < opts.Limit {
				out = append(out, &j)
			}
		}
		if len(ids) < page {
			break
		}
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.indexKey(), stale...).Err()
	}
	job.SortNewestFirst(out)
	return out, nil
}

// Close 关闭 Redis 连接。
func (s *JobStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
