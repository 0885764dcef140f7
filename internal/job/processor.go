package job

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/pkg/logger"
)

// Executor 是处理器依赖的编排能力，*agent.Agent 实现了该接口。
type Executor interface {
	Handle(ctx context.Context, sessionID, utterance string) (agent.Reply, error)
}

// Processor 从队列消费任务并交给编排器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	timeout     time.Duration
	log         *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithJobTimeout 限制单个任务的执行时间，0 表示不限制。
func WithJobTimeout(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		log:         logger.Named("job"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	p.log.Info("任务处理器启动", slog.Int("workers", p.workerCount))
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.log.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.log.Error("领取任务失败", slog.String("job_id", jobID), slog.Any("error", err))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	runCtx := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	reply, execErr := p.executor.Handle(runCtx, job.SessionID, job.Utterance)
	if execErr != nil {
		return p.handleFailure(ctx, job, execErr)
	}

	result := resultOf(reply)
	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		p.log.Error("标记任务成功状态失败", slog.String("job_id", job.ID), slog.Any("error", err))
		metrics.ObserveJob(string(StatusFailed))
		return err
	}
	metrics.ObserveJob(string(StatusSucceeded))
	logger.Audit().Info("任务执行成功",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.String("classification", result.Classification),
		slog.Int("invocations", result.Invocations),
		slog.String("code", result.Code),
	)
	return nil
}

// handleFailure 写回失败状态，可重试且未到上限的任务重新入队。
func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr) && ctx.Err() == nil
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, job.ID, code, xerrors.MessageOf(execErr), terminal); err != nil {
		p.log.Error("回写失败状态出错", slog.String("job_id", job.ID), slog.Any("error", err))
		return err
	}
	metrics.ObserveJob(string(StatusFailed))
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("session_id", job.SessionID),
		slog.Bool("terminal", terminal),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
		slog.Any("error", execErr),
	)

	stage := "retry"
	switch {
	case terminal && retryable:
		stage = "exhausted"
		code = CodeJobExhausted
	case !retryable:
		stage = "non_retryable"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if !terminal {
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.log.Debug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil || !xerrors.AttributesOf(code).Alert {
		return
	}
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:      code,
		Message:   attrs.Message,
		Severity:  attrs.Severity,
		SessionID: job.SessionID,
		JobID:     job.ID,
		Attempts:  job.Attempts,
		Metadata: map[string]string{
			"stage":       stage,
			"max_retries": strconv.Itoa(job.MaxRetries),
		},
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Message = xerrors.MessageOf(cause)
		event.Metadata["cause"] = string(xerrors.CodeOf(cause))
	}
	if err := p.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		p.log.Error("告警通知失败", slog.String("job_id", job.ID), slog.String("stage", stage), slog.Any("error", err))
	}
}

func resultOf(reply agent.Reply) Result {
	states := make([]string, 0, len(reply.States))
	for _, s := range reply.States {
		states = append(states, string(s))
	}
	return Result{
		Reply:          reply.Text,
		Classification: string(reply.Classification),
		States:         states,
		Code:           reply.Code,
		Invocations:    len(reply.Invocations),
	}
}
