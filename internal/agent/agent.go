package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
	"ChainPilot/internal/tools"
	"ChainPilot/internal/web3"
	"ChainPilot/internal/web3/pricefeed"
	"ChainPilot/internal/websearch"
	"ChainPilot/pkg/logger"
)

// Retriever 为推理提供文档上下文。
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]knowledge.Passage, error)
}

// DocumentReader 按 id 读取完整文档。配置的 Retriever 同时实现它时 get_document 可用。
type DocumentReader interface {
	Document(id string) (knowledge.Document, error)
}

// WebSearcher 执行网页搜索。
type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]websearch.Result, error)
}

// PriceSource 提供代币的美元价格。
type PriceSource interface {
	Price(ctx context.Context, tok web3.Token) (pricefeed.Quote, error)
}

const (
	defaultTurnBudget      = 5
	defaultTopK            = 3
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultDetachedTimeout = 2 * time.Minute
)

// Agent 协调检索、推理与链上工具，是系统的业务核心。
type Agent struct {
	reasoner  llm.Reasoner
	tools     *tools.Registry
	chain     web3.Adapter
	sessions  *session.Manager
	retriever Retriever
	prices    PriceSource
	search    WebSearcher
	alerts    alerting.Dispatcher
	tracker   *Tracker

	budget          int
	topK            int
	retryBackoff    time.Duration
	detachedTimeout time.Duration
	systemPrompt    string
	historyLimit    int
	log             *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithRetriever 配置知识检索，k 为每次检索的文档数量。
func WithRetriever(r Retriever, k int) Option {
	return func(a *Agent) {
		a.retriever = r
		if k > 0 {
			a.topK = k
		}
	}
}

// WithPriceSource 配置 get_token_price 使用的行情来源。
func WithPriceSource(p PriceSource) Option {
	return func(a *Agent) { a.prices = p }
}

// WithWebSearch 配置 search_web 使用的搜索服务。
func WithWebSearch(s WebSearcher) Option {
	return func(a *Agent) { a.search = s }
}

// WithAlerts 配置告警分发。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(a *Agent) { a.alerts = d }
}

// WithTurnBudget 设置单条消息允许的工具往返次数。
func WithTurnBudget(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.budget = n
		}
	}
}

// WithRetryBackoff 设置重试前的等待时间。
func WithRetryBackoff(d time.Duration) Option {
	return func(a *Agent) {
		if d >= 0 {
			a.retryBackoff = d
		}
	}
}

// WithDetachedTimeout 设置转账、兑换等后台操作的最长执行时间。
func WithDetachedTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.detachedTimeout = d
		}
	}
}

// WithSystemPrompt 覆盖默认的系统提示词。
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) { a.systemPrompt = prompt }
}

// WithHistoryLimit 设置随请求发送的历史消息条数上限。
func WithHistoryLimit(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.historyLimit = n
		}
	}
}

// New 创建一个 Agent。registry 与 sessions 为 nil 时使用默认实现。
func New(reasoner llm.Reasoner, registry *tools.Registry, chain web3.Adapter, sessions *session.Manager, opts ...Option) *Agent {
	if registry == nil {
		registry = tools.NewDefaultRegistry(nil, tools.DefaultSlippageBps)
	}
	if sessions == nil {
		sessions = session.NewManager()
	}
	a := &Agent{
		reasoner:        reasoner,
		tools:           registry,
		chain:           chain,
		sessions:        sessions,
		tracker:         &Tracker{},
		budget:          defaultTurnBudget,
		topK:            defaultTopK,
		retryBackoff:    defaultRetryBackoff,
		detachedTimeout: defaultDetachedTimeout,
		systemPrompt:    llm.DefaultSystemPrompt,
		historyLimit:    defaultHistoryMessages,
		log:             logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Handle 处理一条用户消息并返回回复。同一会话的消息串行处理。
func (a *Agent) Handle(ctx context.Context, sessionID, utterance string) (Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Reply{}, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	if a.reasoner == nil {
		return Reply{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置推理服务")
	}

	sess, release, err := a.sessions.Acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	started := time.Now()
	r := newRun(a, sess)
	reply, err := r.execute(ctx, utterance)

	outcome := "ok"
	switch {
	case err != nil:
		outcome = strings.ToLower(string(xerrors.CodeOf(err)))
	case reply.Code != "":
		outcome = strings.ToLower(reply.Code)
	}
	metrics.ObserveUtterance(string(reply.Classification), outcome)
	a.log.Info("消息处理完成",
		slog.String("session_id", sess.ID()),
		slog.String("classification", string(reply.Classification)),
		slog.Int("invocations", len(reply.Invocations)),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(started)))
	return reply, err
}

// Submit 是 Handle 的纯文本形式。
func (a *Agent) Submit(ctx context.Context, sessionID, utterance string) (string, error) {
	reply, err := a.Handle(ctx, sessionID, utterance)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// Reset 清空会话。
func (a *Agent) Reset(ctx context.Context, sessionID string) error {
	return a.sessions.Reset(ctx, sessionID)
}

// Transcript 返回会话快照。
func (a *Agent) Transcript(sessionID string) (session.Transcript, bool) {
	return a.sessions.Snapshot(sessionID)
}

// Tools 返回已注册的工具定义。
func (a *Agent) Tools() []tools.Schema {
	return a.tools.Schemas()
}

// Pending 返回仍在后台运行的操作数量。
func (a *Agent) Pending() int {
	return a.tracker.Pending()
}

// Close 等待所有后台操作结算完毕。
func (a *Agent) Close(ctx context.Context) error {
	return a.tracker.Wait(ctx)
}

func (a *Agent) toolSpecs() []llm.ToolSpec {
	schemas := a.tools.Schemas()
	specs := make([]llm.ToolSpec, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, llm.ToolSpec{Name: s.Name, Description: s.Description, Parameters: s.JSONSchema()})
	}
	return specs
}

// reason 调用推理服务，失败时等待退避时间后重试一次。
func (a *Agent) reason(ctx context.Context, req llm.Request) (llm.Result, error) {
	result, err := a.complete(ctx, req)
	if err == nil || ctx.Err() != nil {
		return result, err
	}
	metrics.ObserveRetry("reasoning")
	a.log.Warn("推理失败，准备重试", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
	if err := sleep(ctx, a.retryBackoff); err != nil {
		return nil, err
	}
	return a.complete(ctx, req)
}

func (a *Agent) complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	result, err := a.reasoner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, llm.Failure(nil, "推理服务返回空结果")
	}
	return result, nil
}

func (a *Agent) alert(ctx context.Context, err error, sessionID, tool string) {
	if a.alerts == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.EventFromError(err)
	event.SessionID = sessionID
	event.Tool = tool
	if nerr := a.alerts.Notify(context.WithoutCancel(ctx), event); nerr != nil {
		a.log.Warn("发送告警失败", slog.Any("error", nerr))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
