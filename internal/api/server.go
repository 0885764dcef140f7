package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/auth"
	"ChainPilot/internal/job"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
	"ChainPilot/internal/tools"
	"ChainPilot/pkg/logger"
)

// Orchestrator 是 HTTP 层依赖的编排能力，由 *agent.Agent 实现。
type Orchestrator interface {
	Handle(ctx context.Context, sessionID, utterance string) (agent.Reply, error)
	Reset(ctx context.Context, sessionID string) error
	Transcript(sessionID string) (session.Transcript, bool)
	Tools() []tools.Schema
}

// Jobs 是异步提交接口，由 *job.Service 实现。
type Jobs interface {
	Enqueue(ctx context.Context, req job.Request) (*job.Job, error)
	Get(ctx context.Context, id string) (*job.Job, error)
	List(ctx context.Context, opts job.ListOptions) ([]*job.Job, error)
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr            string
	orch            Orchestrator
	jobs            Jobs
	auth            *auth.Service
	requestTimeout  time.Duration
	shutdownTimeout time.Duration
	serveMetrics    bool
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithJobs 启用 /api/v1/jobs。
func WithJobs(j Jobs) Option {
	return func(s *Server) { s.jobs = j }
}

// WithAuth 为业务接口启用令牌认证，/healthz 与 /metrics 不受影响。
func WithAuth(a *auth.Service) Option {
	return func(s *Server) { s.auth = a }
}

// WithRequestTimeout 限制同步对话请求的处理时间。
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithShutdownTimeout 设置优雅退出时等待在途请求的时间。
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.shutdownTimeout = d
		}
	}
}

// WithMetricsEndpoint 控制是否在同一端口暴露 /metrics。
func WithMetricsEndpoint(enabled bool) Option {
	return func(s *Server) { s.serveMetrics = enabled }
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch Orchestrator, opts ...Option) *Server {
	s := &Server{addr: addr, orch: orch, shutdownTimeout: 5 * time.Second, serveMetrics: true}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/messages", s.handleMessage, auth.ScopeChat)
	s.route(mux, "POST /api/v1/sessions/{id}/messages", s.handleMessage, auth.ScopeChat)
	s.route(mux, "GET /api/v1/sessions/{id}", s.handleTranscript, auth.ScopeChat)
	s.route(mux, "DELETE /api/v1/sessions/{id}", s.handleReset, auth.ScopeChat)
	s.route(mux, "POST /api/v1/jobs", s.handleCreateJob, auth.ScopeJobs)
	s.route(mux, "GET /api/v1/jobs", s.handleListJobs, auth.ScopeJobs)
	s.route(mux, "GET /api/v1/jobs/{id}", s.handleJobDetail, auth.ScopeJobs)
	s.route(mux, "GET /api/v1/tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.serveMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	return instrument(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc, scopes ...string) {
	guard := s.auth.Middleware(auth.MiddlewareConfig{Scopes: scopes, OnError: writeError})
	mux.Handle(pattern, guard(h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.L().Info("API 服务已启动", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
