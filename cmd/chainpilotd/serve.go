package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ChainPilot/internal/agent"
	"ChainPilot/internal/api"
	"ChainPilot/internal/auth"
	"ChainPilot/internal/config"
	"ChainPilot/internal/job"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
	"ChainPilot/internal/tools"
	"ChainPilot/internal/web3/pricefeed"
	"ChainPilot/internal/web3/provider"
	"ChainPilot/pkg/logger"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job processor and the knowledge watcher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("chainpilotd")
	var res closers
	defer func() {
		if cerr := res.close(); cerr != nil {
			log.Error("释放资源失败", slog.Any("error", cerr))
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	reasoner, err := newReasoner(cfg.LLM)
	if err != nil {
		return err
	}

	chains, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	res.add(func() error { chains.Close(); return nil })
	adapter, err := chains.Default()
	if err != nil {
		return err
	}

	sessionOpts, err := newSessionOptions(ctx, cfg.Storage.SessionStore, &res)
	if err != nil {
		return err
	}
	if cfg.Agent.SeedAliases() {
		sessionOpts = append(sessionOpts, session.WithDefaultAliases(chains.Aliases()))
	}
	sessions := session.NewManager(sessionOpts...)

	kb, err := newKnowledgeBase(ctx, cfg, &res)
	if err != nil {
		return err
	}

	alerts := newAlerts(cfg.Alerting)
	agentOpts := []agent.Option{
		agent.WithAlerts(alerts),
		agent.WithPriceSource(pricefeed.New(cfg.Web3.PriceAPIURL, time.Duration(cfg.Web3.RequestTimeoutSeconds)*time.Second)),
		agent.WithTurnBudget(cfg.Agent.TurnBudget),
		agent.WithRetryBackoff(cfg.Agent.RetryBackoff()),
		agent.WithDetachedTimeout(time.Duration(cfg.Agent.DetachedTimeoutSeconds) * time.Second),
	}
	if kb.retriever != nil {
		agentOpts = append(agentOpts, agent.WithRetriever(kb.retriever, cfg.Knowledge.TopK))
	}
	registry := tools.NewDefaultRegistry(chains.Tokens(), cfg.Agent.DefaultSlippageBps)
	search := newWebSearch(cfg.Search, registry)
	if search != nil {
		agentOpts = append(agentOpts, agent.WithWebSearch(search))
	}
	orchestrator := agent.New(reasoner, registry, adapter, sessions, agentOpts...)

	jobs, err := newJobBackend(ctx, cfg, &res)
	if err != nil {
		return err
	}
	service := job.NewService(jobs.store, jobs.queue, 0)
	processor := job.NewProcessor(orchestrator, jobs.store, jobs.queue, jobs.queue,
		job.WithWorkerCount(cfg.Jobs.Workers),
		job.WithAlertDispatcher(alerts),
	)

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	standaloneMetrics := cfg.Metrics.Enabled && cfg.Metrics.Address != ""
	server := api.NewServer(cfg.Server.Address, orchestrator,
		api.WithJobs(service),
		api.WithAuth(authService),
		api.WithShutdownTimeout(time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second),
		api.WithMetricsEndpoint(!standaloneMetrics),
	)

	log.Info("ChainPilot 启动",
		slog.String("addr", cfg.Server.Address),
		slog.Any("chains", chains.Chains()),
		slog.String("llm", cfg.LLM.Provider),
		slog.String("queue", cfg.Queue.Driver),
		slog.Bool("auth", authService.Enabled()),
		slog.Bool("web_search", search != nil),
		slog.String("session_store", cfg.Storage.SessionStore.Driver))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return quiet(server.Start(gctx)) })
	g.Go(func() error { return quiet(processor.Start(gctx)) })
	if kb.watcher != nil {
		g.Go(func() error { return quiet(kb.watcher.Run(gctx)) })
	}
	if standaloneMetrics {
		g.Go(func() error { return quiet(metrics.StartServer(gctx, cfg.Metrics.Address)) })
	}
	err = g.Wait()

	// 等待后台转账与兑换结算完毕后再关闭会话存储。
	drainCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Agent.DetachedTimeoutSeconds)*time.Second)
	defer cancel()
	if pending := orchestrator.Pending(); pending > 0 {
		log.Info("等待后台操作结算", slog.Int("pending", pending))
	}
	if derr := orchestrator.Close(drainCtx); derr != nil {
		log.Error("后台操作未能在退出前结算", slog.Int("pending", orchestrator.Pending()), slog.Any("error", derr))
	}
	return err
}

// quiet 把正常退出时的 context 取消视为成功。
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
