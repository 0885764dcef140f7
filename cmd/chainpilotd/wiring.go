package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChainPilot/internal/config"
	"ChainPilot/internal/job"
	"ChainPilot/internal/knowledge"
	"ChainPilot/internal/llm"
	"ChainPilot/internal/llm/openai"
	"ChainPilot/internal/llm/pythonbridge"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/session"
	"ChainPilot/internal/storage/mysql"
	redisstore "ChainPilot/internal/storage/redis"
	"ChainPilot/internal/tools"
	"ChainPilot/internal/websearch"
	"ChainPilot/pkg/logger"
)

// closers 按注册的逆序释放资源。
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newReasoner(cfg config.LLMConfig) (llm.Reasoner, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai":
		return openai.NewClient(openai.Config{
			APIKey:      cfg.OpenAI.ResolveAPIKey(),
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout(),
		})
	case "python", "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, script, cfg.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("不支持的推理服务: %s", cfg.Provider)
	}
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}

// newWebSearch 在配置了搜索密钥时返回客户端，并把 search_web 加入工具目录。
func newWebSearch(cfg config.SearchConfig, registry *tools.Registry) *websearch.Client {
	client := websearch.New(cfg.BaseURL, cfg.ResolveAPIKey(), cfg.Count, cfg.Timeout())
	if !client.Enabled() {
		return nil
	}
	registry.MustRegister(tools.WebSearch())
	return client
}

func newSessionOptions(ctx context.Context, cfg config.SessionStoreConfig, res *closers) ([]session.Option, error) {
	var opts []session.Option
	switch cfg.Driver {
	case "", "memory":
	case "mysql":
		recorder, err := mysql.NewSessionRecorder(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		res.add(recorder.Close)
		opts = append(opts, session.WithRecorder(recorder))
	default:
		return nil, fmt.Errorf("不支持的会话存储驱动: %s", cfg.Driver)
	}
	return opts, nil
}

// knowledgeBase 汇总检索所需的组件，watcher 为 nil 表示不监听目录。
type knowledgeBase struct {
	retriever *knowledge.Retriever
	watcher   *knowledge.Watcher
}

func newKnowledgeBase(ctx context.Context, cfg *config.Config, res *closers) (*knowledgeBase, error) {
	log := logger.Named("knowledge")
	embedder, err := knowledge.NewEmbedder(ctx, cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if embedder == nil {
		log.Warn("未配置向量化服务，回答将不引用文档")
		return &knowledgeBase{}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Knowledge.StorePath), 0o755); err != nil {
		return nil, err
	}
	store, err := knowledge.OpenSQLiteStore(cfg.Knowledge.StorePath)
	if err != nil {
		return nil, err
	}
	res.add(store.Close)

	docsDir := cfg.Knowledge.DocsDir
	if docsDir != "" {
		if info, err := os.Stat(docsDir); err != nil || !info.IsDir() {
			log.Warn("文档目录不可用，仅使用已持久化的知识库", slog.String("dir", docsDir))
			docsDir = ""
		}
	}
	index, err := knowledge.Bootstrap(ctx, store, docsDir, embedder, knowledge.LoaderOptions{})
	if err != nil {
		return nil, err
	}
	metrics.SetKnowledgePassages(index.Len())

	kb := &knowledgeBase{retriever: knowledge.NewRetriever(index, embedder)}
	if cfg.Knowledge.Watch && docsDir != "" {
		kb.watcher = knowledge.NewWatcher(docsDir, index, embedder, knowledge.LoaderOptions{},
			knowledge.WithWatchStore(store),
			knowledge.WithReloadHook(metrics.SetKnowledgePassages),
		)
	}
	return kb, nil
}

// jobBackend 组合异步任务的存储与队列。
type jobBackend struct {
	store job.Store
	queue job.Queue
}

func newJobBackend(ctx context.Context, cfg *config.Config, res *closers) (*jobBackend, error) {
	var store job.Store
	switch cfg.Jobs.Store {
	case "", "memory":
		store = job.NewMemoryStore()
	case "redis":
		s, err := redisstore.NewJobStore(ctx, redisstore.Config{
			Address:  cfg.Jobs.Redis.Address,
			Password: cfg.Jobs.Redis.Password,
			DB:       cfg.Jobs.Redis.DB,
			Prefix:   "chainpilot",
			TTL:      time.Duration(cfg.Jobs.TTLSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("不支持的任务存储: %s", cfg.Jobs.Store)
	}
	res.add(store.Close)

	var queue job.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = job.NewMemoryQueue(cfg.Queue.Capacity)
	case "redis":
		q, err := job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		queue = q
	case "rabbitmq":
		q, err := job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		queue = q
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	res.add(queue.Close)
	return &jobBackend{store: store, queue: queue}, nil
}
