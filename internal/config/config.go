package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ChainPilot/internal/tools"
)

// Config 描述了 ChainPilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Metrics   MetricsConfig   `json:"metrics"`
	Logging   LoggingConfig   `json:"logging"`
	Alerting  AlertingConfig  `json:"alerting"`
	LLM       LLMConfig       `json:"llm"`
	Embedding EmbeddingConfig `json:"embedding"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Web3      Web3Config      `json:"web3"`
	Search    SearchConfig    `json:"search"`
	Agent     AgentConfig     `json:"agent"`
	Storage   StorageConfig   `json:"storage"`
	Queue     QueueConfig     `json:"queue"`
	Jobs      JobsConfig      `json:"jobs"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address                string `json:"address"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

// AuthConfig 控制 REST API 的访问令牌认证，mode 为 disabled 或 token。
type AuthConfig struct {
	Mode   string            `json:"mode"`
	Tokens []AuthTokenConfig `json:"tokens"`
}

// AuthTokenConfig 描述一个静态访问令牌，scopes 为空表示不限范围。
type AuthTokenConfig struct {
	Name     string   `json:"name"`
	Token    string   `json:"token"`
	TokenEnv string   `json:"token_env"`
	Scopes   []string `json:"scopes"`
}

// MetricsConfig 控制独立的 Prometheus 监听端口，为空时挂载在 API 服务上。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 描述资金类操作审计日志的落盘方式。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// AlertingConfig 配置告警通知渠道。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string             `json:"provider"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	OpenAI         OpenAIConfig       `json:"openai"`
	Python         PythonBridgeConfig `json:"python_bridge"`
}

// OpenAIConfig 描述兼容 OpenAI Chat Completions 接口的服务。
type OpenAIConfig struct {
	APIKey         string  `json:"api_key"`
	APIKeyEnv      string  `json:"api_key_env"`
	BaseURL        string  `json:"base_url"`
	Model          string  `json:"model"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Timeout 返回单次请求超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c OpenAIConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// EmbeddingConfig 选择知识检索使用的向量化服务。
type EmbeddingConfig struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url"`
	APIKey     string `json:"api_key"`
	APIKeyEnv  string `json:"api_key_env"`
	Dimensions int    `json:"dimensions"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c EmbeddingConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// KnowledgeConfig 描述知识库的存储与加载方式。
type KnowledgeConfig struct {
	StorePath string `json:"store_path"`
	DocsDir   string `json:"docs_dir"`
	TopK      int    `json:"top_k"`
	Watch     bool   `json:"watch"`
}

// Web3Config 包含访问区块链节点所需的配置。
type Web3Config struct {
	ChainConfig           string `json:"chain_config"`
	RPCURL                string `json:"rpc_url"`
	DefaultChain          string `json:"default_chain"`
	MaxConcurrency        int64  `json:"max_concurrency"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
	ReceiptTimeoutSeconds int    `json:"receipt_timeout_seconds"`
	PriceAPIURL           string `json:"price_api_url"`
}

// SearchConfig 配置 search_web 工具使用的 Brave 搜索接口，未提供密钥时不启用该工具。
type SearchConfig struct {
	BaseURL        string `json:"base_url"`
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	Count          int    `json:"count"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ResolveAPIKey 优先使用显式配置，其次读取环境变量。
func (c SearchConfig) ResolveAPIKey() string {
	return resolveSecret(c.APIKey, c.APIKeyEnv)
}

// Timeout 返回单次搜索请求的超时时间。
func (c SearchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// AgentConfig 控制编排循环的预算与重试策略。
type AgentConfig struct {
	TurnBudget             int    `json:"turn_budget"`
	DefaultSlippageBps     uint32 `json:"default_slippage_bps"`
	RetryBackoffMillis     int    `json:"retry_backoff_ms"`
	DetachedTimeoutSeconds int    `json:"detached_timeout_seconds"`
	SeedAccountAliases     *bool  `json:"seed_account_aliases"`
}

// StorageConfig 统一描述会话审计存储的连接信息。
type StorageConfig struct {
	SessionStore SessionStoreConfig `json:"session_store"`
}

// SessionStoreConfig 选择会话审计落库方式，memory 表示不落库。
type SessionStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// QueueConfig 描述异步提交使用的消息队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Capacity int            `json:"capacity"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 为 Redis 队列与存储共用的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// JobsConfig 控制异步任务的存储与并发。
type JobsConfig struct {
	Store      string      `json:"store"`
	Workers    int         `json:"workers"`
	TTLSeconds int         `json:"ttl_seconds"`
	Redis      RedisConfig `json:"redis"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的默认配置，相对路径基于 baseDir。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	if c.Agent.TurnBudget < 1 {
		return fmt.Errorf("agent.turn_budget 必须大于 0，当前为 %d", c.Agent.TurnBudget)
	}
	if c.Agent.DefaultSlippageBps > 10_000 {
		return fmt.Errorf("agent.default_slippage_bps 不能超过 10000，当前为 %d", c.Agent.DefaultSlippageBps)
	}
	if c.Storage.SessionStore.Driver == "mysql" && strings.TrimSpace(c.Storage.SessionStore.DSN) == "" {
		return errors.New("storage.session_store 使用 mysql 时必须配置 dsn")
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		c.Server.ShutdownTimeoutSeconds = 10
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join("logs", "audit.log")
	}
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.OpenAI.TimeoutSeconds <= 0 {
		c.LLM.OpenAI.TimeoutSeconds = c.LLM.TimeoutSeconds
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	} else {
		c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir)
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "hash"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 256
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolvePath(baseDir, c.Runtime.DataDir)
	}

	if c.Knowledge.StorePath == "" {
		c.Knowledge.StorePath = filepath.Join(c.Runtime.DataDir, "knowledge.db")
	} else {
		c.Knowledge.StorePath = resolvePath(baseDir, c.Knowledge.StorePath)
	}
	c.Knowledge.DocsDir = resolvePath(baseDir, c.Knowledge.DocsDir)
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = 3
	}

	if c.Web3.ChainConfig == "" {
		c.Web3.ChainConfig = filepath.Join(baseDir, "chain.yaml")
	} else {
		c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.MaxConcurrency <= 0 {
		c.Web3.MaxConcurrency = 8
	}
	if c.Web3.RequestTimeoutSeconds <= 0 {
		c.Web3.RequestTimeoutSeconds = 15
	}
	if c.Web3.ReceiptTimeoutSeconds <= 0 {
		c.Web3.ReceiptTimeoutSeconds = 120
	}

	if c.Search.APIKeyEnv == "" {
		c.Search.APIKeyEnv = "BRAVE_API_KEY"
	}
	if c.Search.Count <= 0 {
		c.Search.Count = 5
	}
	if c.Search.TimeoutSeconds <= 0 {
		c.Search.TimeoutSeconds = 10
	}

	if c.Agent.TurnBudget == 0 {
		c.Agent.TurnBudget = 5
	}
	if c.Agent.DefaultSlippageBps == 0 {
		c.Agent.DefaultSlippageBps = tools.DefaultSlippageBps
	}
	if c.Agent.RetryBackoffMillis <= 0 {
		c.Agent.RetryBackoffMillis = 500
	}
	if c.Agent.DetachedTimeoutSeconds <= 0 {
		c.Agent.DetachedTimeoutSeconds = 300
	}

	if c.Storage.SessionStore.Driver == "" {
		c.Storage.SessionStore.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Capacity <= 0 {
		c.Queue.Capacity = 1024
	}
	if c.Queue.Redis.Queue == "" {
		c.Queue.Redis.Queue = "chainpilot:jobs"
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "chainpilot.jobs"
	}

	if c.Jobs.Store == "" {
		c.Jobs.Store = "memory"
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 4
	}
	if c.Jobs.TTLSeconds <= 0 {
		c.Jobs.TTLSeconds = 86400
	}
	if c.Jobs.Redis.Address == "" {
		c.Jobs.Redis = c.Queue.Redis
	}
}

// SeedAliases 默认将链配置中的命名账户注入每个新会话。
func (c AgentConfig) SeedAliases() bool {
	return c.SeedAccountAliases == nil || *c.SeedAccountAliases
}

// RetryBackoff 返回首次重试前的等待时间。
func (c AgentConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMillis) * time.Millisecond
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func resolveSecret(value, env string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
