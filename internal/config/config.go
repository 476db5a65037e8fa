package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"EventSync-Agent/pkg/logger"
)

// PathEnv 指定配置文件路径的环境变量。
const PathEnv = "EVENTSYNC_CONFIG"

// DefaultPath 为未设置 PathEnv 时使用的配置文件。
const DefaultPath = "configs/eventsync.json"

// Config 描述了 EventSync 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `json:"server"`
	Logging       logger.Config       `json:"logging"`
	Storage       StorageConfig       `json:"storage"`
	LLM           LLMConfig           `json:"llm"`
	Agent         AgentConfig         `json:"agent"`
	Eventbrite    EventbriteConfig    `json:"eventbrite"`
	POAP          POAPConfig          `json:"poap"`
	Web3          Web3Config          `json:"web3"`
	Wallet        WalletConfig        `json:"wallet"`
	Task          TaskConfig          `json:"task"`
	Observability ObservabilityConfig `json:"observability"`
	Runtime       RuntimeConfig       `json:"runtime"`

	// Secrets 只来自环境变量，不写入配置文件。
	Secrets Secrets `json:"-"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address     string `json:"address"`
	RedirectURL string `json:"redirect_url"`
	// StaticDir 非空时以 /static/ 前缀提供静态文件。
	StaticDir   string `json:"static_dir"`
}

// StorageConfig 统一描述任务、运行记录与会话记忆的存储后端。
type StorageConfig struct {
	TaskStore TaskStoreConfig `json:"task_store"`
	Runs      RunsConfig      `json:"runs"`
	Memory    MemoryConfig    `json:"memory"`
}

// TaskStoreConfig 支持 memory 与 mysql 两种驱动。
type TaskStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// RunsConfig 描述运行记录的存储方式：file 或 mysql。
type RunsConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
	Path   string `json:"path"`
}

// MemoryConfig 描述会话记忆的存储方式：memory 或 redis。
type MemoryConfig struct {
	Driver     string `json:"driver"`
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
	MaxHistory int    `json:"max_history"`
}

// LLMConfig 用于配置 OpenAI 兼容的大模型接口。
type LLMConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig 控制工具调用循环。
type AgentConfig struct {
	MaxSteps     int    `json:"max_steps"`
	ThreadID     string `json:"thread_id"`
	SystemPrompt string `json:"system_prompt"`
}

// EventbriteConfig 描述 Eventbrite REST 接口。
type EventbriteConfig struct {
	BaseURL        string  `json:"base_url"`
	RatePerSecond  float64 `json:"rate_per_second"`
	TimeoutSeconds int     `json:"timeout_seconds"`
	MaxPages       int     `json:"max_pages"`
}

// POAPConfig 描述 POAP REST 接口。
type POAPConfig struct {
	BaseURL        string  `json:"base_url"`
	RatePerSecond  float64 `json:"rate_per_second"`
	TimeoutSeconds int     `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL     string `json:"rpc_url"`
	ChainsFile string `json:"chains_file"`
	Default    string `json:"default_chain"`
}

// WalletConfig 描述代理钱包的持久化位置。
type WalletConfig struct {
	Path      string `json:"path"`
	NetworkID string `json:"network_id"`
}

// TaskConfig 描述异步任务队列与处理器。
type TaskConfig struct {
	Queue      QueueConfig `json:"queue"`
	Workers    int         `json:"workers"`
	MaxRetries int         `json:"max_retries"`
}

// QueueConfig 支持 memory、redis 与 rabbitmq。
type QueueConfig struct {
	Driver   string `json:"driver"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	Name     string `json:"name"`
	Buffer   int    `json:"buffer"`
}

// ObservabilityConfig 描述指标与告警。
type ObservabilityConfig struct {
	MetricsAddress  string `json:"metrics_address"`
	AlertWebhookURL string `json:"alert_webhook_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Secrets 为访问外部服务所需的凭据。
type Secrets struct {
	EventbriteAPIKey         string `envconfig:"EVENTBRITE_API_KEY"`
	EventbriteOrganizationID string `envconfig:"EVENTBRITE_ORGANIZATION_ID"`
	POAPAPIKey               string `envconfig:"POAP_API_KEY"`
	POAPAccessToken          string `envconfig:"POAP_ACCESS_TOKEN"`
	LLMAPIKey                string `envconfig:"LLM_API_KEY" default:"GAIA"`
	// APITokens 形如 name:token,name2:token2，为空时 API 不做认证。
	APITokens map[string]string `envconfig:"EVENTSYNC_API_TOKENS"`
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 解析指定路径的 JSON 配置文件并加载环境变量中的凭据。
// 文件不存在时使用默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	secrets, err := LoadSecrets()
	if err != nil {
		return nil, err
	}
	cfg.Secrets = secrets

	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadSecrets 读取当前目录下可选的 .env 文件，再从环境变量解析凭据。
// 已存在的环境变量不会被 .env 覆盖。
func LoadSecrets() (Secrets, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Secrets{}, fmt.Errorf("加载 .env 失败: %w", err)
	}
	var s Secrets
	if err := envconfig.Process("", &s); err != nil {
		return Secrets{}, fmt.Errorf("解析环境变量失败: %w", err)
	}
	return s, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RedirectURL == "" {
		c.Server.RedirectURL = "https://github.com/ofemeteng/eventsync-agent"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.TaskStore.Driver == "" {
		c.Storage.TaskStore.Driver = "memory"
	}
	if c.Storage.Runs.Driver == "" {
		c.Storage.Runs.Driver = "file"
	}
	if c.Storage.Runs.Path == "" {
		c.Storage.Runs.Path = filepath.Join(c.Runtime.DataDir, "runs.jsonl")
	}
	if c.Storage.Memory.Driver == "" {
		c.Storage.Memory.Driver = "memory"
	}
	if c.Storage.Memory.MaxHistory <= 0 {
		c.Storage.Memory.MaxHistory = 50
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://llamatool.us.gaianet.network/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}

	if c.Agent.MaxSteps <= 0 {
		c.Agent.MaxSteps = 8
	}
	if c.Agent.ThreadID == "" {
		c.Agent.ThreadID = "EventSync Agent"
	}

	if c.Eventbrite.BaseURL == "" {
		c.Eventbrite.BaseURL = "https://www.eventbriteapi.com/v3"
	}
	if c.Eventbrite.RatePerSecond <= 0 {
		c.Eventbrite.RatePerSecond = 5
	}
	if c.Eventbrite.TimeoutSeconds <= 0 {
		c.Eventbrite.TimeoutSeconds = 30
	}
	if c.Eventbrite.MaxPages <= 0 {
		c.Eventbrite.MaxPages = 50
	}

	if c.POAP.BaseURL == "" {
		c.POAP.BaseURL = "https://api.poap.tech"
	}
	if c.POAP.RatePerSecond <= 0 {
		c.POAP.RatePerSecond = 5
	}
	if c.POAP.TimeoutSeconds <= 0 {
		c.POAP.TimeoutSeconds = 30
	}

	if c.Server.StaticDir != "" && !filepath.IsAbs(c.Server.StaticDir) {
		c.Server.StaticDir = filepath.Join(baseDir, c.Server.StaticDir)
	}
	if c.Web3.ChainsFile != "" && !filepath.IsAbs(c.Web3.ChainsFile) {
		c.Web3.ChainsFile = filepath.Join(baseDir, c.Web3.ChainsFile)
	}

	if c.Wallet.NetworkID == "" {
		c.Wallet.NetworkID = "base-sepolia"
	}
	if c.Wallet.Path == "" {
		c.Wallet.Path = filepath.Join(c.Runtime.DataDir, "wallet_data_sepolia.txt")
	} else if !filepath.IsAbs(c.Wallet.Path) {
		c.Wallet.Path = filepath.Join(baseDir, c.Wallet.Path)
	}

	if c.Task.Queue.Driver == "" {
		c.Task.Queue.Driver = "memory"
	}
	if c.Task.Queue.Key == "" {
		c.Task.Queue.Key = "eventsync:tasks"
	}
	if c.Task.Queue.Name == "" {
		c.Task.Queue.Name = "eventsync.tasks"
	}
	if c.Task.Queue.Buffer <= 0 {
		c.Task.Queue.Buffer = 128
	}
	if c.Task.Workers <= 0 {
		c.Task.Workers = 2
	}
	if c.Task.MaxRetries <= 0 {
		c.Task.MaxRetries = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}
