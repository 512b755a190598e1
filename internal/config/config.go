package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "SpendGuard/internal/errors"
	"SpendGuard/internal/ledger"
)

// Config 描述了策略引擎在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Policy   PolicyConfig   `yaml:"policy"`
	Journal  JournalConfig  `yaml:"journal"`
	Alerting AlertingConfig `yaml:"alerting"`
	Logging  LoggingConfig  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// ServerConfig 控制 HTTP 服务的监听地址与入口防护。
type ServerConfig struct {
	Host            string          `yaml:"host"`
	Port            int             `yaml:"port"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	TrustedHosts    []string        `yaml:"trusted_hosts"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

// RateLimitConfig 是按客户端 IP 的令牌桶参数，RPS 为 0 时关闭限流。
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// StorageConfig 描述账本后端。RedisURL 为空或 "memory" 时使用内存后端。
type StorageConfig struct {
	RedisURL     string        `yaml:"redis_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// PolicyConfig 描述执法参数与首次启动时播种的代理。
type PolicyConfig struct {
	LockTimeout   time.Duration `yaml:"lock_timeout"`
	LockRetry     time.Duration `yaml:"lock_retry"`
	Agents        []ledger.Seed `yaml:"agents"`
	LatencyLog    string        `yaml:"latency_log"`
	LatencyWindow int           `yaml:"latency_window"`
}

// JournalConfig 选择裁决流水的存储驱动：memory 或 mysql。
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AlertingConfig 描述告警投递渠道。RabbitMQURL 为空时只写审计日志。
type AlertingConfig struct {
	RabbitMQURL string `yaml:"rabbitmq_url"`
	Exchange    string `yaml:"exchange"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level     string   `yaml:"level"`
	Format    string   `yaml:"format"`
	Outputs   []string `yaml:"outputs"`
	AuditPath string   `yaml:"audit_path"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// 默认值与原有部署保持一致。
var (
	DefaultAllowedOrigins = []string{"http://localhost:8501", "http://localhost:3000"}
	DefaultTrustedHosts   = []string{"localhost", "127.0.0.1", "0.0.0.0"}
)

const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 8001
	DefaultRedisURL = "redis://localhost:6379"

	JournalDriverMemory = "memory"
	JournalDriverMySQL  = "mysql"
)

// Load 读取可选的 YAML 配置文件，再叠加环境变量，最后填充默认值。
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
		}
		baseDir = filepath.Dir(path)
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("HOST", &c.Server.Host)
	str("REDIS_URL", &c.Storage.RedisURL)
	str("LATENCY_LOG", &c.Policy.LatencyLog)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("JOURNAL_DRIVER", &c.Journal.Driver)
	str("JOURNAL_DSN", &c.Journal.DSN)
	str("RABBITMQ_URL", &c.Alerting.RabbitMQURL)
	str("DATA_DIR", &c.Runtime.DataDir)

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return xerrors.Wrap(xerrors.CodeConfigInvalid, err, "PORT 必须是整数")
		}
		c.Server.Port = port
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		origins, err := ParseOrigins(v)
		if err != nil {
			return err
		}
		c.Server.AllowedOrigins = origins
	}
	if v, ok := lookup("TRUSTED_HOSTS"); ok && strings.TrimSpace(v) != "" {
		hosts, err := ParseOrigins(v)
		if err != nil {
			return err
		}
		c.Server.TrustedHosts = hosts
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.AllowedOrigins == nil {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Server.TrustedHosts == nil {
		c.Server.TrustedHosts = append([]string(nil), DefaultTrustedHosts...)
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RPS * 2)
		if c.Server.RateLimit.Burst < 1 {
			c.Server.RateLimit.Burst = 1
		}
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}

	if c.Storage.RedisURL == "" {
		c.Storage.RedisURL = DefaultRedisURL
	}
	if c.Storage.ProbeTimeout <= 0 {
		c.Storage.ProbeTimeout = 2 * time.Second
	}

	if c.Policy.LockTimeout <= 0 {
		c.Policy.LockTimeout = 5 * time.Second
	}
	if c.Policy.LockRetry <= 0 {
		c.Policy.LockRetry = 10 * time.Millisecond
	}
	if len(c.Policy.Agents) == 0 {
		c.Policy.Agents = []ledger.Seed{{AgentID: ledger.DefaultAgentID, Budget: ledger.DefaultBudget}}
	}
	if c.Policy.LatencyLog == "" {
		c.Policy.LatencyLog = "latency.log"
	}
	if c.Policy.LatencyWindow <= 0 {
		c.Policy.LatencyWindow = 50
	}

	c.Journal.Driver = strings.ToLower(strings.TrimSpace(c.Journal.Driver))
	if c.Journal.Driver == "" {
		c.Journal.Driver = JournalDriverMemory
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// Validate 校验组合后的配置。
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("端口超出范围: %d", c.Server.Port))
	}
	if c.Server.RateLimit.RPS < 0 {
		return xerrors.New(xerrors.CodeConfigInvalid, "rate_limit.rps 不能为负数")
	}
	switch c.Journal.Driver {
	case JournalDriverMemory:
	case JournalDriverMySQL:
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return xerrors.New(xerrors.CodeConfigInvalid, "mysql 流水需要配置 JOURNAL_DSN")
		}
	default:
		return xerrors.New(xerrors.CodeConfigInvalid, "不支持的流水驱动: "+c.Journal.Driver)
	}
	for _, seed := range c.Policy.Agents {
		if strings.TrimSpace(seed.AgentID) == "" || seed.Budget < 0 {
			return xerrors.New(xerrors.CodeConfigInvalid, "代理播种配置无效",
				xerrors.WithMetadata("agent_id", seed.AgentID))
		}
	}
	return nil
}

// Address 返回 host:port 形式的监听地址。
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// ParseOrigins 只接受两种字面量形式：元素全为字符串的 JSON 数组，或逗号分隔的列表。
// 输入永远不会被当作表达式求值。
func ParseOrigins(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}, nil
	}
	if strings.HasPrefix(raw, "[") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "列表不是合法的 JSON 数组")
		}
		out := make([]string, 0, len(items))
		for i, item := range items {
			s, ok := item.(string)
			if !ok {
				return nil, xerrors.New(xerrors.CodeConfigInvalid,
					fmt.Sprintf("列表第 %d 个元素不是字符串", i))
			}
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.Trim(strings.TrimSpace(part), `"'`); part != "" {
			out = append(out, part)
		}
	}
	return out, nil
}
