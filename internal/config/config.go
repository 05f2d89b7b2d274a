package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 描述了 provchaind 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Auth    AuthConfig    `yaml:"auth"`
	Storage StorageConfig `yaml:"storage"`
	Events  EventsConfig  `yaml:"events"`
	Chain   ChainConfig   `yaml:"chain"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LedgerConfig 描述账本的治理参数。
type LedgerConfig struct {
	// Owner 是唯一可以注册模型与授权校验者的主体。
	Owner string `yaml:"owner"`
}

// AuthConfig 描述调用方身份认证方式。
type AuthConfig struct {
	Enabled bool       `yaml:"enabled"`
	Keys    []KeyEntry `yaml:"keys"`
}

// KeyEntry 将一个 API key 映射到它认证的主体。
type KeyEntry struct {
	Key       string `yaml:"key"`
	Principal string `yaml:"principal"`
}

// StorageConfig 统一描述账本存储后端的连接信息。
type StorageConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// EventsConfig 描述账本事件流的投递方式。
type EventsConfig struct {
	Driver   string         `yaml:"driver"`
	Buffer   int            `yaml:"buffer"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件流的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
}

// RabbitMQConfig 描述 RabbitMQ 事件流的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ChainConfig 描述全局时钟的来源。
type ChainConfig struct {
	Driver      string         `yaml:"driver"`
	StartHeight uint64         `yaml:"start_height"`
	Ethereum    EthereumConfig `yaml:"ethereum"`
}

// EthereumConfig 包含访问区块链节点所需的 RPC 地址。
type EthereumConfig struct {
	Name   string `yaml:"name"`
	RPCURL string `yaml:"rpc_url"`
}

// LoggingConfig 控制日志输出与审计日志。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load 负责解析指定路径的 YAML 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "memory"
	}
	if c.Events.Buffer <= 0 {
		c.Events.Buffer = 1024
	}
	if c.Chain.Driver == "" {
		c.Chain.Driver = "logical"
	}
	if c.Chain.StartHeight == 0 {
		c.Chain.StartHeight = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// validate 检查启动前必须满足的配置约束。
func (c *Config) validate() error {
	if strings.TrimSpace(c.Ledger.Owner) == "" {
		return errors.New("必须配置 ledger.owner")
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return errors.New("storage.driver 为 mysql 时必须配置 DSN")
	}
	if c.Chain.Driver == "ethereum" && strings.TrimSpace(c.Chain.Ethereum.RPCURL) == "" {
		return errors.New("chain.driver 为 ethereum 时必须配置 rpc_url")
	}
	return nil
}
