package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// VenueConfig 交易所接入配置
type VenueConfig struct {
	Endpoint string `yaml:"endpoint"` // WebSocket 端点
	AppID    int    `yaml:"app_id"`   // 应用 ID（拼接到端点 query）
	Token    string `yaml:"token"`    // API token（建议通过 DERIV_TOKEN 环境变量注入）
	Symbol   string `yaml:"symbol"`   // 交易标的，例如 R_100
	Currency string `yaml:"currency"` // 计价货币
}

// EngineConfig 决策引擎配置
type EngineConfig struct {
	BufferSize          int      `yaml:"buffer_size"`          // 滚动 tick 缓冲区大小
	ConfidenceThreshold float64  `yaml:"confidence_threshold"` // 置信度门槛
	BaseTradeInterval   Duration `yaml:"base_trade_interval"`  // 基础下单间隔
	MinTradeInterval    Duration `yaml:"min_trade_interval"`   // 最小下单间隔（波动率再高也不低于此值）
	ContractDuration    int      `yaml:"contract_duration"`    // 合约时长（分钟）
}

// RiskConfig 风险配置
type RiskConfig struct {
	KellyFraction        float64 `yaml:"kelly_fraction"`         // 固定 Kelly 分数（启发式，不是统计意义上的 Kelly）
	MinSize              float64 `yaml:"min_size"`               // 最小仓位
	MaxSize              float64 `yaml:"max_size"`               // 最大仓位
	MaxConsecutiveErrors int64   `yaml:"max_consecutive_errors"` // 连续下单失败熔断阈值（<=0 关闭）
	DailyLossLimit       float64 `yaml:"daily_loss_limit"`       // 当日最大亏损熔断（<=0 关闭）
}

// SessionConfig 会话/重连配置
type SessionConfig struct {
	ReconnectDelay  Duration `yaml:"reconnect_delay"`  // 重连基础延迟
	ReconnectJitter Duration `yaml:"reconnect_jitter"` // 重连随机抖动上限
	PingInterval    Duration `yaml:"ping_interval"`    // 心跳基础间隔
	PingJitter      Duration `yaml:"ping_jitter"`      // 心跳随机抖动上限
	AckTimeout      Duration `yaml:"ack_timeout"`      // 下单确认超时
}

// ModelConfig 预测模型配置
type ModelConfig struct {
	Source string `yaml:"source"` // 模型权重来源：本地路径或 http(s) URL
}

// StorageConfig 存储配置
type StorageConfig struct {
	LedgerPath    string `yaml:"ledger_path"`    // sqlite 交易账本路径
	TickStorePath string `yaml:"tickstore_path"` // badger tick 归档目录（空则关闭）
	StateDir      string `yaml:"state_dir"`      // 引擎状态快照目录
}

// MetricsConfig 观测配置
type MetricsConfig struct {
	Listen string `yaml:"listen"` // HTTP 监听地址（空则不启动）
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Config 应用配置
type Config struct {
	Venue   VenueConfig   `yaml:"venue"`
	Engine  EngineConfig  `yaml:"engine"`
	Risk    RiskConfig    `yaml:"risk"`
	Session SessionConfig `yaml:"session"`
	Model   ModelConfig   `yaml:"model"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ApplyDefaults 填充默认值（与原始策略参数保持一致）
func (c *Config) ApplyDefaults() {
	if c.Venue.Endpoint == "" {
		c.Venue.Endpoint = "wss://ws.binaryws.com/websockets/v3"
	}
	if c.Venue.AppID == 0 {
		c.Venue.AppID = 1089
	}
	if c.Venue.Symbol == "" {
		c.Venue.Symbol = "R_100"
	}
	if c.Venue.Currency == "" {
		c.Venue.Currency = "USD"
	}
	if c.Engine.BufferSize == 0 {
		c.Engine.BufferSize = 100
	}
	if c.Engine.ConfidenceThreshold == 0 {
		c.Engine.ConfidenceThreshold = 0.7
	}
	if c.Engine.BaseTradeInterval.Duration == 0 {
		c.Engine.BaseTradeInterval.Duration = 15 * time.Second
	}
	if c.Engine.MinTradeInterval.Duration == 0 {
		c.Engine.MinTradeInterval.Duration = 5 * time.Second
	}
	if c.Engine.ContractDuration == 0 {
		c.Engine.ContractDuration = 1
	}
	if c.Risk.KellyFraction == 0 {
		c.Risk.KellyFraction = 0.15
	}
	if c.Risk.MinSize == 0 {
		c.Risk.MinSize = 0.01
	}
	if c.Risk.MaxSize == 0 {
		c.Risk.MaxSize = 0.15
	}
	if c.Session.ReconnectDelay.Duration == 0 {
		c.Session.ReconnectDelay.Duration = 3 * time.Second
	}
	if c.Session.ReconnectJitter.Duration == 0 {
		c.Session.ReconnectJitter.Duration = time.Second
	}
	if c.Session.PingInterval.Duration == 0 {
		c.Session.PingInterval.Duration = 30 * time.Second
	}
	if c.Session.PingJitter.Duration == 0 {
		c.Session.PingJitter.Duration = 5 * time.Second
	}
	if c.Session.AckTimeout.Duration == 0 {
		c.Session.AckTimeout.Duration = 30 * time.Second
	}
	if c.Model.Source == "" {
		c.Model.Source = "models/pattern_v1.json"
	}
	if c.Storage.LedgerPath == "" {
		c.Storage.LedgerPath = "data/trades.db"
	}
	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "data/state"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 50
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 14
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Venue.Token) == "" {
		return fmt.Errorf("venue.token 为空（可通过 DERIV_TOKEN 环境变量注入）")
	}
	if !strings.HasPrefix(c.Venue.Endpoint, "ws://") && !strings.HasPrefix(c.Venue.Endpoint, "wss://") {
		return fmt.Errorf("venue.endpoint 必须是 ws:// 或 wss:// 地址: %s", c.Venue.Endpoint)
	}
	if c.Engine.BufferSize < 2 {
		return fmt.Errorf("engine.buffer_size 必须 >= 2")
	}
	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("engine.confidence_threshold 必须在 [0,1] 内")
	}
	if c.Engine.MinTradeInterval.Duration <= 0 {
		return fmt.Errorf("engine.min_trade_interval 必须 > 0")
	}
	if c.Engine.BaseTradeInterval.Duration < c.Engine.MinTradeInterval.Duration {
		return fmt.Errorf("engine.base_trade_interval 不能小于 min_trade_interval")
	}
	if c.Risk.KellyFraction <= 0 || c.Risk.KellyFraction > 1 {
		return fmt.Errorf("risk.kelly_fraction 必须在 (0,1] 内")
	}
	if c.Risk.MinSize <= 0 || c.Risk.MaxSize < c.Risk.MinSize {
		return fmt.Errorf("risk.min_size/max_size 配置非法: min=%v max=%v", c.Risk.MinSize, c.Risk.MaxSize)
	}
	if c.Session.ReconnectDelay.Duration <= 0 {
		return fmt.Errorf("session.reconnect_delay 必须 > 0")
	}
	if strings.TrimSpace(c.Model.Source) == "" {
		return fmt.Errorf("model.source 为空")
	}
	return nil
}

// LoadFromFile 从 YAML 文件加载配置并套用环境变量覆盖
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides 环境变量覆盖（敏感信息不进配置文件）
func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("DERIV_TOKEN")); v != "" {
		c.Venue.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("DERIV_ENDPOINT")); v != "" {
		c.Venue.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("DERIV_APP_ID")); v != "" {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			c.Venue.AppID = id
		}
	}
	if v := strings.TrimSpace(os.Getenv("DERIV_SYMBOL")); v != "" {
		c.Venue.Symbol = v
	}
}
