package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	MySQL      MySQLConfig      `mapstructure:"mysql"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Lmstfy     LmstfyConfig     `mapstructure:"lmstfy"`
	Queues     QueueConfig      `mapstructure:"queues"`
	Timeout    TimeoutConfig    `mapstructure:"timeout"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Settlement SettlementConfig `mapstructure:"settlement"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Env       string `mapstructure:"env"`
	LogLevel  string `mapstructure:"log_level"`
	MachineID int64  `mapstructure:"machine_id"` // 雪花ID机器号 [0, 99]
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MySQLConfig MySQL 配置
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LmstfyConfig Lmstfy 配置
type LmstfyConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Namespace string `mapstructure:"namespace"`
	Token     string `mapstructure:"token"`
}

// QueueConfig 各网关的队列名
type QueueConfig struct {
	UserNotify  string `mapstructure:"user_notify"`
	AdminNotify string `mapstructure:"admin_notify"`
	DeviceCmd   string `mapstructure:"device_cmd"`
	Refund      string `mapstructure:"refund"`
}

// TimeoutConfig 超时检测阈值
type TimeoutConfig struct {
	Payment           time.Duration `mapstructure:"payment"`
	Start             time.Duration `mapstructure:"start"`
	ScanBatchSize     int           `mapstructure:"scan_batch_size"`
	MaxRemedyAttempts int64         `mapstructure:"max_remedy_attempts"`
	AlertOvertimeMin  int           `mapstructure:"alert_overtime_min"`
}

// WorkflowConfig 工作流引擎配置
type WorkflowConfig struct {
	RetryBackoff       time.Duration `mapstructure:"retry_backoff"`
	DefaultStepTimeout time.Duration `mapstructure:"default_step_timeout"`
}

// MonitorConfig 定时任务周期
type MonitorConfig struct {
	ScanInterval    time.Duration `mapstructure:"scan_interval"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize  int           `mapstructure:"sweep_batch_size"`
	PruneInterval   time.Duration `mapstructure:"prune_interval"`
	RecordRetention time.Duration `mapstructure:"record_retention"`
}

// SettlementConfig 结算配置
type SettlementConfig struct {
	Tiers []TierConfig `mapstructure:"tiers"`
}

// TierConfig 分成档位配置
type TierConfig struct {
	Min  int64   `mapstructure:"min"`
	Max  int64   `mapstructure:"max"`
	Rate float64 `mapstructure:"rate"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.App.MachineID < 0 || c.App.MachineID > 99 {
		return fmt.Errorf("app.machine_id must be within [0, 99]")
	}
	if c.MySQL.DSN == "" {
		return fmt.Errorf("mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Lmstfy.Host == "" {
		return fmt.Errorf("lmstfy.host is required")
	}
	if c.Queues.UserNotify == "" || c.Queues.AdminNotify == "" {
		return fmt.Errorf("queues.user_notify and queues.admin_notify are required")
	}
	if c.Queues.DeviceCmd == "" {
		return fmt.Errorf("queues.device_cmd is required")
	}
	if c.Queues.Refund == "" {
		return fmt.Errorf("queues.refund is required")
	}
	return nil
}
