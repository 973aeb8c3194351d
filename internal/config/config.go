package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	MySQL   MySQLConfig   `mapstructure:"mysql"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port          int    `mapstructure:"port"`
	InternalToken string `mapstructure:"internal_token"` // 竞拍/支付服务调用 /internal 接口的共享令牌
}

const (
	StorageDriverMySQL  = "mysql"
	StorageDriverMemory = "memory"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled 未配置 host 时使用进程内锁且不缓存统计
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type LedgerConfig struct {
	WorkerID           int64         `mapstructure:"worker_id"`
	DefaultPageSize    int           `mapstructure:"default_page_size"`
	MaxPageSize        int           `mapstructure:"max_page_size"`
	RecentTransactions int           `mapstructure:"recent_transactions"`
	StatsCacheTTL      time.Duration `mapstructure:"stats_cache_ttl"`
	MaxStoreRetries    int           `mapstructure:"max_store_retries"`
	HoldLockTTL        time.Duration `mapstructure:"hold_lock_ttl"`
	HoldLockWait       time.Duration `mapstructure:"hold_lock_wait"`
}

type JobsConfig struct {
	Outbox    OutboxJobConfig    `mapstructure:"outbox"`
	StaleHold StaleHoldJobConfig `mapstructure:"stale_hold"`
	Reconcile ReconcileJobConfig `mapstructure:"reconcile"`
}

type OutboxJobConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
	MaxRetry  int           `mapstructure:"max_retry"`
}

type StaleHoldJobConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	After       time.Duration `mapstructure:"after"`
	BatchSize   int           `mapstructure:"batch_size"`
	AutoRelease bool          `mapstructure:"auto_release"`
}

type ReconcileJobConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	Window    time.Duration `mapstructure:"window"`
	BatchSize int           `mapstructure:"batch_size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

func setDefaults(v *viper.Viper) {
	// 没有默认值的键也要登记，否则 Unmarshal 读不到对应环境变量
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.internal_token", "")
	v.SetDefault("storage.driver", StorageDriverMySQL)
	v.SetDefault("mysql.host", "")
	v.SetDefault("mysql.user", "")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")
	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.ledger_events", "ledger.events")

	v.SetDefault("ledger.worker_id", 1)
	v.SetDefault("ledger.default_page_size", 20)
	v.SetDefault("ledger.max_page_size", 100)
	v.SetDefault("ledger.recent_transactions", 10)
	v.SetDefault("ledger.stats_cache_ttl", 5*time.Second)
	v.SetDefault("ledger.max_store_retries", 2)
	v.SetDefault("ledger.hold_lock_ttl", 10*time.Second)
	v.SetDefault("ledger.hold_lock_wait", 3*time.Second)

	v.SetDefault("jobs.outbox.interval", 200*time.Millisecond)
	v.SetDefault("jobs.outbox.batch_size", 100)
	v.SetDefault("jobs.outbox.max_retry", 5)
	v.SetDefault("jobs.stale_hold.enabled", true)
	v.SetDefault("jobs.stale_hold.interval", time.Minute)
	v.SetDefault("jobs.stale_hold.after", 72*time.Hour)
	v.SetDefault("jobs.stale_hold.batch_size", 100)
	v.SetDefault("jobs.stale_hold.auto_release", false)
	v.SetDefault("jobs.reconcile.enabled", true)
	v.SetDefault("jobs.reconcile.interval", 5*time.Minute)
	v.SetDefault("jobs.reconcile.window", 10*time.Minute)
	v.SetDefault("jobs.reconcile.batch_size", 200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig 加载配置文件，环境变量 RIPLIMIT_<SECTION>_<KEY> 优先于文件
// configPath 为空时只使用默认值和环境变量。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RIPLIMIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverMySQL, StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Ledger.MaxPageSize <= 0 {
		return fmt.Errorf("ledger.max_page_size must be positive")
	}
	if c.Ledger.DefaultPageSize <= 0 || c.Ledger.DefaultPageSize > c.Ledger.MaxPageSize {
		return fmt.Errorf("ledger.default_page_size must be in 1..%d", c.Ledger.MaxPageSize)
	}
	if c.Ledger.MaxStoreRetries < 0 {
		return fmt.Errorf("ledger.max_store_retries must not be negative")
	}

	// 只校验会启动的任务，time.NewTicker 遇到非正数会 panic
	if c.Kafka.Enabled() {
		if err := checkJob("jobs.outbox", c.Jobs.Outbox.Interval, c.Jobs.Outbox.BatchSize); err != nil {
			return err
		}
	}
	if c.Jobs.StaleHold.Enabled {
		if err := checkJob("jobs.stale_hold", c.Jobs.StaleHold.Interval, c.Jobs.StaleHold.BatchSize); err != nil {
			return err
		}
	}
	if c.Jobs.Reconcile.Enabled {
		if err := checkJob("jobs.reconcile", c.Jobs.Reconcile.Interval, c.Jobs.Reconcile.BatchSize); err != nil {
			return err
		}
	}
	return nil
}

func checkJob(name string, interval time.Duration, batchSize int) error {
	if interval <= 0 {
		return fmt.Errorf("%s.interval must be positive", name)
	}
	if batchSize <= 0 {
		return fmt.Errorf("%s.batch_size must be positive", name)
	}
	return nil
}
