package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Sentry     SentryConfig     `mapstructure:"sentry"`
	Trace      TraceConfig      `mapstructure:"trace"`
	Fanout     FanoutConfig     `mapstructure:"fanout"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	Mode string `mapstructure:"mode"` // debug / release
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres / sqlite
	DSN    string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type TraceConfig struct {
	Endpoint string `mapstructure:"endpoint"` // OTLP HTTP endpoint，空则不上报
}

// FanoutConfig 扇出引擎配置
type FanoutConfig struct {
	CelebrityThreshold int           `mapstructure:"celebrity_threshold"` // 粉丝数达到阈值走拉模式
	PageSize           int           `mapstructure:"page_size"`           // 每页粉丝数
	PageParallelism    int           `mapstructure:"page_parallelism"`    // 单任务内并发写入的页数
	Workers            int           `mapstructure:"workers"`
	ClaimLimit         int           `mapstructure:"claim_limit"`
	PollInterval       time.Duration `mapstructure:"poll_interval"`
	WriteRatePerSec    int           `mapstructure:"write_rate_per_sec"` // 0 表示不限速
	CounterTTL         time.Duration `mapstructure:"counter_ttl"`        // 粉丝数缓存的允许陈旧度
	PurgeOnUnfollow    bool          `mapstructure:"purge_on_unfollow"`  // 取关是否清理历史时间线
}

// ReconcilerConfig 一致性修复配置
type ReconcilerConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`      // 任务多久无进展视为停滞
	AuditWindow    time.Duration `mapstructure:"audit_window"`     // 回查最近完成任务的时间窗
	MaxAttempts    int           `mapstructure:"max_attempts"`     // 超过则放弃并告警
	PurgeBatchSize int           `mapstructure:"purge_batch_size"` // 级联删除批大小
}

// Load 读取 config.yaml 并允许环境变量覆盖（TE_ 前缀）
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("TE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 允许无配置文件，全部走默认值/环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "host=localhost user=postgres password=postgres dbname=postgres port=5434 sslmode=disable")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("fanout.celebrity_threshold", 10000)
	v.SetDefault("fanout.page_size", 500)
	v.SetDefault("fanout.page_parallelism", 4)
	v.SetDefault("fanout.workers", 4)
	v.SetDefault("fanout.claim_limit", 64)
	v.SetDefault("fanout.poll_interval", 50*time.Millisecond)
	v.SetDefault("fanout.write_rate_per_sec", 0)
	v.SetDefault("fanout.counter_ttl", 30*time.Second)
	v.SetDefault("fanout.purge_on_unfollow", false)
	v.SetDefault("reconciler.interval", 30*time.Second)
	v.SetDefault("reconciler.stale_after", time.Minute)
	v.SetDefault("reconciler.audit_window", 10*time.Minute)
	v.SetDefault("reconciler.max_attempts", 5)
	v.SetDefault("reconciler.purge_batch_size", 1000)
}
