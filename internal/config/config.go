package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Audit      AuditConfig      `mapstructure:"audit"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Validation ValidationConfig `mapstructure:"validation"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

type AuthConfig struct {
	RequireAPIKey bool           `mapstructure:"require_api_key"`
	AdminKey      string         `mapstructure:"admin_key"`
	APIKeys       []APIKeyConfig `mapstructure:"api_keys"`
}

// APIKeyConfig binds a gateway key to an account.
type APIKeyConfig struct {
	Key    string `mapstructure:"key"`
	UserID string `mapstructure:"user_id"`
	Role   string `mapstructure:"role"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	AuditRetentionDays     int    `mapstructure:"audit_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db"`
	DialTimeoutMs int    `mapstructure:"dial_timeout_ms"`
	OpTimeoutMs   int    `mapstructure:"op_timeout_ms"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AuditConfig struct {
	Dir             string  `mapstructure:"dir"`
	BufferSize      int     `mapstructure:"buffer_size"`
	AwaitTimeoutMs  int     `mapstructure:"await_timeout_ms"`
	LargeOrderValue float64 `mapstructure:"large_order_value"`
}

type RateLimitConfig struct {
	// Backend is "memory" or "redis".
	Backend                string                  `mapstructure:"backend"`
	ReclaimIntervalSeconds int                     `mapstructure:"reclaim_interval_seconds"`
	MaxAgeSeconds          int                     `mapstructure:"max_age_seconds"`
	Policies               map[string]PolicyConfig `mapstructure:"policies"`
}

type PolicyConfig struct {
	WindowMs    int    `mapstructure:"window_ms"`
	MaxRequests int    `mapstructure:"max_requests"`
	FailMode    string `mapstructure:"fail_mode"` // open | closed
}

type CacheConfig struct {
	TTLMs                 map[string]int `mapstructure:"ttl_ms"`
	SweepIntervalSeconds  int            `mapstructure:"sweep_interval_seconds"`
	HealthIntervalSeconds int            `mapstructure:"health_interval_seconds"`
}

type ValidationConfig struct {
	MinOrderSize    float64 `mapstructure:"min_order_size"`
	MaxOrderSize    float64 `mapstructure:"max_order_size"`
	MinPrice        float64 `mapstructure:"min_price"`
	MaxPrice        float64 `mapstructure:"max_price"`
	AmountPrecision int32   `mapstructure:"amount_precision"`
	PricePrecision  int32   `mapstructure:"price_precision"`
	MaxOrderValue   float64 `mapstructure:"max_order_value"`
	MaxDailyVolume  float64 `mapstructure:"max_daily_volume"`
	MaxOpenOrders   int     `mapstructure:"max_open_orders"`
	LedgerTimeoutMs int     `mapstructure:"ledger_timeout_ms"`
}

func (p PolicyConfig) Window() time.Duration {
	return time.Duration(p.WindowMs) * time.Millisecond
}

func (c RedisConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMs) * time.Millisecond
}

func (c RedisConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

func (c ValidationConfig) LedgerTimeout() time.Duration {
	return time.Duration(c.LedgerTimeoutMs) * time.Millisecond
}

func (c AuditConfig) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutMs) * time.Millisecond
}

// TTL returns the configured staleness bound for a cache data class.
func (c CacheConfig) TTL(class string) time.Duration {
	return time.Duration(c.TTLMs[class]) * time.Millisecond
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. ORDERGATE_REDIS_ADDR
	v.SetEnvPrefix("ordergate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("auth.require_api_key", true)
	v.SetDefault("auth.admin_key", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("redis.dial_timeout_ms", 500)
	v.SetDefault("redis.op_timeout_ms", 250)
	v.SetDefault("redis.key_prefix", "ordergate:")

	v.SetDefault("database.audit_retention_days", 90)
	v.SetDefault("database.cleanup_interval_minutes", 60)

	v.SetDefault("audit.dir", "./logs/audit")
	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.await_timeout_ms", 2000)
	v.SetDefault("audit.large_order_value", 100000)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.reclaim_interval_seconds", 60)
	v.SetDefault("ratelimit.max_age_seconds", 3600)
	setPolicy(v, "auth", 15*time.Minute, 5, "open")
	setPolicy(v, "order", time.Minute, 20, "closed")
	setPolicy(v, "trading", time.Minute, 10, "closed")
	setPolicy(v, "withdrawal", time.Hour, 5, "closed")
	setPolicy(v, "api", 15*time.Minute, 100, "open")
	setPolicy(v, "admin", time.Minute, 30, "open")

	v.SetDefault("cache.ttl_ms.price", 5000)
	v.SetDefault("cache.ttl_ms.orderbook", 1000)
	v.SetDefault("cache.ttl_ms.trades", 10000)
	v.SetDefault("cache.ttl_ms.balance", 300000)
	v.SetDefault("cache.ttl_ms.orders", 300000)
	v.SetDefault("cache.ttl_ms.stats", 60000)
	v.SetDefault("cache.ttl_ms.chart", 30000)
	v.SetDefault("cache.sweep_interval_seconds", 60)
	v.SetDefault("cache.health_interval_seconds", 5)

	v.SetDefault("validation.min_order_size", 0.001)
	v.SetDefault("validation.max_order_size", 1000000)
	v.SetDefault("validation.min_price", 0.00000001)
	v.SetDefault("validation.max_price", 10000000)
	v.SetDefault("validation.amount_precision", 8)
	v.SetDefault("validation.price_precision", 8)
	v.SetDefault("validation.max_order_value", 1000000)
	v.SetDefault("validation.max_daily_volume", 10000000)
	v.SetDefault("validation.max_open_orders", 100)
	v.SetDefault("validation.ledger_timeout_ms", 2000)
}

func setPolicy(v *viper.Viper, class string, window time.Duration, max int, failMode string) {
	prefix := "ratelimit.policies." + class + "."
	v.SetDefault(prefix+"window_ms", int(window/time.Millisecond))
	v.SetDefault(prefix+"max_requests", max)
	v.SetDefault(prefix+"fail_mode", failMode)
}
