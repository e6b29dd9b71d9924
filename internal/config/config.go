package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Redis   RedisConfig   `mapstructure:"redis"`
	CRM     CRMConfig     `mapstructure:"crm"`
	Limiter LimiterConfig `mapstructure:"limiter"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	Errors  ErrorsConfig  `mapstructure:"errors"`
	Workers WorkersConfig `mapstructure:"workers"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// RedisConfig selects the coordination backend. An empty Addr keeps locks
// and budgets in process memory, which only holds for a single worker.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type CRMConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout"`
	PageSize int           `mapstructure:"page_size"`
}

type LimiterConfig struct {
	Calls          int           `mapstructure:"calls"`
	Window         time.Duration `mapstructure:"window"`
	MaxConnections int           `mapstructure:"max_connections"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

type SyncConfig struct {
	Enabled             bool                `mapstructure:"enabled"`
	FrequencyHours      int                 `mapstructure:"frequency_hours"`
	Strategies          []string            `mapstructure:"strategies"`
	Partitions          map[string][]string `mapstructure:"partitions"`
	MaxPages            int                 `mapstructure:"max_pages"`
	PushBatchSize       int                 `mapstructure:"push_batch_size"`
	MaxPushBatches      int                 `mapstructure:"max_push_batches"`
	StrategyConcurrency int                 `mapstructure:"strategy_concurrency"`
	StatusTTL           time.Duration       `mapstructure:"status_ttl"`
	LockTTL             time.Duration       `mapstructure:"lock_ttl"`
	LockWait            time.Duration       `mapstructure:"lock_wait"`
}

type WebhookConfig struct {
	PublicBaseURL string        `mapstructure:"public_base_url"`
	MaxBodyBytes  int64         `mapstructure:"max_body_bytes"`
	RotationGrace time.Duration `mapstructure:"rotation_grace"`
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	DrainBatch    int           `mapstructure:"drain_batch"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Events        []string      `mapstructure:"events"`
}

type ErrorsConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

type WorkersConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

type AuthConfig struct {
	Disabled  bool   `mapstructure:"disabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	PaaSBase   string        `mapstructure:"paas_base"`
	PaaSAPIKey string        `mapstructure:"paas_api_key"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "crmsync:")
	v.SetDefault("crm.base_url", "https://api.crm.example.com/graphql")
	v.SetDefault("crm.timeout", "30s")
	v.SetDefault("crm.page_size", 50)
	v.SetDefault("limiter.calls", 100)
	v.SetDefault("limiter.window", "60s")
	v.SetDefault("limiter.max_connections", 4)
	v.SetDefault("limiter.lease_ttl", "2m")
	v.SetDefault("limiter.poll_interval", "100ms")
	v.SetDefault("sync.enabled", true)
	v.SetDefault("sync.frequency_hours", 1)
	v.SetDefault("sync.strategies", []string{"account", "contact", "opportunity", "task", "custom_field"})
	v.SetDefault("sync.max_pages", 200)
	v.SetDefault("sync.push_batch_size", 50)
	v.SetDefault("sync.max_push_batches", 100)
	v.SetDefault("sync.strategy_concurrency", 1)
	v.SetDefault("sync.status_ttl", "5m")
	v.SetDefault("sync.lock_ttl", "10m")
	v.SetDefault("sync.lock_wait", "5s")
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("webhook.rotation_grace", "24h")
	v.SetDefault("webhook.drain_interval", "1m")
	v.SetDefault("webhook.drain_batch", 100)
	v.SetDefault("webhook.stale_after", "2m")
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.events", []string{
		"account.created", "account.updated", "account.deleted",
		"contact.created", "contact.updated", "contact.deleted",
		"opportunity.created", "opportunity.updated", "opportunity.deleted",
		"task.created", "task.updated", "task.deleted",
		"relation.created", "relation.deleted",
	})
	v.SetDefault("errors.retention", "720h")
	v.SetDefault("errors.purge_schedule", "0 30 3 * * *")
	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 256)
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.issuer", "crmsync")
	v.SetDefault("notify.timeout", "5s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
