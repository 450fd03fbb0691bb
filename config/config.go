package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Security   SecurityConfig   `mapstructure:"security"`
	Raid       RaidConfig       `mapstructure:"raid"`
	GearImport GearImportConfig `mapstructure:"gear_import"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminIPs may reach /metrics and the admin key routes without the key.
	AdminIPs []string `mapstructure:"admin_ips"`
}

type DatabaseConfig struct {
	Mode        string        `mapstructure:"mode"` // memory | sqlite | mysql | postgres
	SQLitePath  string        `mapstructure:"sqlite_path"`
	MySQLDSN    string        `mapstructure:"mysql_dsn"`
	PostgresDSN string        `mapstructure:"postgres_dsn"`
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLife     time.Duration `mapstructure:"max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTTTLH   time.Duration `mapstructure:"jwt_ttl_h"`
	// SessionIdle ends a session after this long without an authenticated
	// request. Zero keeps sessions for the full token lifetime.
	SessionIdle    time.Duration `mapstructure:"session_idle"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RaidConfig describes the tier being tracked.
type RaidConfig struct {
	Floors          int      `mapstructure:"floors"`
	Roster          []string `mapstructure:"roster"`
	BootstrapMember string   `mapstructure:"bootstrap_member"`
	EventChannel    string   `mapstructure:"event_channel"`
}

type GearImportConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry_count"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type NotifyConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	QueueSize      int           `mapstructure:"queue_size"`
	AMQPURL        string        `mapstructure:"amqp_url"`
	AMQPExchange   string        `mapstructure:"amqp_exchange"`
}

type SchedulerConfig struct {
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// Load reads config from the given YAML file path. An empty path uses the
// defaults plus RAIDLOOT_* environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RAIDLOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")
	v.SetDefault("server.admin_ips", []string{})
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/raidloot.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.postgres_dsn", "")
	v.SetDefault("database.max_open", 20)
	v.SetDefault("database.max_idle", 5)
	v.SetDefault("database.max_life", "1h")
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "raidloot:")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_ttl_h", "168h")
	v.SetDefault("security.session_idle", "24h")
	v.SetDefault("security.rate_limit_rps", 50)
	v.SetDefault("security.rate_limit_burst", 100)
	v.SetDefault("raid.floors", 4)
	v.SetDefault("raid.roster", []string{})
	v.SetDefault("raid.bootstrap_member", "")
	v.SetDefault("raid.event_channel", "loot_events")
	v.SetDefault("gear_import.base_url", "")
	v.SetDefault("gear_import.timeout", "15s")
	v.SetDefault("gear_import.retry_count", 2)
	v.SetDefault("gear_import.cache_ttl", "10m")
	v.SetDefault("notify.publish_timeout", "2s")
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.amqp_url", "")
	v.SetDefault("notify.amqp_exchange", "raidloot.events")
	v.SetDefault("scheduler.stats_interval", "1m")
}
