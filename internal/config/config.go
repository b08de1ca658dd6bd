package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Index     IndexConfig     `mapstructure:"index"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	ICS       ICSConfig       `mapstructure:"ics"`
	Seed      SeedConfig      `mapstructure:"seed"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"` // per client; 0 disables
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// StorageConfig holds the event database location
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// IndexConfig bounds the in-memory behaviour logs
type IndexConfig struct {
	MaxQueries int `mapstructure:"max_queries"`
	MaxViewed  int `mapstructure:"max_viewed"`
}

// RecommendConfig holds ranking parameters
type RecommendConfig struct {
	Take             int     `mapstructure:"take"`
	PoolFactor       int     `mapstructure:"pool_factor"`
	InterestTop      int     `mapstructure:"interest_top"`
	ViewedWindow     int     `mapstructure:"viewed_window"`
	FrequencyWindow  int     `mapstructure:"frequency_window"`
	SimilarityWeight float64 `mapstructure:"similarity_weight"`
	TemporalWeight   float64 `mapstructure:"temporal_weight"`
}

// AuditConfig selects where search audit records go
type AuditConfig struct {
	Backend       string        `mapstructure:"backend"` // sqlite, redis, both, none
	Buffer        int           `mapstructure:"buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisChannel  string        `mapstructure:"redis_channel"`
}

// IdentityConfig holds client fingerprint and token settings
type IdentityConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	JWTSecret  string `mapstructure:"jwt_secret"` // empty disables user identification
}

// ICSConfig holds calendar feed import configuration
type ICSConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"` // cron expression
	HorizonDays int           `mapstructure:"horizon_days"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	Feeds       []FeedConfig  `mapstructure:"feeds"`
}

// FeedConfig is one calendar subscription
type FeedConfig struct {
	Name            string `mapstructure:"name"`
	URL             string `mapstructure:"url"`
	DefaultCategory string `mapstructure:"default_category"`
	City            string `mapstructure:"city"`
}

// SeedConfig points at the sample data loaded into an empty store
type SeedConfig struct {
	File string `mapstructure:"file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// Environment variables use the METROEVENTS_ prefix with dots replaced by
// underscores, e.g. METROEVENTS_SERVER_LISTEN.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix("METROEVENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 10.0)
	v.SetDefault("server.rate_limit_burst", 20)

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/metroevents.db")

	// Index defaults
	v.SetDefault("index.max_queries", 64)
	v.SetDefault("index.max_viewed", 16)

	// Recommend defaults
	v.SetDefault("recommend.take", 5)
	v.SetDefault("recommend.pool_factor", 6)
	v.SetDefault("recommend.interest_top", 3)
	v.SetDefault("recommend.viewed_window", 10)
	v.SetDefault("recommend.frequency_window", 30)
	v.SetDefault("recommend.similarity_weight", 0.65)
	v.SetDefault("recommend.temporal_weight", 0.35)

	// Audit defaults
	v.SetDefault("audit.backend", "sqlite")
	v.SetDefault("audit.buffer", 256)
	v.SetDefault("audit.write_timeout", "5s")
	v.SetDefault("audit.redis_addr", "localhost:6379")
	v.SetDefault("audit.redis_password", "")
	v.SetDefault("audit.redis_db", 0)
	v.SetDefault("audit.redis_channel", "search-queries")

	// Identity defaults
	v.SetDefault("identity.cookie_name", "mm-fp")
	v.SetDefault("identity.jwt_secret", "")

	// ICS defaults
	v.SetDefault("ics.enabled", false)
	v.SetDefault("ics.schedule", "@every 1h")
	v.SetDefault("ics.horizon_days", 90)
	v.SetDefault("ics.timeout", "30s")
	v.SetDefault("ics.max_retries", 3)

	// Seed defaults
	v.SetDefault("seed.file", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Server config
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.read_timeout, server.write_timeout and server.shutdown_timeout must be positive")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must not be negative")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("server.rate_limit_burst must be at least 1 when rate limiting is enabled")
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Index config
	if c.Index.MaxQueries < 1 {
		return fmt.Errorf("index.max_queries must be at least 1")
	}
	if c.Index.MaxViewed < 1 {
		return fmt.Errorf("index.max_viewed must be at least 1")
	}

	// Validate Recommend config
	if c.Recommend.Take < 1 {
		return fmt.Errorf("recommend.take must be at least 1")
	}
	if c.Recommend.PoolFactor < 1 {
		return fmt.Errorf("recommend.pool_factor must be at least 1")
	}
	if c.Recommend.InterestTop < 1 {
		return fmt.Errorf("recommend.interest_top must be at least 1")
	}
	if c.Recommend.ViewedWindow < 0 || c.Recommend.FrequencyWindow < 1 {
		return fmt.Errorf("recommend.viewed_window must not be negative and recommend.frequency_window must be at least 1")
	}
	if c.Recommend.SimilarityWeight < 0 || c.Recommend.TemporalWeight < 0 {
		return fmt.Errorf("recommend weights must not be negative")
	}
	if c.Recommend.SimilarityWeight+c.Recommend.TemporalWeight == 0 {
		return fmt.Errorf("recommend weights must not both be zero")
	}

	// Validate Audit config
	switch c.Audit.Backend {
	case "sqlite", "none":
	case "redis", "both":
		if c.Audit.RedisAddr == "" {
			return fmt.Errorf("audit.redis_addr is required when audit.backend is %s", c.Audit.Backend)
		}
		if c.Audit.RedisChannel == "" {
			return fmt.Errorf("audit.redis_channel is required when audit.backend is %s", c.Audit.Backend)
		}
	default:
		return fmt.Errorf("audit.backend must be one of: sqlite, redis, both, none")
	}
	if c.Audit.Buffer < 1 {
		return fmt.Errorf("audit.buffer must be at least 1")
	}

	// Validate Identity config
	if c.Identity.CookieName == "" {
		return fmt.Errorf("identity.cookie_name is required")
	}

	// Validate ICS config
	if c.ICS.Enabled {
		if len(c.ICS.Feeds) == 0 {
			return fmt.Errorf("ics.feeds must contain at least one feed when ics is enabled")
		}
		if c.ICS.Schedule == "" {
			return fmt.Errorf("ics.schedule is required when ics is enabled")
		}
		if c.ICS.HorizonDays < 1 {
			return fmt.Errorf("ics.horizon_days must be at least 1")
		}
		for i, f := range c.ICS.Feeds {
			if f.Name == "" || f.URL == "" {
				return fmt.Errorf("ics.feeds[%d] requires name and url", i)
			}
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
