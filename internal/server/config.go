package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/store"
)

// Storage drivers.
const (
	StorageDriverFile  = "file"
	StorageDriverRedis = "redis"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// StorageConfig selects where the rooms, users, and messages documents live
// and how long writes are coalesced.
type StorageConfig struct {
	Driver       string
	Dir          string
	FlushDelay   time.Duration
	HistoryLimit int
	Redis        store.RedisConfig
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	Storage         StorageConfig
	ShutdownTimeout time.Duration
	Log             logging.Config
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
		Storage: StorageConfig{
			Driver:       StorageDriverFile,
			Dir:          "./db",
			FlushDelay:   store.DefaultFlushDelay,
			HistoryLimit: chat.DefaultHistoryLimit,
			Redis: store.RedisConfig{
				Address: "localhost:6379",
				Prefix:  "roomchat",
			},
		},
		ShutdownTimeout: 10 * time.Second,
		Log: logging.Config{
			Level:       "info",
			ServiceName: "roomchat",
		},
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// sanitizeConfig replaces missing or invalid values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver != StorageDriverRedis {
		cfg.Storage.Driver = StorageDriverFile
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = def.Storage.Dir
	}
	if cfg.Storage.FlushDelay <= 0 {
		cfg.Storage.FlushDelay = def.Storage.FlushDelay
	}
	if cfg.Storage.HistoryLimit <= 0 {
		cfg.Storage.HistoryLimit = def.Storage.HistoryLimit
	}
	if cfg.Storage.Redis.Address == "" {
		cfg.Storage.Redis.Address = def.Storage.Redis.Address
	}
	if cfg.Storage.Redis.Prefix == "" {
		cfg.Storage.Redis.Prefix = def.Storage.Redis.Prefix
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// LoadConfig reads config.yaml from configPath (or the working directory)
// when present, then applies environment overrides. The environment
// variable names of earlier releases (SERVER_PORT, ALLOWED_ORIGINS, ...)
// are still honoured.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	def := defaultConfig()
	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.allowed_origins", strings.Join(def.AllowedOrigins, ","))
	v.SetDefault("server.max_message_size", def.MaxMessageSize)
	v.SetDefault("server.shutdown_timeout", def.ShutdownTimeout.String())
	v.SetDefault("rate_limit.burst", def.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", def.RateLimit.RefillInterval.String())
	v.SetDefault("storage.driver", def.Storage.Driver)
	v.SetDefault("storage.dir", def.Storage.Dir)
	v.SetDefault("storage.flush_delay", def.Storage.FlushDelay.String())
	v.SetDefault("storage.history_limit", def.Storage.HistoryLimit)
	v.SetDefault("storage.redis.address", def.Storage.Redis.Address)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", def.Storage.Redis.Prefix)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", def.Log.ServiceName)

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("server.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("server.shutdown_timeout", "SHUTDOWN_TIMEOUT")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("storage.driver", "STORAGE_DRIVER")
	_ = v.BindEnv("storage.dir", "STORAGE_DIR")
	_ = v.BindEnv("storage.flush_delay", "STORAGE_FLUSH_DELAY")
	_ = v.BindEnv("storage.history_limit", "HISTORY_LIMIT")
	_ = v.BindEnv("storage.redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("storage.redis.db", "REDIS_DB")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.pretty", "LOG_PRETTY")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := Config{
		Port:            v.GetString("server.port"),
		AllowedOrigins:  parseOrigins(v.GetStringSlice("server.allowed_origins")),
		MaxMessageSize:  parseMaxMessageSize(v.GetString("server.max_message_size"), def.MaxMessageSize),
		ShutdownTimeout: parseDuration(v.GetString("server.shutdown_timeout"), def.ShutdownTimeout),
		RateLimit: RateLimitConfig{
			Burst:          parseIntValue(v.GetString("rate_limit.burst"), def.RateLimit.Burst),
			RefillInterval: parseDuration(v.GetString("rate_limit.refill_interval"), def.RateLimit.RefillInterval),
		},
		Storage: StorageConfig{
			Driver:       v.GetString("storage.driver"),
			Dir:          v.GetString("storage.dir"),
			FlushDelay:   parseDuration(v.GetString("storage.flush_delay"), def.Storage.FlushDelay),
			HistoryLimit: parseIntValue(v.GetString("storage.history_limit"), def.Storage.HistoryLimit),
			Redis: store.RedisConfig{
				Address:  v.GetString("storage.redis.address"),
				Password: v.GetString("storage.redis.password"),
				DB:       v.GetInt("storage.redis.db"),
				Prefix:   v.GetString("storage.redis.prefix"),
			},
		},
		Log: logging.Config{
			Level:       v.GetString("log.level"),
			Pretty:      v.GetBool("log.pretty"),
			ServiceName: v.GetString("log.service_name"),
		},
	}

	sanitized := sanitizeConfig(cfg)
	return &sanitized, nil
}

// parseOrigins accepts both a YAML list and a single comma separated value.
func parseOrigins(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go durations ("500ms") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
