// Package config loads cart-sync settings from config.toml and CARTSYNC_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Backend BackendConfig
	Cart    CartConfig
	Cache   CacheConfig
	Redis   RedisConfig
	Log     LogConfig
}

type AppConfig struct {
	Name string
	Env  string
}

type HTTPConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// BackendConfig describes the authoritative cart API.
type BackendConfig struct {
	BaseURL            string
	AuthToken          string
	Timeout            time.Duration
	RateLimit          float64 // requests per second, 0 = unlimited
	RateBurst          int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	DefaultMaxPerOrder int
}

type CartConfig struct {
	DebounceDelay time.Duration
	CommitTimeout time.Duration
	ReadTimeout   time.Duration
}

// CacheConfig controls the snapshot cache in front of cart reads.
type CacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	SessionID string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	TimeFormat string
}

// Load reads configuration. Priority (highest to lowest):
// 1. Environment variables with CARTSYNC_ prefix (e.g. CARTSYNC_BACKEND_BASE_URL)
// 2. config.toml in the working directory or /app
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("CARTSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		HTTP: HTTPConfig{
			Port:            v.GetString("http.port"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			IdleTimeout:     v.GetDuration("http.idle_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Backend: BackendConfig{
			BaseURL:            v.GetString("backend.base_url"),
			AuthToken:          v.GetString("backend.auth_token"),
			Timeout:            v.GetDuration("backend.timeout"),
			RateLimit:          v.GetFloat64("backend.rate_limit"),
			RateBurst:          v.GetInt("backend.rate_burst"),
			BreakerMaxFailures: v.GetUint32("backend.breaker_max_failures"),
			BreakerOpenTimeout: v.GetDuration("backend.breaker_open_timeout"),
			DefaultMaxPerOrder: v.GetInt("backend.default_max_per_order"),
		},
		Cart: CartConfig{
			DebounceDelay: v.GetDuration("cart.debounce_delay"),
			CommitTimeout: v.GetDuration("cart.commit_timeout"),
			ReadTimeout:   v.GetDuration("cart.read_timeout"),
		},
		Cache: CacheConfig{
			Enabled:   v.GetBool("cache.enabled"),
			TTL:       v.GetDuration("cache.ttl"),
			SessionID: v.GetString("cache.session_id"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Output:     v.GetString("log.output"),
			TimeFormat: v.GetString("log.time_format"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "cart-sync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.HTTP.Port == "" {
		cfg.HTTP.Port = "8080"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout stays 0 unless set: the events stream is long-lived.
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8080"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 5 * time.Second
	}
	if cfg.Backend.RateBurst == 0 {
		cfg.Backend.RateBurst = 10
	}
	if cfg.Backend.BreakerMaxFailures == 0 {
		cfg.Backend.BreakerMaxFailures = 5
	}
	if cfg.Backend.BreakerOpenTimeout == 0 {
		cfg.Backend.BreakerOpenTimeout = 30 * time.Second
	}
	if cfg.Backend.DefaultMaxPerOrder == 0 {
		cfg.Backend.DefaultMaxPerOrder = 5
	}
	if cfg.Cart.DebounceDelay == 0 {
		cfg.Cart.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.Cart.CommitTimeout == 0 {
		cfg.Cart.CommitTimeout = 10 * time.Second
	}
	if cfg.Cart.ReadTimeout == 0 {
		cfg.Cart.ReadTimeout = 10 * time.Second
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}
	if cfg.Cache.SessionID == "" {
		cfg.Cache.SessionID = "default"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
		if cfg.IsProduction() {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not an absolute URL", c.Backend.BaseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.IsProduction() && u.Scheme != "https" {
		return errors.New("backend.base_url must use https in production")
	}
	if c.Backend.RateLimit < 0 {
		return fmt.Errorf("backend.rate_limit must not be negative, got %v", c.Backend.RateLimit)
	}
	if c.Backend.DefaultMaxPerOrder < 0 {
		return fmt.Errorf("backend.default_max_per_order must not be negative, got %d", c.Backend.DefaultMaxPerOrder)
	}
	if c.Cart.DebounceDelay < 0 {
		return fmt.Errorf("cart.debounce_delay must not be negative, got %s", c.Cart.DebounceDelay)
	}
	if c.Cache.Enabled && c.Cache.TTL < time.Second {
		return fmt.Errorf("cache.ttl must be at least 1s when the cache is enabled, got %s", c.Cache.TTL)
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
