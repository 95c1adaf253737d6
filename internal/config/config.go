package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	Health    HealthConfig    `mapstructure:"health"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Transport TransportConfig `mapstructure:"transport"`
	LogLevel  string          `mapstructure:"log_level"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`

	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type GatewayConfig struct {
	Path            string        `mapstructure:"path"`
	UpstreamURL     string        `mapstructure:"upstream_url"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	UpstreamTimeout time.Duration `mapstructure:"upstream_timeout"`
}

type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Store    string        `mapstructure:"store"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type BreakerConfig struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type HealthConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type TransportConfig struct {
	Endpoints           []string      `mapstructure:"endpoints"`
	Backup              string        `mapstructure:"backup"`
	ChainID             uint64        `mapstructure:"chain_id"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxPollFailures     int           `mapstructure:"max_poll_failures"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

// IsProduction reports whether the process runs with NODE_ENV=production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// env bindings, key -> environment variable
var envBindings = map[string]string{
	"server.port":                    "PORT",
	"server.environment":             "NODE_ENV",
	"server.trusted_proxies":         "TRUSTED_PROXIES",
	"gateway.path":                   "GATEWAY_PATH",
	"gateway.upstream_url":           "RPC_UPSTREAM_URL",
	"gateway.allowed_origins":        "ALLOWED_ORIGINS",
	"gateway.max_body_bytes":         "GATEWAY_MAX_BODY_BYTES",
	"gateway.upstream_timeout":       "GATEWAY_UPSTREAM_TIMEOUT",
	"rate_limit.requests":            "RATE_LIMIT_REQUESTS",
	"rate_limit.window":              "RATE_LIMIT_WINDOW",
	"rate_limit.store":               "RATE_LIMIT_STORE",
	"redis.host":                     "REDIS_HOST",
	"redis.port":                     "REDIS_PORT",
	"redis.password":                 "REDIS_PASSWORD",
	"redis.db":                       "REDIS_DB",
	"breaker.max_failures":           "BREAKER_MAX_FAILURES",
	"breaker.timeout":                "BREAKER_TIMEOUT",
	"health.interval":                "HEALTH_INTERVAL",
	"health.timeout":                 "HEALTH_TIMEOUT",
	"admin.jwt_secret":               "ADMIN_JWT_SECRET",
	"transport.endpoints":            "RPC_ENDPOINTS",
	"transport.backup":               "RPC_BACKUP_ENDPOINT",
	"transport.chain_id":             "CHAIN_ID",
	"transport.confirmation_timeout": "CONFIRMATION_TIMEOUT",
	"transport.poll_interval":        "POLL_INTERVAL",
	"transport.max_poll_failures":    "MAX_POLL_FAILURES",
	"log_level":                      "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.environment", EnvDevelopment)
	v.SetDefault("server.trusted_proxies", []string{"127.0.0.1", "::1"})
	v.SetDefault("gateway.path", "/api/rpc")
	v.SetDefault("gateway.allowed_origins", []string{})
	v.SetDefault("gateway.max_body_bytes", 1<<20)
	v.SetDefault("gateway.upstream_timeout", 30*time.Second)
	v.SetDefault("rate_limit.requests", 100)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.store", StoreMemory)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("breaker.max_failures", 5)
	v.SetDefault("breaker.timeout", 30*time.Second)
	v.SetDefault("health.interval", 30*time.Second)
	v.SetDefault("health.timeout", 5*time.Second)
	v.SetDefault("transport.endpoints", []string{})
	v.SetDefault("transport.chain_id", 1)
	v.SetDefault("transport.confirmation_timeout", 15*time.Second)
	v.SetDefault("transport.poll_interval", 2*time.Second)
	v.SetDefault("transport.max_poll_failures", 3)
	v.SetDefault("log_level", "info")
}

// Load reads configuration from the environment and, when path is not
// empty, from a config file. Environment variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)
	cfg.Gateway.AllowedOrigins = splitList(cfg.Gateway.AllowedOrigins)
	cfg.Transport.Endpoints = splitList(cfg.Transport.Endpoints)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail at request time.
func (c *Config) Validate() error {
	var errs []error

	if c.RateLimit.Requests <= 0 {
		errs = append(errs, errors.New("rate_limit.requests must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	switch c.RateLimit.Store {
	case StoreMemory, StoreRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown rate_limit.store %q", c.RateLimit.Store))
	}
	if !strings.HasPrefix(c.Gateway.Path, "/") {
		errs = append(errs, fmt.Errorf("gateway.path %q must start with /", c.Gateway.Path))
	}
	if c.Gateway.UpstreamURL != "" {
		if _, err := url.ParseRequestURI(c.Gateway.UpstreamURL); err != nil {
			// The URL itself is a secret, keep it out of the message.
			errs = append(errs, errors.New("gateway.upstream_url is not a valid URL"))
		}
	}

	return errors.Join(errs...)
}

// splitList normalizes list values coming from comma separated env vars.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
