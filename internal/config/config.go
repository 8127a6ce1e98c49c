package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	TransportMemory = "memory"
	TransportRedis  = "redis"

	TraceNone   = "none"
	TraceStdout = "stdout"
	TraceOTLP   = "otlp"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	StoreDriver       string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath        string        `mapstructure:"SQLITE_PATH"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRequests int           `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `mapstructure:"RATE_LIMIT_WINDOW"`
	NotifyTransport   string        `mapstructure:"NOTIFY_TRANSPORT"`
	NotifyWorkers     int           `mapstructure:"NOTIFY_WORKERS"`
	NotifyQueueSize   int           `mapstructure:"NOTIFY_QUEUE_SIZE"`
	NotifyWebhookURL  string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookKey  string        `mapstructure:"NOTIFY_WEBHOOK_TOKEN"`
	NotifyTimeout     time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	RedisURL          string        `mapstructure:"REDIS_URL"`
	RedisQueueKey     string        `mapstructure:"REDIS_QUEUE_KEY"`
	TraceExporter     string        `mapstructure:"TRACE_EXPORTER"`
	TraceEndpoint     string        `mapstructure:"TRACE_OTLP_ENDPOINT"`
	TraceSampleRatio  float64       `mapstructure:"TRACE_SAMPLE_RATIO"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS",
	"RATE_LIMIT_REQUESTS", "RATE_LIMIT_WINDOW",
	"NOTIFY_TRANSPORT", "NOTIFY_WORKERS", "NOTIFY_QUEUE_SIZE",
	"NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_TOKEN", "NOTIFY_TIMEOUT",
	"REDIS_URL", "REDIS_QUEUE_KEY",
	"TRACE_EXPORTER", "TRACE_OTLP_ENDPOINT", "TRACE_SAMPLE_RATIO",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", DriverSQLite)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "data/clinic.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_REQUESTS", 300)
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("NOTIFY_TRANSPORT", TransportMemory)
	v.SetDefault("NOTIFY_WORKERS", 2)
	v.SetDefault("NOTIFY_QUEUE_SIZE", 256)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("REDIS_QUEUE_KEY", "clinicflow:notifications")
	v.SetDefault("TRACE_EXPORTER", TraceNone)
	v.SetDefault("TRACE_SAMPLE_RATIO", 1.0)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i, o := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(o)
	}

	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.NotifyTransport = strings.ToLower(cfg.NotifyTransport)
	cfg.TraceExporter = strings.ToLower(cfg.TraceExporter)

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.StoreDriver)
	}

	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required outside development (current ENV=%q)", c.Env)
	}

	switch c.NotifyTransport {
	case TransportMemory:
	case TransportRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when NOTIFY_TRANSPORT is %q", TransportRedis)
		}
	default:
		return fmt.Errorf("NOTIFY_TRANSPORT must be %q or %q, got %q", TransportMemory, TransportRedis, c.NotifyTransport)
	}

	if c.NotifyWorkers < 1 {
		return fmt.Errorf("NOTIFY_WORKERS must be at least 1, got %d", c.NotifyWorkers)
	}
	if c.RateLimitRequests < 0 || c.RateLimitWindow < 0 {
		return fmt.Errorf("rate limit settings must not be negative")
	}

	switch c.TraceExporter {
	case "", TraceNone, TraceStdout, TraceOTLP:
	default:
		return fmt.Errorf("TRACE_EXPORTER must be %q, %q or %q, got %q", TraceNone, TraceStdout, TraceOTLP, c.TraceExporter)
	}
	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1, got %g", c.TraceSampleRatio)
	}
	return nil
}
