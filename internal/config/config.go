package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port                   string  `mapstructure:"PORT"`
	Env                    string  `mapstructure:"APP_ENV"`
	LogLevel               string  `mapstructure:"LOG_LEVEL"`
	StoreDriver            string  `mapstructure:"STORE_DRIVER"`
	DatabaseURL            string  `mapstructure:"DB_DSN"`
	DBMaxConns             int32   `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32   `mapstructure:"DB_MIN_CONNS"`
	JWTSecret              string  `mapstructure:"JWT_SECRET"`
	TokenTTLHours          int     `mapstructure:"TOKEN_TTL_HOURS"`
	QueueResetPolicy       string  `mapstructure:"QUEUE_RESET_POLICY"`
	QueueUpcomingLimit     int     `mapstructure:"QUEUE_UPCOMING_LIMIT"`
	QueueTimezone          string  `mapstructure:"QUEUE_TIMEZONE"`
	SweepIntervalSeconds   int     `mapstructure:"SWEEP_INTERVAL_SECONDS"`
	BroadcastTimeoutSecs   int     `mapstructure:"BROADCAST_TIMEOUT_SECONDS"`
	AMQPURL                string  `mapstructure:"AMQP_URL"`
	AMQPExchange           string  `mapstructure:"AMQP_EXCHANGE"`
	NotifyProvider         string  `mapstructure:"NOTIFY_PROVIDER"`
	NotifyWebhookURL       string  `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookToken     string  `mapstructure:"NOTIFY_WEBHOOK_TOKEN"`
	RateLimitRPS           float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int     `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitMaxClients    int     `mapstructure:"RATE_LIMIT_MAX_CLIENTS"`
	ShutdownTimeoutSeconds int     `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`
	OTelEnabled            bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint           string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure           bool    `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var keys = []string{
	"PORT", "APP_ENV", "LOG_LEVEL", "STORE_DRIVER", "DB_DSN", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"JWT_SECRET", "TOKEN_TTL_HOURS", "QUEUE_RESET_POLICY", "QUEUE_UPCOMING_LIMIT", "QUEUE_TIMEZONE",
	"SWEEP_INTERVAL_SECONDS", "BROADCAST_TIMEOUT_SECONDS",
	"AMQP_URL", "AMQP_EXCHANGE", "NOTIFY_PROVIDER", "NOTIFY_WEBHOOK_URL", "NOTIFY_WEBHOOK_TOKEN",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "RATE_LIMIT_MAX_CLIENTS", "SHUTDOWN_TIMEOUT_SECONDS",
	"OTEL_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
}

const devSecret = "clinicq-development-secret"

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("TOKEN_TTL_HOURS", 24*7)
	v.SetDefault("QUEUE_RESET_POLICY", "session")
	v.SetDefault("QUEUE_UPCOMING_LIMIT", 10)
	v.SetDefault("QUEUE_TIMEZONE", "Local")
	v.SetDefault("SWEEP_INTERVAL_SECONDS", 60)
	v.SetDefault("BROADCAST_TIMEOUT_SECONDS", 5)
	v.SetDefault("AMQP_EXCHANGE", "clinicq.broadcast")
	v.SetDefault("NOTIFY_PROVIDER", "log")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("RATE_LIMIT_MAX_CLIENTS", 10000)
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 15)
	v.SetDefault("OTEL_ENABLED", false)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)

	switch cfg.StoreDriver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DB_DSN is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return nil, fmt.Errorf("JWT_SECRET is required")
		}
		cfg.JWTSecret = devSecret
	}
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) Location() (*time.Location, error) {
	if c.QueueTimezone == "" || c.QueueTimezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.QueueTimezone)
	if err != nil {
		return nil, fmt.Errorf("QUEUE_TIMEZONE: %w", err)
	}
	return loc, nil
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) SweepInterval() time.Duration {
	return seconds(c.SweepIntervalSeconds)
}

func (c *Config) BroadcastTimeout() time.Duration {
	return seconds(c.BroadcastTimeoutSecs)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return seconds(c.ShutdownTimeoutSeconds)
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

// Logger builds the process logger: JSON by default, console output in development.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || c.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if c.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
