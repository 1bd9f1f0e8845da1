// Package config loads the runtime configuration from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration options for loom. Every field maps to an
// environment variable; unset variables fall back to the defaults below.
type Config struct {
	// DatabaseURL is the SQLite database path.
	DatabaseURL string `mapstructure:"database_url"`

	// RedisURL enables the redis cache and realtime bridge when set
	// (e.g. redis://localhost:6379/0). Empty selects the in-memory cache
	// and the no-op bridge.
	RedisURL string `mapstructure:"redis_url"`

	// JWT settings for realtime capability tokens.
	JWTSecretKey             string `mapstructure:"jwt_secret_key"`
	JWTAlgorithm             string `mapstructure:"jwt_algorithm"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`

	// RealtimeKey gates the external realtime bridge; unset leaves the
	// bridge in mock/no-op mode even when redis is available.
	RealtimeKey string `mapstructure:"ably_realtime_key"`

	// SMTP delivery settings.
	SMTPHost     string `mapstructure:"smtp_host"`
	SMTPPort     int    `mapstructure:"smtp_port"`
	SMTPUsername string `mapstructure:"smtp_username"`
	SMTPPassword string `mapstructure:"smtp_password"`
	FromEmail    string `mapstructure:"from_email"`

	// Tracing. TraceExporter selects "none", "file" or "stdout"; TraceFile
	// is the JSONL output path for the file exporter.
	TraceExporter string `mapstructure:"trace_exporter"`
	TraceFile     string `mapstructure:"trace_file"`

	// CORSOrigins is a comma-separated allowlist for the HTTP API.
	CORSOrigins string `mapstructure:"cors_origins"`

	// Port is the HTTP listen port.
	Port int `mapstructure:"port"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"database_url":                "DATABASE_URL",
	"redis_url":                   "REDIS_URL",
	"jwt_secret_key":              "JWT_SECRET_KEY",
	"jwt_algorithm":               "JWT_ALGORITHM",
	"access_token_expire_minutes": "ACCESS_TOKEN_EXPIRE_MINUTES",
	"ably_realtime_key":           "ABLY_REALTIME_KEY",
	"smtp_host":                   "SMTP_HOST",
	"smtp_port":                   "SMTP_PORT",
	"smtp_username":               "SMTP_USERNAME",
	"smtp_password":               "SMTP_PASSWORD",
	"from_email":                  "FROM_EMAIL",
	"trace_exporter":              "TRACE_EXPORTER",
	"trace_file":                  "TRACE_FILE",
	"cors_origins":                "CORS_ORIGINS",
	"port":                        "PORT",
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.SetDefault("database_url", "loom.db")
	v.SetDefault("jwt_algorithm", "HS256")
	v.SetDefault("access_token_expire_minutes", 30)
	v.SetDefault("smtp_port", 587)
	v.SetDefault("trace_exporter", "none")
	v.SetDefault("cors_origins", "*")
	v.SetDefault("port", 8000)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported JWT_ALGORITHM %q", c.JWTAlgorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive, got %d", c.AccessTokenExpireMinutes)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT out of range: %d", c.Port)
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT out of range: %d", c.SMTPPort)
	}
	switch c.TraceExporter {
	case "", "none", "file", "stdout":
	default:
		return fmt.Errorf("unsupported TRACE_EXPORTER %q", c.TraceExporter)
	}
	if c.TraceExporter == "file" && c.TraceFile == "" {
		return fmt.Errorf("TRACE_FILE is required when TRACE_EXPORTER=file")
	}
	return nil
}

// Origins splits CORSOrigins into a trimmed list.
func (c *Config) Origins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
